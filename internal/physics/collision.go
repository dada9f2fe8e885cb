package physics

import (
	"github.com/annel0/tilegrid/internal/vec"
)

// Bounds представляет выровненный по осям объем (min + size).
// Реализует запросы геометрии, которые нужны раскладке сетки.
type Bounds struct {
	Min  vec.Vec3Float `json:"min" yaml:"min"`
	Size vec.Vec3Float `json:"size" yaml:"size"`
}

// NewBounds создаёт объем по минимальному углу и размеру
func NewBounds(min, size vec.Vec3Float) Bounds {
	return Bounds{Min: min, Size: size}
}

// Max возвращает максимальный угол объема
func (b Bounds) Max() vec.Vec3Float {
	return b.Min.Add(b.Size)
}

// Center возвращает центр объема
func (b Bounds) Center() vec.Vec3Float {
	return b.Min.Add(b.Size.Scale(0.5))
}

// Contains проверяет, находится ли точка внутри объема (границы включены)
func (b Bounds) Contains(p vec.Vec3Float) bool {
	max := b.Max()
	return p.X >= b.Min.X && p.X <= max.X &&
		p.Y >= b.Min.Y && p.Y <= max.Y &&
		p.Z >= b.Min.Z && p.Z <= max.Z
}

// Translate возвращает объем, сдвинутый на offset
func (b Bounds) Translate(offset vec.Vec3Float) Bounds {
	return Bounds{Min: b.Min.Add(offset), Size: b.Size}
}

// Resize возвращает объем того же минимального угла с новым размером
func (b Bounds) Resize(size vec.Vec3Float) Bounds {
	return Bounds{Min: b.Min, Size: size}
}

// BoundsMin возвращает минимальный угол
func (b Bounds) BoundsMin() vec.Vec3Float { return b.Min }

// BoundsSize возвращает размер объема
func (b Bounds) BoundsSize() vec.Vec3Float { return b.Size }

// ContainsPoint то же, что Contains
func (b Bounds) ContainsPoint(p vec.Vec3Float) bool { return b.Contains(p) }
