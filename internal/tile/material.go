package tile

import (
	"errors"
	"time"
)

// Color цвет RGBA с компонентами в [0,1]
type Color struct {
	R float64 `json:"r" yaml:"r"`
	G float64 `json:"g" yaml:"g"`
	B float64 `json:"b" yaml:"b"`
	A float64 `json:"a" yaml:"a"`
}

// LerpColor покомпонентная интерполяция цвета
func LerpColor(a, b Color, t float64) Color {
	return Color{
		R: a.R + (b.R-a.R)*t,
		G: a.G + (b.G-a.G)*t,
		B: a.B + (b.B-a.B)*t,
		A: a.A + (b.A-a.A)*t,
	}
}

// Material разделяемый ассет материала. Тайлы держат указатель на ассет и
// никогда его не изменяют; смешивание идет в отдельной копии.
type Material struct {
	Name  string `json:"name" yaml:"name"`
	Color Color  `json:"color" yaml:"color"`
}

// ErrMissingMaterial цветовая аффорданс включена, но материалы не заданы
var ErrMissingMaterial = errors.New("tile: idle and pressed materials are required for color affordance")

// AffordanceSettings общие настройки аффордансов, только для чтения.
// Один экземпляр разделяется всеми тайлами.
type AffordanceSettings struct {
	IdleMaterial       *Material
	PressedMaterial    *Material
	ScaleDelta         float64
	TransitionDuration time.Duration
}
