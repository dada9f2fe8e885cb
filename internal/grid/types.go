package grid

import (
	"errors"
	"fmt"
	"strings"

	"github.com/annel0/tilegrid/internal/vec"
)

var (
	// ErrConfiguration возвращается, если size+padding ячейки <= 0 на используемой оси
	ErrConfiguration = errors.New("grid: invalid cell configuration")
	// ErrIndexOutOfRange возвращается при обращении к слоту за пределами сетки
	ErrIndexOutOfRange = errors.New("grid: slot index out of range")
)

// Plane задает плоскость раскладки: какая ось идет по столбцам.
// Строки всегда идут по оси Y.
type Plane int

const (
	PlaneXY Plane = iota // столбцы по X
	PlaneZY              // столбцы по Z
)

// ColumnAxis возвращает ось столбцов
func (p Plane) ColumnAxis() vec.Axis {
	if p == PlaneZY {
		return vec.AxisZ
	}
	return vec.AxisX
}

// RowAxis возвращает ось строк
func (p Plane) RowAxis() vec.Axis {
	return vec.AxisY
}

// DepthAxis возвращает ось, не участвующую в раскладке
func (p Plane) DepthAxis() vec.Axis {
	if p == PlaneZY {
		return vec.AxisX
	}
	return vec.AxisZ
}

func (p Plane) String() string {
	if p == PlaneZY {
		return "zy"
	}
	return "xy"
}

// ParsePlane разбирает "xy" или "zy"
func ParsePlane(s string) (Plane, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "xy":
		return PlaneXY, nil
	case "zy":
		return PlaneZY, nil
	default:
		return PlaneXY, fmt.Errorf("unknown layout plane %q", s)
	}
}

// CellSpec описывает размер ячейки и отступ между ячейками
type CellSpec struct {
	Size    vec.Vec3Float
	Padding vec.Vec3Float
}

// Step возвращает шаг сетки (size + padding)
func (c CellSpec) Step() vec.Vec3Float {
	return c.Size.Add(c.Padding)
}

// Dimensions размеры сетки в ячейках
type Dimensions struct {
	Columns int `json:"columns"`
	Rows    int `json:"rows"`
}

// Slots возвращает число слотов
func (d Dimensions) Slots() int {
	if d.Columns <= 0 || d.Rows <= 0 {
		return 0
	}
	return d.Columns * d.Rows
}

func (d Dimensions) String() string {
	return fmt.Sprintf("%dx%d", d.Columns, d.Rows)
}

// Coord координата слота: X столбец слева направо, Y строка сверху вниз
// (в порядке обхода).
type Coord = vec.Vec2

// Element то, что раскладывается по сетке. Сетка не владеет элементом,
// только его членством в слоте и флагом включения.
type Element interface {
	Position() vec.Vec3Float
	SetEnabled(enabled bool)
}

// EnabledReporter элемент, сообщающий собственное состояние включения
type EnabledReporter interface {
	Enabled() bool
}

// Positioner элемент, который переносится в позицию своего слота при назначении
type Positioner interface {
	SetPosition(p vec.Vec3Float)
}

// Marker непрозрачный дескриптор маркера ячейки
type Marker interface{}

// Instancer создает маркер для каждой размещенной ячейки
type Instancer interface {
	InstantiateMarker(position vec.Vec3Float) (Marker, error)
}

// Releaser необязательное расширение Instancer: освобождает маркеры
// недостроенной модели
type Releaser interface {
	Release(markers []Marker)
}

// BoundsProvider отдает границы объема и проверку принадлежности точки
type BoundsProvider interface {
	BoundsMin() vec.Vec3Float
	BoundsSize() vec.Vec3Float
	ContainsPoint(p vec.Vec3Float) bool
}

// ContainmentTest проверяет, лежит ли позиция элемента внутри объема
type ContainmentTest func(p vec.Vec3Float) bool
