package vec

import "math"

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Axis обозначает ось трехмерного пространства
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

// String возвращает имя оси
func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	case AxisZ:
		return "z"
	default:
		return "unknown"
	}
}

// Uniform создает вектор с одинаковыми компонентами
func Uniform(v float64) Vec3Float {
	return Vec3Float{X: v, Y: v, Z: v}
}

// Get возвращает компоненту по оси
func (v Vec3Float) Get(a Axis) float64 {
	switch a {
	case AxisX:
		return v.X
	case AxisY:
		return v.Y
	default:
		return v.Z
	}
}

// With возвращает копию вектора с замененной компонентой
func (v Vec3Float) With(a Axis, value float64) Vec3Float {
	switch a {
	case AxisX:
		v.X = value
	case AxisY:
		v.Y = value
	default:
		v.Z = value
	}
	return v
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

// Sub вычитает вектор
func (v Vec3Float) Sub(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Mul покомпонентно умножает векторы
func (v Vec3Float) Mul(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X * other.X, Y: v.Y * other.Y, Z: v.Z * other.Z}
}

// Scale умножает вектор на скаляр
func (v Vec3Float) Scale(s float64) Vec3Float {
	return Vec3Float{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Length возвращает длину вектора
func (v Vec3Float) Length() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Equals проверяет равенство векторов
func (v Vec3Float) Equals(other Vec3Float) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// Lerp линейно интерполирует между a и b, t не ограничивается
func Lerp(a, b Vec3Float, t float64) Vec3Float {
	return a.Add(b.Sub(a).Scale(t))
}
