package vec

import "fmt"

// Vec2 представляет 2D координаты ячейки сетки
type Vec2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// String возвращает "(x,y)"
func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}

// Add складывает две координаты
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}
