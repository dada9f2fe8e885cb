package physics

import (
	"testing"

	"github.com/annel0/tilegrid/internal/vec"
)

func TestBoundsContains(t *testing.T) {
	b := NewBounds(vec.Vec3Float{X: -1, Y: 0, Z: 0}, vec.Uniform(2))

	cases := []struct {
		name string
		p    vec.Vec3Float
		want bool
	}{
		{"center", b.Center(), true},
		{"min corner", b.Min, true},
		{"max corner", b.Max(), true},
		{"outside x", vec.Vec3Float{X: 1.5, Y: 1, Z: 1}, false},
		{"below y", vec.Vec3Float{X: 0, Y: -0.01, Z: 1}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := b.Contains(tc.p); got != tc.want {
				t.Errorf("Contains(%+v) = %v, ожидалось %v", tc.p, got, tc.want)
			}
		})
	}
}

func TestBoundsTranslate(t *testing.T) {
	b := NewBounds(vec.Vec3Float{}, vec.Uniform(1))
	moved := b.Translate(vec.Vec3Float{X: 5})

	if moved.Contains(vec.Vec3Float{X: 0.5, Y: 0.5, Z: 0.5}) {
		t.Error("Сдвинутый объем не должен содержать исходный центр")
	}
	if !moved.Contains(vec.Vec3Float{X: 5.5, Y: 0.5, Z: 0.5}) {
		t.Error("Сдвинутый объем должен содержать новый центр")
	}
}
