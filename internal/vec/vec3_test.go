package vec

import "testing"

func TestVec3FloatLerp(t *testing.T) {
	a := Vec3Float{X: 0, Y: 2, Z: -4}
	b := Vec3Float{X: 10, Y: 4, Z: 4}

	if got := Lerp(a, b, 0); !got.Equals(a) {
		t.Errorf("При t=0 ожидался %+v, получен %+v", a, got)
	}
	if got := Lerp(a, b, 1); !got.Equals(b) {
		t.Errorf("При t=1 ожидался %+v, получен %+v", b, got)
	}

	mid := Lerp(a, b, 0.5)
	want := Vec3Float{X: 5, Y: 3, Z: 0}
	if !mid.Equals(want) {
		t.Errorf("При t=0.5 ожидался %+v, получен %+v", want, mid)
	}
}

func TestVec3FloatAxis(t *testing.T) {
	v := Vec3Float{X: 1, Y: 2, Z: 3}

	if v.Get(AxisZ) != 3 {
		t.Errorf("Неверная компонента Z: %v", v.Get(AxisZ))
	}

	w := v.With(AxisX, 7)
	if w.X != 7 || v.X != 1 {
		t.Errorf("With должен возвращать копию: v=%+v w=%+v", v, w)
	}
}
