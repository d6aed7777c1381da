package math

import "testing"

func TestVec3Cross(t *testing.T) {
	x := Vec3{1, 0, 0}
	y := Vec3{0, 1, 0}
	if z := x.Cross(y); z != (Vec3{0, 0, 1}) {
		t.Errorf("X cross Y: got %v, want (0, 0, 1)", z)
	}
}

func TestVec3Distance(t *testing.T) {
	a := Vec3{0, 0, 0}
	b := Vec3{3, 4, 0}
	if d := a.Distance(b); d != 5 {
		t.Errorf("Distance: got %v, want 5", d)
	}
	if d := b.LengthSq(); d != 25 {
		t.Errorf("LengthSq: got %v, want 25", d)
	}
}

func TestVec3Lerp(t *testing.T) {
	tests := []struct {
		t    float32
		want Vec3
	}{
		{0, Vec3{0, 0, 0}},
		{0.5, Vec3{1, 2, 3}},
		{1, Vec3{2, 4, 6}},
	}
	for _, tt := range tests {
		if got := (Vec3{}).Lerp(Vec3{2, 4, 6}, tt.t); got != tt.want {
			t.Errorf("Lerp(%v): got %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestVec3Normalize(t *testing.T) {
	if n := (Vec3{}).Normalize(); n != (Vec3{}) {
		t.Errorf("zero vector should normalize to zero, got %v", n)
	}
	n := Vec3{0, 3, 4}.Normalize()
	if abs(n.Length()-1) > 1e-6 {
		t.Errorf("normalized length: got %v", n.Length())
	}
}

func TestVec3MaxComponent(t *testing.T) {
	if m := (Vec3{1, 7, -3}).MaxComponent(); m != 7 {
		t.Errorf("MaxComponent: got %v, want 7", m)
	}
}
