package math

import (
	"math"
	"testing"
)

func TestQuatIdentity(t *testing.T) {
	q := QuatIdentity()
	if q.X != 0 || q.Y != 0 || q.Z != 0 || q.W != 1 {
		t.Errorf("Identity quaternion should be (0,0,0,1), got (%v,%v,%v,%v)", q.X, q.Y, q.Z, q.W)
	}
}

func TestQuatNormalize(t *testing.T) {
	n := Quat{X: 1, Y: 2, Z: 3, W: 4}.Normalize()

	length := float32(math.Sqrt(float64(n.X*n.X + n.Y*n.Y + n.Z*n.Z + n.W*n.W)))
	if abs(length-1) > 0.0001 {
		t.Errorf("Normalized quaternion length should be 1, got %v", length)
	}

	if (Quat{}).Normalize() != QuatIdentity() {
		t.Error("zero quaternion should normalize to identity")
	}
}

func TestQuatRotate(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{X: 0, Y: 0, Z: 1}, float32(math.Pi/2))
	v := q.Rotate(Vec3{1, 0, 0})

	if abs(v.X) > 1e-5 || abs(v.Y-1) > 1e-5 || abs(v.Z) > 1e-5 {
		t.Errorf("Rotate 90 about Z: got %v, want (0, 1, 0)", v)
	}

	// Rotate and ToMat4 must agree
	p := q.ToMat4().TransformVec3(Vec3{1, 0, 0})
	if p.Distance(v) > 1e-5 {
		t.Errorf("ToMat4 disagrees with Rotate: %v vs %v", p, v)
	}
}

func TestQuatFromMat3RoundTrip(t *testing.T) {
	tests := []Quat{
		QuatIdentity(),
		QuatFromAxisAngle(Vec3{X: 1}, 2.5),
		QuatFromAxisAngle(Vec3{Y: 1}, -3),
		QuatFromAxisAngle(Vec3{X: 0.6, Z: 0.8}, 3.1),
	}

	for _, q := range tests {
		got := QuatFromMat3(q.ToMat4().Mat3x3())
		if abs(abs(got.Dot(q))-1) > 1e-4 {
			t.Errorf("QuatFromMat3(%v.ToMat4()) = %v", q, got)
		}
	}
}

func TestQuatConjugate(t *testing.T) {
	q := QuatFromAxisAngle(Vec3{X: 0, Y: 1, Z: 0}, 1.2)
	r := q.Mul(q.Conjugate())

	if abs(r.W-1) > 1e-5 || abs(r.X) > 1e-5 || abs(r.Y) > 1e-5 || abs(r.Z) > 1e-5 {
		t.Errorf("q * conj(q) should be identity, got %v", r)
	}
}
