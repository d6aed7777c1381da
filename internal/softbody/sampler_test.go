package softbody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/softbody/pkg/math"
)

// gridVertices returns an n x n x n lattice with the given spacing.
func gridVertices(n int, spacing float32) []math.Vec3 {
	var vs []math.Vec3
	for x := 0; x < n; x++ {
		for y := 0; y < n; y++ {
			for z := 0; z < n; z++ {
				vs = append(vs, math.Vec3{X: float32(x) * spacing, Y: float32(y) * spacing, Z: float32(z) * spacing})
			}
		}
	}
	return vs
}

func TestSamplerSeparation(t *testing.T) {
	vertices := gridVertices(8, 0.05)
	s := NewSampler(0.1, 0.2)
	require.InDelta(t, 0.16, s.MinDistance(), 1e-6)

	for _, v := range vertices {
		s.Offer(v)
	}
	particles := s.Particles()
	require.NotEmpty(t, particles)
	assert.Equal(t, vertices[0], particles[0], "first vertex is always accepted")

	for i := range particles {
		for j := i + 1; j < len(particles); j++ {
			assert.GreaterOrEqual(t, particles[i].Distance(particles[j]), s.MinDistance())
		}
	}

	// Every rejected vertex lies too close to some accepted particle.
	for _, v := range vertices {
		covered := false
		for _, p := range particles {
			if v.Distance(p) < s.MinDistance() || v == p {
				covered = true
				break
			}
		}
		assert.True(t, covered, "vertex %v neither accepted nor covered", v)
	}
}

func TestSamplerBoundaryDistanceAccepted(t *testing.T) {
	s := NewSampler(0.5, 0)
	assert.True(t, s.Offer(math.Vec3{}))
	assert.True(t, s.Offer(math.Vec3{X: 1}))
	assert.False(t, s.Offer(math.Vec3{X: 0.5}))
	assert.Len(t, s.Particles(), 2)
}

func TestSamplerOverlapClamped(t *testing.T) {
	tests := []struct {
		name    string
		overlap float32
		want    float32
	}{
		{"negative", -1, 0.2},
		{"zero", 0, 0.2},
		{"half", 0.5, 0.1},
		{"above max", 2, 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, NewSampler(0.1, tt.overlap).MinDistance(), 1e-6)
		})
	}
}

func TestSampleMeshDeterministic(t *testing.T) {
	vertices := gridVertices(6, 0.07)
	a := SampleMesh(vertices, 0.1, 0.3)
	b := SampleMesh(vertices, 0.1, 0.3)
	assert.Equal(t, a, b)
}

func TestSampleMeshEmpty(t *testing.T) {
	assert.Empty(t, SampleMesh(nil, 0.1, 0.2))
}
