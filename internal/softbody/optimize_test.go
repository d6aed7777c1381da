package softbody_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/softbody/internal/job"
	"github.com/Faultbox/softbody/internal/softbody"
	"github.com/Faultbox/softbody/internal/solver"
	"github.com/Faultbox/softbody/pkg/math"
)

// chainBody builds ten particles 0.25 apart on X, so each cluster holds the
// seed and its direct neighbours. Particles 0-4 are pinned.
func chainBody(t *testing.T) *softbody.Softbody {
	t.Helper()
	mesh := &softbody.Mesh{}
	for i := 0; i < 10; i++ {
		mesh.Vertices = append(mesh.Vertices, math.Vec3{X: float32(i) * 0.25})
	}
	a := newInitialized(t, mesh)
	require.Equal(t, 10, a.Particles().Len())
	require.Equal(t, []int{4, 3, 5}, a.Constraints().ShapeMatching().Members(4))
	for i := 0; i < 5; i++ {
		require.NoError(t, a.PinParticle(i))
	}
	return a
}

func runJob(t *testing.T, j job.Job, err error) {
	t.Helper()
	require.NoError(t, err)
	job.Drain(j)
}

func TestOptimize(t *testing.T) {
	a := chainBody(t)
	pin, err := a.AddPin(1, math.Vec3{}, 1)
	require.NoError(t, err)

	s := solver.New(0)
	require.NoError(t, a.AddToSolver(s))

	j, err := a.Optimize()
	runJob(t, j, err)

	p := a.Particles()
	assert.Equal(t, []bool{false, false, false, false, true, true, true, true, true, true}, p.Active)

	// Every cluster touching a redundant particle is off, including the one
	// seeded by particle 4, which stays active itself.
	shapes := a.Constraints().ShapeMatching()
	assert.Equal(t, []int{5, 6, 7, 8, 9}, shapes.ActiveConstraints())
	assert.False(t, a.Constraints().Pin().IsActive(pin))
	assert.Empty(t, a.Constraints().Pin().ActiveConstraints())

	for i, g := range a.ParticleIndices() {
		assert.Equal(t, p.Active[i], s.Particles().Active[g], "active status pushed for %d", i)
	}
}

func TestOptimizeOnlyDeactivates(t *testing.T) {
	a := chainBody(t)
	j, err := a.Optimize()
	runJob(t, j, err)
	first := append([]bool(nil), a.Particles().Active...)

	j, err = a.Optimize()
	runJob(t, j, err)
	assert.Equal(t, first, a.Particles().Active, "optimize is idempotent")

	// Unpinning a pruned particle does not bring it back.
	require.NoError(t, a.SetInvMass(2, 1))
	j, err = a.Optimize()
	runJob(t, j, err)
	assert.False(t, a.Particles().Active[2])
	for i := range first {
		if !first[i] {
			assert.False(t, a.Particles().Active[i])
		}
	}
}

func TestUnoptimizeRestoresEverything(t *testing.T) {
	a := chainBody(t)
	_, err := a.AddPin(0, math.Vec3{}, 1)
	require.NoError(t, err)
	s := solver.New(0)
	require.NoError(t, a.AddToSolver(s))

	j, err := a.Optimize()
	runJob(t, j, err)
	require.Equal(t, softbody.StateOptimized, a.State())

	j, err = a.Unoptimize()
	runJob(t, j, err)
	assert.Equal(t, softbody.StateInSolver, a.State())

	assert.Equal(t, 10, a.Particles().ActiveCount())
	for _, b := range a.Constraints().All() {
		assert.Len(t, b.ActiveConstraints(), b.ConstraintCount(), "%s batch", b.Type())
	}
	for _, g := range a.ParticleIndices() {
		assert.True(t, s.Particles().Active[g])
	}

	// Unoptimize on an untouched body is harmless.
	j, err = a.Unoptimize()
	runJob(t, j, err)
	assert.Equal(t, 10, a.Particles().ActiveCount())
}

func TestOptimizeRequiresInitialization(t *testing.T) {
	a := softbody.New(&softbody.Mesh{}, softbody.DefaultSettings())
	_, err := a.Optimize()
	assert.ErrorIs(t, err, softbody.ErrNotInitialized)
	_, err = a.Unoptimize()
	assert.ErrorIs(t, err, softbody.ErrNotInitialized)
}

func TestOptimizeAbandonedKeepsBatchesConsistent(t *testing.T) {
	a := chainBody(t)
	a.Settings.ChunkSize = 1

	j, err := a.Optimize()
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		j.Step()
	}
	require.False(t, j.Done())
	assert.NotEqual(t, softbody.StateOptimized, a.State())

	p := a.Particles()
	assert.Equal(t, []bool{false, false, false, false, true, true, true, true, true, true}, p.Active)
	for _, b := range a.Constraints().All() {
		for _, c := range b.ActiveConstraints() {
			assert.True(t, b.IsActive(c), "%s batch lists inactive constraint %d", b.Type(), c)
		}
		for i, on := range p.Active {
			if on {
				continue
			}
			for _, c := range b.ConstraintsInvolvingParticle(i) {
				assert.NotContains(t, b.ActiveConstraints(), c, "%s constraint %d of particle %d", b.Type(), c, i)
			}
		}
	}
	assert.Equal(t, []int{5, 6, 7, 8, 9}, a.Constraints().ShapeMatching().ActiveConstraints())
}
