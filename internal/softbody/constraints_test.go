package softbody

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/softbody/pkg/math"
)

func TestShapeMatchingBatch(t *testing.T) {
	b := NewShapeMatchingBatch()
	assert.Equal(t, 0, b.AddConstraint([]int{0, 1, 2}, 1, 0))
	assert.Equal(t, 1, b.AddConstraint([]int{1, 0}, 1, 0))
	assert.Equal(t, 2, b.AddConstraint([]int{2}, 1, 0))

	assert.Equal(t, 3, b.ConstraintCount())
	assert.Equal(t, []int{0, 1, 2}, b.ActiveConstraints())
	assert.Equal(t, []int{1, 0}, b.Members(1))
	assert.Equal(t, 2, b.ParticleIndex(2))
	assert.Equal(t, []int{0, 1}, b.ConstraintsInvolvingParticle(0))
	assert.Equal(t, []int{0, 2}, b.ConstraintsInvolvingParticle(2))

	b.DeactivateConstraint(1)
	assert.False(t, b.IsActive(1))
	assert.Equal(t, []int{0, 1, 2}, b.ActiveConstraints(), "cache is stale until rebuilt")
	b.SetActiveConstraints()
	assert.Equal(t, []int{0, 2}, b.ActiveConstraints())

	b.ActivateConstraint(1)
	b.SetActiveConstraints()
	assert.Equal(t, []int{0, 1, 2}, b.ActiveConstraints())

	b.Clear()
	assert.Equal(t, 0, b.ConstraintCount())
	assert.Empty(t, b.ActiveConstraints())
}

func TestCalculateRestShapeMatching(t *testing.T) {
	p := NewParticles(2)
	p.RestPositions[0] = math.Vec4{0, 0, 0, 1}
	p.RestPositions[1] = math.Vec4{2, 0, 0, 1}
	p.RestOrientations[0] = math.QuatFromAxisAngle(math.Vec3{Z: 1}, 1)
	p.RestOrientations[1] = math.QuatIdentity()
	p.InvMasses[0], p.InvMasses[1] = 1, 1

	b := NewShapeMatchingBatch()
	b.AddConstraint([]int{0, 1}, 1, 0)
	b.AddConstraint([]int{1, 0}, 1, 0)
	b.CalculateRestShapeMatching(&p)

	assert.InDelta(t, 1, b.RestComs[0].X, 1e-6)
	assert.Equal(t, p.RestOrientations[0], b.RestOrientations[0], "seed rest orientation")
	assert.Equal(t, p.RestOrientations[1], b.RestOrientations[1])

	p.InvMasses[1] = 0
	b.CalculateRestShapeMatching(&p)
	assert.InDelta(t, 2, b.RestComs[0].X, 1e-6)
}

func TestPinBatch(t *testing.T) {
	b := NewPinBatch()
	b.AddConstraint(3, math.Vec3{Y: 1}, 0.5)
	b.AddConstraint(5, math.Vec3{}, 1)
	b.AddConstraint(3, math.Vec3{}, 1)

	assert.Equal(t, ConstraintPin, b.Type())
	assert.Equal(t, 3, b.ConstraintCount())
	assert.Equal(t, 5, b.ParticleIndex(1))
	assert.Equal(t, []int{0, 2}, b.ConstraintsInvolvingParticle(3))
	assert.Empty(t, b.ConstraintsInvolvingParticle(4))
}

func TestConstraints(t *testing.T) {
	c := NewConstraints()
	assert.Nil(t, c.ShapeMatching())
	assert.Nil(t, c.Pin())

	shapes := NewShapeMatchingBatch()
	pins := NewPinBatch()
	c.AddBatch(pins)
	c.AddBatch(shapes)

	require.Len(t, c.All(), 2)
	assert.Same(t, shapes, c.All()[0], "ordered by type")
	assert.Same(t, shapes, c.ShapeMatching())
	assert.Same(t, pins, c.Pin())
	assert.Len(t, c.Batches(ConstraintPin), 1)
	assert.Nil(t, c.Batches(ConstraintType(42)))

	c.Clear(ConstraintShapeMatching)
	assert.Nil(t, c.ShapeMatching())
	assert.Len(t, c.All(), 1)
	assert.Equal(t, "ShapeMatching", ConstraintShapeMatching.String())
}
