package softbody

import (
	"fmt"
	"slices"

	"github.com/Faultbox/softbody/pkg/math"
)

// ConstraintType identifies a family of constraint batches.
type ConstraintType int

// Constraint types.
const (
	ConstraintShapeMatching ConstraintType = iota
	ConstraintPin
	constraintTypeCount
)

// String returns the type name.
func (t ConstraintType) String() string {
	switch t {
	case ConstraintShapeMatching:
		return "ShapeMatching"
	case ConstraintPin:
		return "Pin"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// ConstraintBatch is a group of constraints of one type that can be
// individually switched on and off.
type ConstraintBatch interface {
	Type() ConstraintType
	ConstraintCount() int

	// ActiveConstraints returns the cached list of active constraint indices,
	// as of the last SetActiveConstraints call.
	ActiveConstraints() []int

	// ParticleIndex returns the actor-local particle a constraint is anchored to.
	ParticleIndex(constraint int) int

	// ConstraintsInvolvingParticle lists every constraint referencing particle.
	ConstraintsInvolvingParticle(particle int) []int

	ActivateConstraint(constraint int)
	DeactivateConstraint(constraint int)
	IsActive(constraint int) bool

	// SetActiveConstraints rebuilds the active constraint cache.
	SetActiveConstraints()

	Clear()
}

// activation tracks per-constraint active flags and the cached active list.
type activation struct {
	active     []bool
	activeList []int
}

func (a *activation) add() int {
	a.active = append(a.active, true)
	a.activeList = append(a.activeList, len(a.active)-1)
	return len(a.active) - 1
}

func (a *activation) ActiveConstraints() []int { return a.activeList }

func (a *activation) IsActive(c int) bool {
	return c >= 0 && c < len(a.active) && a.active[c]
}

func (a *activation) ActivateConstraint(c int) {
	if c >= 0 && c < len(a.active) {
		a.active[c] = true
	}
}

func (a *activation) DeactivateConstraint(c int) {
	if c >= 0 && c < len(a.active) {
		a.active[c] = false
	}
}

func (a *activation) SetActiveConstraints() {
	a.activeList = a.activeList[:0]
	for i, on := range a.active {
		if on {
			a.activeList = append(a.activeList, i)
		}
	}
}

// ShapeMatchingBatch stores clusters. Member lists are packed into
// ShapeIndices; constraint c owns ShapeIndices[FirstIndex[c]:FirstIndex[c]+NumIndices[c]]
// and its first member is the seed particle.
type ShapeMatchingBatch struct {
	activation

	ShapeIndices []int
	FirstIndex   []int
	NumIndices   []int
	Stiffness    []float32
	Plasticity   []float32

	// Rest data, immutable once computed.
	RestComs         []math.Vec3
	RestOrientations []math.Quat

	// Current cluster transforms, written by the solver each step.
	Coms         []math.Vec3
	Orientations []math.Quat
}

// NewShapeMatchingBatch creates an empty batch.
func NewShapeMatchingBatch() *ShapeMatchingBatch {
	return &ShapeMatchingBatch{}
}

// Type returns ConstraintShapeMatching.
func (b *ShapeMatchingBatch) Type() ConstraintType { return ConstraintShapeMatching }

// ConstraintCount returns the number of clusters.
func (b *ShapeMatchingBatch) ConstraintCount() int { return len(b.FirstIndex) }

// AddConstraint appends a cluster. indices[0] is the seed.
func (b *ShapeMatchingBatch) AddConstraint(indices []int, stiffness, plasticity float32) int {
	b.FirstIndex = append(b.FirstIndex, len(b.ShapeIndices))
	b.NumIndices = append(b.NumIndices, len(indices))
	b.ShapeIndices = append(b.ShapeIndices, indices...)
	b.Stiffness = append(b.Stiffness, stiffness)
	b.Plasticity = append(b.Plasticity, plasticity)
	b.RestComs = append(b.RestComs, math.Vec3{})
	b.RestOrientations = append(b.RestOrientations, math.QuatIdentity())
	b.Coms = append(b.Coms, math.Vec3{})
	b.Orientations = append(b.Orientations, math.QuatIdentity())
	return b.add()
}

// Members returns the particle indices of a cluster, seed first.
func (b *ShapeMatchingBatch) Members(c int) []int {
	return b.ShapeIndices[b.FirstIndex[c] : b.FirstIndex[c]+b.NumIndices[c]]
}

// ParticleIndex returns the seed particle of a cluster.
func (b *ShapeMatchingBatch) ParticleIndex(c int) int {
	return b.ShapeIndices[b.FirstIndex[c]]
}

// ConstraintsInvolvingParticle lists every cluster containing particle.
func (b *ShapeMatchingBatch) ConstraintsInvolvingParticle(particle int) []int {
	var result []int
	for c := range b.FirstIndex {
		if slices.Contains(b.Members(c), particle) {
			result = append(result, c)
		}
	}
	return result
}

// CalculateRestShapeMatching recomputes rest centres of mass and rest
// orientations from the particles' rest state.
func (b *ShapeMatchingBatch) CalculateRestShapeMatching(p *Particles) {
	pos := func(i int) math.Vec3 { return p.RestPositions[i].XYZ() }
	invMass := func(i int) float32 { return p.InvMasses[i] }
	for c := range b.FirstIndex {
		b.RestComs[c] = WeightedCenter(b.Members(c), pos, invMass)
		b.RestOrientations[c] = p.RestOrientations[b.ParticleIndex(c)]
	}
}

// Clear removes every cluster.
func (b *ShapeMatchingBatch) Clear() {
	*b = ShapeMatchingBatch{}
}

// PinBatch attaches particles to fixed offsets.
type PinBatch struct {
	activation

	ParticleIndices []int
	Offsets         []math.Vec3
	Stiffness       []float32
}

// NewPinBatch creates an empty batch.
func NewPinBatch() *PinBatch {
	return &PinBatch{}
}

// Type returns ConstraintPin.
func (b *PinBatch) Type() ConstraintType { return ConstraintPin }

// ConstraintCount returns the number of pins.
func (b *PinBatch) ConstraintCount() int { return len(b.ParticleIndices) }

// AddConstraint pins particle at offset.
func (b *PinBatch) AddConstraint(particle int, offset math.Vec3, stiffness float32) int {
	b.ParticleIndices = append(b.ParticleIndices, particle)
	b.Offsets = append(b.Offsets, offset)
	b.Stiffness = append(b.Stiffness, stiffness)
	return b.add()
}

// ParticleIndex returns the pinned particle.
func (b *PinBatch) ParticleIndex(c int) int { return b.ParticleIndices[c] }

// ConstraintsInvolvingParticle lists the pins on particle.
func (b *PinBatch) ConstraintsInvolvingParticle(particle int) []int {
	var result []int
	for c, p := range b.ParticleIndices {
		if p == particle {
			result = append(result, c)
		}
	}
	return result
}

// Clear removes every pin.
func (b *PinBatch) Clear() {
	*b = PinBatch{}
}

// Constraints holds an actor's batches grouped by type.
type Constraints struct {
	batches [constraintTypeCount][]ConstraintBatch
}

// NewConstraints creates an empty store.
func NewConstraints() *Constraints {
	return &Constraints{}
}

// AddBatch appends a batch under its type.
func (c *Constraints) AddBatch(b ConstraintBatch) {
	t := b.Type()
	c.batches[t] = append(c.batches[t], b)
}

// Batches returns the batches of one type.
func (c *Constraints) Batches(t ConstraintType) []ConstraintBatch {
	if t < 0 || t >= constraintTypeCount {
		return nil
	}
	return c.batches[t]
}

// All returns every batch, ordered by type.
func (c *Constraints) All() []ConstraintBatch {
	var all []ConstraintBatch
	for _, bs := range c.batches {
		all = append(all, bs...)
	}
	return all
}

// Clear drops the batches of one type.
func (c *Constraints) Clear(t ConstraintType) {
	if t >= 0 && t < constraintTypeCount {
		c.batches[t] = nil
	}
}

// ShapeMatching returns the first shape matching batch, or nil.
func (c *Constraints) ShapeMatching() *ShapeMatchingBatch {
	for _, b := range c.batches[ConstraintShapeMatching] {
		if sm, ok := b.(*ShapeMatchingBatch); ok {
			return sm
		}
	}
	return nil
}

// ShapeMatchingBatches returns every shape matching batch.
func (c *Constraints) ShapeMatchingBatches() []*ShapeMatchingBatch {
	var result []*ShapeMatchingBatch
	for _, b := range c.batches[ConstraintShapeMatching] {
		if sm, ok := b.(*ShapeMatchingBatch); ok {
			result = append(result, sm)
		}
	}
	return result
}

// Pin returns the first pin batch, or nil.
func (c *Constraints) Pin() *PinBatch {
	for _, b := range c.batches[ConstraintPin] {
		if pb, ok := b.(*PinBatch); ok {
			return pb
		}
	}
	return nil
}
