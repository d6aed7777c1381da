// Package solver provides a reference kinematic particle solver. It stores
// particles of every attached actor in global arrays, advances them by their
// velocities and tracks cluster transforms, without solving constraints.
package solver

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/softbody/internal/logger"
	"github.com/Faultbox/softbody/internal/softbody"
	"github.com/Faultbox/softbody/pkg/math"
)

// Solver errors.
var (
	ErrCapacityExceeded = errors.New("solver capacity exceeded")
	ErrStepInProgress   = errors.New("solver step in progress")
)

type registration struct {
	indices     []int
	constraints *softbody.Constraints
}

// Solver owns the global particle arrays. It is not safe for concurrent use.
type Solver struct {
	particles softbody.Particles
	used      []bool
	free      []int // sorted ascending
	capacity  int

	renderablePositions    []math.Vec3
	renderableOrientations []math.Quat

	actors    map[uuid.UUID]*registration
	order     []uuid.UUID
	observers []softbody.StepObserver

	stepping bool
	steps    int
	log      *zap.Logger
}

var _ softbody.Solver = (*Solver)(nil)

// New creates a solver holding at most capacity particles, or any number
// when capacity is 0. Like softbody.New it takes its logger at creation.
func New(capacity int) *Solver {
	return &Solver{
		capacity: max(capacity, 0),
		actors:   make(map[uuid.UUID]*registration),
		log:      logger.Named("solver"),
	}
}

// Len returns the number of global slots, used or free.
func (s *Solver) Len() int { return len(s.used) }

// ParticleCount returns the number of allocated slots.
func (s *Solver) ParticleCount() int { return len(s.used) - len(s.free) }

// Steps returns how many steps have completed.
func (s *Solver) Steps() int { return s.steps }

// Particles exposes the global arrays, indexed by global particle index.
func (s *Solver) Particles() *softbody.Particles { return &s.particles }

// AllocateParticles reserves n slots, reusing the lowest freed slots first.
func (s *Solver) AllocateParticles(n int) ([]int, error) {
	if s.stepping {
		return nil, ErrStepInProgress
	}
	if n < 0 {
		return nil, fmt.Errorf("allocating %d particles: negative count", n)
	}
	if s.capacity > 0 && s.ParticleCount()+n > s.capacity {
		return nil, fmt.Errorf("%w: %d in use, %d requested, capacity %d",
			ErrCapacityExceeded, s.ParticleCount(), n, s.capacity)
	}

	indices := make([]int, 0, n)
	reused := min(n, len(s.free))
	indices = append(indices, s.free[:reused]...)
	s.free = s.free[reused:]

	if grow := n - reused; grow > 0 {
		start := len(s.used)
		s.resize(start + grow)
		for g := start; g < start+grow; g++ {
			indices = append(indices, g)
		}
	}

	for _, g := range indices {
		s.used[g] = true
		s.resetSlot(g)
	}
	s.log.Debug("allocated particles", zap.Int("count", n), zap.Int("in_use", s.ParticleCount()))
	return indices, nil
}

// FreeParticles releases slots. Unknown or already free indices are ignored.
func (s *Solver) FreeParticles(indices []int) {
	if s.stepping {
		s.log.Warn("ignoring free during step", zap.Int("count", len(indices)))
		return
	}
	for _, g := range indices {
		if g < 0 || g >= len(s.used) || !s.used[g] {
			continue
		}
		s.used[g] = false
		s.resetSlot(g)
		s.free = append(s.free, g)
	}
	slices.Sort(s.free)
}

func (s *Solver) resize(n int) {
	p := &s.particles
	p.Positions = slices.Grow(p.Positions, n-len(p.Positions))[:n]
	p.RestPositions = slices.Grow(p.RestPositions, n-len(p.RestPositions))[:n]
	p.Orientations = slices.Grow(p.Orientations, n-len(p.Orientations))[:n]
	p.RestOrientations = slices.Grow(p.RestOrientations, n-len(p.RestOrientations))[:n]
	p.Velocities = slices.Grow(p.Velocities, n-len(p.Velocities))[:n]
	p.AngularVelocities = slices.Grow(p.AngularVelocities, n-len(p.AngularVelocities))[:n]
	p.InvMasses = slices.Grow(p.InvMasses, n-len(p.InvMasses))[:n]
	p.InvRotationalMasses = slices.Grow(p.InvRotationalMasses, n-len(p.InvRotationalMasses))[:n]
	p.PrincipalRadii = slices.Grow(p.PrincipalRadii, n-len(p.PrincipalRadii))[:n]
	p.Phases = slices.Grow(p.Phases, n-len(p.Phases))[:n]
	p.Active = slices.Grow(p.Active, n-len(p.Active))[:n]
	s.used = slices.Grow(s.used, n-len(s.used))[:n]
	s.renderablePositions = slices.Grow(s.renderablePositions, n-len(s.renderablePositions))[:n]
	s.renderableOrientations = slices.Grow(s.renderableOrientations, n-len(s.renderableOrientations))[:n]
}

func (s *Solver) resetSlot(g int) {
	p := &s.particles
	p.Positions[g] = math.Vec3{}
	p.RestPositions[g] = math.Vec4{}
	p.Orientations[g] = math.QuatIdentity()
	p.RestOrientations[g] = math.QuatIdentity()
	p.Velocities[g] = math.Vec3{}
	p.AngularVelocities[g] = math.Vec3{}
	p.InvMasses[g] = 0
	p.InvRotationalMasses[g] = 0
	p.PrincipalRadii[g] = math.Vec3{}
	p.Phases[g] = 0
	p.Active[g] = false
	s.renderablePositions[g] = math.Vec3{}
	s.renderableOrientations[g] = math.QuatIdentity()
}

// PushParticles scatters the selected groups of data into the global slots.
func (s *Solver) PushParticles(indices []int, data *softbody.Particles, mask softbody.ParticleData) {
	if s.stepping {
		s.log.Warn("ignoring push during step", zap.Uint32("mask", uint32(mask)))
		return
	}
	p := &s.particles
	if mask&softbody.DataPositions != 0 {
		scatter(p.Positions, data.Positions, indices)
	}
	if mask&softbody.DataOrientations != 0 {
		scatter(p.Orientations, data.Orientations, indices)
	}
	if mask&softbody.DataRestPositions != 0 {
		scatter(p.RestPositions, data.RestPositions, indices)
	}
	if mask&softbody.DataRestOrientations != 0 {
		scatter(p.RestOrientations, data.RestOrientations, indices)
	}
	if mask&softbody.DataVelocities != 0 {
		scatter(p.Velocities, data.Velocities, indices)
	}
	if mask&softbody.DataAngularVelocities != 0 {
		scatter(p.AngularVelocities, data.AngularVelocities, indices)
	}
	if mask&softbody.DataInvMasses != 0 {
		scatter(p.InvMasses, data.InvMasses, indices)
	}
	if mask&softbody.DataInvRotationalMasses != 0 {
		scatter(p.InvRotationalMasses, data.InvRotationalMasses, indices)
	}
	if mask&softbody.DataPrincipalRadii != 0 {
		scatter(p.PrincipalRadii, data.PrincipalRadii, indices)
	}
	if mask&softbody.DataPhases != 0 {
		scatter(p.Phases, data.Phases, indices)
	}
	if mask&softbody.DataActiveStatus != 0 {
		scatter(p.Active, data.Active, indices)
	}
}

// PullParticles gathers the selected groups from the global slots into data.
func (s *Solver) PullParticles(indices []int, data *softbody.Particles, mask softbody.ParticleData) {
	p := &s.particles
	if mask&softbody.DataPositions != 0 {
		gather(data.Positions, p.Positions, indices)
	}
	if mask&softbody.DataOrientations != 0 {
		gather(data.Orientations, p.Orientations, indices)
	}
	if mask&softbody.DataRestPositions != 0 {
		gather(data.RestPositions, p.RestPositions, indices)
	}
	if mask&softbody.DataRestOrientations != 0 {
		gather(data.RestOrientations, p.RestOrientations, indices)
	}
	if mask&softbody.DataVelocities != 0 {
		gather(data.Velocities, p.Velocities, indices)
	}
	if mask&softbody.DataAngularVelocities != 0 {
		gather(data.AngularVelocities, p.AngularVelocities, indices)
	}
	if mask&softbody.DataInvMasses != 0 {
		gather(data.InvMasses, p.InvMasses, indices)
	}
	if mask&softbody.DataInvRotationalMasses != 0 {
		gather(data.InvRotationalMasses, p.InvRotationalMasses, indices)
	}
	if mask&softbody.DataPrincipalRadii != 0 {
		gather(data.PrincipalRadii, p.PrincipalRadii, indices)
	}
	if mask&softbody.DataPhases != 0 {
		gather(data.Phases, p.Phases, indices)
	}
	if mask&softbody.DataActiveStatus != 0 {
		gather(data.Active, p.Active, indices)
	}
}

func scatter[T any](dst, src []T, indices []int) {
	for i, g := range indices {
		if i < len(src) && g >= 0 && g < len(dst) {
			dst[g] = src[i]
		}
	}
}

func gather[T any](dst, src []T, indices []int) {
	for i, g := range indices {
		if i < len(dst) && g >= 0 && g < len(src) {
			dst[i] = src[g]
		}
	}
}

// AddConstraints registers an actor's constraint batches, replacing any
// previous registration for the same owner.
func (s *Solver) AddConstraints(owner uuid.UUID, indices []int, c *softbody.Constraints) {
	if _, ok := s.actors[owner]; !ok {
		s.order = append(s.order, owner)
	}
	s.actors[owner] = &registration{indices: indices, constraints: c}
}

// RemoveConstraints unregisters an actor's batches.
func (s *Solver) RemoveConstraints(owner uuid.UUID) {
	if _, ok := s.actors[owner]; !ok {
		return
	}
	delete(s.actors, owner)
	s.order = slices.DeleteFunc(s.order, func(id uuid.UUID) bool { return id == owner })
}

// RenderablePositions returns positions as of the last completed step.
func (s *Solver) RenderablePositions() []math.Vec3 { return s.renderablePositions }

// RenderableOrientations returns orientations as of the last completed step.
func (s *Solver) RenderableOrientations() []math.Quat { return s.renderableOrientations }

// Subscribe registers a step observer. Observers run in subscription order.
func (s *Solver) Subscribe(o softbody.StepObserver) {
	if slices.Contains(s.observers, o) {
		return
	}
	s.observers = append(s.observers, o)
}

// Unsubscribe removes a step observer.
func (s *Solver) Unsubscribe(o softbody.StepObserver) {
	s.observers = slices.DeleteFunc(s.observers, func(x softbody.StepObserver) bool { return x == o })
}

// Step advances unpinned active particles by their velocities, refreshes
// cluster transforms and renderable buffers, then notifies observers.
func (s *Solver) Step(dt float32) {
	if s.stepping {
		s.log.Warn("ignoring re-entrant step")
		return
	}
	s.stepping = true
	defer func() { s.stepping = false }()

	p := &s.particles
	for g, used := range s.used {
		if !used || !p.Active[g] {
			continue
		}
		if p.InvMasses[g] > 0 {
			p.Positions[g] = p.Positions[g].Add(p.Velocities[g].Scale(dt))
		}
		if p.InvRotationalMasses[g] > 0 {
			p.Orientations[g] = integrateRotation(p.Orientations[g], p.AngularVelocities[g], dt)
		}
	}

	for _, id := range s.order {
		s.updateShapes(s.actors[id])
	}

	copy(s.renderablePositions, p.Positions)
	copy(s.renderableOrientations, p.Orientations)
	s.steps++

	for _, o := range slices.Clone(s.observers) {
		o.OnStepEnd(dt)
	}
}

// updateShapes writes the current centre of mass and orientation of every
// active cluster. A cluster rotates with its seed particle.
func (s *Solver) updateShapes(r *registration) {
	p := &s.particles
	position := func(i int) math.Vec3 { return p.Positions[r.indices[i]] }
	invMass := func(i int) float32 { return p.InvMasses[r.indices[i]] }

	for _, b := range r.constraints.ShapeMatchingBatches() {
		for _, c := range b.ActiveConstraints() {
			b.Coms[c] = softbody.WeightedCenter(b.Members(c), position, invMass)
			seed := r.indices[b.ParticleIndex(c)]
			b.Orientations[c] = p.Orientations[seed].Mul(b.RestOrientations[c].Conjugate()).Normalize()
		}
	}
}

// integrateRotation advances q by angular velocity w over dt.
func integrateRotation(q math.Quat, w math.Vec3, dt float32) math.Quat {
	if w.LengthSq() == 0 {
		return q
	}
	angle := w.Length() * dt
	if math32.Abs(angle) < 1e-9 {
		return q
	}
	return math.QuatFromAxisAngle(w.Normalize(), angle).Mul(q).Normalize()
}
