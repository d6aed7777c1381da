package softbody

import (
	"github.com/google/uuid"

	"github.com/Faultbox/softbody/pkg/math"
)

// Solver is the physics solver an actor attaches to. Solver-global particle
// indices are only ever produced by AllocateParticles; actors translate
// through their own index table.
type Solver interface {
	// AllocateParticles reserves n global slots and returns their indices.
	AllocateParticles(n int) ([]int, error)
	// FreeParticles releases slots obtained from AllocateParticles.
	FreeParticles(indices []int)

	// PushParticles copies the selected field groups of data into the global
	// slots. data is expressed in solver space; indices[i] receives element i.
	PushParticles(indices []int, data *Particles, mask ParticleData)
	// PullParticles copies the selected field groups back into data, which
	// must already hold arrays of len(indices) for those groups.
	PullParticles(indices []int, data *Particles, mask ParticleData)

	// AddConstraints registers an actor's batches. indices maps the
	// actor-local particle indices used by the batches to global ones.
	AddConstraints(owner uuid.UUID, indices []int, c *Constraints)
	RemoveConstraints(owner uuid.UUID)

	// RenderablePositions and RenderableOrientations are indexed by global
	// particle index and hold the state of the last completed step.
	RenderablePositions() []math.Vec3
	RenderableOrientations() []math.Quat

	Subscribe(o StepObserver)
	Unsubscribe(o StepObserver)
}

// StepObserver is notified synchronously after the solver finishes a step.
// Implementations run on the solver's goroutine and must not call back into
// the solver's mutating methods.
type StepObserver interface {
	OnStepEnd(dt float32)
}

// ActorObserver receives actor lifecycle notifications.
type ActorObserver interface {
	OnInitialized(a *Softbody)
	OnAddedToSolver(a *Softbody)
	OnRemovedFromSolver(a *Softbody)
}
