package softbody

import (
	"fmt"

	"github.com/chewxy/math32"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/softbody/internal/job"
	"github.com/Faultbox/softbody/internal/logger"
	"github.com/Faultbox/softbody/pkg/math"
)

// Softbody is a particle actor generated from a mesh. It owns the
// actor-local particle arrays and constraint batches, and mirrors them into
// a Solver while attached.
type Softbody struct {
	ID        uuid.UUID
	InputMesh *Mesh
	Settings  Settings
	Transform Transform

	particles    Particles
	constraints  *Constraints
	initialScale math.Mat4
	generation   int

	initialized  bool
	initializing bool
	optimized    bool

	solver          Solver
	particleIndices []int // actor-local -> solver-global
	centerShape     int

	observers []ActorObserver
	log       *zap.Logger
}

// New creates an uninitialized softbody for mesh. The component logger is
// taken at creation, so bodies created before logger.Init stay silent.
func New(mesh *Mesh, settings Settings) *Softbody {
	id := uuid.New()
	return &Softbody{
		ID:           id,
		InputMesh:    mesh,
		Settings:     settings,
		Transform:    IdentityTransform(),
		constraints:  NewConstraints(),
		initialScale: math.Identity(),
		centerShape:  -1,
		log:          logger.Named("softbody").With(zap.Stringer("actor", id)),
	}
}

// State returns the lifecycle state.
func (a *Softbody) State() State {
	switch {
	case a.initializing:
		return StateInitializing
	case !a.initialized:
		return StateUninitialized
	case a.solver != nil && a.optimized:
		return StateOptimized
	case a.solver != nil:
		return StateInSolver
	default:
		return StateInitialized
	}
}

// Initialized reports whether particle generation has completed.
func (a *Softbody) Initialized() bool { return a.initialized }

// InSolver reports whether the actor is attached to a solver.
func (a *Softbody) InSolver() bool { return a.solver != nil }

// Solver returns the solver the actor is attached to, or nil.
func (a *Softbody) Solver() Solver { return a.solver }

// Particles returns the actor-local particle arrays.
func (a *Softbody) Particles() *Particles { return &a.particles }

// Constraints returns the actor's constraint batches.
func (a *Softbody) Constraints() *Constraints { return a.constraints }

// ParticleIndices maps actor-local particle indices to solver-global ones.
// It is nil while detached.
func (a *Softbody) ParticleIndices() []int { return a.particleIndices }

// InitialScaleMatrix returns the scale baked into particle positions at
// initialization.
func (a *Softbody) InitialScaleMatrix() math.Mat4 { return a.initialScale }

// SourceToWorld maps actor-space particle data to world space: the actor
// transform with the baked initial scale removed.
func (a *Softbody) SourceToWorld() math.Mat4 {
	return a.Transform.LocalToWorld().Mul(a.initialScale.Inverse())
}

// CenterShape returns the position in the active shape list of the cluster
// driving the actor transform, or -1.
func (a *Softbody) CenterShape() int { return a.centerShape }

// Subscribe registers a lifecycle observer.
func (a *Softbody) Subscribe(o ActorObserver) {
	for _, existing := range a.observers {
		if existing == o {
			return
		}
	}
	a.observers = append(a.observers, o)
}

// Unsubscribe removes a lifecycle observer.
func (a *Softbody) Unsubscribe(o ActorObserver) {
	for i, existing := range a.observers {
		if existing == o {
			a.observers = append(a.observers[:i], a.observers[i+1:]...)
			return
		}
	}
}

func (a *Softbody) notify(fn func(ActorObserver)) {
	// Observers may unsubscribe while being notified.
	for _, o := range append([]ActorObserver(nil), a.observers...) {
		fn(o)
	}
}

// Initialize discards any previous state and returns a job that samples the
// input mesh, fits particle shapes and builds clusters. Observers are
// notified when the job completes. A job returned by an earlier call stops
// doing work once Initialize is called again.
func (a *Softbody) Initialize() (job.Job, error) {
	if a.solver != nil {
		if err := a.RemoveFromSolver(); err != nil {
			return nil, err
		}
	}

	a.generation++
	gen := a.generation
	a.initialized = false
	a.initializing = false
	a.optimized = false
	a.particles = Particles{}
	a.constraints = NewConstraints()
	a.centerShape = -1

	if a.InputMesh == nil {
		a.log.Error("cannot initialize physical representation", zap.Error(ErrNoInputMesh))
		return nil, ErrNoInputMesh
	}

	a.initializing = true
	scale := a.Transform.Scale
	a.initialScale = math.Scale(scale.X, scale.Y, scale.Z)

	settings := a.Settings
	mesh := a.InputMesh
	scaled := make([]math.Vec3, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		scaled[i] = a.initialScale.TransformVec3(v)
	}

	sampler := NewSampler(settings.ParticleRadius, settings.ParticleOverlap)
	smoothing := min(max(settings.ShapeSmoothing, 0), 1)
	flags := settings.phaseFlags()
	chunk := settings.chunk()
	current := func() bool { return a.generation == gen }

	var (
		samples    []math.Vec3
		estimator  *AnisotropyEstimator
		clusters   *ClusterBuilder
		shapeBatch *ShapeMatchingBatch
	)

	return job.NewSequence(
		job.Phase{
			Label: "softbody: sampling mesh vertices...",
			Count: len(scaled),
			Chunk: chunk,
			Do: func(i int) {
				if current() {
					sampler.Offer(scaled[i])
				}
			},
		},
		job.Phase{
			Label: "softbody: fitting particle anisotropy...",
			Chunk: chunk,
			Begin: func() int {
				if !current() {
					return 0
				}
				samples = append([]math.Vec3(nil), sampler.Particles()...)
				a.particles = NewParticles(len(samples))
				estimator = NewAnisotropyEstimator(mesh, scaled, settings.AnisotropyNeighborhood,
					settings.MaxAnisotropy, settings.ParticleRadius)
				return len(samples)
			},
			Do: func(i int) {
				if !current() {
					return
				}
				e := estimator.Estimate(samples[i])
				p := &a.particles
				p.Active[i] = true
				p.InvMasses[i] = 1
				p.InvRotationalMasses[i] = 1
				p.Positions[i] = samples[i].Lerp(e.Centroid, smoothing)
				p.RestPositions[i] = p.Positions[i].Vec4(1)
				p.Orientations[i] = e.Orientation
				p.RestOrientations[i] = e.Orientation
				p.PrincipalRadii[i] = e.Radii
				p.Phases[i] = MakePhase(1, flags)
			},
		},
		job.Phase{
			Label: "softbody: generating shape matching constraints...",
			Chunk: chunk,
			Begin: func() int {
				if !current() {
					return 0
				}
				// Clusters use the raw samples, not the smoothed positions.
				clusters = NewClusterBuilder(samples, settings.SoftClusterRadius)
				shapeBatch = NewShapeMatchingBatch()
				a.constraints.Clear(ConstraintShapeMatching)
				a.constraints.AddBatch(shapeBatch)
				return clusters.Len()
			},
			Do: func(i int) {
				if current() {
					shapeBatch.AddConstraint(clusters.Cluster(i), 1, 0)
				}
			},
			End: func() {
				if !current() {
					return
				}
				shapeBatch.CalculateRestShapeMatching(&a.particles)
				a.constraints.Clear(ConstraintPin)
				a.constraints.AddBatch(NewPinBatch())

				a.initializing = false
				a.initialized = true
				a.log.Info("softbody initialized",
					zap.Int("vertices", len(scaled)),
					zap.Int("particles", a.particles.Len()),
					zap.Int("clusters", shapeBatch.ConstraintCount()))
				a.notify(func(o ActorObserver) { o.OnInitialized(a) })
			},
		},
	), nil
}

// AddToSolver attaches the actor: global slots are allocated, every field
// group is pushed and the constraint batches are registered.
func (a *Softbody) AddToSolver(s Solver) error {
	if !a.initialized {
		return ErrNotInitialized
	}
	if a.solver != nil {
		return ErrAlreadyInSolver
	}

	indices, err := s.AllocateParticles(a.particles.Len())
	if err != nil {
		return fmt.Errorf("allocating %d particles: %w", a.particles.Len(), err)
	}

	a.solver = s
	a.particleIndices = indices
	a.PushDataToSolver(DataAll)
	s.AddConstraints(a.ID, indices, a.constraints)
	s.Subscribe(a)
	a.RecalculateCenterShape()

	a.log.Info("added to solver", zap.Int("particles", len(indices)))
	a.notify(func(o ActorObserver) { o.OnAddedToSolver(a) })
	return nil
}

// RemoveFromSolver pulls the simulated state back and detaches the actor.
func (a *Softbody) RemoveFromSolver() error {
	if a.solver == nil {
		return ErrNotInSolver
	}

	a.PullDataFromSolver(DataPositions | DataOrientations | DataVelocities | DataAngularVelocities)

	s := a.solver
	s.Unsubscribe(a)
	s.RemoveConstraints(a.ID)
	s.FreeParticles(a.particleIndices)
	a.solver = nil
	a.particleIndices = nil

	a.log.Info("removed from solver")
	a.notify(func(o ActorObserver) { o.OnRemovedFromSolver(a) })
	return nil
}

// PushDataToSolver transfers the selected field groups to the solver. It is
// a no-op while detached. Pushing inverse masses also recomputes rest shape
// matching data.
func (a *Softbody) PushDataToSolver(mask ParticleData) {
	if a.solver == nil || mask == DataNone {
		return
	}

	a.solver.PushParticles(a.particleIndices, a.toSolverSpace(mask), mask)

	if mask&DataInvMasses != 0 {
		for _, b := range a.constraints.ShapeMatchingBatches() {
			b.CalculateRestShapeMatching(&a.particles)
		}
	}
}

// PullDataFromSolver reads the selected field groups back from the solver.
// It is a no-op while detached.
func (a *Softbody) PullDataFromSolver(mask ParticleData) {
	if a.solver == nil || mask == DataNone {
		return
	}

	staging := NewParticles(a.particles.Len())
	a.solver.PullParticles(a.particleIndices, &staging, mask)
	a.fromSolverSpace(&staging, mask)
	copyFields(&a.particles, &staging, mask)
}

// toSolverSpace returns the particles with the selected spatial fields
// transformed into solver space. Unselected and space-independent arrays
// are shared, not copied.
func (a *Softbody) toSolverSpace(mask ParticleData) *Particles {
	m := a.SourceToWorld()
	rot := m.Rotation()
	out := a.particles

	if mask&DataPositions != 0 {
		out.Positions = make([]math.Vec3, len(a.particles.Positions))
		for i, p := range a.particles.Positions {
			out.Positions[i] = m.TransformVec3(p)
		}
	}
	if mask&DataOrientations != 0 {
		out.Orientations = make([]math.Quat, len(a.particles.Orientations))
		for i, q := range a.particles.Orientations {
			out.Orientations[i] = rot.Mul(q)
		}
	}
	if mask&DataVelocities != 0 {
		out.Velocities = rotateAll(rot, a.particles.Velocities)
	}
	if mask&DataAngularVelocities != 0 {
		out.AngularVelocities = rotateAll(rot, a.particles.AngularVelocities)
	}
	return &out
}

// fromSolverSpace converts pulled data back into actor space in place.
func (a *Softbody) fromSolverSpace(p *Particles, mask ParticleData) {
	inv := a.SourceToWorld().Inverse()
	rot := a.SourceToWorld().Rotation().Conjugate()

	if mask&DataPositions != 0 {
		for i := range p.Positions {
			p.Positions[i] = inv.TransformVec3(p.Positions[i])
		}
	}
	if mask&DataOrientations != 0 {
		for i := range p.Orientations {
			p.Orientations[i] = rot.Mul(p.Orientations[i])
		}
	}
	if mask&DataVelocities != 0 {
		p.Velocities = rotateAll(rot, p.Velocities)
	}
	if mask&DataAngularVelocities != 0 {
		p.AngularVelocities = rotateAll(rot, p.AngularVelocities)
	}
}

func rotateAll(q math.Quat, vs []math.Vec3) []math.Vec3 {
	out := make([]math.Vec3, len(vs))
	for i, v := range vs {
		out[i] = q.Rotate(v)
	}
	return out
}

// copyFields copies the selected groups from src into dst.
func copyFields(dst, src *Particles, mask ParticleData) {
	if mask&DataPositions != 0 {
		copy(dst.Positions, src.Positions)
	}
	if mask&DataOrientations != 0 {
		copy(dst.Orientations, src.Orientations)
	}
	if mask&DataRestPositions != 0 {
		copy(dst.RestPositions, src.RestPositions)
	}
	if mask&DataRestOrientations != 0 {
		copy(dst.RestOrientations, src.RestOrientations)
	}
	if mask&DataVelocities != 0 {
		copy(dst.Velocities, src.Velocities)
	}
	if mask&DataAngularVelocities != 0 {
		copy(dst.AngularVelocities, src.AngularVelocities)
	}
	if mask&DataInvMasses != 0 {
		copy(dst.InvMasses, src.InvMasses)
	}
	if mask&DataInvRotationalMasses != 0 {
		copy(dst.InvRotationalMasses, src.InvRotationalMasses)
	}
	if mask&DataPrincipalRadii != 0 {
		copy(dst.PrincipalRadii, src.PrincipalRadii)
	}
	if mask&DataPhases != 0 {
		copy(dst.Phases, src.Phases)
	}
	if mask&DataActiveStatus != 0 {
		copy(dst.Active, src.Active)
	}
}

// RecalculateCenterShape picks the cluster used to drive the actor transform.
// Only bodies without pinned particles have one: the active cluster whose
// seed lies closest to the actor origin. Call it after changing masses or
// active particles.
func (a *Softbody) RecalculateCenterShape() {
	a.centerShape = -1

	for _, m := range a.particles.InvMasses {
		if m <= 0 {
			return
		}
	}

	batch := a.constraints.ShapeMatching()
	if batch == nil {
		return
	}

	minDistance := float32(math32.MaxFloat32)
	for i, c := range batch.ActiveConstraints() {
		d := a.particles.Positions[batch.ParticleIndex(c)].LengthSq()
		if d < minDistance {
			minDistance = d
			a.centerShape = i
		}
	}
}

// OnStepEnd makes the actor transform follow its centre cluster.
func (a *Softbody) OnStepEnd(dt float32) {
	if a.centerShape < 0 {
		return
	}
	batch := a.constraints.ShapeMatching()
	if batch == nil {
		return
	}
	shapes := batch.ActiveConstraints()
	if a.centerShape >= len(shapes) {
		return
	}

	shape := shapes[a.centerShape]
	q := batch.Orientations[shape]
	a.Transform.Position = batch.Coms[shape].Sub(q.Rotate(batch.RestComs[shape]))
	a.Transform.Rotation = q
}

// UpdateParticlePhases rebuilds phase flags from the current settings and
// pushes them.
func (a *Softbody) UpdateParticlePhases() {
	if a.solver == nil {
		return
	}
	flags := a.Settings.phaseFlags()
	for i, ph := range a.particles.Phases {
		a.particles.Phases[i] = MakePhase(GroupFromPhase(ph), flags)
	}
	a.PushDataToSolver(DataPhases)
}

// ResetActor pushes the actor's own positions and velocities, discarding
// the simulated ones, and refreshes the renderable positions.
func (a *Softbody) ResetActor() {
	if a.solver == nil {
		return
	}
	a.PushDataToSolver(DataPositions | DataVelocities | DataAngularVelocities)

	m := a.SourceToWorld()
	renderable := a.solver.RenderablePositions()
	for i, g := range a.particleIndices {
		if g >= 0 && g < len(renderable) {
			renderable[g] = m.TransformVec3(a.particles.Positions[i])
		}
	}
}

// SetRestState copies the current simulated state into the rest state.
func (a *Softbody) SetRestState() {
	a.PullDataFromSolver(DataPositions | DataOrientations)

	p := &a.particles
	for i := range p.Positions {
		p.RestPositions[i] = p.Positions[i].Vec4(1)
		p.RestOrientations[i] = p.Orientations[i]
	}
	for _, b := range a.constraints.ShapeMatchingBatches() {
		b.CalculateRestShapeMatching(p)
	}
	a.PushDataToSolver(DataRestPositions | DataRestOrientations)
}

// SetInvMass sets both inverse masses of a particle. Zero pins it. The
// change is local until pushed with DataInvMasses|DataInvRotationalMasses.
func (a *Softbody) SetInvMass(i int, invMass float32) error {
	if i < 0 || i >= a.particles.Len() {
		return fmt.Errorf("particle %d out of range [0, %d)", i, a.particles.Len())
	}
	if !validInvMass(invMass) {
		return fmt.Errorf("%w: particle %d: %v", ErrInvalidMass, i, invMass)
	}
	a.particles.InvMasses[i] = invMass
	a.particles.InvRotationalMasses[i] = invMass
	return nil
}

func validInvMass(m float32) bool {
	return m >= 0 && !math32.IsInf(m, 0)
}

// AddPin attaches particle to a fixed offset through the pin batch.
func (a *Softbody) AddPin(particle int, offset math.Vec3, stiffness float32) (int, error) {
	if !a.initialized {
		return -1, ErrNotInitialized
	}
	if particle < 0 || particle >= a.particles.Len() {
		return -1, fmt.Errorf("particle %d out of range [0, %d)", particle, a.particles.Len())
	}
	pins := a.constraints.Pin()
	if pins == nil {
		pins = NewPinBatch()
		a.constraints.AddBatch(pins)
	}
	return pins.AddConstraint(particle, offset, stiffness), nil
}

// PinParticle fixes a particle in place by zeroing its inverse masses.
func (a *Softbody) PinParticle(i int) error {
	return a.SetInvMass(i, 0)
}
