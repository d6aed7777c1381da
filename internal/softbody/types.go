// Package softbody turns triangle meshes into particle softbodies: it samples
// particles from mesh vertices, fits an ellipsoid to each, groups them into
// overlapping shape-matching clusters and manages the actor lifecycle while
// attached to a solver.
package softbody

import (
	"errors"
	"fmt"

	"github.com/Faultbox/softbody/pkg/math"
)

// Softbody errors.
var (
	ErrNoInputMesh     = errors.New("no input mesh provided")
	ErrNotInitialized  = errors.New("softbody not initialized")
	ErrAlreadyInSolver = errors.New("softbody already in a solver")
	ErrNotInSolver     = errors.New("softbody not in a solver")
	ErrInvalidMass     = errors.New("inverse mass must be finite and non-negative")
)

// ParticleData selects groups of per-particle fields for solver transfers.
type ParticleData uint32

// Field groups.
const DataNone ParticleData = 0

const (
	DataPositions ParticleData = 1 << iota
	DataOrientations
	DataRestPositions
	DataRestOrientations
	DataVelocities
	DataAngularVelocities
	DataInvMasses
	DataInvRotationalMasses
	DataPrincipalRadii
	DataPhases
	DataActiveStatus
)

// DataAll selects every field group.
const DataAll = DataPositions | DataOrientations | DataRestPositions | DataRestOrientations |
	DataVelocities | DataAngularVelocities | DataInvMasses | DataInvRotationalMasses |
	DataPrincipalRadii | DataPhases | DataActiveStatus

// Has reports whether every group in other is selected.
func (d ParticleData) Has(other ParticleData) bool {
	return d&other == other && other != DataNone
}

// Phase flags, stored above the 24 group bits.
const (
	PhaseGroupMask   int32 = 0x00ffffff
	PhaseSelfCollide int32 = 1 << 24
	PhaseFluid       int32 = 1 << 25
	PhaseOneSided    int32 = 1 << 26
)

// MakePhase packs a collision group and flags.
func MakePhase(group int32, flags int32) int32 {
	return (group & PhaseGroupMask) | flags
}

// GroupFromPhase extracts the collision group.
func GroupFromPhase(phase int32) int32 {
	return phase & PhaseGroupMask
}

// Particles holds per-particle state as parallel arrays indexed by the
// actor-local particle index.
type Particles struct {
	Positions           []math.Vec3
	RestPositions       []math.Vec4 // W = 1 marks an active rest position
	Orientations        []math.Quat
	RestOrientations    []math.Quat
	Velocities          []math.Vec3
	AngularVelocities   []math.Vec3
	InvMasses           []float32 // 0 = pinned
	InvRotationalMasses []float32
	PrincipalRadii      []math.Vec3
	Phases              []int32
	Active              []bool
}

// NewParticles allocates arrays for n particles.
func NewParticles(n int) Particles {
	return Particles{
		Positions:           make([]math.Vec3, n),
		RestPositions:       make([]math.Vec4, n),
		Orientations:        make([]math.Quat, n),
		RestOrientations:    make([]math.Quat, n),
		Velocities:          make([]math.Vec3, n),
		AngularVelocities:   make([]math.Vec3, n),
		InvMasses:           make([]float32, n),
		InvRotationalMasses: make([]float32, n),
		PrincipalRadii:      make([]math.Vec3, n),
		Phases:              make([]int32, n),
		Active:              make([]bool, n),
	}
}

// Len returns the particle count.
func (p *Particles) Len() int {
	return len(p.Positions)
}

// ActiveCount returns how many particles are active.
func (p *Particles) ActiveCount() int {
	n := 0
	for _, a := range p.Active {
		if a {
			n++
		}
	}
	return n
}

// Settings controls particle generation.
type Settings struct {
	ParticleRadius         float32
	ParticleOverlap        float32 // Clamped to [0, 0.75]
	ShapeSmoothing         float32 // Clamped to [0, 1]
	AnisotropyNeighborhood float32
	MaxAnisotropy          float32
	SoftClusterRadius      float32
	OneSided               bool
	SelfCollisions         bool
	ChunkSize              int // Items processed per job step
}

// DefaultSettings returns the stock generation settings.
func DefaultSettings() Settings {
	return Settings{
		ParticleRadius:         0.1,
		ParticleOverlap:        0.2,
		ShapeSmoothing:         0.5,
		AnisotropyNeighborhood: 0.2,
		MaxAnisotropy:          3,
		SoftClusterRadius:      0.3,
		ChunkSize:              500,
	}
}

func (s Settings) phaseFlags() int32 {
	var flags int32
	if s.SelfCollisions {
		flags |= PhaseSelfCollide
	}
	if s.OneSided {
		flags |= PhaseOneSided
	}
	return flags
}

func (s Settings) chunk() int {
	if s.ChunkSize < 1 {
		return 1
	}
	return s.ChunkSize
}

// State is the actor lifecycle state.
type State int

// Lifecycle states.
const (
	StateUninitialized State = iota
	StateInitializing
	StateInitialized
	StateInSolver
	StateOptimized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitializing:
		return "Initializing"
	case StateInitialized:
		return "Initialized"
	case StateInSolver:
		return "InSolver"
	case StateOptimized:
		return "Optimized"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// Mesh is the read-only source geometry for particle generation.
type Mesh struct {
	Vertices []math.Vec3
	Normals  []math.Vec3 // Optional, parallel to Vertices
}

func (m *Mesh) normal(i int) math.Vec3 {
	if i < len(m.Normals) {
		return m.Normals[i]
	}
	return math.Vec3{}
}

// Transform places an actor in the world.
type Transform struct {
	Position math.Vec3
	Rotation math.Quat
	Scale    math.Vec3
}

// IdentityTransform returns a transform at the origin with unit scale.
func IdentityTransform() Transform {
	return Transform{Rotation: math.QuatIdentity(), Scale: math.Vec3One()}
}

// LocalToWorld returns the TRS matrix.
func (t Transform) LocalToWorld() math.Mat4 {
	return math.TRS(t.Position, t.Rotation, t.Scale)
}
