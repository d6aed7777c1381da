package softbody

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/softbody/pkg/formats"
	"github.com/Faultbox/softbody/pkg/math"
)

// Blueprint exports the generated particles and clusters. Bind data is
// filled in by the skinner.
func (a *Softbody) Blueprint() (*formats.Blueprint, error) {
	if !a.initialized {
		return nil, ErrNotInitialized
	}

	p := &a.particles
	n := p.Len()
	bp := &formats.Blueprint{
		Version:             formats.CurrentBlueprintVersion,
		Positions:           make([][3]float32, n),
		RestPositions:       make([][4]float32, n),
		Orientations:        make([][4]float32, n),
		RestOrientations:    make([][4]float32, n),
		InvMasses:           append([]float32(nil), p.InvMasses...),
		InvRotationalMasses: append([]float32(nil), p.InvRotationalMasses...),
		PrincipalRadii:      make([][3]float32, n),
		Phases:              append([]int32(nil), p.Phases...),
		Active:              append([]bool(nil), p.Active...),
	}
	for i := 0; i < n; i++ {
		bp.Positions[i] = p.Positions[i].Array()
		bp.RestPositions[i] = p.RestPositions[i]
		bp.Orientations[i] = quatArray(p.Orientations[i])
		bp.RestOrientations[i] = quatArray(p.RestOrientations[i])
		bp.PrincipalRadii[i] = p.PrincipalRadii[i].Array()
	}

	if batch := a.constraints.ShapeMatching(); batch != nil {
		bp.Clusters = make([][]int32, batch.ConstraintCount())
		for c := range bp.Clusters {
			members := batch.Members(c)
			bp.Clusters[c] = make([]int32, len(members))
			for k, m := range members {
				bp.Clusters[c][k] = int32(m)
			}
		}
	}
	return bp, nil
}

// LoadBlueprint replaces the actor's particles and clusters with those of
// bp and marks it initialized, skipping generation. The actor must not be
// attached to a solver.
func (a *Softbody) LoadBlueprint(bp *formats.Blueprint) error {
	if a.solver != nil {
		return ErrAlreadyInSolver
	}
	if err := bp.Validate(); err != nil {
		return fmt.Errorf("loading blueprint: %w", err)
	}

	n := bp.ParticleCount()
	p := NewParticles(n)
	for i := 0; i < n; i++ {
		if !validInvMass(bp.InvMasses[i]) || !validInvMass(bp.InvRotationalMasses[i]) {
			return fmt.Errorf("loading blueprint: %w: particle %d: %v, %v",
				ErrInvalidMass, i, bp.InvMasses[i], bp.InvRotationalMasses[i])
		}
		p.Positions[i] = math.Vec3FromArray(bp.Positions[i])
		p.RestPositions[i] = bp.RestPositions[i]
		p.Orientations[i] = quatFromArray(bp.Orientations[i])
		p.RestOrientations[i] = quatFromArray(bp.RestOrientations[i])
		p.InvMasses[i] = bp.InvMasses[i]
		p.InvRotationalMasses[i] = bp.InvRotationalMasses[i]
		p.PrincipalRadii[i] = math.Vec3FromArray(bp.PrincipalRadii[i])
		p.Phases[i] = bp.Phases[i]
		p.Active[i] = bp.Active[i]
	}

	shapes := NewShapeMatchingBatch()
	for _, cluster := range bp.Clusters {
		members := make([]int, len(cluster))
		for k, m := range cluster {
			members[k] = int(m)
		}
		shapes.AddConstraint(members, 1, 0)
	}
	shapes.CalculateRestShapeMatching(&p)

	a.generation++
	a.particles = p
	a.constraints = NewConstraints()
	a.constraints.AddBatch(shapes)
	a.constraints.AddBatch(NewPinBatch())
	optimized := a.deactivateInactive()
	a.initialScale = math.Scale(a.Transform.Scale.X, a.Transform.Scale.Y, a.Transform.Scale.Z)
	a.centerShape = -1
	a.initializing = false
	a.initialized = true
	a.optimized = optimized

	a.log.Info("softbody loaded from blueprint",
		zap.Int("particles", n),
		zap.Int("active", a.particles.ActiveCount()),
		zap.Int("clusters", shapes.ConstraintCount()))
	a.notify(func(o ActorObserver) { o.OnInitialized(a) })
	return nil
}

// deactivateInactive switches off every constraint involving an inactive
// particle, the state Optimize leaves behind. It reports whether any
// particle was inactive.
func (a *Softbody) deactivateInactive() bool {
	inactive := false
	for i, active := range a.particles.Active {
		if !active {
			inactive = true
			a.deactivateConstraintsOf(i)
		}
	}
	return inactive
}

func quatArray(q math.Quat) [4]float32 {
	return [4]float32{q.X, q.Y, q.Z, q.W}
}

func quatFromArray(a [4]float32) math.Quat {
	return math.Quat{X: a[0], Y: a[1], Z: a[2], W: a[3]}
}
