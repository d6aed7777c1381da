package softbody

import (
	"go.uber.org/zap"

	"github.com/Faultbox/softbody/internal/job"
)

// Optimize returns a job that deactivates redundant particles. The seed of a
// cluster is redundant when it is pinned and every member of its cluster is
// pinned too; its constraints are deactivated in every batch. Running it
// repeatedly only ever deactivates more.
func (a *Softbody) Optimize() (job.Job, error) {
	if !a.initialized {
		return nil, ErrNotInitialized
	}

	batch := a.constraints.ShapeMatching()
	count := 0
	if batch != nil {
		count = batch.ConstraintCount()
	}

	return job.NewSequence(job.Phase{
		Label: "softbody: optimizing constraints...",
		Count: count,
		Chunk: a.Settings.chunk(),
		Do: func(i int) {
			a.optimizeCluster(batch, i)
		},
		End: func() {
			for _, b := range a.constraints.All() {
				b.SetActiveConstraints()
			}
			a.PushDataToSolver(DataActiveStatus)
			a.optimized = true
			a.log.Info("softbody optimized",
				zap.Int("active", a.particles.ActiveCount()),
				zap.Int("particles", a.particles.Len()))
		},
	}), nil
}

func (a *Softbody) optimizeCluster(batch *ShapeMatchingBatch, c int) {
	p := &a.particles
	seed := batch.ParticleIndex(c)
	if p.InvMasses[seed] > 0 {
		return
	}
	for _, m := range batch.Members(c) {
		if p.InvMasses[m] > 0 {
			return
		}
	}

	p.Active[seed] = false
	a.deactivateConstraintsOf(seed)
}

// deactivateConstraintsOf switches off every constraint involving particle
// and refreshes the active list of each batch it touched, so the batches stay
// consistent even if the calling job never reaches its end.
func (a *Softbody) deactivateConstraintsOf(particle int) {
	for _, b := range a.constraints.All() {
		involved := b.ConstraintsInvolvingParticle(particle)
		for _, k := range involved {
			b.DeactivateConstraint(k)
		}
		if len(involved) > 0 {
			b.SetActiveConstraints()
		}
	}
}

// Unoptimize returns a job that reactivates every particle and constraint.
func (a *Softbody) Unoptimize() (job.Job, error) {
	if !a.initialized {
		return nil, ErrNotInitialized
	}

	chunk := a.Settings.chunk()
	phases := []job.Phase{{
		Label: "softbody: reactivating particles...",
		Count: a.particles.Len(),
		Chunk: chunk,
		Do: func(i int) {
			a.particles.Active[i] = true
		},
		End: func() {
			a.PushDataToSolver(DataActiveStatus)
		},
	}}

	for _, b := range a.constraints.All() {
		phases = append(phases, job.Phase{
			Label: "softbody: reactivating " + b.Type().String() + " constraints...",
			Count: b.ConstraintCount(),
			Chunk: chunk,
			Do:    b.ActivateConstraint,
			End:   b.SetActiveConstraints,
		})
	}

	phases = append(phases, job.Phase{
		Label: "softbody: reactivating constraints...",
		End: func() {
			a.optimized = false
			a.log.Info("softbody unoptimized", zap.Int("particles", a.particles.Len()))
		},
	})
	return job.NewSequence(phases...), nil
}
