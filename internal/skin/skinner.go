package skin

import (
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"go.uber.org/zap"

	"github.com/Faultbox/softbody/internal/job"
	"github.com/Faultbox/softbody/internal/logger"
	"github.com/Faultbox/softbody/internal/softbody"
	"github.com/Faultbox/softbody/pkg/formats"
	"github.com/Faultbox/softbody/pkg/math"
)

// Default skinning parameters.
const (
	DefaultFalloff     float32 = 1
	DefaultMaxDistance float32 = 0.5

	// zeroDistanceInfluence is the influence of a cluster centred exactly on
	// a vertex, before falloff.
	zeroDistanceInfluence float32 = 100
)

// Skinner binds a target mesh to the active clusters of a softbody. One
// bone is generated per active cluster and follows the cluster's seed
// particle after every solver step.
type Skinner struct {
	Target      *Target
	Falloff     float32
	MaxDistance float32

	source *softbody.Softbody
	solver softbody.Solver

	// Bind results, in active cluster order.
	bindPoses []math.Mat4
	weights   []BoneWeight // Bone indices relative to the first generated bone
	centers   []math.Vec3
	rotations []math.Quat
	clusters  []int

	bound     bool
	target    *Target            // Target the bones were created on
	prior     map[int]BoneWeight // Weights of the overwritten vertices before binding
	firstBone int                // Index of the first generated bone in Target.Bones
	boneBase  int                // Index of the first generated bind pose

	log *zap.Logger
}

var (
	_ softbody.ActorObserver = (*Skinner)(nil)
	_ softbody.StepObserver  = (*Skinner)(nil)
)

// NewSkinner creates a skinner for target with default parameters. Its
// logger is taken at creation, after logger.Init if output is wanted.
func NewSkinner(target *Target) *Skinner {
	return &Skinner{
		Target:      target,
		Falloff:     DefaultFalloff,
		MaxDistance: DefaultMaxDistance,
		log:         logger.Named("skin"),
	}
}

// Source returns the softbody the skinner follows.
func (s *Skinner) Source() *softbody.Softbody { return s.source }

// Bound reports whether bones are currently generated.
func (s *Skinner) Bound() bool { return s.bound }

// BindPoses returns the generated bind poses, one per active cluster.
func (s *Skinner) BindPoses() []math.Mat4 { return s.bindPoses }

// Weights returns the computed weights per target vertex, with bone indices
// relative to the first generated bone.
func (s *Skinner) Weights() []BoneWeight { return s.weights }

// Bones returns the generated bones.
func (s *Skinner) Bones() []*Bone {
	if !s.bound || s.firstBone+len(s.bindPoses) > len(s.target.Bones) {
		return nil
	}
	return s.target.Bones[s.firstBone : s.firstBone+len(s.bindPoses)]
}

// SetSource switches the followed softbody. Bones bound to the previous
// source are destroyed.
func (s *Skinner) SetSource(a *softbody.Softbody) {
	if s.source == a {
		return
	}
	if s.source != nil {
		s.source.Unsubscribe(s)
		s.detachSolver()
		s.DestroyBones()
	}
	s.source = a
	if a != nil {
		a.Subscribe(s)
		if a.InSolver() {
			s.attachSolver(a.Solver())
		}
	}
}

func (s *Skinner) attachSolver(solver softbody.Solver) {
	s.detachSolver()
	s.solver = solver
	solver.Subscribe(s)
}

func (s *Skinner) detachSolver() {
	if s.solver != nil {
		s.solver.Unsubscribe(s)
		s.solver = nil
	}
}

// BindSkin returns a job computing bind poses and weights. Previously
// generated bones are destroyed first, so rebinding never accumulates
// bones. Bones are created when the job completes.
func (s *Skinner) BindSkin() (job.Job, error) {
	if s.source == nil {
		return nil, ErrNoSource
	}
	if s.Target == nil || s.Target.Mesh == nil {
		return nil, ErrNoTargetMesh
	}
	if !s.source.Initialized() {
		return nil, softbody.ErrNotInitialized
	}

	s.DestroyBones()

	source := s.source
	mesh := s.Target.Mesh
	targetWorld := s.Target.Transform
	source2w := source.SourceToWorld()
	sourceRotation := source2w.Rotation()
	particles := source.Particles()
	batch := source.Constraints().ShapeMatching()

	s.clusters = nil
	if batch != nil {
		s.clusters = append(s.clusters, batch.ActiveConstraints()...)
	}
	s.bindPoses = make([]math.Mat4, len(s.clusters))
	s.centers = make([]math.Vec3, len(s.clusters))
	s.rotations = make([]math.Quat, len(s.clusters))
	s.weights = make([]BoneWeight, len(mesh.Vertices))

	return job.NewSequence(
		job.Phase{
			Label: "skin: generating bind poses...",
			Count: len(s.clusters),
			Do: func(k int) {
				seed := batch.ParticleIndex(s.clusters[k])
				center := source2w.TransformVec3(particles.RestPositions[seed].XYZ())
				rotation := sourceRotation.Mul(particles.RestOrientations[seed]).Normalize()
				s.centers[k] = center
				s.rotations[k] = rotation
				s.bindPoses[k] = math.TRS(center, rotation, math.Vec3One()).Inverse().Mul(targetWorld)
			},
		},
		job.Phase{
			Label: "skin: calculating bone weights...",
			Count: len(mesh.Vertices),
			Chunk: 100,
			Do: func(i int) {
				v := targetWorld.TransformVec3(mesh.Vertices[i])
				s.weights[i] = CalculateBoneWeight(v, s.centers, s.Falloff, s.MaxDistance)
			},
			End: func() {
				s.CreateBones()
				s.log.Info("skin bound",
					zap.Stringer("actor", source.ID),
					zap.Int("bones", len(s.bindPoses)),
					zap.Int("vertices", len(mesh.Vertices)))
			},
		},
	), nil
}

// CalculateBoneWeight weighs the clusters centred at centers for vertex v,
// both in world space. Clusters farther than maxDistance are ignored, the
// four most influential are kept and their weights normalised. A vertex no
// cluster reaches gets an empty weight.
func CalculateBoneWeight(v math.Vec3, centers []math.Vec3, falloff, maxDistance float32) BoneWeight {
	w := EmptyBoneWeight()
	for k, c := range centers {
		d := v.Distance(c)
		if d > maxDistance {
			continue
		}
		influence := zeroDistanceInfluence
		if d > 0 {
			influence = maxDistance / d
		}
		w.insert(k, math32.Pow(influence, falloff))
	}
	w.normalize()
	return w
}

// CreateBones appends the bind results to the target: weights shifted past
// the existing bind poses, the bind poses themselves and one bone per
// active cluster at its rest transform. Vertices no cluster reaches keep
// their current weights. Several skinners may share a target.
func (s *Skinner) CreateBones() {
	if s.bound || s.Target == nil || s.Target.Mesh == nil {
		return
	}
	t := s.Target
	mesh := t.Mesh
	if len(t.skinners) == 0 {
		t.savedBounds, t.savedPoses = mesh.Bounds, mesh.BindPoses
	}
	s.boneBase = len(mesh.BindPoses)
	s.firstBone = len(t.Bones)
	if s.firstBone != s.boneBase {
		s.log.Warn("target bone count differs from bind pose count",
			zap.Int("bones", s.firstBone), zap.Int("bind_poses", s.boneBase))
	}

	if len(mesh.BoneWeights) != len(mesh.Vertices) {
		if !t.weightsReplaced {
			t.savedWeights = mesh.BoneWeights
			t.weightsReplaced = true
		}
		mesh.BoneWeights = make([]BoneWeight, len(mesh.Vertices))
		for i := range mesh.BoneWeights {
			mesh.BoneWeights[i] = EmptyBoneWeight()
		}
	}
	s.prior = make(map[int]BoneWeight)
	for i, w := range s.weights {
		if i < len(mesh.BoneWeights) && w.Influences() > 0 {
			s.prior[i] = mesh.BoneWeights[i]
			mesh.BoneWeights[i] = w.offset(s.boneBase)
		}
	}

	mesh.BindPoses = append(mesh.BindPoses, s.bindPoses...)

	for k, c := range s.clusters {
		t.Bones = append(t.Bones, &Bone{
			Name:     fmt.Sprintf("cluster_%d", c),
			Position: s.centers[k],
			Rotation: s.rotations[k],
		})
	}

	mesh.RecalculateBounds()
	t.skinners = append(t.skinners, s)
	s.target = t
	s.bound = true
}

// DestroyBones removes the skinner's bones and bind poses from the target
// and gives the vertices it weighted back their previous weights. Data of
// other skinners bound to the same target is kept and renumbered. Once no
// skinner is bound the mesh is as it was before the first bind.
func (s *Skinner) DestroyBones() {
	if !s.bound {
		return
	}
	t, prior := s.target, s.prior
	s.bound, s.target, s.prior = false, nil, nil

	at := slices.Index(t.skinners, s)
	if at < 0 {
		return
	}
	mesh := t.Mesh
	n := len(s.bindPoses)

	// A vertex overwritten again by a later skinner holds that skinner's
	// weight, whose saved prior is ours.
	for i, w := range prior {
		if later := overwriting(t.skinners[at+1:], i); later != nil {
			later.prior[i] = w
		} else if mesh != nil && i < len(mesh.BoneWeights) {
			mesh.BoneWeights[i] = w
		}
	}
	t.skinners = slices.Delete(t.skinners, at, at+1)

	if end := min(s.firstBone+n, len(t.Bones)); s.firstBone < end {
		t.Bones = slices.Delete(t.Bones, s.firstBone, end)
	}
	for _, o := range t.skinners[at:] {
		o.firstBone -= n
		o.boneBase -= n
		for i, w := range o.prior {
			o.prior[i] = w.dropBones(s.boneBase, n)
		}
	}
	if mesh == nil {
		return
	}
	if end := min(s.boneBase+n, len(mesh.BindPoses)); s.boneBase < end {
		mesh.BindPoses = slices.Delete(mesh.BindPoses, s.boneBase, end)
	}
	for i, w := range mesh.BoneWeights {
		mesh.BoneWeights[i] = w.dropBones(s.boneBase, n)
	}

	if len(t.skinners) == 0 {
		if t.weightsReplaced {
			mesh.BoneWeights = t.savedWeights
			t.savedWeights, t.weightsReplaced = nil, false
		}
		if len(mesh.BindPoses) == len(t.savedPoses) {
			mesh.BindPoses = t.savedPoses
		}
		mesh.Bounds, t.savedPoses = t.savedBounds, nil
	}
}

// overwriting returns the first of skinners that replaced the weight of
// vertex.
func overwriting(skinners []*Skinner, vertex int) *Skinner {
	for _, o := range skinners {
		if _, ok := o.prior[vertex]; ok {
			return o
		}
	}
	return nil
}

// UpdateBones moves each generated bone to the current transform of its
// cluster's seed particle.
func (s *Skinner) UpdateBones() {
	if !s.bound || s.source == nil || !s.source.InSolver() {
		return
	}
	batch := s.source.Constraints().ShapeMatching()
	if batch == nil {
		return
	}

	indices := s.source.ParticleIndices()
	positions := s.source.Solver().RenderablePositions()
	orientations := s.source.Solver().RenderableOrientations()
	bones := s.Bones()

	// Bones follow the clusters that were active at bind time.
	for k, c := range s.clusters {
		if k >= len(bones) || c >= batch.ConstraintCount() {
			break
		}
		g := indices[batch.ParticleIndex(c)]
		bones[k].Position = positions[g]
		bones[k].Rotation = orientations[g]
	}
}

// OnStepEnd updates the bones. It runs inside the solver step.
func (s *Skinner) OnStepEnd(dt float32) {
	s.UpdateBones()
}

// OnInitialized rebinds after the source is regenerated.
func (s *Skinner) OnInitialized(a *softbody.Softbody) {
	if s.Target == nil || s.Target.Mesh == nil {
		return
	}
	j, err := s.BindSkin()
	if err != nil {
		s.log.Warn("rebind failed", zap.Error(err))
		return
	}
	job.Drain(j)
}

// OnAddedToSolver starts following the solver's steps.
func (s *Skinner) OnAddedToSolver(a *softbody.Softbody) {
	s.attachSolver(a.Solver())
}

// OnRemovedFromSolver stops following the solver's steps.
func (s *Skinner) OnRemovedFromSolver(a *softbody.Softbody) {
	s.detachSolver()
}

// Deform returns the target vertices in target space, blended by the
// current bone transforms. Vertices without influences are unchanged.
func (s *Skinner) Deform() []math.Vec3 {
	if s.Target == nil || s.Target.Mesh == nil {
		return nil
	}
	mesh := s.Target.Mesh
	worldToTarget := s.Target.Transform.Inverse()

	skinning := make([]math.Mat4, min(len(mesh.BindPoses), len(s.Target.Bones)))
	for b := range skinning {
		skinning[b] = worldToTarget.Mul(s.Target.Bones[b].LocalToWorld()).Mul(mesh.BindPoses[b])
	}

	out := make([]math.Vec3, len(mesh.Vertices))
	for i, v := range mesh.Vertices {
		out[i] = v
		if i >= len(mesh.BoneWeights) {
			continue
		}
		w := mesh.BoneWeights[i]
		var blended math.Vec3
		var total float32
		for slot, b := range w.Index {
			if b < 0 || b >= len(skinning) {
				continue
			}
			blended = blended.Add(skinning[b].TransformVec3(v).Scale(w.Weight[slot]))
			total += w.Weight[slot]
		}
		if total > 0 {
			out[i] = blended.Scale(1 / total)
		}
	}
	return out
}

// FillBlueprint stores the bind poses and weights in bp.
func (s *Skinner) FillBlueprint(bp *formats.Blueprint) {
	bp.BindPoses = make([][16]float32, len(s.bindPoses))
	for i, m := range s.bindPoses {
		bp.BindPoses[i] = m
	}
	bp.Weights = make([]formats.BlueprintWeight, len(s.weights))
	for i, w := range s.weights {
		for k := 0; k < MaxInfluences; k++ {
			bp.Weights[i].Index[k] = int32(w.Index[k])
			bp.Weights[i].Weight[k] = w.Weight[k]
		}
	}
}
