// Package skin binds a render mesh to a softbody's clusters and keeps the
// generated bones in sync with the simulation.
package skin

import (
	"errors"

	"github.com/Faultbox/softbody/pkg/math"
)

// Skinning errors.
var (
	ErrNoSource     = errors.New("no source softbody")
	ErrNoTargetMesh = errors.New("no target mesh")
)

// MaxInfluences is the number of bones that can influence a vertex.
const MaxInfluences = 4

// BoneWeight holds up to four influences sorted by descending weight.
// Unused slots have index -1 and weight 0.
type BoneWeight struct {
	Index  [MaxInfluences]int
	Weight [MaxInfluences]float32
}

// EmptyBoneWeight returns a weight with no influences.
func EmptyBoneWeight() BoneWeight {
	return BoneWeight{Index: [MaxInfluences]int{-1, -1, -1, -1}}
}

// Influences returns the number of used slots.
func (w BoneWeight) Influences() int {
	n := 0
	for _, i := range w.Index {
		if i >= 0 {
			n++
		}
	}
	return n
}

// Sum returns the total weight.
func (w BoneWeight) Sum() float32 {
	return w.Weight[0] + w.Weight[1] + w.Weight[2] + w.Weight[3]
}

// insert keeps the four largest weights. A weight only displaces a slot
// holding a strictly smaller one, so ties keep the first bone seen.
func (w *BoneWeight) insert(bone int, weight float32) {
	for slot := 0; slot < MaxInfluences; slot++ {
		if w.Index[slot] < 0 || weight > w.Weight[slot] {
			copy(w.Index[slot+1:], w.Index[slot:MaxInfluences-1])
			copy(w.Weight[slot+1:], w.Weight[slot:MaxInfluences-1])
			w.Index[slot] = bone
			w.Weight[slot] = weight
			return
		}
	}
}

func (w *BoneWeight) normalize() {
	sum := w.Sum()
	if sum <= 0 {
		return
	}
	for i := range w.Weight {
		w.Weight[i] /= sum
	}
}

// offset shifts every used bone index by n.
func (w BoneWeight) offset(n int) BoneWeight {
	for i, idx := range w.Index {
		if idx >= 0 {
			w.Index[i] = idx + n
		}
	}
	return w
}

// dropBones renumbers the influences of bones past the n bones removed at
// from.
func (w BoneWeight) dropBones(from, n int) BoneWeight {
	for i, idx := range w.Index {
		if idx >= from+n {
			w.Index[i] = idx - n
		}
	}
	return w
}

// Bounds is an axis-aligned box.
type Bounds struct {
	Min, Max math.Vec3
}

// Center returns the box centre.
func (b Bounds) Center() math.Vec3 {
	return b.Min.Lerp(b.Max, 0.5)
}

// Size returns the box extents.
func (b Bounds) Size() math.Vec3 {
	return b.Max.Sub(b.Min)
}

// Mesh is a skinnable render mesh in its own local space.
type Mesh struct {
	Vertices    []math.Vec3
	Normals     []math.Vec3
	BoneWeights []BoneWeight // Parallel to Vertices, or empty
	BindPoses   []math.Mat4  // One per bone
	Bounds      Bounds
}

// Clone returns a deep copy.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices:    append([]math.Vec3(nil), m.Vertices...),
		Normals:     append([]math.Vec3(nil), m.Normals...),
		BoneWeights: append([]BoneWeight(nil), m.BoneWeights...),
		BindPoses:   append([]math.Mat4(nil), m.BindPoses...),
		Bounds:      m.Bounds,
	}
}

// RecalculateBounds fits Bounds to the vertices.
func (m *Mesh) RecalculateBounds() {
	if len(m.Vertices) == 0 {
		m.Bounds = Bounds{}
		return
	}
	b := Bounds{Min: m.Vertices[0], Max: m.Vertices[0]}
	for _, v := range m.Vertices[1:] {
		b.Min = math.Vec3{X: min(b.Min.X, v.X), Y: min(b.Min.Y, v.Y), Z: min(b.Min.Z, v.Z)}
		b.Max = math.Vec3{X: max(b.Max.X, v.X), Y: max(b.Max.Y, v.Y), Z: max(b.Max.Z, v.Z)}
	}
	m.Bounds = b
}

// Bone is a transform driving part of a mesh.
type Bone struct {
	Name     string
	Position math.Vec3
	Rotation math.Quat
}

// LocalToWorld returns the bone matrix.
func (b *Bone) LocalToWorld() math.Mat4 {
	return math.TRS(b.Position, b.Rotation, math.Vec3One())
}

// Target is a skinned renderer: a mesh placed in the world and driven by
// bones. Bones[i] pairs with Mesh.BindPoses[i].
type Target struct {
	Mesh      *Mesh
	Transform math.Mat4 // Local to world
	Bones     []*Bone

	// Skinners bound to the target in bind order, and the mesh state from
	// before the first of them bound.
	skinners        []*Skinner
	savedBounds     Bounds
	savedPoses      []math.Mat4
	savedWeights    []BoneWeight
	weightsReplaced bool
}

// NewTarget creates a target with an identity transform.
func NewTarget(mesh *Mesh) *Target {
	return &Target{Mesh: mesh, Transform: math.Identity()}
}
