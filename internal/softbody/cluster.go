package softbody

import "github.com/Faultbox/softbody/pkg/math"

// ClusterBuilder groups particles into overlapping clusters, one per
// particle. Larger radii give more rigid bodies and cost more per particle.
type ClusterBuilder struct {
	points []math.Vec3
	index  *spatialIndex
	radius float32
}

// NewClusterBuilder indexes the particle positions.
func NewClusterBuilder(points []math.Vec3, radius float32) *ClusterBuilder {
	return &ClusterBuilder{
		points: points,
		index:  newSpatialIndex(points),
		radius: radius,
	}
}

// Len returns the number of clusters the builder produces.
func (b *ClusterBuilder) Len() int {
	return len(b.points)
}

// Cluster returns seed followed by every other particle strictly closer than
// the cluster radius, in ascending index order.
func (b *ClusterBuilder) Cluster(seed int) []int {
	members := []int{seed}
	for _, j := range b.index.within(b.points[seed], b.radius) {
		if j != seed {
			members = append(members, j)
		}
	}
	return members
}

// BuildClusters returns one cluster per point.
func BuildClusters(points []math.Vec3, radius float32) [][]int {
	b := NewClusterBuilder(points, radius)
	clusters := make([][]int, b.Len())
	for i := range clusters {
		clusters[i] = b.Cluster(i)
	}
	return clusters
}

// WeightedCenter returns the mass-weighted centre of members. Pinned members
// have infinite mass, so when any are present the centre is their mean.
func WeightedCenter(members []int, position func(int) math.Vec3, invMass func(int) float32) math.Vec3 {
	var free, pinned math.Vec3
	var freeMass float32
	pinnedCount := 0
	for _, m := range members {
		w := invMass(m)
		if w <= 0 {
			pinned = pinned.Add(position(m))
			pinnedCount++
			continue
		}
		mass := 1 / w
		free = free.Add(position(m).Scale(mass))
		freeMass += mass
	}
	switch {
	case pinnedCount > 0:
		return pinned.Scale(1 / float32(pinnedCount))
	case freeMass > 0:
		return free.Scale(1 / freeMass)
	default:
		return math.Vec3{}
	}
}
