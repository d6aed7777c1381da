package softbody

import (
	"github.com/chewxy/math32"
	"gonum.org/v1/gonum/mat"

	"github.com/Faultbox/softbody/pkg/math"
)

// Ellipsoid is the local shape fitted around a particle.
type Ellipsoid struct {
	Centroid    math.Vec3
	Orientation math.Quat
	Radii       math.Vec3 // Semi-axes along the local X, Y, Z axes
}

// isotropic is the fallback shape used when a neighbourhood carries no
// directional information.
func isotropic(center math.Vec3) Ellipsoid {
	return Ellipsoid{
		Centroid:    center,
		Orientation: math.QuatIdentity(),
		Radii:       math.Vec3One(),
	}
}

// PointCloudAnisotropy fits an ellipsoid to a point cloud.
//
// With no points the result is centred on sample with identity orientation
// and unit radii. A cloud with no spread (a single point, or coincident
// points) gets the same fallback centred on its mean. Otherwise the local X
// axis follows the direction of largest spread and Z the smallest, with Z
// turned to agree with normal. The largest radius equals radius and no
// radius is smaller than radius/maxAnisotropy.
func PointCloudAnisotropy(points []math.Vec3, normal math.Vec3, maxAnisotropy, radius float32, sample math.Vec3) Ellipsoid {
	if len(points) == 0 {
		return isotropic(sample)
	}

	var sum [3]float64
	for _, p := range points {
		sum[0] += float64(p.X)
		sum[1] += float64(p.Y)
		sum[2] += float64(p.Z)
	}
	n := float64(len(points))
	cx, cy, cz := sum[0]/n, sum[1]/n, sum[2]/n
	centroid := math.Vec3{X: float32(cx), Y: float32(cy), Z: float32(cz)}

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	for _, p := range points {
		dx := float64(p.X) - cx
		dy := float64(p.Y) - cy
		dz := float64(p.Z) - cz
		cov[0] += dx * dx
		cov[1] += dx * dy
		cov[2] += dx * dz
		cov[3] += dy * dy
		cov[4] += dy * dz
		cov[5] += dz * dz
	}
	for i := range cov {
		cov[i] /= n
	}

	covMat := mat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})

	var eigen mat.EigenSym
	if !eigen.Factorize(covMat, true) {
		return isotropic(centroid)
	}

	// Eigenvalues are in ascending order.
	vals := eigen.Values(nil)
	var vecs mat.Dense
	eigen.VectorsTo(&vecs)

	largest := math32.Sqrt(float32(max(vals[2], 0)))
	if largest < 1e-6 {
		return isotropic(centroid)
	}

	axis := func(col int) math.Vec3 {
		return math.Vec3{
			X: float32(vecs.At(0, col)),
			Y: float32(vecs.At(1, col)),
			Z: float32(vecs.At(2, col)),
		}.Normalize()
	}
	x := axis(2)
	y := axis(1)
	z := x.Cross(y).Normalize()
	if z.Dot(normal) < 0 {
		z = z.Scale(-1)
		y = y.Scale(-1)
	}

	if maxAnisotropy < 1 {
		maxAnisotropy = 1
	}
	minRatio := 1 / maxAnisotropy
	ratio := func(v float64) float32 {
		return max(math32.Sqrt(float32(max(v, 0)))/largest, minRatio)
	}

	return Ellipsoid{
		Centroid:    centroid,
		Orientation: math.QuatFromBasis(x, y, z),
		Radii:       math.Vec3{X: radius, Y: ratio(vals[1]) * radius, Z: ratio(vals[0]) * radius},
	}
}

// AnisotropyEstimator fits ellipsoids to the mesh vertices around sample
// points.
type AnisotropyEstimator struct {
	mesh          *Mesh
	vertices      []math.Vec3 // Scaled into actor space
	index         *spatialIndex
	neighborhood  float32
	maxAnisotropy float32
	radius        float32
}

// NewAnisotropyEstimator indexes the scaled mesh vertices. mesh supplies the
// normals; scaled must be parallel to mesh.Vertices.
func NewAnisotropyEstimator(mesh *Mesh, scaled []math.Vec3, neighborhood, maxAnisotropy, radius float32) *AnisotropyEstimator {
	return &AnisotropyEstimator{
		mesh:          mesh,
		vertices:      scaled,
		index:         newSpatialIndex(scaled),
		neighborhood:  neighborhood,
		maxAnisotropy: maxAnisotropy,
		radius:        radius,
	}
}

// Estimate gathers every vertex strictly within the neighbourhood of sample,
// averages their normals and fits an ellipsoid.
func (e *AnisotropyEstimator) Estimate(sample math.Vec3) Ellipsoid {
	neighbors := e.index.within(sample, e.neighborhood)

	points := make([]math.Vec3, len(neighbors))
	var avgNormal math.Vec3
	for i, idx := range neighbors {
		points[i] = e.vertices[idx]
		avgNormal = avgNormal.Add(e.mesh.normal(idx))
	}
	if len(neighbors) > 0 {
		avgNormal = avgNormal.Scale(1 / float32(len(neighbors)))
	}

	return PointCloudAnisotropy(points, avgNormal, e.maxAnisotropy, e.radius, sample)
}
