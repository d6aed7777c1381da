package softbody

import (
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/Faultbox/softbody/pkg/math"
)

// indexedPoint is a kd-tree entry remembering its source index.
type indexedPoint struct {
	r3.Vec
	index int
}

func newIndexedPoint(v math.Vec3, index int) indexedPoint {
	return indexedPoint{Vec: r3.Vec{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}, index: index}
}

func (p indexedPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(indexedPoint)
	switch d {
	case 0:
		return p.X - q.X
	case 1:
		return p.Y - q.Y
	case 2:
		return p.Z - q.Z
	}
	panic("unreachable")
}

func (p indexedPoint) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (p indexedPoint) Distance(c kdtree.Comparable) float64 {
	return r3.Norm2(r3.Sub(p.Vec, c.(indexedPoint).Vec))
}

// pointSet implements kdtree.Interface.
type pointSet []indexedPoint

func (s pointSet) Index(i int) kdtree.Comparable         { return s[i] }
func (s pointSet) Len() int                              { return len(s) }
func (s pointSet) Slice(start, end int) kdtree.Interface { return s[start:end] }
func (s pointSet) Pivot(d kdtree.Dim) int                { return pointPlane{Dim: d, pointSet: s}.Pivot() }

// pointPlane sorts a pointSet along one dimension.
type pointPlane struct {
	kdtree.Dim
	pointSet
}

func (p pointPlane) Less(i, j int) bool {
	return p.pointSet[i].Compare(p.pointSet[j], p.Dim) < 0
}

func (p pointPlane) Swap(i, j int) {
	p.pointSet[i], p.pointSet[j] = p.pointSet[j], p.pointSet[i]
}

func (p pointPlane) Slice(start, end int) kdtree.SortSlicer {
	p.pointSet = p.pointSet[start:end]
	return p
}

func (p pointPlane) Pivot() int {
	return kdtree.Partition(p, kdtree.MedianOfMedians(p))
}

// spatialIndex answers range and nearest-neighbour queries over points.
// Query results are exact: the tree only narrows candidates, and every
// candidate is re-checked with float32 distances.
type spatialIndex struct {
	tree   *kdtree.Tree
	points []math.Vec3
}

// newSpatialIndex builds a balanced tree over points.
func newSpatialIndex(points []math.Vec3) *spatialIndex {
	set := make(pointSet, len(points))
	for i, p := range points {
		set[i] = newIndexedPoint(p, i)
	}
	return &spatialIndex{
		tree:   kdtree.New(set, false),
		points: append([]math.Vec3(nil), points...),
	}
}

// insert adds a point and returns its index.
func (s *spatialIndex) insert(p math.Vec3) int {
	idx := len(s.points)
	s.points = append(s.points, p)
	s.tree.Insert(newIndexedPoint(p, idx), false)
	return idx
}

// len returns the number of indexed points.
func (s *spatialIndex) len() int {
	return len(s.points)
}

// nearest returns the index of the closest point and its distance, or -1 if
// the index is empty.
func (s *spatialIndex) nearest(q math.Vec3) (int, float32) {
	if len(s.points) == 0 {
		return -1, 0
	}
	c, _ := s.tree.Nearest(newIndexedPoint(q, -1))
	if c == nil {
		return -1, 0
	}
	idx := c.(indexedPoint).index
	return idx, s.points[idx].Distance(q)
}

// within returns, in ascending order, the indices of all points strictly
// closer than radius to q.
func (s *spatialIndex) within(q math.Vec3, radius float32) []int {
	if len(s.points) == 0 || radius <= 0 {
		return nil
	}
	// Slightly widen the search so float64 rounding never drops a candidate.
	r := float64(radius) * (1 + 1e-5)
	keep := kdtree.NewDistKeeper(r * r)
	s.tree.NearestSet(keep, newIndexedPoint(q, -1))

	var result []int
	for _, cd := range keep.Heap {
		if cd.Comparable == nil {
			continue // sentinel
		}
		idx := cd.Comparable.(indexedPoint).index
		if s.points[idx].Distance(q) < radius {
			result = append(result, idx)
		}
	}
	sort.Ints(result)
	return result
}
