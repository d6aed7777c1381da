package softbody

import "github.com/Faultbox/softbody/pkg/math"

// MaxParticleOverlap is the largest overlap fraction accepted by the sampler.
const MaxParticleOverlap = 0.75

// Sampler accepts mesh vertices as particles as long as they keep a minimum
// separation from every particle accepted before them. Results depend only on
// the order vertices are offered in.
type Sampler struct {
	minDistance float32
	accepted    *spatialIndex
}

// NewSampler creates a sampler for particles of the given radius. overlap is
// the fraction of the diameter two particles may share, clamped to
// [0, MaxParticleOverlap].
func NewSampler(radius, overlap float32) *Sampler {
	overlap = min(max(overlap, 0), MaxParticleOverlap)
	return &Sampler{
		minDistance: radius * 2 * (1 - overlap),
		accepted:    newSpatialIndex(nil),
	}
}

// MinDistance returns the required separation 2r(1-o).
func (s *Sampler) MinDistance() float32 {
	return s.minDistance
}

// Offer tests a vertex against the accepted set and accepts it if it is at
// least MinDistance away from all of them.
func (s *Sampler) Offer(v math.Vec3) bool {
	if _, d := s.accepted.nearest(v); s.accepted.len() > 0 && d < s.minDistance {
		return false
	}
	s.accepted.insert(v)
	return true
}

// Particles returns the accepted positions in acceptance order.
func (s *Sampler) Particles() []math.Vec3 {
	return s.accepted.points
}

// SampleMesh runs the sampler over vertices already scaled into actor space.
func SampleMesh(vertices []math.Vec3, radius, overlap float32) []math.Vec3 {
	s := NewSampler(radius, overlap)
	for _, v := range vertices {
		s.Offer(v)
	}
	return s.Particles()
}
