package job

// Phase is a loop over Count items processed in chunks.
type Phase struct {
	Label string
	Count int
	Chunk int // Items per step, values below 1 mean 1

	// Begin runs once before the first item. A non-negative result replaces
	// Count, for phases whose size is only known once earlier phases ran.
	Begin func() int
	// Do processes item i.
	Do func(i int)
	// End runs once after the last item.
	End func()
}

// Sequence is a Job made of phases executed in order.
type Sequence struct {
	phases  []Phase
	current int
	next    int
	started bool
	last    Progress
}

// NewSequence creates a job from phases.
func NewSequence(phases ...Phase) *Sequence {
	return &Sequence{phases: phases}
}

// Done reports whether every phase has finished.
func (s *Sequence) Done() bool {
	return s.current >= len(s.phases)
}

// Step processes up to one chunk of the current phase. Empty phases are
// completed within the same step.
func (s *Sequence) Step() Progress {
	for !s.Done() {
		p := &s.phases[s.current]

		if !s.started {
			s.started = true
			s.next = 0
			if p.Begin != nil {
				if n := p.Begin(); n >= 0 {
					p.Count = n
				}
			}
		}

		if s.next < p.Count {
			chunk := p.Chunk
			if chunk < 1 {
				chunk = 1
			}
			end := min(s.next+chunk, p.Count)
			for i := s.next; i < end; i++ {
				if p.Do != nil {
					p.Do(i)
				}
			}
			// Fraction of items done before this chunk, matching the
			// progress of the item just started.
			s.last = Progress{Label: p.Label, Fraction: float32(end-1) / float32(p.Count)}
			s.next = end
			if s.next < p.Count {
				return s.last
			}
		}

		if p.End != nil {
			p.End()
		}
		s.current++
		s.started = false
		if s.next > 0 {
			return s.last
		}
	}
	return Progress{Label: s.last.Label, Fraction: 1}
}
