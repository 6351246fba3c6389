package vision

import "math"

// Sampler decides which frames are analyzed so that accepted timestamps are
// at least 1/rate seconds apart. The zero value is not usable; use
// [NewSampler].
//
// A Sampler is owned by the drain goroutine and is not safe for concurrent use.
type Sampler struct {
	interval float64
	last     float64
}

// NewSampler returns a Sampler accepting at most rate frames per second.
func NewSampler(rate float64) *Sampler {
	s := &Sampler{}
	s.SetRate(rate)
	s.Reset()
	return s
}

// ShouldSample reports whether a frame at ts should be analyzed and, if so,
// makes ts the new anchor.
func (s *Sampler) ShouldSample(ts float64) bool {
	if ts-s.last < s.interval {
		return false
	}
	s.last = ts
	return true
}

// Reset forgets the anchor so the next call accepts.
func (s *Sampler) Reset() {
	s.last = math.Inf(-1)
}

// SetRate changes the interval for later calls without moving the anchor. A
// non-positive rate accepts every frame.
func (s *Sampler) SetRate(rate float64) {
	if rate <= 0 {
		s.interval = 0
		return
	}
	s.interval = 1 / rate
}

// Rate returns the configured rate in frames per second, or 0 if unbounded.
func (s *Sampler) Rate() float64 {
	if s.interval == 0 {
		return 0
	}
	return 1 / s.interval
}
