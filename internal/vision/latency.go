package vision

import (
	"slices"
	"time"
)

// latencyWindow is the number of recent pipeline latencies kept for status.
const latencyWindow = 10

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{data: make([]time.Duration, size)}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= len(lb.data) {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) samples() []time.Duration {
	if lb.full {
		return slices.Clone(lb.data)
	}
	return slices.Clone(lb.data[:lb.pos])
}

// stats returns the mean and nearest-rank p95 of the retained samples.
func (lb *latencyBuffer) stats() (mean, p95 time.Duration) {
	s := lb.samples()
	if len(s) == 0 {
		return 0, 0
	}
	var total time.Duration
	for _, d := range s {
		total += d
	}
	slices.Sort(s)
	idx := (95*len(s)+99)/100 - 1
	return total / time.Duration(len(s)), s[idx]
}
