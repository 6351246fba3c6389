package vision

import (
	"math"
	"slices"
)

// RetentionWindow counts frame outcomes inside one fixed bucket of video time.
type RetentionWindow struct {
	// Start is the bucket start in seconds of video time.
	Start    float64 `json:"start"`
	Analyzed int     `json:"analyzed"`
	Errored  int     `json:"errored"`
	Dropped  int     `json:"dropped"`
}

// Retention returns the fraction of frames in the window that were analyzed.
func (w RetentionWindow) Retention() float64 {
	total := w.Analyzed + w.Errored + w.Dropped
	if total == 0 {
		return 1
	}
	return float64(w.Analyzed) / float64(total)
}

type outcome int

const (
	outcomeAnalyzed outcome = iota
	outcomeErrored
	outcomeDropped
)

// retentionTracker buckets frame outcomes by floor(ts / size).
type retentionTracker struct {
	size    float64
	windows map[int64]*RetentionWindow
}

func newRetentionTracker(size float64) retentionTracker {
	return retentionTracker{size: size, windows: make(map[int64]*RetentionWindow)}
}

func (r *retentionTracker) record(ts float64, o outcome) {
	key := int64(math.Floor(ts / r.size))
	w, ok := r.windows[key]
	if !ok {
		w = &RetentionWindow{Start: float64(key) * r.size}
		r.windows[key] = w
	}
	switch o {
	case outcomeAnalyzed:
		w.Analyzed++
	case outcomeErrored:
		w.Errored++
	case outcomeDropped:
		w.Dropped++
	}
}

// snapshot returns all windows ordered by start time.
func (r *retentionTracker) snapshot() []RetentionWindow {
	out := make([]RetentionWindow, 0, len(r.windows))
	for _, w := range r.windows {
		out = append(out, *w)
	}
	slices.SortFunc(out, func(a, b RetentionWindow) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		}
		return 0
	})
	return out
}

// below reports whether any window's retention is under threshold.
func (r *retentionTracker) below(threshold float64) bool {
	for _, w := range r.windows {
		if w.Retention() < threshold {
			return true
		}
	}
	return false
}
