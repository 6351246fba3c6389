package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/provider/pose"
)

// Movement classifications derived from the mean stability score.
const (
	MovementStationary = "stationary"
	MovementModerate   = "moderate"
	MovementHigh       = "high"
)

// bodySample is one body-center observation normalized to the unit square.
type bodySample struct {
	t, x, y float64
}

// stabilityTracker records the hip midpoint of every analyzed frame that has
// both hips.
type stabilityTracker struct {
	minConf  float64
	deadZone float64

	samples []bodySample
}

func newStabilityTracker(cfg Config) stabilityTracker {
	return stabilityTracker{minConf: cfg.PoseConfidence, deadZone: cfg.DeadZone * math.Sqrt2}
}

// update appends a body-center sample and reports whether one was taken.
func (s *stabilityTracker) update(ts float64, d *pose.Detection, width, height int) bool {
	if d == nil || width <= 0 || height <= 0 {
		return false
	}
	lh, ok1 := d.Find(pose.LeftHip)
	rh, ok2 := d.Find(pose.RightHip)
	if !ok1 || !ok2 || lh.Confidence < s.minConf || rh.Confidence < s.minConf {
		return false
	}

	x := (lh.X + rh.X) / 2 / float64(width)
	y := (lh.Y + rh.Y) / 2 / float64(height)
	if n := len(s.samples); n > 0 && s.deadZone > 0 {
		prev := s.samples[n-1]
		if math.Hypot(x-prev.x, y-prev.y) < s.deadZone {
			x, y = prev.x, prev.y
		}
	}
	s.samples = append(s.samples, bodySample{t: ts, x: x, y: y})
	return true
}

// stabilityWindow is one qualifying window of body-center samples.
type stabilityWindow struct {
	start, end float64
	score      float64
	cx, cy     float64
}

// stabilityWindows partitions samples into consecutive non-overlapping
// windows of length size starting at the first sample, and scores every
// window holding at least minSamples samples.
func stabilityWindows(samples []bodySample, size float64, minSamples int) []stabilityWindow {
	if len(samples) == 0 || size <= 0 {
		return nil
	}
	origin := samples[0].t
	var out []stabilityWindow
	for i := 0; i < len(samples); {
		k := math.Floor((samples[i].t - origin) / size)
		j := i
		for j < len(samples) && math.Floor((samples[j].t-origin)/size) == k {
			j++
		}
		if j-i >= minSamples {
			w := scoreWindow(samples[i:j])
			w.start = origin + k*size
			w.end = w.start + size
			out = append(out, w)
		}
		i = j
	}
	return out
}

func scoreWindow(s []bodySample) stabilityWindow {
	first := s[0]
	var maxDisp, sx, sy float64
	for _, p := range s {
		maxDisp = math.Max(maxDisp, math.Hypot(p.x-first.x, p.y-first.y))
		sx += p.x
		sy += p.y
	}
	n := float64(len(s))
	return stabilityWindow{
		score: clamp01(1 - math.Min(1, maxDisp/math.Sqrt2)),
		cx:    sx / n,
		cy:    sy / n,
	}
}

// stageCrossings counts consecutive window pairs whose horizontal centroid
// shift exceeds fraction. A pair is skipped when a resolution change falls
// anywhere between the start of the first and the end of the second window.
func stageCrossings(windows []stabilityWindow, fraction float64, resolutionChanges []float64) int {
	n := 0
	for i := 1; i < len(windows); i++ {
		a, b := windows[i-1], windows[i]
		if math.Abs(b.cx-a.cx) <= fraction {
			continue
		}
		if spansChange(a.start, b.end, resolutionChanges) {
			continue
		}
		n++
	}
	return n
}

func spansChange(from, to float64, changes []float64) bool {
	for _, t := range changes {
		if t >= from && t <= to {
			return true
		}
	}
	return false
}

func movementClass(score float64) string {
	switch {
	case score >= 0.85:
		return MovementStationary
	case score >= 0.5:
		return MovementModerate
	default:
		return MovementHigh
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
