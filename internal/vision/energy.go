package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/types"
)

// energyTracker measures frame-to-frame facial movement. Deltas observed in
// the first calibration seconds of video time are kept raw and their mean
// becomes the noise floor subtracted from every later delta.
type energyTracker struct {
	calibration float64

	prev []types.Point

	calib    []float64
	floor    float64
	floorSet bool

	deltas []float64
}

func newEnergyTracker(cfg Config) energyTracker {
	return energyTracker{calibration: cfg.CalibrationSeconds}
}

// update records the delta for one frame with a valid face.
func (e *energyTracker) update(ts float64, d *face.Detection) float64 {
	var delta float64
	if e.prev != nil {
		delta = landmarkDelta(e.prev, d.Landmarks)
	}
	e.prev = append(e.prev[:0], d.Landmarks[:face.NumLandmarks]...)

	if ts < e.calibration {
		e.calib = append(e.calib, delta)
	} else {
		if !e.floorSet {
			e.floor = mean(e.calib)
			e.floorSet = true
		}
		delta = math.Max(0, delta-e.floor)
	}
	e.deltas = append(e.deltas, delta)
	return delta
}

func (e *energyTracker) resetLookback() {
	e.prev = nil
}

// landmarkDelta sums mouth vertical motion, mean eye vertical motion and the
// change of the eye-midpoint-to-nose angle.
func landmarkDelta(prev, cur []types.Point) float64 {
	mouth := math.Abs(cur[face.Mouth].Y - prev[face.Mouth].Y)
	eyes := (math.Abs(cur[face.RightEye].Y-prev[face.RightEye].Y) +
		math.Abs(cur[face.LeftEye].Y-prev[face.LeftEye].Y)) / 2
	angle := math.Abs(math.Remainder(noseAngle(cur)-noseAngle(prev), 2*math.Pi))
	return mouth + eyes + angle
}

func noseAngle(l []types.Point) float64 {
	mid := l[face.RightEye].Mid(l[face.LeftEye])
	nose := l[face.Nose]
	return math.Atan2(nose.Y-mid.Y, nose.X-mid.X)
}

// energySummary is the finalized facial-energy aggregate.
type energySummary struct {
	mean      float64
	variation float64
	lowSignal bool
}

// summarize min–max normalizes the deltas and returns their mean and
// coefficient of variation. Flat or near-constant input is low signal.
func (e *energyTracker) summarize(epsilon float64) energySummary {
	if len(e.deltas) == 0 {
		return energySummary{lowSignal: true}
	}
	lo, hi := e.deltas[0], e.deltas[0]
	for _, d := range e.deltas {
		lo = math.Min(lo, d)
		hi = math.Max(hi, d)
	}
	if variance(e.deltas) < epsilon || hi == lo {
		return energySummary{lowSignal: true}
	}
	norm := make([]float64, len(e.deltas))
	for i, d := range e.deltas {
		norm[i] = (d - lo) / (hi - lo)
	}
	m := mean(norm)
	var cv float64
	if m > 0 {
		cv = math.Sqrt(variance(norm)) / m
	}
	return energySummary{mean: m, variation: cv}
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// variance returns the population variance of v.
func variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	m := mean(v)
	var s float64
	for _, x := range v {
		s += (x - m) * (x - m)
	}
	return s / float64(len(v))
}
