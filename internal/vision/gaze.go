package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/types"
)

// GazeClass is the direction a speaker faces in one analyzed frame.
type GazeClass int

const (
	GazeOther GazeClass = iota
	GazeAudience
	GazeNotes
)

// String returns the report name of the class.
func (g GazeClass) String() string {
	switch g {
	case GazeAudience:
		return "audience"
	case GazeNotes:
		return "notes"
	default:
		return "other"
	}
}

// headPose estimates yaw and pitch in degrees from a six-point landmark layout.
// Yaw is the nose offset from the eye midpoint against half the eye distance.
// Pitch compares the nose position between eye line and mouth with its neutral
// midpoint; looking down moves the nose towards the mouth line and yields a
// negative pitch.
func headPose(d *face.Detection) (yaw, pitch float64, ok bool) {
	re, le := d.At(face.RightEye), d.At(face.LeftEye)
	nose, mouth := d.At(face.Nose), d.At(face.Mouth)

	eyeMid := re.Mid(le)
	eyeDist := re.Dist(le)
	faceHeight := mouth.Y - eyeMid.Y
	if eyeDist == 0 || faceHeight == 0 {
		return 0, 0, false
	}
	yaw = degrees(math.Atan2(nose.X-eyeMid.X, eyeDist/2))
	r := (nose.Y - eyeMid.Y) / faceHeight
	pitch = degrees(math.Atan2(0.5-r, 0.5))
	return yaw, pitch, true
}

// gazeTracker smooths head pose across frames and classifies each frame.
type gazeTracker struct {
	alpha      float64
	yawLimit   float64
	pitchLimit float64
	resetAfter float64
	minArea    float64
	minConf    float64

	yaw, pitch float64
	lastValid  float64
	seenValid  bool

	audience, notes, other int
	valid                  int
}

func newGazeTracker(cfg Config) gazeTracker {
	return gazeTracker{
		alpha:      cfg.GazeSmoothing,
		yawLimit:   cfg.YawThresholdDeg,
		pitchLimit: cfg.PitchThresholdDeg,
		resetAfter: cfg.GazeResetSeconds,
		minArea:    cfg.MinFaceAreaRatio,
		minConf:    cfg.FaceConfidence,
	}
}

// update classifies one analyzed frame. d may be nil.
func (g *gazeTracker) update(h types.FrameHeader, d *face.Detection) GazeClass {
	class := g.classify(h, d)
	switch class {
	case GazeAudience:
		g.audience++
	case GazeNotes:
		g.notes++
	default:
		g.other++
	}
	return class
}

func (g *gazeTracker) classify(h types.FrameHeader, d *face.Detection) GazeClass {
	frameArea := float64(h.Width) * float64(h.Height)
	gated := !d.HasLandmarks() ||
		d.Confidence < g.minConf ||
		frameArea <= 0 ||
		d.Box.Area()/frameArea < g.minArea

	var yaw, pitch float64
	if !gated {
		var ok bool
		yaw, pitch, ok = headPose(d)
		gated = !ok
	}
	if gated {
		if g.seenValid && h.Timestamp-g.lastValid > g.resetAfter {
			g.resetSmoothing()
		}
		return GazeOther
	}

	g.valid++
	g.lastValid = h.Timestamp
	g.seenValid = true
	g.yaw = g.alpha*yaw + (1-g.alpha)*g.yaw
	g.pitch = g.alpha*pitch + (1-g.alpha)*g.pitch

	switch {
	case math.Abs(g.yaw) <= g.yawLimit && g.pitch >= g.pitchLimit:
		return GazeAudience
	case g.pitch < g.pitchLimit:
		return GazeNotes
	default:
		return GazeOther
	}
}

func (g *gazeTracker) resetSmoothing() {
	g.yaw, g.pitch = 0, 0
}

func (g *gazeTracker) total() int {
	return g.audience + g.notes + g.other
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}
