package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// handKeypoints are the keypoint names tracked for gestures.
var handKeypoints = map[string]bool{
	pose.LeftWrist:  true,
	pose.RightWrist: true,
	pose.LeftElbow:  true,
	pose.RightElbow: true,
}

// gestureDetector counts hand movements that are large relative to body size.
// A gesture needs confident hand keypoints in two consecutive analyzed frames.
type gestureDetector struct {
	minConf   float64
	threshold float64

	prevHands  []types.Point
	prevHeight float64

	events []float64
	valid  int
}

func newGestureDetector(cfg Config) gestureDetector {
	return gestureDetector{minConf: cfg.PoseConfidence, threshold: cfg.GestureThreshold}
}

// update consumes one analyzed frame and reports whether a gesture fired. d
// may be nil.
func (g *gestureDetector) update(ts float64, d *pose.Detection) bool {
	hands, height := handsAndHeight(d, g.minConf)
	if hands != nil {
		g.valid++
	}

	fired := false
	if hands != nil && g.prevHands != nil && g.prevHeight > 0 {
		n := min(len(hands), len(g.prevHands))
		var maxDisp float64
		for i := range n {
			maxDisp = math.Max(maxDisp, hands[i].Dist(g.prevHands[i]))
		}
		if maxDisp/g.prevHeight > g.threshold {
			g.events = append(g.events, ts)
			fired = true
		}
	}

	g.prevHands = hands
	g.prevHeight = height
	return fired
}

func (g *gestureDetector) resetLookback() {
	g.prevHands = nil
	g.prevHeight = 0
}

// handsAndHeight extracts confident hand keypoints in detector order (nil if
// none) and the vertical extent of all confident keypoints (0 if fewer than
// two).
func handsAndHeight(d *pose.Detection, minConf float64) ([]types.Point, float64) {
	if d == nil {
		return nil, 0
	}
	var hands []types.Point
	minY, maxY := math.Inf(1), math.Inf(-1)
	confident := 0
	for _, kp := range d.Keypoints {
		if kp.Confidence < minConf {
			continue
		}
		confident++
		minY = math.Min(minY, kp.Y)
		maxY = math.Max(maxY, kp.Y)
		if handKeypoints[kp.Name] {
			hands = append(hands, types.Point{X: kp.X, Y: kp.Y})
		}
	}
	if confident < 2 {
		return hands, 0
	}
	return hands, maxY - minY
}
