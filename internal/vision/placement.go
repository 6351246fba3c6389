package vision

import (
	"math"

	"github.com/MrWong99/poise/pkg/provider/face"
)

// placementEstimator estimates the horizontal camera angle from how unevenly
// the ears sit around the nose.
type placementEstimator struct {
	sum float64
	n   int
}

func (p *placementEstimator) update(d *face.Detection) {
	nose := d.At(face.Nose)
	dr := math.Abs(nose.X - d.At(face.RightEar).X)
	dl := math.Abs(d.At(face.LeftEar).X - nose.X)
	if dl+dr == 0 {
		return
	}
	p.sum += (dl - dr) / (dl + dr)
	p.n++
}

// angle returns the estimated camera angle in degrees, or false without data.
func (p *placementEstimator) angle() (float64, bool) {
	if p.n == 0 {
		return 0, false
	}
	return math.Abs(degrees(math.Atan(p.sum / float64(p.n)))), true
}
