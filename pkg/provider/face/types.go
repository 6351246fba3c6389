package face

import "github.com/MrWong99/poise/pkg/types"

// Landmark indexes the fixed six-point layout returned by every face detector.
type Landmark int

const (
	RightEye Landmark = iota
	LeftEye
	Nose
	Mouth
	RightEar
	LeftEar

	// NumLandmarks is the number of landmarks in a complete layout.
	NumLandmarks
)

// String returns the wire name of the landmark.
func (l Landmark) String() string {
	switch l {
	case RightEye:
		return "right_eye"
	case LeftEye:
		return "left_eye"
	case Nose:
		return "nose"
	case Mouth:
		return "mouth"
	case RightEar:
		return "right_ear"
	case LeftEar:
		return "left_ear"
	default:
		return "unknown"
	}
}

// Detection is the result of one face detection call.
type Detection struct {
	// Landmarks holds NumLandmarks points in pixel space, ordered by
	// [Landmark]. A nil or short slice means the detector found a face but could
	// not place landmarks on it.
	Landmarks []types.Point `json:"landmarks"`

	// Box is the face bounding box in pixel space.
	Box types.Box `json:"bounding_box"`

	// Confidence is the detection score (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// HasLandmarks reports whether d carries a complete landmark layout.
func (d *Detection) HasLandmarks() bool {
	return d != nil && len(d.Landmarks) >= int(NumLandmarks)
}

// At returns landmark l. The caller must check [Detection.HasLandmarks] first.
func (d *Detection) At(l Landmark) types.Point {
	return d.Landmarks[l]
}
