package pose

// Keypoint names used by the vision core. Detectors may report more.
const (
	LeftHip       = "left_hip"
	RightHip      = "right_hip"
	LeftWrist     = "left_wrist"
	RightWrist    = "right_wrist"
	LeftElbow     = "left_elbow"
	RightElbow    = "right_elbow"
	LeftShoulder  = "left_shoulder"
	RightShoulder = "right_shoulder"
)

// Keypoint is one named body landmark in pixel space.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Confidence float64 `json:"confidence"`
	Name       string  `json:"name"`
}

// Detection is the result of one pose estimation call.
type Detection struct {
	// Keypoints in detector order.
	Keypoints []Keypoint `json:"keypoints"`

	// Confidence is the overall person score (0.0–1.0).
	Confidence float64 `json:"confidence"`
}

// Find returns the first keypoint named name, if present.
func (d *Detection) Find(name string) (Keypoint, bool) {
	if d == nil {
		return Keypoint{}, false
	}
	for _, kp := range d.Keypoints {
		if kp.Name == name {
			return kp, true
		}
	}
	return Keypoint{}, false
}
