package vision

import (
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
	"github.com/MrWong99/poise/pkg/types"
)

// frontalFace returns a confident face looking straight at the camera in a
// 640x480 frame, shifted so its nose sits noseDY pixels below neutral and
// noseDX pixels right of center.
func frontalFace(noseDX, noseDY float64) *face.Detection {
	return &face.Detection{
		Landmarks: []types.Point{
			face.RightEye: {X: 300, Y: 200},
			face.LeftEye:  {X: 340, Y: 200},
			face.Nose:     {X: 320 + noseDX, Y: 220 + noseDY},
			face.Mouth:    {X: 320, Y: 240},
			face.RightEar: {X: 280, Y: 210},
			face.LeftEar:  {X: 360, Y: 210},
		},
		Box:        types.Box{X: 270, Y: 170, Width: 100, Height: 100},
		Confidence: 0.95,
	}
}

// audienceFace looks at the audience.
func audienceFace() *face.Detection { return frontalFace(0, 0) }

// notesFace looks down at notes (pitch ≈ -37°).
func notesFace() *face.Detection { return frontalFace(0, 15) }

// sideFace looks far to the side (yaw ≈ 63°).
func sideFace() *face.Detection { return frontalFace(40, 0) }

// standingPose is a confident upright body with hips centered at (hipX, hipY),
// wrists at the given offsets from their rest positions and a body height of
// 200 px.
func standingPose(hipX, hipY, wristDX, wristDY float64) *pose.Detection {
	top := hipY - 150
	return &pose.Detection{
		Confidence: 0.9,
		Keypoints: []pose.Keypoint{
			{Name: pose.LeftShoulder, X: hipX - 30, Y: top, Confidence: 0.9},
			{Name: pose.RightShoulder, X: hipX + 30, Y: top, Confidence: 0.9},
			{Name: pose.LeftWrist, X: hipX - 50 + wristDX, Y: hipY - 20 + wristDY, Confidence: 0.9},
			{Name: pose.RightWrist, X: hipX + 50 + wristDX, Y: hipY - 20 + wristDY, Confidence: 0.9},
			{Name: pose.LeftHip, X: hipX - 20, Y: hipY, Confidence: 0.9},
			{Name: pose.RightHip, X: hipX + 20, Y: hipY, Confidence: 0.9},
			{Name: "left_ankle", X: hipX - 20, Y: top + 200, Confidence: 0.9},
		},
	}
}

func header(seq int64, ts float64) types.FrameHeader {
	return types.FrameHeader{Seq: seq, Timestamp: ts, Width: 640, Height: 480}
}
