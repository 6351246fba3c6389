// Package pose defines the Detector interface for body-pose backends.
//
// A pose detector receives one encoded video frame and returns the keypoints of
// the most prominent person, or nil when nobody is visible. Keypoint names
// follow the COCO convention (left_hip, right_wrist, ...); the vision core
// relies on hips, wrists and elbows.
//
// Implementations must be safe for concurrent use. Detect may block on network
// or accelerator I/O and must honour ctx cancellation.
package pose

import "context"

// Detector runs pose estimation on a single encoded image.
type Detector interface {
	// Detect analyses image of the given pixel dimensions. It returns (nil, nil)
	// when no person was found.
	Detect(ctx context.Context, image []byte, width, height int) (*Detection, error)
}
