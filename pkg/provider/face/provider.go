// Package face defines the Detector interface for face-landmark backends.
//
// A face detector receives one encoded video frame and returns the single most
// prominent face it found, or nil when no face is visible. The vision core only
// needs six coarse landmarks (eyes, nose, mouth, ears), so any model that can
// produce them (BlazeFace, RetinaFace, MediaPipe) can sit behind this
// interface.
//
// Implementations must be safe for concurrent use. Detect may block on network
// or accelerator I/O and must honour ctx cancellation.
package face

import "context"

// Detector runs face detection on a single encoded image.
type Detector interface {
	// Detect analyses image (JPEG, PNG or WebP bytes) of the given pixel
	// dimensions. It returns (nil, nil) when no face was found. An error means
	// the backend failed; it is never used to signal "no face".
	Detect(ctx context.Context, image []byte, width, height int) (*Detection, error)
}
