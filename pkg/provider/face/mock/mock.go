// Package mock provides a test double for the face.Detector interface.
//
// Use Detector to inject canned detections (or errors) and inspect the frames
// that were submitted for detection.
//
// Example:
//
//	det := &mock.Detector{
//	    Result: &face.Detection{Confidence: 0.9, Landmarks: landmarks},
//	}
//	got, _ := det.Detect(ctx, jpeg, 640, 480)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/poise/pkg/provider/face"
)

// DetectCall records a single invocation of Detector.Detect.
type DetectCall struct {
	// Image is a copy of the bytes passed to Detect.
	Image []byte

	// Width and Height are the dimensions passed to Detect.
	Width  int
	Height int
}

// Detector is a mock implementation of face.Detector.
type Detector struct {
	mu sync.Mutex

	// Result is returned by every Detect call unless DetectFunc is set.
	Result *face.Detection

	// Err, if non-nil, is returned by every Detect call unless DetectFunc is set.
	Err error

	// DetectFunc, if non-nil, computes the result for each call. It is called
	// without the mock's lock held.
	DetectFunc func(ctx context.Context, image []byte, width, height int) (*face.Detection, error)

	// Delay makes every call sleep before returning, simulating a slow model.
	Delay time.Duration

	// DetectCalls records every call to Detect in order.
	DetectCalls []DetectCall
}

// Detect records the call and returns Result, Err (or DetectFunc's values).
func (d *Detector) Detect(ctx context.Context, image []byte, width, height int) (*face.Detection, error) {
	d.mu.Lock()
	cp := make([]byte, len(image))
	copy(cp, image)
	d.DetectCalls = append(d.DetectCalls, DetectCall{Image: cp, Width: width, Height: height})
	fn, res, err, delay := d.DetectFunc, d.Result, d.Err, d.Delay
	d.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if fn != nil {
		return fn(ctx, image, width, height)
	}
	return res, err
}

// CallCount returns the number of Detect calls so far. Thread-safe.
func (d *Detector) CallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.DetectCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.DetectCalls = nil
}

// Ensure Detector implements face.Detector at compile time.
var _ face.Detector = (*Detector)(nil)
