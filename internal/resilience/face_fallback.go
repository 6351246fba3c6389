package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/poise/pkg/provider/face"
)

// FaceFallback is a [face.Detector] that fails over across several face
// backends.
type FaceFallback struct {
	group *FallbackGroup[face.Detector]
}

var _ face.Detector = (*FaceFallback)(nil)

// NewFaceFallback creates a [FaceFallback] with primary as the preferred
// backend.
func NewFaceFallback(primary face.Detector, primaryName string, cfg FallbackConfig) *FaceFallback {
	return &FaceFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after all earlier ones.
func (f *FaceFallback) AddFallback(name string, d face.Detector) {
	f.group.AddFallback(name, d)
}

// Detect runs detection on the first healthy backend. A nil detection from a
// backend is a valid "no face" answer and does not trigger failover.
func (f *FaceFallback) Detect(ctx context.Context, image []byte, width, height int) (*face.Detection, error) {
	return ExecuteWithResult(ctx, f.group, func(d face.Detector) (*face.Detection, error) {
		return d.Detect(ctx, image, width, height)
	})
}

// Health checks every backend that supports it and succeeds when at least one
// of them is healthy.
func (f *FaceFallback) Health(ctx context.Context) error {
	return groupHealth(ctx, f.group)
}

// Status returns the breaker state of every backend.
func (f *FaceFallback) Status() []EntryStatus {
	return f.group.Status()
}

// healthChecker is implemented by backends that can report reachability.
type healthChecker interface {
	Health(ctx context.Context) error
}

func groupHealth[T any](ctx context.Context, fg *FallbackGroup[T]) error {
	var errs []error
	healthy := false
	fg.Each(func(name string, v T) bool {
		hc, ok := any(v).(healthChecker)
		if !ok {
			healthy = true
			return false
		}
		if err := hc.Health(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return true
		}
		healthy = true
		return false
	})
	if healthy {
		return nil
	}
	return errors.Join(append([]error{ErrAllFailed}, errs...)...)
}
