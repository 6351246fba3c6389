package resilience

import (
	"context"

	"github.com/MrWong99/poise/pkg/provider/pose"
)

// PoseFallback is a [pose.Detector] that fails over across several pose
// backends.
type PoseFallback struct {
	group *FallbackGroup[pose.Detector]
}

var _ pose.Detector = (*PoseFallback)(nil)

// NewPoseFallback creates a [PoseFallback] with primary as the preferred
// backend.
func NewPoseFallback(primary pose.Detector, primaryName string, cfg FallbackConfig) *PoseFallback {
	return &PoseFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another backend, tried after all earlier ones.
func (f *PoseFallback) AddFallback(name string, d pose.Detector) {
	f.group.AddFallback(name, d)
}

// Detect runs pose estimation on the first healthy backend.
func (f *PoseFallback) Detect(ctx context.Context, image []byte, width, height int) (*pose.Detection, error) {
	return ExecuteWithResult(ctx, f.group, func(d pose.Detector) (*pose.Detection, error) {
		return d.Detect(ctx, image, width, height)
	})
}

// Health succeeds when at least one backend is healthy.
func (f *PoseFallback) Health(ctx context.Context) error {
	return groupHealth(ctx, f.group)
}

// Status returns the breaker state of every backend.
func (f *PoseFallback) Status() []EntryStatus {
	return f.group.Status()
}
