package main

import (
	"fmt"
	"time"

	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/pkg/provider/face"
	facemock "github.com/MrWong99/poise/pkg/provider/face/mock"
	faceremote "github.com/MrWong99/poise/pkg/provider/face/remote"
	"github.com/MrWong99/poise/pkg/provider/pose"
	posemock "github.com/MrWong99/poise/pkg/provider/pose/mock"
	poseremote "github.com/MrWong99/poise/pkg/provider/pose/remote"
)

// registerBuiltinProviders registers every detector backend compiled into the
// binary.
func registerBuiltinProviders(reg *config.Registry) {
	// ── Face ──────────────────────────────────────────────────────────────────
	reg.RegisterFace("remote", func(entry config.ProviderEntry) (face.Detector, error) {
		opts := []faceremote.Option{faceremote.WithModel(entry.Model)}
		if entry.Timeout > 0 {
			opts = append(opts, faceremote.WithTimeout(entry.Timeout))
		}
		return faceremote.New(entry.BaseURL, opts...)
	})
	// mock never finds a face. Useful for smoke tests of the ingestion path.
	reg.RegisterFace("mock", func(entry config.ProviderEntry) (face.Detector, error) {
		delay, err := optDuration(entry.Options, "delay")
		if err != nil {
			return nil, err
		}
		return &facemock.Detector{Delay: delay}, nil
	})

	// ── Pose ──────────────────────────────────────────────────────────────────
	reg.RegisterPose("remote", func(entry config.ProviderEntry) (pose.Detector, error) {
		opts := []poseremote.Option{poseremote.WithModel(entry.Model)}
		if entry.Timeout > 0 {
			opts = append(opts, poseremote.WithTimeout(entry.Timeout))
		}
		return poseremote.New(entry.BaseURL, opts...)
	})
	reg.RegisterPose("mock", func(entry config.ProviderEntry) (pose.Detector, error) {
		delay, err := optDuration(entry.Options, "delay")
		if err != nil {
			return nil, err
		}
		return &posemock.Detector{Delay: delay}, nil
	})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// optDuration parses a duration string such as "50ms" from opts. A missing
// key yields zero.
func optDuration(opts map[string]any, key string) (time.Duration, error) {
	s := optString(opts, key)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("option %q: %w", key, err)
	}
	return d, nil
}
