package app

import (
	"context"
	"fmt"

	"github.com/MrWong99/poise/internal/config"
	"github.com/MrWong99/poise/internal/observe"
	"github.com/MrWong99/poise/internal/resilience"
	"github.com/MrWong99/poise/pkg/provider/face"
	"github.com/MrWong99/poise/pkg/provider/pose"
)

// Providers holds one detector per slot. Nil means the slot is not
// configured. Populated by [BuildProviders] or injected by tests.
type Providers struct {
	Face face.Detector
	Pose pose.Detector
}

// BuildProviders instantiates the configured detectors through reg. An entry
// with fallbacks is wrapped in a failover group whose circuit breakers use
// the settings of cfg.Providers.Breaker.
func BuildProviders(cfg *config.Config, reg *config.Registry, m *observe.Metrics) (*Providers, error) {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	fbCfg := fallbackConfig(cfg.Providers.Breaker, m)
	p := &Providers{}

	if !cfg.Providers.Face.IsZero() {
		chain, err := reg.CreateFaceChain(cfg.Providers.Face)
		if err != nil {
			return nil, fmt.Errorf("app: build face detector: %w", err)
		}
		if len(chain) == 1 {
			p.Face = chain[0].Detector
		} else {
			fb := resilience.NewFaceFallback(chain[0].Detector, chain[0].Name, fbCfg("face"))
			for _, nf := range chain[1:] {
				fb.AddFallback(nf.Name, nf.Detector)
			}
			p.Face = fb
		}
	}

	if !cfg.Providers.Pose.IsZero() {
		chain, err := reg.CreatePoseChain(cfg.Providers.Pose)
		if err != nil {
			return nil, fmt.Errorf("app: build pose detector: %w", err)
		}
		if len(chain) == 1 {
			p.Pose = chain[0].Detector
		} else {
			fb := resilience.NewPoseFallback(chain[0].Detector, chain[0].Name, fbCfg("pose"))
			for _, np := range chain[1:] {
				fb.AddFallback(np.Name, np.Detector)
			}
			p.Pose = fb
		}
	}
	return p, nil
}

// fallbackConfig returns a per-kind [resilience.FallbackConfig] builder. Every
// failed attempt is counted as a provider error labelled with the backend.
func fallbackConfig(b config.BreakerConfig, m *observe.Metrics) func(kind string) resilience.FallbackConfig {
	return func(kind string) resilience.FallbackConfig {
		return resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{
				MaxFailures:  b.MaxFailures,
				ResetTimeout: b.ResetTimeout,
				HalfOpenMax:  b.HalfOpenMax,
			},
			OnFailure: func(name string, _ error) {
				m.RecordProviderError(context.Background(), name, kind)
			},
		}
	}
}
