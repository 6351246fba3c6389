package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the built-in backend names per detector kind.
// [Validate] warns about names outside this list since third-party factories
// may still be registered.
var ValidProviderNames = map[string][]string{
	"face": {"remote", "mock"},
	"pose": {"remote", "mock"},
}

// Load reads and validates the YAML configuration file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over [Default] and validates the result.
// Unknown keys are rejected. An empty document yields the defaults, which do
// not validate on their own because no detector is configured.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr is required"))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout %v must not be negative", cfg.Server.ShutdownTimeout))
	}
	if cfg.Server.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_frame_bytes %d must be positive", cfg.Server.MaxFrameBytes))
	}
	if r := cfg.Server.TraceSampleRatio; !(r >= 0 && r <= 1) {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be between 0 and 1", r))
	}

	if cfg.Providers.Face.IsZero() && cfg.Providers.Pose.IsZero() {
		errs = append(errs, errors.New("providers: at least one of face or pose must be configured"))
	}
	errs = append(errs, validateEntry("providers.face", "face", cfg.Providers.Face)...)
	errs = append(errs, validateEntry("providers.pose", "pose", cfg.Providers.Pose)...)
	if b := cfg.Providers.Breaker; b.MaxFailures < 0 || b.HalfOpenMax < 0 || b.ResetTimeout < 0 {
		errs = append(errs, errors.New("providers.breaker values must not be negative"))
	}

	if err := cfg.Analysis.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("analysis: %w", err))
	}

	if cfg.Recordings.MaxConcurrent <= 0 {
		errs = append(errs, fmt.Errorf("recordings.max_concurrent %d must be positive", cfg.Recordings.MaxConcurrent))
	}

	return errors.Join(errs...)
}

func validateEntry(prefix, kind string, e ProviderEntry) []error {
	if e.IsZero() {
		if len(e.Fallbacks) > 0 || e.BaseURL != "" {
			return []error{fmt.Errorf("%s.name is required when the entry is configured", prefix)}
		}
		return nil
	}

	var errs []error
	validateProviderName(kind, e.Name)
	if e.Name == "remote" && e.BaseURL == "" {
		errs = append(errs, fmt.Errorf("%s.base_url is required for the remote backend", prefix))
	}
	if e.Timeout < 0 {
		errs = append(errs, fmt.Errorf("%s.timeout %v must not be negative", prefix, e.Timeout))
	}
	for i, fb := range e.Fallbacks {
		p := fmt.Sprintf("%s.fallbacks[%d]", prefix, i)
		if fb.IsZero() {
			errs = append(errs, fmt.Errorf("%s.name is required", p))
			continue
		}
		if len(fb.Fallbacks) > 0 {
			errs = append(errs, fmt.Errorf("%s: nested fallbacks are not supported", p))
		}
		errs = append(errs, validateEntry(p, kind, fb)...)
	}
	return errs
}

func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
