package config

import "reflect"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AnalysisChanged means recordings started from now on use different
	// thresholds. Open recordings keep the config they were started with.
	AnalysisChanged bool

	MaxConcurrentChanged bool
	NewMaxConcurrent     int

	// RestartRequired lists top-level sections that changed but are only
	// read at startup.
	RestartRequired []string
}

// IsZero reports whether nothing changed.
func (d ConfigDiff) IsZero() bool {
	return !d.LogLevelChanged && !d.AnalysisChanged && !d.MaxConcurrentChanged && len(d.RestartRequired) == 0
}

// Diff compares two configs.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Analysis != new.Analysis {
		d.AnalysisChanged = true
	}
	if old.Recordings.MaxConcurrent != new.Recordings.MaxConcurrent {
		d.MaxConcurrentChanged = true
		d.NewMaxConcurrent = new.Recordings.MaxConcurrent
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	return d
}
