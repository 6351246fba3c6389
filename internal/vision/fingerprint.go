package vision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// SchemaVersion identifies the layout of [VisualObservations].
const SchemaVersion = "poise.visual/v1"

// Version identifies how a report was produced.
type Version struct {
	Schema     string `json:"schema"`
	ConfigHash string `json:"config_hash"`
}

// Fingerprint returns a stable SHA-256 over cfg's fields sorted by their YAML
// names. Two configs with equal values always produce the same hash.
func Fingerprint(cfg Config) (string, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("vision: marshal config: %w", err)
	}
	var fields map[string]any
	if err := yaml.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("vision: unmarshal config: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v\n", k, fields[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
