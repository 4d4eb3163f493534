package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

type Config struct {
	Logging  LoggingConfig            `json:"logging"`
	Status   StatusConfig             `json:"status"`
	Activity ActivityConfig           `json:"activity"`
	Channels map[string]ChannelConfig `json:"channels"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StatusConfig tunes the status aggregator and the periodic refresh job.
type StatusConfig struct {
	// ProbesPerSec caps the rate at which live probes are launched within
	// one status call. 0 means unlimited.
	ProbesPerSec float64       `json:"probes_per_sec,omitempty"`
	Refresh      RefreshConfig `json:"refresh"`
}

type RefreshConfig struct {
	Enabled bool `json:"enabled"`
	// Schedule is a cron expression (5 fields).
	Schedule string `json:"schedule,omitempty"`
	Probe    bool   `json:"probe,omitempty"`
	// Timeout is a Go duration string (e.g. "10s") bounding each
	// per-account probe during a refresh sweep.
	Timeout string `json:"timeout,omitempty"`
}

// ActivityConfig selects the activity tracker backend.
//
// Driver values:
//   - "" or "memory": in-memory only (lost on restart)
//   - "sqlite": persisted to a SQLite database file
type ActivityConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

// ChannelConfig is one channel's configuration block.
//
// Settings is the channel-level (legacy single-account) configuration slot;
// Accounts holds per-account configuration objects keyed by account id.
// Both value shapes are plugin-defined and opaque to the core.
type ChannelConfig struct {
	Enabled  *bool                     `json:"enabled,omitempty"`
	Settings map[string]any            `json:"settings,omitempty"`
	Accounts map[string]map[string]any `json:"accounts,omitempty"`
}

// Channel returns the config block for a channel id, or an empty block.
func (c *Config) Channel(id string) ChannelConfig {
	if c == nil || c.Channels == nil {
		return ChannelConfig{}
	}
	return c.Channels[id]
}

// UnmarshalJSON disallows unknown top-level channel fields so typos like
// "acounts" are caught during config reload instead of silently ignored.
func (cc *ChannelConfig) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled  *bool                     `json:"enabled,omitempty"`
		Settings map[string]any            `json:"settings,omitempty"`
		Accounts map[string]map[string]any `json:"accounts,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*cc = ChannelConfig{Enabled: t.Enabled, Settings: t.Settings, Accounts: t.Accounts}
	return nil
}

// ParseDurationField parses an optional Go duration string config value.
// Empty means zero (caller applies its own default).
func ParseDurationField(key, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must not be negative", key)
	}
	return d, nil
}
