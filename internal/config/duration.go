package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero; negative
// values are rejected. Errors are prefixed with the field path.
func ParseDurationField(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", field, s)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with zero replaced by def.
func ParseDurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(field, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// durationFields lists every duration string in cfg by its config path.
func durationFields(cfg *Config) [][2]string {
	out := [][2]string{
		{"queue.poll_interval", cfg.Queue.PollInterval},
		{"shell.timeout", cfg.Shell.Timeout},
		{"units.timeout", cfg.Units.Timeout},
	}
	if cfg.Storage != nil {
		out = append(out, [2]string{"storage.busy_timeout", cfg.Storage.BusyTimeout})
	}
	return out
}
