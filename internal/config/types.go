package config

import (
	"errors"
	"fmt"
	"strings"

	logx "ward/pkg/logx"
)

// Config is the ward configuration file (JSON, or YAML when the path ends in
// .yaml/.yml). Unknown keys are rejected.
//
// Example:
//
//	{
//	  "logging": { "level": "info", "console": true },
//	  "queue":   { "history_size": 200, "poll_interval": "100ms" },
//	  "storage": { "driver": "sqlite", "path": "./ward.db" },
//	  "files":   { "root": "/", "home": "/home/ops", "cwd": "/srv" },
//	  "shell":   { "enabled": true, "timeout": "30s" },
//	  "units":   { "enabled": true },
//	  "debug":   { "addr": "127.0.0.1:6060" }
//	}
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Queue   QueueConfig    `json:"queue"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Files   FilesConfig    `json:"files"`
	Shell   ShellConfig    `json:"shell"`
	Units   UnitsConfig    `json:"units"`
	Debug   DebugConfig    `json:"debug"`
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

// QueueConfig tunes the queue processor.
//
// Defaults: history_size 200, poll_interval "100ms".
type QueueConfig struct {
	HistorySize int `json:"history_size,omitempty"`
	// PollInterval paces "cycle next" watchers (Go duration string).
	PollInterval string `json:"poll_interval,omitempty"`
}

// StorageConfig controls the optional result journal.
//
//	"storage": { "driver": "file", "path": "./ward_journal" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// FilesConfig is the directory tree scripts see. Home and Cwd are slash paths
// inside Root. An empty Root disables file triggers.
type FilesConfig struct {
	Root string `json:"root,omitempty"`
	Home string `json:"home,omitempty"`
	Cwd  string `json:"cwd,omitempty"`
}

// ShellConfig enables the "sh -c" fallback handler.
type ShellConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
	Dir     string `json:"dir,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// UnitsConfig enables the systemd unit trigger and the "unit" command. They
// talk to the system bus, so they are off by default.
type UnitsConfig struct {
	Enabled bool   `json:"enabled"`
	Timeout string `json:"timeout,omitempty"`
}

// DebugConfig serves /healthz, /status and /debug/pprof/ on Addr. Empty Addr
// disables it.
type DebugConfig struct {
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

// Default is used when no config file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Files:   FilesConfig{Root: "/", Home: "/", Cwd: "/"},
	}
}

// Validate checks every field that would otherwise fail later at wiring time.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path: required when file logging is enabled"))
	}
	if cfg.Queue.HistorySize < 0 {
		errs = append(errs, errors.New("queue.history_size: must be >= 0"))
	}
	for _, f := range durationFields(cfg) {
		if _, err := ParseDurationField(f[0], f[1]); err != nil {
			errs = append(errs, err)
		}
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none":
		case "file", "sqlite", "sqlite3":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", st.Driver))
		}
	}
	return errors.Join(errs...)
}
