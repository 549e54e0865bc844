package config

import (
	"strings"

	logx "ward/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Queue.HistorySize != newCfg.Queue.HistorySize ||
		strings.TrimSpace(oldCfg.Queue.PollInterval) != strings.TrimSpace(newCfg.Queue.PollInterval) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Int("queue.history_size", newCfg.Queue.HistorySize),
			logx.String("queue.poll_interval", newCfg.Queue.PollInterval),
		)
	}
	if derefStorage(oldCfg.Storage) != derefStorage(newCfg.Storage) {
		changed = append(changed, "storage")
		st := derefStorage(newCfg.Storage)
		attrs = append(attrs, logx.String("storage.driver", st.Driver), logx.String("storage.path", st.Path))
	}
	if oldCfg.Files != newCfg.Files {
		changed = append(changed, "files")
		attrs = append(attrs, logx.String("files.root", newCfg.Files.Root), logx.String("files.cwd", newCfg.Files.Cwd))
	}
	if oldCfg.Shell != newCfg.Shell {
		changed = append(changed, "shell")
		attrs = append(attrs, logx.Bool("shell.enabled", newCfg.Shell.Enabled), logx.String("shell.timeout", newCfg.Shell.Timeout))
	}
	if oldCfg.Units != newCfg.Units {
		changed = append(changed, "units")
		attrs = append(attrs, logx.Bool("units.enabled", newCfg.Units.Enabled))
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs, logx.String("debug.addr", newCfg.Debug.Addr), logx.Bool("debug.token_set", newCfg.Debug.Token != ""))
	}
	return changed, attrs
}

func derefStorage(st *StorageConfig) StorageConfig {
	if st == nil {
		return StorageConfig{}
	}
	return *st
}

// HotReloadable reports whether every changed section can be applied without
// a restart. Only logging is applied live; the rest needs a new process.
func HotReloadable(changed []string) bool {
	for _, c := range changed {
		if c != "logging" {
			return false
		}
	}
	return true
}
