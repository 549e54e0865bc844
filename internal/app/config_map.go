package app

import (
	"strings"

	"ward/internal/config"
	"ward/internal/executor/builtin"
	"ward/internal/observability/debughttp"
	"ward/internal/queue"
	"ward/internal/vfs"
	logx "ward/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapQueueConfig(cfg *config.Config) (queue.Config, error) {
	poll, err := config.ParseDurationField("queue.poll_interval", cfg.Queue.PollInterval)
	if err != nil {
		return queue.Config{}, err
	}
	return queue.Config{HistorySize: cfg.Queue.HistorySize, PollInterval: poll}, nil
}

// mapShellConfig returns nil when the shell fallback is off.
func mapShellConfig(cfg *config.Config) (*builtin.Shell, error) {
	if !cfg.Shell.Enabled {
		return nil, nil
	}
	timeout, err := config.ParseDurationField("shell.timeout", cfg.Shell.Timeout)
	if err != nil {
		return nil, err
	}
	return &builtin.Shell{
		Path:    strings.TrimSpace(cfg.Shell.Path),
		Dir:     strings.TrimSpace(cfg.Shell.Dir),
		Timeout: timeout,
	}, nil
}

// mapFilesTree returns nil when no root is configured, which leaves file
// triggers and pwd unavailable.
func mapFilesTree(cfg *config.Config) *vfs.Tree {
	root := strings.TrimSpace(cfg.Files.Root)
	if root == "" {
		return nil
	}
	return vfs.OS(root, cfg.Files.Home, cfg.Files.Cwd)
}

func mapDebugConfig(cfg *config.Config) (debughttp.Config, error) {
	dc := debughttp.Config{
		Addr:          strings.TrimSpace(cfg.Debug.Addr),
		Token:         strings.TrimSpace(cfg.Debug.Token),
		AllowInsecure: cfg.Debug.AllowInsecure,
	}
	return dc, debughttp.CheckBind(dc)
}
