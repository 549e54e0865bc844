package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDecodeJSONAndYAML(t *testing.T) {
	t.Parallel()
	jsonCfg := `{"logging":{"level":"debug","console":true},"queue":{"history_size":50,"poll_interval":"20ms"},"storage":{"driver":"sqlite","path":"x.db"}}`
	yamlCfg := "logging:\n  level: debug\n  console: true\nqueue:\n  history_size: 50\n  poll_interval: 20ms\nstorage:\n  driver: sqlite\n  path: x.db\n"

	for name, data := range map[string]string{"ward.json": jsonCfg, "ward.yaml": yamlCfg} {
		cfg, err := Decode(name, []byte(data))
		if err != nil {
			t.Fatalf("Decode(%s): %v", name, err)
		}
		if cfg.Logging.Level != "debug" || cfg.Queue.HistorySize != 50 || cfg.Queue.PollInterval != "20ms" {
			t.Fatalf("%s: cfg = %+v", name, cfg)
		}
		if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
			t.Fatalf("%s: storage = %+v", name, cfg.Storage)
		}
		if err := Validate(cfg); err != nil {
			t.Fatalf("%s: Validate: %v", name, err)
		}
	}
}

func TestDecodeIsStrict(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"queue":{"workers":3}}`)); err == nil {
		t.Fatal("unknown field accepted")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("trailing data accepted")
	}
	if _, err := Decode("c.yml", []byte("logging: [")); err == nil {
		t.Fatal("broken yaml accepted")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := &Config{
		Logging: LoggingConfig{Level: "loud", File: LoggingFile{Enabled: true}},
		Queue:   QueueConfig{HistorySize: -1, PollInterval: "soon"},
		Storage: &StorageConfig{Driver: "postgres"},
		Shell:   ShellConfig{Timeout: "-1s"},
	}
	err := Validate(bad)
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"logging.level", "logging.file.path", "queue.history_size", "queue.poll_interval", "storage.driver", "shell.timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	a := Default()
	b := Default()
	b.Logging.Level = "debug"
	changed, attrs := SummarizeChange(a, b)
	if len(changed) != 1 || changed[0] != "logging" || len(attrs) == 0 || !HotReloadable(changed) {
		t.Fatalf("changed = %v", changed)
	}
	b.Storage = &StorageConfig{Driver: "file", Path: "j"}
	changed, _ = SummarizeChange(a, b)
	if HotReloadable(changed) {
		t.Fatalf("storage change reported hot-reloadable: %v", changed)
	}
}

func TestManagerReloadAndWatch(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "ward.json")
	write := func(level string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(`{"logging":{"level":"`+level+`"}}`), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("info")

	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if published, err := m.Reload(context.Background()); err != nil || published {
		t.Fatalf("unchanged reload = %v, %v", published, err)
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Give the watcher a moment to register the directory.
	time.Sleep(100 * time.Millisecond)
	write("debug")

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" || m.Get().Logging.Level != "debug" {
			t.Fatalf("published %+v", cfg.Logging)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}

	write("shouting")
	time.Sleep(600 * time.Millisecond)
	if m.Get().Logging.Level != "debug" {
		t.Fatal("invalid config was committed")
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Watch: %v", err)
	}
}
