package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"ward/internal/config"
	"ward/internal/queue"
	"ward/internal/storage"
	"ward/internal/vfs"
	"ward/pkg/units"
)

type lines struct {
	mu  sync.Mutex
	out []string
}

func (l *lines) sink(r queue.Result) {
	l.mu.Lock()
	l.out = append(l.out, r.Text)
	l.mu.Unlock()
}

func (l *lines) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.out...)
}

func quietConfig() *config.Config {
	cfg := config.Default()
	cfg.Logging.Level = "error"
	return cfg
}

func startApp(t *testing.T, opts Options) *App {
	t.Helper()
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = a.Stop(context.Background(), StopAppStop) })
	return a
}

func settle(t *testing.T, a *App) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.WaitSettled(ctx); err != nil {
		t.Fatalf("WaitSettled: %v", err)
	}
}

func TestOperationsBeforeStart(t *testing.T) {
	t.Parallel()
	a, err := New(Options{Config: quietConfig()})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Stop(context.Background(), StopAppStop)

	if _, err := a.Exec("echo hi"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("Exec err = %v", err)
	}
	if _, err := a.StopQueue(); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("StopQueue err = %v", err)
	}
	rep, err := a.Validate("# modules: clock\nif time 07:30\n- echo up\nif moon is full\n- echo howl\n")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.OK() || len(rep.Unrecognized) != 1 || rep.Unrecognized[0] != "if moon is full" {
		t.Fatalf("report = %+v", rep)
	}
	if _, err := a.Journal(context.Background(), 1); !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("Journal err = %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()
	cfg := quietConfig()
	cfg.Queue.PollInterval = "often"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestExecAndSettle(t *testing.T) {
	t.Parallel()
	var got lines
	a := startApp(t, Options{Config: quietConfig(), Sink: got.sink})

	if n, err := a.Exec("echo a; echo b && echo c"); err != nil || n != 3 {
		t.Fatalf("Exec = %d, %v", n, err)
	}
	settle(t, a)
	if strings.Join(got.get(), "|") != "a|b|c" {
		t.Fatalf("lines = %q", got.get())
	}
	snap, err := a.Snapshot()
	if err != nil || snap.Processed != 3 || snap.Record.LastCommand != "echo c" {
		t.Fatalf("snapshot = %+v, %v", snap, err)
	}
}

func TestWaitSettledCoversTimedCycle(t *testing.T) {
	t.Parallel()
	var got lines
	a := startApp(t, Options{Config: quietConfig(), Sink: got.sink})

	if _, err := a.Exec("cycle 2t 20ms = echo tick"); err != nil {
		t.Fatal(err)
	}
	settle(t, a)
	ticks := 0
	for _, l := range got.get() {
		if l == "tick" {
			ticks++
		}
	}
	if ticks != 2 {
		t.Fatalf("lines = %q", got.get())
	}
}

func TestStopQueueCancelsCycle(t *testing.T) {
	t.Parallel()
	a := startApp(t, Options{Config: quietConfig()})

	if _, err := a.Exec("cycle 5t 1s = echo x"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.WaitIdle(ctx); err != nil {
		t.Fatal(err)
	}
	rep, err := a.StopQueue()
	if err != nil || rep.Cancelled != 1 {
		t.Fatalf("StopQueue = %+v, %v", rep, err)
	}
	settle(t, a)
}

func TestSessionWithJournal(t *testing.T) {
	t.Parallel()
	cfg := quietConfig()
	cfg.Storage = &config.StorageConfig{Driver: "file", Path: filepath.Join(t.TempDir(), "ward.db")}
	tree := vfs.New(fstest.MapFS{"flag": {Data: []byte("x")}}, "/", "/")

	var got lines
	a := startApp(t, Options{Config: cfg, Sink: got.sink, Tree: tree})

	script := "# modules: clock, files\nif wait: 0\n- echo later\nif exists /flag\n- echo flag\necho now\n"
	id, log, err := a.StartSession(context.Background(), script)
	if err != nil || id == "" || len(log) != 3 {
		t.Fatalf("StartSession = %q, %q, %v", id, log, err)
	}
	settle(t, a)

	out := got.get()
	sort.Strings(out)
	if strings.Join(out, "|") != "flag|later|now" {
		t.Fatalf("lines = %q", out)
	}
	recs, err := a.Journal(context.Background(), 10)
	if err != nil || len(recs) != 3 {
		t.Fatalf("Journal = %+v, %v", recs, err)
	}
	for _, r := range recs {
		if r.Session != id {
			t.Fatalf("record session = %q, want %q", r.Session, id)
		}
	}

	if len(a.Sessions()) != 1 {
		t.Fatalf("sessions = %+v", a.Sessions())
	}
	rep, err := a.StopSession(id)
	if err != nil || !rep.Known {
		t.Fatalf("StopSession = %+v, %v", rep, err)
	}
	if len(a.Sessions()) != 0 {
		t.Fatalf("session still listed")
	}
}

func TestConfirmAnsweredThroughApp(t *testing.T) {
	t.Parallel()
	var got lines
	a := startApp(t, Options{Config: quietConfig(), Sink: got.sink})

	if _, err := a.Exec("confirm deploy"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for len(a.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no pending step")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !a.Answer("yes") {
		t.Fatal("answer not delivered")
	}
	settle(t, a)
	if strings.Join(got.get(), "|") != "confirmed: deploy" {
		t.Fatalf("lines = %q", got.get())
	}
}

func TestConfigReloadAppliesLogging(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "ward.yaml")
	write := func(level string) {
		t.Helper()
		if err := os.WriteFile(path, []byte("logging:\n  level: "+level+"\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("error")

	a := startApp(t, Options{ConfigPath: path})
	if a.Config().Logging.Level != "error" {
		t.Fatalf("level = %q", a.Config().Logging.Level)
	}

	time.Sleep(100 * time.Millisecond)
	write("warn")
	deadline := time.Now().Add(5 * time.Second)
	for a.Config().Logging.Level != "warn" {
		if time.Now().After(deadline) {
			t.Fatal("reload not applied")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()
	a := startApp(t, Options{Config: quietConfig()})
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatal(err)
	}
	select {
	case <-a.Done():
	case <-time.After(time.Second):
		t.Fatal("supervisor context not cancelled")
	}
	if err := a.Stop(context.Background(), StopAppStop); err != nil {
		t.Fatal(err)
	}
}

type activeUnits struct{}

func (activeUnits) State(_ context.Context, name string) (units.Status, error) {
	return units.Status{Name: name, Active: "active", SubState: "running", LoadState: "loaded"}, nil
}

func TestUnitsTriggerAndCommand(t *testing.T) {
	t.Parallel()
	var got lines
	a := startApp(t, Options{Config: quietConfig(), Sink: got.sink, Units: activeUnits{}})

	_, log, err := a.StartSession(context.Background(), "# modules: units\nif unit nginx is active\n- unit nginx\nif unit nginx is failed\n- echo never\n")
	if err != nil || len(log) != 2 {
		t.Fatalf("StartSession = %q, %v", log, err)
	}
	if !strings.HasSuffix(log[0], "Info: unit nginx active") || !strings.Contains(log[1], "Error: unit nginx: active, not failed") {
		t.Fatalf("log = %q", log)
	}
	settle(t, a)
	if strings.Join(got.get(), "|") != "nginx: active (running)" {
		t.Fatalf("lines = %q", got.get())
	}
}

func TestDebugServerStatus(t *testing.T) {
	t.Parallel()
	cfg := quietConfig()
	cfg.Debug.Addr = "127.0.0.1:0"
	a := startApp(t, Options{Config: cfg})

	if _, err := a.Exec("echo hi"); err != nil {
		t.Fatal(err)
	}
	settle(t, a)
	deadline := time.Now().Add(5 * time.Second)
	for a.DebugAddr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("debug server never bound")
		}
		time.Sleep(5 * time.Millisecond)
	}
	resp, err := http.Get("http://" + a.DebugAddr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"LastCommand": "echo hi"`) {
		t.Fatalf("status = %d %s", resp.StatusCode, body)
	}
}

func TestDebugRejectsPublicBindWithoutToken(t *testing.T) {
	t.Parallel()
	cfg := quietConfig()
	cfg.Debug.Addr = "0.0.0.0:6060"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Fatal("public debug bind accepted")
	}
}
