package builtin

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"ward/internal/executor"
	"ward/internal/interact"
	"ward/internal/vfs"
	logx "ward/pkg/logx"
	"ward/pkg/units"
)

func chain(t *testing.T, hub *interact.Hub, shell *Shell) *executor.Chain {
	t.Helper()
	tree := vfs.New(fstest.MapFS{"srv/x": {}}, "/srv", "/srv")
	return executor.NewChain(logx.Nop(), Handlers(Deps{Hub: hub, Tree: tree, Shell: shell})...)
}

func TestEchoAndPwd(t *testing.T) {
	t.Parallel()
	c := chain(t, nil, nil)
	out, err := c.Execute(context.Background(), "echo  hello world ")
	if err != nil || out.Text != "hello world" {
		t.Fatalf("echo = %+v, %v", out, err)
	}
	out, err = c.Execute(context.Background(), "pwd")
	if err != nil || out.Text != "/srv" {
		t.Fatalf("pwd = %+v, %v", out, err)
	}
	out, _ = c.Execute(context.Background(), "reboot now")
	if executor.Classify(out.Text) != executor.ClassError {
		t.Fatalf("unknown = %+v", out)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()
	c := chain(t, nil, nil)
	start := time.Now()
	out, err := c.Execute(context.Background(), "sleep 20ms")
	if err != nil || !out.Silent || time.Since(start) < 20*time.Millisecond {
		t.Fatalf("sleep = %+v, %v", out, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Execute(ctx, "sleep 10s"); !errors.Is(err, executor.ErrCancelled) {
		t.Fatalf("cancelled sleep err = %v", err)
	}

	_, err = c.Execute(context.Background(), "sleep forever")
	var pe *executor.ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("bad sleep err = %v", err)
	}
}

func TestParseDelay(t *testing.T) {
	t.Parallel()
	tests := map[string]time.Duration{"2": 2 * time.Second, "0.5": 500 * time.Millisecond, "150ms": 150 * time.Millisecond, "1m": time.Minute}
	for in, want := range tests {
		if got, err := ParseDelay(in); err != nil || got != want {
			t.Fatalf("ParseDelay(%q) = %v, %v", in, got, err)
		}
	}
	for _, bad := range []string{"", "-1", "-2s", "soon"} {
		if _, err := ParseDelay(bad); err == nil {
			t.Fatalf("ParseDelay(%q) should fail", bad)
		}
	}
}

func TestConfirm(t *testing.T) {
	t.Parallel()
	hub := interact.NewHub(nil)
	c := chain(t, hub, nil)
	if !c.NeedsDialog("confirm wipe?") || c.NeedsDialog("echo confirm") {
		t.Fatal("NeedsDialog")
	}

	done := make(chan executor.Outcome, 1)
	go func() {
		out, _ := c.Execute(context.Background(), "confirm wipe?")
		done <- out
	}()
	deadline := time.Now().Add(2 * time.Second)
	for len(hub.Pending()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no pending step")
		}
		time.Sleep(time.Millisecond)
	}
	if p := hub.Pending()[0]; p.Prompt != "wipe?" {
		t.Fatalf("prompt = %q", p.Prompt)
	}
	hub.ResolveOldest("yes")
	if out := <-done; out.Text != "confirmed: wipe?" {
		t.Fatalf("out = %+v", out)
	}
}

func TestConfirmWithoutHub(t *testing.T) {
	t.Parallel()
	_, err := chain(t, nil, nil).Execute(context.Background(), "confirm x")
	if !errors.Is(err, executor.ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestShellFallback(t *testing.T) {
	t.Parallel()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh")
	}
	sh := &Shell{Path: "sh", Timeout: 2 * time.Second}
	c := chain(t, nil, sh)

	out, err := c.Execute(context.Background(), "printf 'a\\nb\\n'")
	if err != nil || out.Text != "a\nb" {
		t.Fatalf("out = %+v, %v", out, err)
	}
	out, _ = c.Execute(context.Background(), "echo via-builtin")
	if out.Text != "via-builtin" {
		t.Fatalf("builtin should win: %+v", out)
	}
	out, _ = c.Execute(context.Background(), "exit 3")
	if !strings.HasPrefix(out.Text, "Error: exit status 3") {
		t.Fatalf("exit = %+v", out)
	}
	short := &Shell{Path: "sh", Timeout: 20 * time.Millisecond}
	out, _ = short.Execute(context.Background(), "sleep 5")
	if !strings.HasPrefix(out.Text, "Error: timed out") {
		t.Fatalf("timeout = %+v", out)
	}
}

type oneUnit struct{ st units.Status }

func (o oneUnit) State(_ context.Context, name string) (units.Status, error) {
	if name != o.st.Name {
		return units.Status{Name: name, Active: "unknown", LoadState: "not-found"}, nil
	}
	return o.st, nil
}

func TestUnitStatus(t *testing.T) {
	t.Parallel()
	src := oneUnit{units.Status{Name: "nginx", Active: "active", SubState: "running", LoadState: "loaded"}}
	c := executor.NewChain(logx.Nop(), Handlers(Deps{Units: src})...)

	out, err := c.Execute(context.Background(), "unit nginx")
	if err != nil || out.Text != "nginx: active (running)" {
		t.Fatalf("unit = %+v, %v", out, err)
	}
	out, _ = c.Execute(context.Background(), "unit ghost")
	if out.Text != "Error: ghost: not found" {
		t.Fatalf("missing unit = %+v", out)
	}
	var pe *executor.ParseError
	if _, err := c.Execute(context.Background(), "unit"); !errors.As(err, &pe) {
		t.Fatalf("bare unit err = %v", err)
	}
	if _, err := executor.NewChain(logx.Nop(), Unit{}).Execute(context.Background(), "unit nginx"); !errors.Is(err, executor.ErrUnavailable) {
		t.Fatalf("no source err = %v", err)
	}
}
