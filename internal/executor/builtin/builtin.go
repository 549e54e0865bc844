// Package builtin provides the handlers the ward CLI ships with.
package builtin

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"ward/internal/executor"
	"ward/internal/interact"
	"ward/internal/vfs"
	"ward/pkg/units"
)

// split returns the command word and the rest.
func split(cmd string) (string, string) {
	name, rest, _ := strings.Cut(strings.TrimSpace(cmd), " ")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

type Echo struct{}

func (Echo) Name() string { return "echo" }

func (Echo) Execute(_ context.Context, cmd string) (executor.Outcome, error) {
	name, rest := split(cmd)
	if name != "echo" {
		return executor.Outcome{}, executor.ErrNotHandled
	}
	return executor.Text(rest), nil
}

// Sleep waits for a Go duration ("1500ms", "2m") or a number of seconds.
type Sleep struct{}

func (Sleep) Name() string { return "sleep" }

func (Sleep) Execute(ctx context.Context, cmd string) (executor.Outcome, error) {
	name, rest := split(cmd)
	if name != "sleep" {
		return executor.Outcome{}, executor.ErrNotHandled
	}
	d, err := ParseDelay(rest)
	if err != nil {
		return executor.Outcome{}, &executor.ParseError{What: "sleep", Input: cmd}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return executor.Outcome{}, executor.Cancelled(ctx.Err())
	case <-t.C:
		return executor.Silent(), nil
	}
}

func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			return 0, errors.New("negative delay")
		}
		return time.Duration(n * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("negative delay")
	}
	return d, nil
}

// Confirm blocks on an interactive step until it is answered.
type Confirm struct {
	Hub *interact.Hub
}

func (Confirm) Name() string { return "confirm" }

func (c Confirm) NeedsDialog(cmd string) bool {
	name, _ := split(cmd)
	return name == "confirm"
}

func (c Confirm) Execute(ctx context.Context, cmd string) (executor.Outcome, error) {
	name, prompt := split(cmd)
	if name != "confirm" {
		return executor.Outcome{}, executor.ErrNotHandled
	}
	if c.Hub == nil {
		return executor.Outcome{}, executor.ErrUnavailable
	}
	if prompt == "" {
		prompt = "continue?"
	}
	answer, err := c.Hub.Await(ctx, prompt)
	if err != nil {
		return executor.Outcome{}, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes", "ok", "true":
		return executor.Text("confirmed: " + prompt), nil
	default:
		return executor.Infof("declined: %s", prompt), nil
	}
}

// Pwd reports the directory relative script paths resolve from.
type Pwd struct {
	Tree *vfs.Tree
}

func (Pwd) Name() string { return "pwd" }

func (p Pwd) Execute(_ context.Context, cmd string) (executor.Outcome, error) {
	if name, _ := split(cmd); name != "pwd" {
		return executor.Outcome{}, executor.ErrNotHandled
	}
	if p.Tree == nil {
		return executor.Outcome{}, executor.ErrUnavailable
	}
	return executor.Text(p.Tree.Cwd()), nil
}

// Shell hands any command to "<Path> -c". It accepts everything, so it must be
// last in a chain.
type Shell struct {
	Path    string
	Dir     string
	Timeout time.Duration
}

func (Shell) Name() string { return "shell" }

func (s Shell) Execute(ctx context.Context, cmd string) (executor.Outcome, error) {
	path := s.Path
	if path == "" {
		path = "/bin/sh"
	}
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	c := exec.CommandContext(ctx, path, "-c", cmd)
	c.Dir = s.Dir
	c.WaitDelay = time.Second
	var out bytes.Buffer
	c.Stdout = &out
	c.Stderr = &out
	err := c.Run()
	text := strings.TrimRight(out.String(), "\n")
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return executor.Outcome{}, executor.Cancelled(ctx.Err())
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return executor.Errorf("timed out after %s", s.Timeout), nil
		}
		if text != "" {
			return executor.Errorf("%v: %s", err, text), nil
		}
		return executor.Errorf("%v", err), nil
	}
	if text == "" {
		return executor.Silent(), nil
	}
	return executor.Text(text), nil
}

// UnitStater reports systemd unit state.
type UnitStater interface {
	State(ctx context.Context, name string) (units.Status, error)
}

// Unit prints the state of a systemd unit: "unit <name>".
type Unit struct {
	Source UnitStater
}

func (Unit) Name() string { return "unit" }

func (u Unit) Execute(ctx context.Context, cmd string) (executor.Outcome, error) {
	name, rest := split(cmd)
	if name != "unit" {
		return executor.Outcome{}, executor.ErrNotHandled
	}
	if rest == "" {
		return executor.Outcome{}, &executor.ParseError{What: "unit name", Input: cmd}
	}
	if u.Source == nil {
		return executor.Outcome{}, executor.ErrUnavailable
	}
	st, err := u.Source.State(ctx, rest)
	if err != nil {
		return executor.Errorf("unit %s: %v", rest, err), nil
	}
	if st.NotFound() {
		return executor.Errorf("%s", st), nil
	}
	return executor.Text(st.String()), nil
}

// Deps are what the standard handlers draw on. Nil fields leave the
// corresponding commands unavailable; a nil Shell disables the fallback.
type Deps struct {
	Hub   *interact.Hub
	Tree  *vfs.Tree
	Units UnitStater
	Shell *Shell
}

// Handlers returns the standard handler list in priority order.
func Handlers(d Deps) []executor.Handler {
	hs := []executor.Handler{Echo{}, Sleep{}, Confirm{Hub: d.Hub}, Pwd{Tree: d.Tree}, Unit{Source: d.Units}}
	if d.Shell != nil {
		hs = append(hs, *d.Shell)
	}
	return hs
}
