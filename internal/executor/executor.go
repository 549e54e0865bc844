// Package executor defines the capability that performs a command's effect.
//
// Results are plain text. Their prefix is the contract:
//
//	"Error..."  the command failed
//	"Info..."   informational, nothing went wrong
//	otherwise   ordinary output
//
// A Chain tries Handlers in priority order; the first one that does not return
// ErrNotHandled owns the command.
package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	logx "ward/pkg/logx"
)

// Outcome is what a handler produced. Silent outcomes print nothing.
type Outcome struct {
	Text   string
	Silent bool
}

func Text(s string) Outcome { return Outcome{Text: s} }
func Infof(format string, a ...any) Outcome {
	return Outcome{Text: "Info: " + fmt.Sprintf(format, a...)}
}
func Errorf(format string, a ...any) Outcome {
	return Outcome{Text: "Error: " + fmt.Sprintf(format, a...)}
}
func Silent() Outcome { return Outcome{Silent: true} }

type Class int

const (
	ClassPlain Class = iota
	ClassInfo
	ClassError
)

func (c Class) String() string {
	switch c {
	case ClassInfo:
		return "info"
	case ClassError:
		return "error"
	default:
		return "plain"
	}
}

// Classify applies the prefix convention.
func Classify(result string) Class {
	s := strings.TrimSpace(result)
	switch {
	case strings.HasPrefix(s, "Error"):
		return ClassError
	case strings.HasPrefix(s, "Info"):
		return ClassInfo
	default:
		return ClassPlain
	}
}

// Executor runs one command.
type Executor interface {
	Execute(ctx context.Context, cmd string) (Outcome, error)
}

// Handler is one backend in a Chain. It returns ErrNotHandled for commands it
// does not own.
type Handler interface {
	Name() string
	Execute(ctx context.Context, cmd string) (Outcome, error)
}

// DialogChecker is implemented by handlers whose commands may open a
// foreground interactive dialog.
type DialogChecker interface {
	NeedsDialog(cmd string) bool
}

type handlerFunc struct {
	name string
	fn   func(ctx context.Context, cmd string) (Outcome, error)
}

func (h handlerFunc) Name() string { return h.name }
func (h handlerFunc) Execute(ctx context.Context, cmd string) (Outcome, error) {
	return h.fn(ctx, cmd)
}

// HandlerFunc adapts a function into a named Handler.
func HandlerFunc(name string, fn func(ctx context.Context, cmd string) (Outcome, error)) Handler {
	return handlerFunc{name: name, fn: fn}
}

// Chain is an ordered list of handlers.
type Chain struct {
	handlers []Handler
	log      logx.Logger
}

func NewChain(log logx.Logger, handlers ...Handler) *Chain {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Chain{handlers: append([]Handler(nil), handlers...), log: log}
}

// Execute dispatches cmd to the first handler that accepts it. Handler panics
// and errors come back as a *DispatchError; context cancellation as ErrCancelled.
func (c *Chain) Execute(ctx context.Context, cmd string) (out Outcome, err error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Silent(), nil
	}
	for _, h := range c.handlers {
		out, err = c.try(ctx, h, cmd)
		if errors.Is(err, ErrNotHandled) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return Outcome{}, err
			}
			if ctx.Err() != nil {
				return Outcome{}, Cancelled(ctx.Err())
			}
			return Outcome{}, &DispatchError{Command: cmd, Err: err}
		}
		return out, nil
	}
	return Errorf("unknown command: %s", firstWord(cmd)), nil
}

func (c *Chain) try(ctx context.Context, h Handler, cmd string) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked", logx.String("handler", h.Name()), logx.String("cmd", cmd), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out, err = Outcome{}, fmt.Errorf("panic: %v", r)
		}
	}()
	return h.Execute(ctx, cmd)
}

// NeedsDialog reports whether any handler flags cmd as interactive.
func (c *Chain) NeedsDialog(cmd string) bool {
	cmd = strings.TrimSpace(cmd)
	for _, h := range c.handlers {
		if dc, ok := h.(DialogChecker); ok && dc.NeedsDialog(cmd) {
			return true
		}
	}
	return false
}

// NeedsDialog asks e, if it knows how to answer.
func NeedsDialog(e Executor, cmd string) bool {
	if dc, ok := e.(DialogChecker); ok {
		return dc.NeedsDialog(cmd)
	}
	return false
}

func firstWord(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return s
}
