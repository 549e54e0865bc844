package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotHandled is returned by a Handler that does not recognize a command.
	ErrNotHandled = errors.New("command not handled")

	// ErrCancelled interrupts a suspended wait on global or partial stop.
	ErrCancelled = errors.New("cancelled")

	// ErrUnavailable reports a missing resource (directory tree, session config).
	ErrUnavailable = errors.New("resource unavailable")

	// ErrUnrecognized reports a condition line no trigger runtime matched.
	ErrUnrecognized = errors.New("unrecognized condition")

	// ErrNeedsDialog rejects a parallel group containing an interactive command.
	ErrNeedsDialog = errors.New("command requires a foreground dialog")
)

// ParseError reports malformed cycle/if/trigger syntax.
type ParseError struct {
	What  string
	Input string
}

func (e *ParseError) Error() string {
	if e.Input == "" {
		return "parse " + e.What
	}
	return fmt.Sprintf("parse %s: %q", e.What, e.Input)
}

// DispatchError wraps an executor fault for a given command.
type DispatchError struct {
	Command string
	Err     error
}

func (e *DispatchError) Error() string { return fmt.Sprintf("%s: %v", e.Command, e.Err) }
func (e *DispatchError) Unwrap() error { return e.Err }

// Cancelled maps context errors onto ErrCancelled and leaves others alone.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return err
}

// ResultText renders err as an "Error: ..." result line.
func ResultText(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrCancelled) {
		return "Error: cancelled"
	}
	msg := strings.TrimSpace(err.Error())
	if strings.HasPrefix(msg, "Error") {
		return msg
	}
	return "Error: " + msg
}
