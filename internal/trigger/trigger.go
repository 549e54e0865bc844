// Package trigger matches script condition lines to immediate or delayed
// action lists.
//
// A Runtime either declines a condition (no match) or returns one of three
// results: the actions ran now, the actions were scheduled, or the condition
// was recognized but failed.
package trigger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

type Kind int

const (
	Executed Kind = iota
	Scheduled
	Failed
)

func (k Kind) String() string {
	switch k {
	case Executed:
		return "executed"
	case Scheduled:
		return "scheduled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of a matched condition. HandleID and At are set for
// Scheduled only.
type Result struct {
	Kind     Kind
	HandleID string
	At       time.Time
	Message  string
}

// Line renders the result the way it appears in a session log.
func (r Result) Line() string {
	switch r.Kind {
	case Scheduled:
		return fmt.Sprintf("Info: scheduled %s at %s", r.HandleID, r.At.Format("2006-01-02 15:04:05"))
	case Executed:
		if r.Message != "" {
			return "Info: " + r.Message
		}
		return "Info: executed"
	default:
		if strings.HasPrefix(r.Message, "Error") {
			return r.Message
		}
		return "Error: " + r.Message
	}
}

func executed(msg string) Result { return Result{Kind: Executed, Message: msg} }

func failed(format string, a ...any) Result {
	return Result{Kind: Failed, Message: fmt.Sprintf(format, a...)}
}

// Host carries out what a runtime decides.
type Host interface {
	// Schedule delivers actions after delay and returns the handle id.
	Schedule(delay time.Duration, actions []string) (string, error)
	// RunNow enqueues actions immediately.
	RunNow(actions []string)
}

type Runtime interface {
	Name() string
	// Match returns false when the condition is not one this runtime knows.
	Match(ctx context.Context, condition string, actions []string, host Host) (Result, bool)
}

// Set looks runtimes up by name.
type Set struct {
	byName map[string]Runtime
}

func NewSet(rs ...Runtime) *Set {
	s := &Set{byName: map[string]Runtime{}}
	for _, r := range rs {
		if r != nil {
			s.byName[strings.ToLower(r.Name())] = r
		}
	}
	return s
}

func (s *Set) Get(name string) (Runtime, bool) {
	r, ok := s.byName[strings.ToLower(strings.TrimSpace(name))]
	return r, ok
}

func (s *Set) Names() []string {
	out := make([]string, 0, len(s.byName))
	for n := range s.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// stripIf removes the optional leading "if".
func stripIf(condition string) string {
	c := strings.TrimSpace(condition)
	if len(c) > 2 && strings.EqualFold(c[:2], "if") && (c[2] == ' ' || c[2] == '\t') {
		return strings.TrimSpace(c[2:])
	}
	return c
}
