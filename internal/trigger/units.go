package trigger

import (
	"context"
	"regexp"
	"strings"
	"time"

	"ward/internal/executor"
	"ward/pkg/units"
)

var reUnit = regexp.MustCompile(`(?i)^unit\s+(\S+)\s+(?:is\s+)?(active|inactive|failed)$`)

// UnitSource reports systemd unit state. *units.Client satisfies it.
type UnitSource interface {
	State(ctx context.Context, name string) (units.Status, error)
}

// Units handles "unit <name> [is] active|inactive|failed". The actions run
// when the unit is currently in that state.
type Units struct {
	Source  UnitSource
	Timeout time.Duration
}

func NewUnits(src UnitSource) *Units { return &Units{Source: src, Timeout: 5 * time.Second} }

func (u *Units) Name() string { return "units" }

func (u *Units) Match(ctx context.Context, condition string, actions []string, host Host) (Result, bool) {
	m := reUnit.FindStringSubmatch(stripIf(condition))
	if m == nil {
		return Result{}, false
	}
	name, want := m[1], strings.ToLower(m[2])
	if u.Source == nil {
		return failed("unit %s: %v", name, executor.ErrUnavailable), true
	}
	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	st, err := u.Source.State(ctx, name)
	if err != nil {
		return failed("unit %s: %v", name, err), true
	}
	if st.NotFound() {
		return failed("unit %s: not found", name), true
	}
	if !strings.EqualFold(st.Active, want) {
		return failed("unit %s: %s, not %s", name, st.Active, want), true
	}
	host.RunNow(actions)
	return executed("unit " + name + " " + want), true
}
