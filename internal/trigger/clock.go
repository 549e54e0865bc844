package trigger

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	reTime = regexp.MustCompile(`(?i)^time\s+([^:\s]*):(\S*)$`)
	reWait = regexp.MustCompile(`(?i)^wait:\s*(\S*?)\s*(?:s|sec|secs|second|seconds)?$`)
)

// Clock handles "time HH:MM" and "wait:N sec".
type Clock struct {
	Now func() time.Time
}

func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{Now: now}
}

func (c *Clock) Name() string { return "clock" }

func (c *Clock) Match(_ context.Context, condition string, actions []string, host Host) (Result, bool) {
	cond := stripIf(condition)
	if m := reTime.FindStringSubmatch(cond); m != nil {
		hour := clamp(atoi(m[1]), 0, 23)
		minute := clamp(atoi(m[2]), 0, 59)
		now := c.now()
		at, err := NextDaily(now, hour, minute)
		if err != nil {
			return failed("time %02d:%02d: %v", hour, minute, err), true
		}
		id, err := host.Schedule(at.Sub(now), actions)
		if err != nil {
			return failed("time %02d:%02d: %v", hour, minute, err), true
		}
		return Result{Kind: Scheduled, HandleID: id, At: at}, true
	}
	if m := reWait.FindStringSubmatch(cond); m != nil {
		secs := atoi(m[1])
		if secs < 0 {
			secs = 0
		}
		delay := time.Duration(secs) * time.Second
		id, err := host.Schedule(delay, actions)
		if err != nil {
			return failed("wait %d sec: %v", secs, err), true
		}
		return Result{Kind: Scheduled, HandleID: id, At: c.now().Add(delay)}, true
	}
	return Result{}, false
}

func (c *Clock) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// NextDaily returns the first hour:minute strictly after now, in now's
// location.
func NextDaily(now time.Time, hour, minute int) (time.Time, error) {
	sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", minute, hour))
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(now), nil
}

// atoi is lenient: anything unparsable counts as zero.
func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
