package queue

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ward/internal/command"
	"ward/internal/eventbus"
	"ward/internal/executor"
	logx "ward/pkg/logx"
)

var (
	cycleTimedRe = regexp.MustCompile(`(?i)^cycle\s+(\d+)t\s+(\d+)(ms|s|m)\s*=\s*(.+)$`)
	cycleNextRe  = regexp.MustCompile(`(?i)^cycle\s+next\s+(\d+)i\s+(\d+)t\s*=\s*(.+)$`)
)

func isCycle(text string) bool { return hasWord(text, "cycle") }

// CycleFire is the payload of a cycle.fired event.
type CycleFire struct {
	HandleID string
	Command  string
	Round    int
	Of       int
}

func parseInterval(n, unit string) time.Duration {
	v, _ := strconv.Atoi(n)
	switch strings.ToLower(unit) {
	case "ms":
		return time.Duration(v) * time.Millisecond
	case "m":
		return time.Duration(v) * time.Minute
	default:
		return time.Duration(v) * time.Second
	}
}

// startCycle registers a repeating injection under the unit's session and
// acknowledges it.
func (p *Processor) startCycle(u *unit, text string) executor.Outcome {
	text = strings.TrimSpace(text)
	if m := cycleNextRe.FindStringSubmatch(text); m != nil {
		every, _ := strconv.Atoi(m[1])
		times, _ := strconv.Atoi(m[2])
		cmd := strings.TrimSpace(m[3])
		if every <= 0 || times <= 0 {
			return executor.Outcome{Text: executor.ResultText(&executor.ParseError{What: "cycle", Input: text})}
		}
		h, err := p.watchProcessed(u, int64(every), times, cmd)
		if err != nil {
			return executor.Outcome{Text: executor.ResultText(err)}
		}
		return executor.Infof("cycle %s: %q every %d processed, %d times", h.ID, cmd, every, times)
	}
	if m := cycleTimedRe.FindStringSubmatch(text); m != nil {
		times, _ := strconv.Atoi(m[1])
		interval := parseInterval(m[2], m[3])
		cmd := strings.TrimSpace(m[4])
		if times <= 0 {
			return executor.Outcome{Text: executor.ResultText(&executor.ParseError{What: "cycle", Input: text})}
		}
		h, err := p.repeatEvery(u.session, interval, times, cmd)
		if err != nil {
			return executor.Outcome{Text: executor.ResultText(err)}
		}
		return executor.Infof("cycle %s: %q every %s, %d times", h.ID, cmd, interval, times)
	}
	return executor.Outcome{Text: executor.ResultText(&executor.ParseError{What: "cycle", Input: text})}
}

// repeatEvery waits interval before each of the times injections.
func (p *Processor) repeatEvery(session string, interval time.Duration, times int, cmd string) (*Handle, error) {
	ctx, cancel := context.WithCancel(p.base)
	h, err := p.reg.Register(session, "cycle", p.now().Add(interval), cancel)
	if err != nil {
		return nil, err
	}
	p.timers.Go0("cycle."+h.ID, func(context.Context) {
		t := time.NewTimer(interval)
		defer t.Stop()
		for round := 1; round <= times; round++ {
			if round > 1 {
				t.Reset(interval)
			}
			select {
			case <-ctx.Done():
				return
			case <-t.C:
			}
			if !h.Fire(round == times, func() { p.inject(h, cmd, round, times) }) {
				return
			}
		}
	})
	return h, nil
}

// watchProcessed injects cmd each time the processed count advances by every.
// The issuing unit is counted once it returns, so the baseline includes it.
func (p *Processor) watchProcessed(u *unit, every int64, times int, cmd string) (*Handle, error) {
	ctx, cancel := context.WithCancel(p.base)
	h, err := p.reg.Register(u.session, "cycle", time.Time{}, cancel)
	if err != nil {
		return nil, err
	}
	last := p.processed.Load() + u.weight
	lim := rate.NewLimiter(rate.Every(p.cfg.PollInterval), 1)
	p.timers.Go0("cycle."+h.ID, func(context.Context) {
		round := 0
		for round < times {
			if err := lim.Wait(ctx); err != nil {
				return
			}
			cur := p.processed.Load()
			for round < times && cur-last >= every {
				last += every
				round++
				r := round
				if !h.Fire(round == times, func() { p.inject(h, cmd, r, times) }) {
					return
				}
			}
		}
	})
	return h, nil
}

func (p *Processor) inject(h *Handle, cmd string, round, of int) {
	p.log.Debug("cycle fired", logx.String("handle", h.ID), logx.String("session", h.Session), logx.String("cmd", cmd), logx.Int("round", round))
	p.bus.Publish(eventbus.Event{
		Type:    eventbus.CycleFired,
		Session: h.Session,
		Data:    CycleFire{HandleID: h.ID, Command: cmd, Round: round, Of: of},
	})
	p.EnqueueItems(h.Session, command.NewSingle(cmd, false, false))
}
