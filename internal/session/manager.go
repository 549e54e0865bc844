// Package session runs scripts: it parses trigger blocks, hands each to the
// trigger runtimes named in the script header, and owns the scheduled handles
// that result.
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"ward/internal/eventbus"
	"ward/internal/executor"
	"ward/internal/queue"
	"ward/internal/trigger"
	logx "ward/pkg/logx"
)

// Queue is the part of the queue processor sessions need.
type Queue interface {
	EnqueueIn(session, text string) int
	ScheduleIn(session string, delay time.Duration, actions []string) (*queue.Handle, error)
	DropSession(session string) int
	Registry() *queue.SessionRegistry
}

type Info struct {
	ID      string
	Started time.Time
	Modules []string
	Pending int
}

type StopReport struct {
	ID        string
	Cancelled int
	// Dropped counts queued entries of the session that never ran.
	Dropped int
	Known   bool
}

type ValidationReport struct {
	Modules      []string
	Blocks       int
	Unrecognized []string
}

func (r ValidationReport) OK() bool { return len(r.Unrecognized) == 0 }

type Manager struct {
	q        Queue
	runtimes *trigger.Set
	log      logx.Logger
	bus      eventbus.Bus

	mu       sync.Mutex
	sessions map[string]Info
}

func NewManager(q Queue, runtimes *trigger.Set, log logx.Logger, bus eventbus.Bus) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if runtimes == nil {
		runtimes = trigger.NewSet()
	}
	return &Manager{
		q:        q,
		runtimes: runtimes,
		log:      log.With(logx.String("comp", "session")),
		bus:      bus,
		sessions: map[string]Info{},
	}
}

// Start parses text and runs every block under a new session.
func (m *Manager) Start(ctx context.Context, text string) (string, []string, error) {
	script, err := Parse(text)
	if err != nil {
		return "", nil, err
	}
	rts, err := m.resolve(script.Modules)
	if err != nil {
		return "", nil, err
	}

	id := uuid.NewString()
	m.q.Registry().Open(id)
	m.mu.Lock()
	m.sessions[id] = Info{ID: id, Started: time.Now(), Modules: script.Modules}
	m.mu.Unlock()

	h := liveHost{q: m.q, session: id}
	var out []string
	for _, b := range script.Blocks {
		if err := ctx.Err(); err != nil {
			return id, out, executor.Cancelled(err)
		}
		line := m.run(ctx, id, rts, b, h)
		out = append(out, fmt.Sprintf("%s -> %s", b.Condition, line))
	}

	m.log.Info("session started", logx.String("session", id), logx.Strings("modules", script.Modules), logx.Int("blocks", len(script.Blocks)))
	m.bus.Publish(eventbus.Event{Type: eventbus.SessionStarted, Session: id, Data: len(script.Blocks)})
	return id, out, nil
}

func (m *Manager) run(ctx context.Context, id string, rts []trigger.Runtime, b Block, h trigger.Host) string {
	for _, rt := range rts {
		res, ok := rt.Match(ctx, b.Condition, b.Actions, h)
		if !ok {
			continue
		}
		m.log.Debug("trigger matched", logx.String("session", id), logx.String("runtime", rt.Name()), logx.String("condition", b.Condition), logx.String("result", res.Kind.String()))
		m.bus.Publish(eventbus.Event{Type: eventbus.TriggerFired, Session: id, Data: res})
		return res.Line()
	}
	if b.Bare() {
		m.q.EnqueueIn(id, b.Condition)
		return "Info: queued"
	}
	m.log.Warn("unrecognized condition", logx.String("session", id), logx.String("condition", b.Condition), logx.Int("line", b.Line))
	return executor.ResultText(fmt.Errorf("%w: %s", executor.ErrUnrecognized, b.Condition))
}

// Stop cancels every handle of the session, drops its queued entries and
// forgets it. The session accepts no new work afterwards. Unknown ids are a
// no-op.
func (m *Manager) Stop(id string) StopReport {
	m.mu.Lock()
	_, tracked := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	n, known := m.q.Registry().CancelSession(id)
	rep := StopReport{ID: id, Cancelled: n, Dropped: m.q.DropSession(id), Known: tracked || known}
	if rep.Known {
		m.log.Info("session stopped", logx.String("session", id), logx.Int("cancelled", n), logx.Int("dropped", rep.Dropped))
		m.bus.Publish(eventbus.Event{Type: eventbus.SessionStopped, Session: id, Data: rep})
	}
	return rep
}

// Validate parses text like Start and reports condition lines no listed
// runtime recognizes. Nothing is scheduled or run.
func (m *Manager) Validate(text string) (ValidationReport, error) {
	script, err := Parse(text)
	rep := ValidationReport{Modules: script.Modules, Blocks: len(script.Blocks)}
	if err != nil {
		return rep, err
	}
	rts, err := m.resolve(script.Modules)
	if err != nil {
		return rep, err
	}
	var dry dryHost
	for _, b := range script.Blocks {
		if b.Bare() {
			continue
		}
		matched := false
		for _, rt := range rts {
			if _, ok := rt.Match(context.Background(), b.Condition, b.Actions, dry); ok {
				matched = true
				break
			}
		}
		if !matched {
			rep.Unrecognized = append(rep.Unrecognized, b.Condition)
		}
	}
	return rep, nil
}

// Sessions lists running sessions, oldest first.
func (m *Manager) Sessions() []Info {
	m.mu.Lock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.Unlock()
	for i := range out {
		out[i].Pending = m.q.Registry().Count(out[i].ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

func (m *Manager) resolve(names []string) ([]trigger.Runtime, error) {
	var errs []error
	out := make([]trigger.Runtime, 0, len(names))
	for _, n := range names {
		rt, ok := m.runtimes.Get(n)
		if !ok {
			errs = append(errs, fmt.Errorf("%w: trigger module %q", executor.ErrUnavailable, n))
			continue
		}
		out = append(out, rt)
	}
	return out, errors.Join(errs...)
}

type liveHost struct {
	q       Queue
	session string
}

func (h liveHost) Schedule(delay time.Duration, actions []string) (string, error) {
	hd, err := h.q.ScheduleIn(h.session, delay, actions)
	if err != nil {
		return "", err
	}
	return hd.ID, nil
}

func (h liveHost) RunNow(actions []string) {
	for _, a := range actions {
		h.q.EnqueueIn(h.session, a)
	}
}

// dryHost accepts everything and does nothing.
type dryHost struct{}

func (dryHost) Schedule(time.Duration, []string) (string, error) { return "dry-run", nil }
func (dryHost) RunNow([]string)                                  {}
