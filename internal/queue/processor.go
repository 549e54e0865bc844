// Package queue drains command items through an executor.
//
// One drain loop runs per generation. Foreground items run strictly in FIFO
// order, background items are dispatched at their queue position and finish
// whenever they finish, and a parallel group is a barrier for everything queued
// after it. Stop ends the generation: the queue is emptied, in-flight work and
// interactive waits are cancelled, and every scheduled handle of every session
// is cancelled. The next enqueue starts a new generation.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ward/internal/command"
	"ward/internal/eventbus"
	"ward/internal/executor"
	"ward/internal/runtime/supervisor"
	"ward/internal/storage"
	logx "ward/pkg/logx"
)

// DefaultSession owns units enqueued without an explicit session.
const DefaultSession = "main"

// ErrBackgroundChain rejects "if ... &" and "else ... &".
var ErrBackgroundChain = errors.New("if/else cannot run in the background")

type Config struct {
	HistorySize  int
	PollInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	return c
}

// Journal persists result lines. storage.Store satisfies it.
type Journal interface {
	AppendRecord(ctx context.Context, r storage.Record) error
}

type Options struct {
	Executor executor.Executor
	Logger   logx.Logger
	Bus      eventbus.Bus
	Journal  Journal
	Config   Config

	// Sink receives every result line synchronously, in emit order.
	Sink func(Result)

	// Now is the clock used for due times; defaults to time.Now.
	Now func() time.Time
}

// Result is the human-readable line a unit produced.
type Result struct {
	Session    string
	Command    string
	Text       string
	Class      executor.Class
	Background bool
	At         time.Time
	Took       time.Duration
}

// StopReport summarizes a global stop.
type StopReport struct {
	Dropped     int
	Cancelled   int
	Interrupted int
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running     bool
	QueueLen    int
	Processed   int64
	Background  int64
	Record      Record
	ChainActive bool
	ChainFired  bool
	Sessions    map[string]int
	History     []HistoryItem
}

type entry struct {
	session string
	// batch groups the items of one enqueue call; "&&" never crosses it.
	batch uint64
	item  command.Item
}

// generation is the lifetime between two stops.
type generation struct {
	ctx      context.Context
	sup      *supervisor.Supervisor
	draining bool
}

// unit carries the context of the item being processed.
type unit struct {
	gen     *generation
	session string
	// weight is what the processed count will grow by once the unit returns.
	weight int64
}

type Processor struct {
	base   context.Context
	exec   executor.Executor
	log    logx.Logger
	bus    eventbus.Bus
	jrnl   Journal
	sink   func(Result)
	now    func() time.Time
	cfg    Config
	reg    *SessionRegistry
	timers *supervisor.Supervisor

	processed atomic.Int64

	emitMu sync.Mutex

	mu      sync.Mutex
	queue   []entry
	batches uint64
	gen     *generation
	record  Record
	chain   chainState
	history historyRing
}

// New builds a processor whose goroutines all end when ctx does.
func New(ctx context.Context, opts Options) *Processor {
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "queue"))
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.Nop{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	exec := opts.Executor
	if exec == nil {
		exec = executor.NewChain(log)
	}
	cfg := opts.Config.withDefaults()
	p := &Processor{
		base:    ctx,
		exec:    exec,
		log:     log,
		bus:     bus,
		jrnl:    opts.Journal,
		sink:    opts.Sink,
		now:     now,
		cfg:     cfg,
		reg:     NewSessionRegistry(),
		timers:  supervisor.New(ctx, supervisor.WithLogger(log)),
		history: historyRing{size: cfg.HistorySize},
	}
	p.reg.Open(DefaultSession)
	return p
}

func (p *Processor) Registry() *SessionRegistry { return p.reg }

// Processed is the number of units accounted so far. Background units count
// when dispatched, parallel groups when their barrier releases.
func (p *Processor) Processed() int64 { return p.processed.Load() }

// Enqueue parses text into the default session.
func (p *Processor) Enqueue(text string) int {
	return p.EnqueueIn(DefaultSession, text)
}

// EnqueueIn parses text and appends the items under session.
func (p *Processor) EnqueueIn(session, text string) int {
	return p.EnqueueItems(session, command.Parse(text)...)
}

// EnqueueItems appends items and starts the drain loop if it is idle. Items
// for a stopped session are refused.
func (p *Processor) EnqueueItems(session string, items ...command.Item) int {
	if len(items) == 0 {
		return 0
	}
	if session == "" {
		session = DefaultSession
	}
	if p.reg.Closed(session) {
		p.log.Debug("enqueue refused", logx.String("session", session), logx.Int("items", len(items)))
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches++
	for _, it := range items {
		p.queue = append(p.queue, entry{session: session, batch: p.batches, item: it})
	}
	g := p.gen
	if g == nil {
		sup := supervisor.New(p.base, supervisor.WithLogger(p.log))
		g = &generation{ctx: sup.Context(), sup: sup}
		p.gen = g
	}
	if !g.draining {
		g.draining = true
		go p.drain(g)
	}
	return len(items)
}

// ScheduleIn delivers actions into session after delay. The handle is owned
// by session and removes itself once delivered.
func (p *Processor) ScheduleIn(session string, delay time.Duration, actions []string) (*Handle, error) {
	if delay < 0 {
		delay = 0
	}
	ctx, cancel := context.WithCancel(p.base)
	h, err := p.reg.Register(session, "delivery", p.now().Add(delay), cancel)
	if err != nil {
		return nil, err
	}
	items := parseActions(actions)
	p.timers.Go0("delivery."+h.ID, func(context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		h.Fire(true, func() { p.EnqueueItems(session, items...) })
	})
	return h, nil
}

// DropSession removes the queued entries of session and returns how many were
// dropped. Work already dispatched is not affected.
func (p *Processor) DropSession(session string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.queue[:0]
	for _, e := range p.queue {
		if e.session != session {
			kept = append(kept, e)
		}
	}
	dropped := len(p.queue) - len(kept)
	clear(p.queue[len(kept):])
	p.queue = kept
	return dropped
}

func parseActions(actions []string) []command.Item {
	var items []command.Item
	for _, a := range actions {
		items = append(items, command.Parse(a)...)
	}
	return items
}

// Stop empties the queue and cancels everything in flight: the current
// dispatch, background units, and the scheduled handles of every session.
// Calling it again reports zeros.
func (p *Processor) Stop() StopReport {
	cancelled := p.reg.CancelAll()

	p.mu.Lock()
	dropped := len(p.queue)
	p.queue = nil
	g := p.gen
	p.gen = nil
	p.chain = chainState{}
	draining := g != nil && g.draining
	p.mu.Unlock()

	rep := StopReport{Dropped: dropped, Cancelled: cancelled}
	if g != nil {
		rep.Interrupted = int(g.sup.Counters().Active)
		if draining {
			rep.Interrupted++
		}
		g.sup.Cancel()
	}
	if g != nil || dropped > 0 || cancelled > 0 {
		p.log.Info("queue stopped", logx.Int("dropped", rep.Dropped), logx.Int("cancelled", rep.Cancelled), logx.Int("interrupted", rep.Interrupted))
		p.bus.Publish(eventbus.Event{Type: eventbus.QueueStopped, Data: rep})
	}
	return rep
}

// Shutdown stops the queue and waits for timers and background units.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	g := p.gen
	p.mu.Unlock()
	p.Stop()
	if g != nil {
		if err := g.sup.Wait(ctx); err != nil && ctx.Err() != nil {
			return err
		}
	}
	p.timers.Cancel()
	if err := p.timers.Wait(ctx); err != nil && ctx.Err() != nil {
		return err
	}
	return nil
}

// WaitIdle blocks until Idle reports true or ctx ends.
func (p *Processor) WaitIdle(ctx context.Context) error {
	t := time.NewTicker(5 * time.Millisecond)
	defer t.Stop()
	for {
		if p.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Idle reports whether the queue is empty, the drain loop has exited and no
// background unit is running.
func (p *Processor) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		return false
	}
	g := p.gen
	return g == nil || (!g.draining && g.sup.Counters().Active == 0)
}

func (p *Processor) Snapshot() Snapshot {
	p.mu.Lock()
	s := Snapshot{
		QueueLen:    len(p.queue),
		Processed:   p.processed.Load(),
		Record:      p.record,
		ChainActive: p.chain.active,
		ChainFired:  p.chain.fired,
		History:     p.history.snapshot(),
	}
	if p.gen != nil {
		s.Running = p.gen.draining
		s.Background = p.gen.sup.Counters().Active
	}
	p.mu.Unlock()
	s.Sessions = p.reg.Sizes()
	return s
}

// next pops the head for generation g. It reports false when g must exit.
func (p *Processor) next(g *generation) (entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gen != g || g.ctx.Err() != nil {
		g.draining = false
		return entry{}, false
	}
	if len(p.queue) == 0 {
		g.draining = false
		return entry{}, false
	}
	e := p.queue[0]
	p.queue = p.queue[1:]
	return e, true
}

func (p *Processor) drain(g *generation) {
	for {
		e, ok := p.next(g)
		if !ok {
			return
		}
		class := p.process(g, e)
		if class == executor.ClassError && e.item.Kind() == command.KindSingle && e.item.ConditionalNext() {
			p.skipConditional(g, e)
		}
	}
}

// skipConditional drops the item after a failed "&&" link, and every further
// item that was itself joined by "&&". Only items of the failed entry's batch
// are touched; a trailing "&&" skips nothing.
func (p *Processor) skipConditional(g *generation, failed entry) {
	for {
		p.mu.Lock()
		if p.gen != g || len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		e := p.queue[0]
		if e.batch != failed.batch || e.session != failed.session {
			p.mu.Unlock()
			return
		}
		p.queue = p.queue[1:]
		p.mu.Unlock()

		text := e.item.Text()
		p.emit(Result{Session: e.session, Command: text, Text: "Info: skipped (previous command failed): " + text}, eventbus.UnitSkipped)
		if e.item.Kind() != command.KindSingle || !e.item.ConditionalNext() {
			return
		}
	}
}

func (p *Processor) process(g *generation, e entry) executor.Class {
	switch {
	case e.item.Kind() == command.KindParallel:
		return p.runParallel(g, e)
	case e.item.Background():
		p.runBackground(g, e)
		return executor.ClassPlain
	default:
		return p.runForeground(g, e)
	}
}

func (p *Processor) runForeground(g *generation, e entry) executor.Class {
	u := &unit{gen: g, session: e.session, weight: 1}
	text := strings.TrimSpace(e.item.Text())
	start := time.Now()

	var (
		shown string
		out   executor.Outcome
	)
	switch {
	case isIf(text):
		shown, out = p.evalIf(u, text)
	case isElse(text):
		shown, out = p.evalElse(u, text)
	default:
		p.resetChain()
		shown, out = text, p.runInner(u, text)
	}

	p.mu.Lock()
	if p.gen == g {
		p.record = Record{LastCommand: shown, LastResult: out.Text}
	}
	p.mu.Unlock()
	p.processed.Add(1)

	r := Result{Session: e.session, Command: shown, Text: out.Text, Took: time.Since(start)}
	if out.Silent {
		p.remember(r)
		return executor.ClassPlain
	}
	return p.emit(r, eventbus.UnitResult)
}

// runInner is the single-command path shared by plain units and the branches
// of an if/else chain. Chains do not nest.
func (p *Processor) runInner(u *unit, text string) executor.Outcome {
	switch {
	case isIf(text) || isElse(text):
		return executor.Outcome{Text: executor.ResultText(&executor.ParseError{What: "nested if", Input: text})}
	case isCycle(text):
		return p.startCycle(u, text)
	default:
		return p.execute(u.gen.ctx, text)
	}
}

func (p *Processor) runBackground(g *generation, e entry) {
	p.resetChain()
	text := strings.TrimSpace(e.item.Text())
	u := &unit{gen: g, session: e.session, weight: 0}
	// Background units count at dispatch time.
	p.processed.Add(1)
	if isIf(text) || isElse(text) {
		err := fmt.Errorf("%w: %s", ErrBackgroundChain, text)
		p.emit(Result{Session: e.session, Command: text, Text: executor.ResultText(err), Background: true}, eventbus.UnitResult)
		return
	}
	g.sup.Go0("background", func(context.Context) {
		start := time.Now()
		out := p.runInner(u, text)
		if out.Silent {
			return
		}
		p.emit(Result{Session: e.session, Command: text, Text: out.Text, Background: true, Took: time.Since(start)}, eventbus.UnitResult)
	})
}

func (p *Processor) runParallel(g *generation, e entry) executor.Class {
	p.resetChain()
	cmds := e.item.Commands()
	start := time.Now()
	for _, c := range cmds {
		if executor.NeedsDialog(p.exec, c) {
			err := fmt.Errorf("parallel group rejected: %s: %w", c, executor.ErrNeedsDialog)
			return p.emit(Result{Session: e.session, Command: e.item.Text(), Text: executor.ResultText(err), Took: time.Since(start)}, eventbus.UnitResult)
		}
	}

	u := &unit{gen: g, session: e.session, weight: int64(len(cmds))}
	results := make([]string, len(cmds))
	var eg errgroup.Group
	for i, c := range cmds {
		i, c := i, c
		eg.Go(func() error {
			t0 := time.Now()
			out := p.runInner(u, c)
			results[i] = out.Text
			if !out.Silent {
				p.emit(Result{Session: e.session, Command: c, Text: out.Text, Took: time.Since(t0)}, eventbus.UnitResult)
			}
			return nil
		})
	}
	_ = eg.Wait()
	p.processed.Add(int64(len(cmds)))

	joined := strings.Join(nonEmpty(results), "\n")
	p.mu.Lock()
	if p.gen == g {
		p.record = Record{LastCommand: e.item.Text(), LastResult: joined}
	}
	p.mu.Unlock()
	p.remember(Result{Session: e.session, Command: e.item.Text(), Text: joined, Took: time.Since(start)})
	return executor.Classify(joined)
}

// execute dispatches one command and folds every failure into the outcome.
func (p *Processor) execute(ctx context.Context, cmd string) (out executor.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("executor panicked", logx.String("cmd", cmd), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			out = executor.Outcome{Text: executor.ResultText(&executor.DispatchError{Command: cmd, Err: fmt.Errorf("panic: %v", r)})}
		}
	}()
	res, err := p.exec.Execute(ctx, cmd)
	if err != nil {
		if ctx.Err() != nil {
			err = executor.Cancelled(err)
		}
		return executor.Outcome{Text: executor.ResultText(err)}
	}
	return res
}

// emit publishes a result line everywhere it goes and returns its class.
func (p *Processor) emit(r Result, kind string) executor.Class {
	if r.At.IsZero() {
		r.At = p.now()
	}
	r.Class = executor.Classify(r.Text)

	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	fields := []logx.Field{logx.String("session", r.Session), logx.String("cmd", r.Command), logx.String("result", r.Text), logx.Duration("took", r.Took)}
	if r.Background {
		fields = append(fields, logx.Bool("background", true))
	}
	if r.Class == executor.ClassError {
		p.log.Warn("unit failed", fields...)
	} else {
		p.log.Debug("unit done", fields...)
	}

	p.remember(r)
	if p.sink != nil {
		p.sink(r)
	}
	p.bus.Publish(eventbus.Event{Type: kind, Time: r.At, Session: r.Session, Data: r})
	if p.jrnl != nil {
		rec := storage.Record{At: r.At, Session: r.Session, Command: r.Command, Result: r.Text, Class: r.Class.String(), TookMS: r.Took.Milliseconds()}
		if err := p.jrnl.AppendRecord(context.Background(), rec); err != nil {
			p.log.Warn("journal append failed", logx.Err(err))
		}
	}
	return r.Class
}

func (p *Processor) remember(r Result) {
	if r.At.IsZero() {
		r.At = p.now()
	}
	p.mu.Lock()
	p.history.add(HistoryItem{
		Session:    r.Session,
		Command:    r.Command,
		Result:     r.Text,
		Class:      executor.Classify(r.Text).String(),
		Background: r.Background,
		Started:    r.At.Add(-r.Took),
		Duration:   r.Took,
	})
	p.mu.Unlock()
}

func nonEmpty(in []string) []string {
	out := in[:0:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
