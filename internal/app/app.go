// Package app wires configuration, logging, the journal, the queue processor
// and the session manager into one runnable unit.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"ward/internal/config"
	"ward/internal/eventbus"
	"ward/internal/executor"
	"ward/internal/executor/builtin"
	"ward/internal/interact"
	"ward/internal/observability/debughttp"
	"ward/internal/queue"
	"ward/internal/runtime/supervisor"
	"ward/internal/session"
	"ward/internal/storage"
	"ward/internal/trigger"
	"ward/internal/vfs"
	logx "ward/pkg/logx"
	"ward/pkg/units"
)

var (
	ErrNotStarted     = errors.New("app not started")
	ErrAlreadyStarted = errors.New("app already started")
)

type Options struct {
	// ConfigPath is loaded and watched for changes. When empty, Config (or
	// config.Default) is used as is.
	ConfigPath string
	Config     *config.Config

	// Sink receives every result line, in emit order.
	Sink func(queue.Result)

	// Tree overrides files.root.
	Tree *vfs.Tree

	// Clock drives clock triggers; defaults to time.Now.
	Clock func() time.Time

	// Units overrides the systemd connection opened when units.enabled is set.
	Units trigger.UnitSource
}

type App struct {
	opts Options
	cfgm *config.ConfigManager
	cfg  *config.Config

	sup *supervisor.Supervisor

	root  logx.Logger
	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	units *units.Client
	tree  *vfs.Tree
	hub   *interact.Hub
	exec  *executor.Chain
	rts   *trigger.Set
	qcfg  queue.Config
	debug *debughttp.Server

	q        *queue.Processor
	sessions *session.Manager

	stopOnce sync.Once
}

func New(opts Options) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  *config.Config
	)
	if path := strings.TrimSpace(opts.ConfigPath); path != "" {
		cfgm = config.NewConfigManager(path)
		c, err := cfgm.Load()
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
		cfg = c
	} else {
		cfg = opts.Config
		if cfg == nil {
			cfg = config.Default()
		}
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	qcfg, err := mapQueueConfig(cfg)
	if err != nil {
		return nil, err
	}
	shell, err := mapShellConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, storageOn, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	unitTimeout, err := config.ParseDurationOrDefault("units.timeout", cfg.Units.Timeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))

	var store storage.Store
	if storageOn {
		st, err := storage.Open(sc, root)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))
	}

	tree := opts.Tree
	if tree == nil {
		tree = mapFilesTree(cfg)
	}

	var (
		client *units.Client
		src    = opts.Units
	)
	if src == nil && cfg.Units.Enabled {
		// Without a bus the unit trigger reports itself unavailable.
		c, err := units.Dial(context.Background())
		if err != nil {
			log.Warn("systemd unavailable", logx.Err(err))
		} else {
			client, src = c, c
		}
	}

	bus := eventbus.New()
	hub := interact.NewHub(bus)
	chain := executor.NewChain(root.With(logx.String("comp", "executor")), builtin.Handlers(builtin.Deps{
		Hub:   hub,
		Tree:  tree,
		Units: src,
		Shell: shell,
	})...)
	unitRT := trigger.NewUnits(src)
	unitRT.Timeout = unitTimeout
	rts := trigger.NewSet(trigger.NewClock(opts.Clock), trigger.NewFiles(tree), unitRT)

	a := &App{
		opts:  opts,
		cfgm:  cfgm,
		cfg:   cfg,
		root:  root,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		units: client,
		tree:  tree,
		hub:   hub,
		exec:  chain,
		rts:   rts,
		qcfg:  qcfg,
	}
	if dcfg.Enabled() {
		a.debug = debughttp.New(dcfg, root.With(logx.String("comp", "debug")), a.status)
	}
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Logger() logx.Logger { return a.root }

// Config returns the config currently applied.
func (a *App) Config() *config.Config {
	if a.cfgm != nil {
		if c := a.cfgm.Get(); c != nil {
			return c
		}
	}
	return a.cfg
}

// Subscribe taps the event bus. Slow subscribers drop events.
func (a *App) Subscribe(buffer int) (<-chan eventbus.Event, func()) {
	return a.bus.Subscribe(buffer)
}

func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return ErrAlreadyStarted
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	var journal queue.Journal
	if a.store != nil {
		journal = a.store
	}
	a.q = queue.New(a.sup.Context(), queue.Options{
		Executor: a.exec,
		Logger:   a.root,
		Bus:      a.bus,
		Journal:  journal,
		Config:   a.qcfg,
		Sink:     a.opts.Sink,
	})
	a.sessions = session.NewManager(a.q, a.rts, a.root, a.bus)

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Debug only: cycles can be chatty.
				a.log.Debug("event", logx.String("type", e.Type), logx.String("session", e.Session), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfgm != nil {
		a.startConfigReload()
	}
	if a.debug != nil {
		a.sup.GoRestart("debug.http", a.debug.Serve, 500*time.Millisecond, 10*time.Second)
	}

	a.log.Info("app started",
		logx.Strings("triggers", a.rts.Names()),
		logx.Bool("journal", a.store != nil),
		logx.Bool("files", a.tree != nil),
	)
	return nil
}

// startConfigReload validates, applies and watches config changes. Only
// logging is applied live; other sections are reported as needing a restart.
func (a *App) startConfigReload() {
	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := mapQueueConfig(cfg); err != nil {
			return err
		}
		if _, err := mapShellConfig(cfg); err != nil {
			return err
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		if _, err := mapDebugConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				lastApplied = a.applyConfig(lastApplied, newCfg)
			}
		}
	})

	a.sup.GoRestart("config.watch", a.cfgm.Watch, time.Second, 30*time.Second)
}

func (a *App) applyConfig(prev, next *config.Config) *config.Config {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return next
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(mapLoggingConfig(next))

	if !config.HotReloadable(sections) {
		a.log.Warn("config change needs a restart to take effect", logx.Strings("sections", sections))
	}
	a.log.Info("config reloaded", fields...)
	return next
}

// ---- Operations ----

// Exec enqueues text on the default session. It returns how many items were
// queued.
func (a *App) Exec(text string) (int, error) {
	if a.q == nil {
		return 0, ErrNotStarted
	}
	return a.q.Enqueue(text), nil
}

// StartSession runs a script. The log holds one line per block.
func (a *App) StartSession(ctx context.Context, script string) (string, []string, error) {
	if a.sessions == nil {
		return "", nil, ErrNotStarted
	}
	return a.sessions.Start(ctx, script)
}

func (a *App) StopSession(id string) (session.StopReport, error) {
	if a.sessions == nil {
		return session.StopReport{}, ErrNotStarted
	}
	return a.sessions.Stop(id), nil
}

func (a *App) Sessions() []session.Info {
	if a.sessions == nil {
		return nil
	}
	return a.sessions.Sessions()
}

// Validate checks a script without running it. It works before Start.
func (a *App) Validate(script string) (session.ValidationReport, error) {
	m := a.sessions
	if m == nil {
		m = session.NewManager(nil, a.rts, a.root, eventbus.Nop{})
	}
	return m.Validate(script)
}

// StopQueue empties the queue and cancels every scheduled handle.
func (a *App) StopQueue() (queue.StopReport, error) {
	if a.q == nil {
		return queue.StopReport{}, ErrNotStarted
	}
	return a.q.Stop(), nil
}

// Answer resolves the oldest pending interactive step.
func (a *App) Answer(answer string) bool { return a.hub.ResolveOldest(answer) }

func (a *App) Pending() []interact.Step { return a.hub.Pending() }

func (a *App) Snapshot() (queue.Snapshot, error) {
	if a.q == nil {
		return queue.Snapshot{}, ErrNotStarted
	}
	return a.q.Snapshot(), nil
}

// Status is the document served at the debug server's /status.
type Status struct {
	Queue    queue.Snapshot  `json:"queue"`
	Sessions []session.Info  `json:"sessions"`
	Pending  []interact.Step `json:"pending"`
}

func (a *App) status() (any, error) {
	snap, err := a.Snapshot()
	if err != nil {
		return nil, err
	}
	return Status{Queue: snap, Sessions: a.Sessions(), Pending: a.Pending()}, nil
}

// DebugAddr is the bound debug server address, empty when it is off or not
// listening yet.
func (a *App) DebugAddr() string {
	if a.debug == nil {
		return ""
	}
	return a.debug.Addr()
}

// Journal returns up to limit persisted results, oldest first.
func (a *App) Journal(ctx context.Context, limit int) ([]storage.Record, error) {
	if a.store == nil {
		return nil, storage.ErrDisabled
	}
	return a.store.Recent(ctx, limit)
}

func (a *App) WaitIdle(ctx context.Context) error {
	if a.q == nil {
		return ErrNotStarted
	}
	return a.q.WaitIdle(ctx)
}

// WaitSettled blocks until the queue is idle and no timed handle is pending.
// Handles that wait on the processed count are ignored: with an idle queue
// they can never fire.
func (a *App) WaitSettled(ctx context.Context) error {
	if a.q == nil {
		return ErrNotStarted
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		if a.settled() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (a *App) settled() bool {
	if !a.q.Idle() {
		return false
	}
	reg := a.q.Registry()
	for s := range reg.Sizes() {
		for _, h := range reg.Handles(s) {
			if !h.Due.IsZero() {
				return false
			}
		}
	}
	// A delivery may have landed between the two checks.
	return a.q.Idle()
}

// Stop tears everything down in order. Later calls are no-ops.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.stopOnce.Do(func() { a.stop(ctx, reason) })
	return nil
}

func (a *App) stop(ctx context.Context, reason StopReason) {
	if a.sup == nil {
		// Never started: only the journal and log sinks are open.
		if a.store != nil {
			_ = a.store.Close()
		}
		if a.units != nil {
			_ = a.units.Close()
		}
		_ = a.logs.Close()
		return
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		if dl, ok := ctx.Deadline(); ok && time.Until(dl) < max {
			max = time.Until(dl)
		}
		if max > 0 {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			// fn must honor stepCtx; anything still running past here leaks.
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("sessions", time.Second, func(context.Context) error {
		for _, s := range a.sessions.Sessions() {
			a.sessions.Stop(s.ID)
		}
		return nil
	})
	step("queue", 3*time.Second, func(c context.Context) error {
		rep := a.q.Stop()
		if rep.Dropped > 0 || rep.Interrupted > 0 {
			a.log.Info("queue abandoned work", logx.Int("dropped", rep.Dropped), logx.Int("interrupted", rep.Interrupted))
		}
		return a.q.Shutdown(c)
	})

	// Then the app context, so the watcher and event loops unwind.
	a.sup.Cancel()
	step("supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if a.store != nil {
		step("storage", time.Second, func(context.Context) error { return a.store.Close() })
	}
	if a.units != nil {
		_ = a.units.Close()
	}

	a.log.Info("stopped", logx.String("reason", string(reason)))
	_ = a.logs.Close()
}
