// Package app wires the daemon's components and owns their start/stop order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"leetbot/internal/bot"
	"leetbot/internal/config"
	"leetbot/internal/dispatch"
	"leetbot/internal/eventbus"
	"leetbot/internal/leetcode"
	"leetbot/internal/metrics"
	"leetbot/internal/observability/debugsrv"
	"leetbot/internal/runtime/supervisor"
	"leetbot/internal/storage"
	"leetbot/internal/subscribers"
	"leetbot/internal/transport"
	"leetbot/internal/transport/telegram"
	"leetbot/internal/trigger"
	"leetbot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	set  *config.Settings

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus
	reg  *prometheus.Registry
	met  *metrics.Metrics

	adapter transport.Adapter
	store   *subscribers.Store
	disp    *dispatch.Dispatcher
	trig    *trigger.Service
	router  *bot.Router
	debug   *debugsrv.Service

	sup     *supervisor.Supervisor
	updates chan transport.Update
}

type Option func(*options)

type options struct {
	adapter transport.Adapter
	fetcher dispatch.Fetcher
}

// WithAdapter replaces the Telegram adapter (tests use an in-memory one).
func WithAdapter(a transport.Adapter) Option { return func(o *options) { o.adapter = a } }

// WithFetcher replaces the LeetCode client.
func WithFetcher(f dispatch.Fetcher) Option { return func(o *options) { o.fetcher = f } }

// New builds every component from the manager's settings. Configuration
// errors are returned as *config.ConfigError.
func New(cfgm *config.Manager, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	set := cfgm.Get()
	if set == nil {
		var err error
		if set, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	// The Telegram log sink needs the adapter, which needs a logger; the
	// sender is attached once the adapter exists.
	logs, root := logx.New(set.Logging, nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{Token: set.Token, PollTimeout: set.PollTimeout},
			root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = logs.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		ad = tg
	}
	logs.SetSender(ad)

	var fetcher dispatch.Fetcher = o.fetcher
	if fetcher == nil {
		lc, err := leetcode.New(set.LeetCode)
		if err != nil {
			_ = logs.Close()
			return nil, &config.ConfigError{Field: "leetcode.base_url", Err: err}
		}
		fetcher = lc
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	met := metrics.New(reg)
	bus := eventbus.New()

	backend, err := storage.Open(set.Storage, root.With(logx.String("comp", "storage")))
	if err != nil {
		_ = logs.Close()
		return nil, fmt.Errorf("subscriber storage: %w", err)
	}
	store := subscribers.New(backend,
		subscribers.WithLogger(root.With(logx.String("comp", "subscribers"))),
		subscribers.WithMetrics(met),
		subscribers.WithStatic(set.Static...),
	)

	disp := dispatch.New(set.Dispatch, fetcher, store, ad,
		dispatch.WithLogger(root.With(logx.String("comp", "dispatch"))),
		dispatch.WithMetrics(met),
		dispatch.WithBus(bus),
	)

	a := &App{
		cfgm:    cfgm,
		set:     set,
		log:     log,
		logs:    logs,
		bus:     bus,
		reg:     reg,
		met:     met,
		adapter: ad,
		store:   store,
		disp:    disp,
		updates: make(chan transport.Update, 256),
	}

	a.trig = trigger.New(set.Trigger, a.runScheduled, root.With(logx.String("comp", "trigger")))

	if set.CommandsEnabled {
		hopts := []bot.Option{
			bot.WithLogger(root.With(logx.String("comp", "commands"))),
			bot.WithBus(bus),
		}
		if named, ok := ad.(interface{ Username() string }); ok {
			hopts = append(hopts, bot.WithBotName(named.Username()))
		}
		h := bot.NewHandler(store, disp, ad, hopts...)
		a.router = bot.NewRouter(h, root.With(logx.String("comp", "router")), set.CommandWorkers)
	}

	if set.DebugEnabled {
		a.debug = debugsrv.New(set.DebugAddr, reg, root.With(logx.String("comp", "debug")))
	}
	return a, nil
}

// Store exposes the subscriber set.
func (a *App) Store() *subscribers.Store { return a.store }

// Dispatcher exposes the fan-out dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.disp }

// Trigger exposes the daily trigger.
func (a *App) Trigger() *trigger.Service { return a.trig }

// Done is closed when the app supervisor stops (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) runScheduled(ctx context.Context) {
	// RunCycle logs per-recipient failures itself.
	if _, err := a.disp.RunCycle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("scheduled cycle ended early", logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	c := a.sup.Context()

	loaded := a.store.Load(c)
	a.log.Info("starting",
		logx.Int("subscribers", len(loaded)),
		logx.Int64s("static", a.set.Static),
		logx.String("storage", a.set.Storage.Driver),
		logx.String("trigger_at", a.set.Trigger.At.String()),
		logx.String("tz", a.set.Trigger.Loc.String()),
		logx.Bool("commands", a.router != nil),
	)

	if a.debug != nil {
		if err := a.debug.Start(c); err != nil {
			// diagnostics are optional
			a.log.Warn("debug server not started", logx.String("addr", a.set.DebugAddr), logx.Err(err))
			a.debug = nil
		}
	}

	if a.router != nil {
		if err := a.adapter.Start(c, a.updates); err != nil {
			return fmt.Errorf("start adapter: %w", err)
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.router.DispatchLoop(c, a.updates)
		})
	}

	a.trig.Start(c)

	events, unsub := a.bus.Subscribe(64)
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
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.apply", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case s, ok := <-sub:
				if !ok {
					return
				}
				a.apply(s)
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// apply pushes live-reloadable settings to running components. Storage,
// token, commands and debug changes need a restart.
func (a *App) apply(s *config.Settings) {
	a.logs.Apply(s.Logging)
	a.disp.Apply(s.Dispatch)
	a.trig.Reschedule(s.Trigger)
	a.set = s
	a.bus.Publish(eventbus.Event{Type: eventbus.TypeConfigApplied})
	a.log.Info("config applied",
		logx.String("trigger_at", s.Trigger.At.String()),
		logx.Duration("jitter_max", s.Dispatch.JitterMax),
	)
}

// Stop shuts components down in reverse dependency order. Deliveries in
// progress are abandoned.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		a.log.Debug("stop step done", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("trigger", 2*time.Second, a.trig.Stop)
	if a.router != nil {
		step("adapter", 3*time.Second, a.adapter.Stop)
	}
	if a.debug != nil {
		step("debug", time.Second, a.debug.Stop)
	}
	step("supervisor", 3*time.Second, a.sup.Wait)
	step("storage", time.Second, func(context.Context) error { return a.store.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_active", c.Active), logx.Uint64("goroutines_started", c.Started))
	_ = a.logs.Close()
	return errors.Join(errs...)
}
