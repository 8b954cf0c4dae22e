package dispatch

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"leetbot/internal/eventbus"
	"leetbot/internal/leetcode"
	"leetbot/internal/metrics"
	"leetbot/internal/transport"
	"leetbot/pkg/logx"
)

const (
	TriggerSchedule  = "schedule"
	TriggerSubscribe = "subscribe"
)

type Option func(*Dispatcher)

func WithLogger(log logx.Logger) Option { return func(d *Dispatcher) { d.log = log } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func WithBus(bus eventbus.Bus) Option { return func(d *Dispatcher) { d.bus = bus } }

// Dispatcher runs delivery cycles. Cycles may run concurrently (a scheduled
// cycle and a subscribe delivery); their fetch steps never overlap.
type Dispatcher struct {
	log     logx.Logger
	metrics *metrics.Metrics
	bus     eventbus.Bus

	fetcher    Fetcher
	recipients Recipients
	out        Messenger

	// fetchSem is a one-slot semaphore that can be abandoned on ctx cancel.
	fetchSem chan struct{}

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	// test seams
	offset func(max time.Duration) time.Duration
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

func New(cfg Config, fetcher Fetcher, recipients Recipients, out Messenger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		fetcher:    fetcher,
		recipients: recipients,
		out:        out,
		fetchSem:   make(chan struct{}, 1),
		offset:     randomOffset,
		sleep:      sleepCtx,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	if d.bus == nil {
		d.bus = eventbus.Nop{}
	}
	d.Apply(cfg)
	return d
}

// Apply replaces the runtime configuration. Running cycles keep the values
// they started with.
func (d *Dispatcher) Apply(cfg Config) {
	cfg = cfg.normalized()
	var lim *rate.Limiter
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	d.mu.Lock()
	d.cfg = cfg
	d.limiter = lim
	d.mu.Unlock()
	d.log.Debug("dispatch config applied",
		logx.Int("difficulties", len(cfg.Difficulties)),
		logx.Duration("jitter_max", cfg.JitterMax),
		logx.Int("rps", cfg.RatePerSec),
	)
}

func (d *Dispatcher) Config() Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg
}

// RunCycle delivers today's message to every current subscriber, each at an
// independent random offset within the jitter window. The returned error is
// non-nil only when ctx ends the cycle early; per-recipient failures are in
// the Report.
func (d *Dispatcher) RunCycle(ctx context.Context) (Report, error) {
	return d.run(ctx, TriggerSchedule, nil, true)
}

// RunCycleFor delivers today's message to the given chats right away. With
// no chats it does nothing.
func (d *Dispatcher) RunCycleFor(ctx context.Context, ids ...int64) (Report, error) {
	if len(ids) == 0 {
		now := d.now()
		return Report{ID: uuid.NewString(), Trigger: TriggerSubscribe, Started: now, Finished: now}, nil
	}
	return d.run(ctx, TriggerSubscribe, ids, false)
}

func (d *Dispatcher) run(ctx context.Context, trigger string, ids []int64, all bool) (Report, error) {
	d.mu.Lock()
	cfg, lim := d.cfg, d.limiter
	d.mu.Unlock()

	rep := Report{ID: uuid.NewString(), Trigger: trigger, Started: d.now()}
	log := d.log.With(logx.String("cycle", rep.ID), logx.String("trigger", trigger))
	log.Info("cycle started")

	items, fetchErrs, err := d.fetchAll(ctx, cfg.Difficulties)
	rep.Items, rep.FetchErrs = items, fetchErrs
	if err != nil {
		return d.finish(log, rep, err)
	}
	for _, fe := range fetchErrs {
		log.Warn("fetch failed; rendering as not available", logx.Err(fe))
	}
	text := Render(items)

	if all {
		ids = d.recipients.Snapshot()
	}
	rep.Recipients = len(ids)

	window := time.Duration(0)
	if all {
		window = cfg.JitterMax
	}
	plan := d.plan(ids, window)
	phase := d.now()

	for _, p := range plan {
		if wait := p.at - d.now().Sub(phase); wait > 0 {
			if err := d.sleep(ctx, wait); err != nil {
				return d.finish(log, rep, err)
			}
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return d.finish(log, rep, ctxErr(ctx, err))
			}
		}
		if err := ctx.Err(); err != nil {
			return d.finish(log, rep, err)
		}
		if derr := d.deliver(ctx, cfg.SendTimeout, p.chatID, text); derr != nil {
			rep.Failures = append(rep.Failures, derr)
			d.metrics.ObserveDelivery(string(derr.Stage) + "_failed")
			log.Warn("delivery failed",
				logx.Int64("chat_id", derr.ChatID),
				logx.String("stage", string(derr.Stage)),
				logx.Err(derr.Err),
			)
			continue
		}
		rep.Delivered++
		d.metrics.ObserveDelivery("ok")
	}
	return d.finish(log, rep, nil)
}

func (d *Dispatcher) finish(log logx.Logger, rep Report, err error) (Report, error) {
	rep.Finished = d.now()
	d.metrics.ObserveCycle(rep.Trigger, rep.Duration().Seconds())
	d.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: rep})

	fields := []logx.Field{
		logx.Int("recipients", rep.Recipients),
		logx.Int("delivered", rep.Delivered),
		logx.Int("failed", len(rep.Failures)),
		logx.Duration("took", rep.Duration()),
	}
	switch {
	case err != nil:
		log.Warn("cycle aborted", append(fields, logx.Err(err))...)
	case len(rep.Failures) > 0:
		log.Warn("cycle finished with failures", fields...)
	default:
		log.Info("cycle finished", fields...)
	}
	return rep, err
}

// fetchAll fetches every difficulty once, concurrently, while holding the
// fetch semaphore. Provider errors are returned per item; only ctx ending
// while waiting for the semaphore is a cycle error.
func (d *Dispatcher) fetchAll(ctx context.Context, diffs []leetcode.Difficulty) ([]leetcode.Item, []error, error) {
	select {
	case d.fetchSem <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	defer func() { <-d.fetchSem }()

	items := make([]leetcode.Item, len(diffs))
	errs := make([]error, len(diffs))
	var g errgroup.Group
	for i, diff := range diffs {
		g.Go(func() error {
			it, err := d.fetcher.Fetch(ctx, diff)
			it.Difficulty = diff
			switch {
			case err != nil:
				errs[i] = err
				it.Link = ""
				d.metrics.ObserveFetch(string(diff), "error")
			case !it.Available():
				d.metrics.ObserveFetch(string(diff), "missing")
			default:
				d.metrics.ObserveFetch(string(diff), "ok")
			}
			items[i] = it
			return nil
		})
	}
	_ = g.Wait()

	var fetchErrs []error
	for _, err := range errs {
		if err != nil {
			fetchErrs = append(fetchErrs, err)
		}
	}
	return items, fetchErrs, nil
}

func (d *Dispatcher) deliver(ctx context.Context, timeout time.Duration, chatID int64, text string) *DeliveryError {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	ref, err := d.out.SendText(sctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{
		ParseMode:      transport.ParseModeHTML,
		DisablePreview: true,
	})
	cancel()
	if err != nil {
		return &DeliveryError{ChatID: chatID, Stage: StageSend, Err: err}
	}

	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := d.out.Pin(pctx, ref, &transport.PinOptions{Silent: true}); err != nil {
		return &DeliveryError{ChatID: chatID, Stage: StagePin, Err: err}
	}
	return nil
}

type planned struct {
	chatID int64
	at     time.Duration
}

// plan assigns each recipient an independent offset in [0, window) and
// orders deliveries by offset.
func (d *Dispatcher) plan(ids []int64, window time.Duration) []planned {
	out := make([]planned, len(ids))
	for i, id := range ids {
		out[i] = planned{chatID: id}
		if window > 0 {
			out[i].at = d.offset(window)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].at < out[j].at })
	return out
}

func randomOffset(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return rand.N(max)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ctxErr prefers the context's error over the limiter's "would exceed
// deadline" error.
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	return err
}
