package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"leetbot/pkg/logx"
)

// Job is run once per trigger. ctx is cancelled when the service stops.
type Job func(ctx context.Context)

type Config struct {
	At  TimeOfDay
	Loc *time.Location
}

// Info describes the registered trigger.
type Info struct {
	At   TimeOfDay
	Loc  string
	Next time.Time
	Prev time.Time
}

// Service drives a Job on a Daily schedule through robfig/cron.
//
// cron computes the next fire from the wake-up instant, so a process that
// stalls over one or more trigger times fires a single time when it resumes.
// Every fire runs the job, even while an earlier run is still going.
// Panics are recovered and logged.
type Service struct {
	log logx.Logger
	job Job

	mu      sync.Mutex
	cfg     Config
	c       *cron.Cron
	entry   cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wrapped cron.Job
}

func New(cfg Config, job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Loc == nil {
		cfg.Loc = time.Local
	}
	return &Service{log: log, job: job, cfg: cfg}
}

// Start registers the daily entry and begins the cron loop. Calling Start on
// a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	cl := cronLogger{log: s.log}
	s.c = cron.New(cron.WithLocation(s.cfg.Loc), cron.WithLogger(cl))
	// A fire that arrives while the previous job is still delivering runs
	// alongside it; the job serialises its own fetch step.
	s.wrapped = cron.NewChain(cron.Recover(cl)).Then(cron.FuncJob(s.run))
	s.entry = s.c.Schedule(Daily{At: s.cfg.At, Loc: s.cfg.Loc}, s.wrapped)
	s.c.Start()

	e := s.c.Entry(s.entry)
	s.log.Info("trigger started",
		logx.String("at", s.cfg.At.String()),
		logx.String("tz", s.cfg.Loc.String()),
		logx.Time("next", e.Next),
	)
}

func (s *Service) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.log.Info("trigger fired")
	s.job(ctx)
	s.log.Debug("trigger job finished", logx.Duration("took", time.Since(start)))
}

// Reschedule replaces the trigger time and zone. A running service keeps
// running; the next fire is computed from now.
func (s *Service) Reschedule(cfg Config) {
	if cfg.Loc == nil {
		cfg.Loc = time.Local
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.At == s.cfg.At && cfg.Loc.String() == s.cfg.Loc.String() {
		return
	}
	s.cfg = cfg
	if s.c == nil {
		return
	}
	s.c.Remove(s.entry)
	s.entry = s.c.Schedule(Daily{At: cfg.At, Loc: cfg.Loc}, s.wrapped)
	s.log.Info("trigger rescheduled",
		logx.String("at", cfg.At.String()),
		logx.String("tz", cfg.Loc.String()),
		logx.Time("next", s.c.Entry(s.entry).Next),
	)
}

// Info reports the configured time and, once started, the next and previous
// fire instants.
func (s *Service) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Info{At: s.cfg.At, Loc: s.cfg.Loc.String()}
	if s.c != nil {
		e := s.c.Entry(s.entry)
		out.Next, out.Prev = e.Next, e.Prev
	}
	return out
}

// Stop halts triggering, cancels a running job's context and waits for it
// until ctx is done.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	cancel()
	done := c.Stop()
	select {
	case <-done.Done():
		s.log.Info("trigger stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("trigger stop: %w", ctx.Err())
	}
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
