package bot

import (
	"context"
	"runtime"
	"runtime/debug"
	"strconv"
	"time"

	"leetbot/internal/runtime/supervisor"
	"leetbot/internal/transport"
	"leetbot/pkg/logx"
)

// Router feeds transport updates to a Handler on a bounded worker pool.
//
// Updates are sharded by chat id so commands from one chat run in arrival
// order while different chats proceed in parallel.
type Router struct {
	log     logx.Logger
	h       *Handler
	workers int
	queue   int
}

func NewRouter(h *Handler, log logx.Logger, workers int) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
		if workers < 2 {
			workers = 2
		}
	}
	return &Router{log: log, h: h, workers: workers, queue: 64}
}

// DispatchLoop blocks until ctx is done or updates is closed, then waits
// briefly for in-flight commands.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	sup := supervisor.New(ctx,
		supervisor.WithLogger(r.log),
		supervisor.WithCancelOnError(false),
	)

	shards := make([]chan Command, r.workers)
	for i := range shards {
		shards[i] = make(chan Command, r.queue)
		in := shards[i]
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			r.log.Debug("command worker started", logx.Int("worker", idx))
			defer r.log.Debug("command worker stopped", logx.Int("worker", idx))
			for {
				select {
				case <-c.Done():
					return nil
				case cmd, ok := <-in:
					if !ok {
						return nil
					}
					r.run(c, idx, cmd)
				}
			}
		},
			supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second),
			supervisor.WithStopOnCleanExit(true),
		)
	}
	r.log.Info("command dispatcher started", logx.Int("workers", r.workers), logx.Int("queue_cap", r.queue))

	defer func() {
		for _, ch := range shards {
			close(ch)
		}
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		sup.Cancel()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind != transport.UpdateMessage || up.Message == nil {
				continue
			}
			cmd := Command{ChatID: up.Message.ChatID, Text: up.Message.Text}
			if _, ok := r.h.parse(cmd.Text); !ok {
				continue
			}
			select {
			case shards[r.shard(cmd.ChatID)] <- cmd:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (r *Router) shard(chatID int64) int {
	n := chatID % int64(r.workers)
	if n < 0 {
		n = -n
	}
	return int(n)
}

func (r *Router) run(ctx context.Context, worker int, cmd Command) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in command",
				logx.Int("worker", worker),
				logx.Int64("chat_id", cmd.ChatID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())),
			)
		}
	}()
	r.h.Handle(ctx, cmd)
}
