// Package bot turns inbound chat commands into subscription changes.
package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"leetbot/internal/dispatch"
	"leetbot/internal/eventbus"
	"leetbot/internal/subscribers"
	"leetbot/internal/transport"
	"leetbot/pkg/logx"
)

const (
	ReplyStarted = "You will start receiving daily challenges."
	ReplyStopped = "You have stopped receiving daily challenges."
	ReplyStatic  = "This chat is configured to always receive daily challenges."
)

// Command is one inbound text message.
type Command struct {
	ChatID int64
	Text   string
}

// Subscriptions is the part of the subscriber store the handler needs.
type Subscriptions interface {
	Add(ctx context.Context, id int64) (bool, error)
	Remove(ctx context.Context, id int64) (bool, error)
}

// Deliverer sends today's message to specific chats.
type Deliverer interface {
	RunCycleFor(ctx context.Context, ids ...int64) (dispatch.Report, error)
}

type Option func(*Handler)

func WithLogger(log logx.Logger) Option { return func(h *Handler) { h.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(h *Handler) { h.bus = bus } }

// WithBotName makes "/start@name" match only when name is this bot.
func WithBotName(name string) Option {
	return func(h *Handler) { h.botName = strings.TrimPrefix(strings.TrimSpace(name), "@") }
}

// WithTimeout bounds the work done for a single command.
func WithTimeout(d time.Duration) Option { return func(h *Handler) { h.timeout = d } }

type Handler struct {
	log     logx.Logger
	bus     eventbus.Bus
	subs    Subscriptions
	deliver Deliverer
	reply   transport.Sender
	botName string
	timeout time.Duration
}

func NewHandler(subs Subscriptions, deliver Deliverer, reply transport.Sender, opts ...Option) *Handler {
	h := &Handler{subs: subs, deliver: deliver, reply: reply, timeout: 2 * time.Minute}
	for _, o := range opts {
		o(h)
	}
	if h.log.IsZero() {
		h.log = logx.Nop()
	}
	if h.bus == nil {
		h.bus = eventbus.Nop{}
	}
	return h
}

// Handle executes a command. Anything other than /start and /stop is
// ignored without a reply. Store and delivery failures are logged only.
func (h *Handler) Handle(ctx context.Context, cmd Command) {
	name, ok := h.parse(cmd.Text)
	if !ok {
		return
	}
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	log := h.log.With(logx.Int64("chat_id", cmd.ChatID), logx.String("cmd", name))

	switch name {
	case "start":
		h.start(ctx, log, cmd.ChatID)
	case "stop":
		h.stop(ctx, log, cmd.ChatID)
	}
}

func (h *Handler) start(ctx context.Context, log logx.Logger, chatID int64) {
	added, err := h.subs.Add(ctx, chatID)
	if err != nil {
		log.Error("subscribe not persisted", logx.Err(err))
	}
	log.Info("chat subscribed", logx.Bool("new", added))
	if added {
		h.bus.Publish(eventbus.Event{Type: eventbus.TypeSubscribed, Data: chatID})
	}

	h.send(ctx, log, chatID, ReplyStarted)

	rep, err := h.deliver.RunCycleFor(ctx, chatID)
	if err != nil {
		log.Warn("welcome delivery aborted", logx.Err(err))
		return
	}
	if err := rep.Err(); err != nil {
		// failures are already logged by the dispatcher
		log.Debug("welcome delivery incomplete", logx.String("cycle", rep.ID))
	}
}

func (h *Handler) stop(ctx context.Context, log logx.Logger, chatID int64) {
	removed, err := h.subs.Remove(ctx, chatID)
	switch {
	case errors.Is(err, subscribers.ErrStatic):
		log.Info("unsubscribe refused for configured chat")
		h.send(ctx, log, chatID, ReplyStatic)
		return
	case err != nil:
		log.Error("unsubscribe not persisted", logx.Err(err))
	}
	log.Info("chat unsubscribed", logx.Bool("was_subscribed", removed))
	if removed {
		h.bus.Publish(eventbus.Event{Type: eventbus.TypeUnsubscribed, Data: chatID})
	}
	h.send(ctx, log, chatID, ReplyStopped)
}

func (h *Handler) send(ctx context.Context, log logx.Logger, chatID int64, text string) {
	if _, err := h.reply.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		log.Warn("reply failed", logx.Err(err))
	}
}

// parse returns the command name of text when it is a /start or /stop
// command, optionally addressed as /cmd@botname.
func (h *Handler) parse(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if h.botName != "" && !strings.EqualFold(target, h.botName) {
			return "", false
		}
	}
	name = strings.ToLower(name)
	switch name {
	case "start", "stop":
		return name, true
	}
	return "", false
}
