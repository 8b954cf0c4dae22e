// Package transport defines the messaging-platform boundary used by the bot.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

const ParseModeHTML = "HTML"

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

type PinOptions struct {
	// Silent pins without notifying chat members.
	Silent bool
}

// Sender is the outbound half of an Adapter.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// Pinner pins a previously sent message.
type Pinner interface {
	Pin(ctx context.Context, ref MessageRef, opt *PinOptions) error
}

type Adapter interface {
	Sender
	Pinner

	// Start begins delivering inbound updates to out. It must not block.
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error
}
