// Package dispatch runs delivery cycles: fetch today's content once, render
// it, and deliver it to every recipient independently.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	"leetbot/internal/leetcode"
	"leetbot/internal/transport"
)

const DefaultJitterMax = 10 * time.Minute

type Config struct {
	// Difficulties are fetched and rendered in this order. Empty means daily only.
	Difficulties []leetcode.Difficulty
	// JitterMax bounds the per-recipient random offset of a scheduled cycle.
	// Zero disables jitter.
	JitterMax time.Duration
	// RatePerSec caps sends per second across a cycle. Zero means no cap.
	RatePerSec int
	// SendTimeout bounds a single send or pin call.
	SendTimeout time.Duration
}

func (c Config) normalized() Config {
	if len(c.Difficulties) == 0 {
		c.Difficulties = []leetcode.Difficulty{leetcode.Daily}
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 30 * time.Second
	}
	return c
}

// Fetcher returns the current item for a difficulty.
type Fetcher interface {
	Fetch(ctx context.Context, d leetcode.Difficulty) (leetcode.Item, error)
}

// Recipients supplies the point-in-time recipient set of a cycle.
type Recipients interface {
	Snapshot() []int64
}

// Messenger sends and pins messages.
type Messenger interface {
	transport.Sender
	transport.Pinner
}

// Stage names the step of a delivery that failed.
type Stage string

const (
	StageSend Stage = "send"
	StagePin  Stage = "pin"
)

// DeliveryError is a failed delivery to one recipient. It never aborts the
// rest of the cycle.
type DeliveryError struct {
	ChatID int64
	Stage  Stage
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver to %d: %s: %v", e.ChatID, e.Stage, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Report summarizes one cycle.
type Report struct {
	ID         string
	Trigger    string
	Started    time.Time
	Finished   time.Time
	Items      []leetcode.Item
	FetchErrs  []error
	Recipients int
	Delivered  int
	Failures   []*DeliveryError
}

// Err aggregates fetch and delivery failures, or returns nil.
func (r Report) Err() error {
	var merr *multierror.Error
	for _, err := range r.FetchErrs {
		merr = multierror.Append(merr, err)
	}
	for _, f := range r.Failures {
		merr = multierror.Append(merr, f)
	}
	return merr.ErrorOrNil()
}

func (r Report) Duration() time.Duration { return r.Finished.Sub(r.Started) }
