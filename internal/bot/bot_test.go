package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leetbot/internal/dispatch"
	"leetbot/internal/eventbus"
	"leetbot/internal/leetcode"
	"leetbot/internal/subscribers"
	"leetbot/internal/transport"
	"leetbot/pkg/logx"
)

type recorder struct {
	mu    sync.Mutex
	msgs  []transport.ChatTarget
	texts []string
	pins  int
}

func (r *recorder) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, to)
	r.texts = append(r.texts, text)
	return transport.MessageRef{ChatID: to.ChatID, MessageID: len(r.msgs)}, nil
}

func (r *recorder) Pin(context.Context, transport.MessageRef, *transport.PinOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pins++
	return nil
}

func (r *recorder) sentTexts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

type linkFetcher string

func (l linkFetcher) Fetch(_ context.Context, d leetcode.Difficulty) (leetcode.Item, error) {
	return leetcode.Item{Difficulty: d, Link: string(l)}, nil
}

type failingBackend struct{}

func (failingBackend) Load(context.Context) ([]int64, error) { return nil, nil }
func (failingBackend) Save(context.Context, []int64) error {
	return errors.New("read-only filesystem")
}
func (failingBackend) Close() error { return nil }

const daily = "Today's LeetCode Challenge:\n\nDaily: https://leetcode.com/problems/two-sum/"

func setup(t *testing.T, opts ...subscribers.Option) (*Handler, *subscribers.Store, *recorder) {
	t.Helper()
	store := subscribers.New(nil, opts...)
	rec := &recorder{}
	d := dispatch.New(dispatch.Config{JitterMax: time.Hour}, linkFetcher("https://leetcode.com/problems/two-sum/"), store, rec, dispatch.WithLogger(logx.Nop()))
	h := NewHandler(store, d, rec, WithLogger(logx.Nop()), WithBotName("leet_daily_bot"))
	return h, store, rec
}

func TestStartSubscribesRepliesAndDelivers(t *testing.T) {
	h, store, rec := setup(t)

	h.Handle(context.Background(), Command{ChatID: 77, Text: "/start"})

	assert.True(t, store.Contains(77))
	assert.Equal(t, []string{ReplyStarted, daily}, rec.sentTexts())
	assert.Equal(t, 1, rec.pins)
}

func TestStartTwiceIsIdempotent(t *testing.T) {
	h, store, rec := setup(t)
	h.Handle(context.Background(), Command{ChatID: 77, Text: "/start"})
	h.Handle(context.Background(), Command{ChatID: 77, Text: "/start"})

	assert.Equal(t, []int64{77}, store.Snapshot())
	assert.Equal(t, []string{ReplyStarted, daily, ReplyStarted, daily}, rec.sentTexts())
}

func TestStopUnsubscribes(t *testing.T) {
	h, store, rec := setup(t)
	h.Handle(context.Background(), Command{ChatID: 77, Text: "/start"})
	h.Handle(context.Background(), Command{ChatID: 77, Text: "/stop"})

	assert.False(t, store.Contains(77))
	texts := rec.sentTexts()
	assert.Equal(t, ReplyStopped, texts[len(texts)-1])

	// stopping again still replies and stays unsubscribed
	h.Handle(context.Background(), Command{ChatID: 77, Text: "/stop"})
	assert.False(t, store.Contains(77))
	assert.Len(t, rec.sentTexts(), 4)
}

func TestStopStaticChat(t *testing.T) {
	h, store, rec := setup(t, subscribers.WithStatic(-100))
	h.Handle(context.Background(), Command{ChatID: -100, Text: "/stop"})

	assert.True(t, store.Contains(-100))
	assert.Equal(t, []string{ReplyStatic}, rec.sentTexts())
}

func TestOtherTextIgnored(t *testing.T) {
	h, store, rec := setup(t)
	for _, text := range []string{"hello", "", "/help", "start", "/started", "/start@some_other_bot"} {
		h.Handle(context.Background(), Command{ChatID: 5, Text: text})
	}
	assert.Empty(t, rec.sentTexts())
	assert.Equal(t, 0, store.Len())
}

func TestCommandVariants(t *testing.T) {
	h, _, _ := setup(t)
	cases := []struct{ text, want string }{
		{"/start", "start"},
		{"/START", "start"},
		{"  /stop  ", "stop"},
		{"/start@leet_daily_bot", "start"},
		{"/stop@Leet_Daily_Bot now", "stop"},
	}
	for _, tc := range cases {
		got, ok := h.parse(tc.text)
		assert.True(t, ok, tc.text)
		assert.Equal(t, tc.want, got, tc.text)
	}
}

func TestPersistFailureStillReplies(t *testing.T) {
	store := subscribers.New(failingBackend{})
	rec := &recorder{}
	d := dispatch.New(dispatch.Config{}, linkFetcher("https://leetcode.com/problems/two-sum/"), store, rec)
	h := NewHandler(store, d, rec)

	h.Handle(context.Background(), Command{ChatID: 3, Text: "/start"})
	assert.True(t, store.Contains(3))
	assert.Equal(t, []string{ReplyStarted, daily}, rec.sentTexts())
}

func TestHandlerPublishesEvents(t *testing.T) {
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	store := subscribers.New(nil)
	rec := &recorder{}
	d := dispatch.New(dispatch.Config{}, linkFetcher("x"), store, rec)
	h := NewHandler(store, d, rec, WithBus(bus))

	h.Handle(context.Background(), Command{ChatID: 9, Text: "/start"})
	h.Handle(context.Background(), Command{ChatID: 9, Text: "/stop"})

	var types []string
	for len(types) < 2 {
		select {
		case ev := <-ch:
			types = append(types, ev.Type)
		case <-time.After(time.Second):
			t.Fatalf("got events %v", types)
		}
	}
	assert.Equal(t, []string{eventbus.TypeSubscribed, eventbus.TypeUnsubscribed}, types)
}

func TestRouterDispatchLoop(t *testing.T) {
	h, store, rec := setup(t)
	r := NewRouter(h, logx.Nop(), 2)

	updates := make(chan transport.Update, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.DispatchLoop(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, Text: "/start"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 2, Text: "/start"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 2, Text: "/stop"}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 3, Text: "hi"}}
	updates <- transport.Update{Kind: transport.UpdateMessage}
	close(updates)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch loop did not return")
	}

	assert.Equal(t, []int64{1}, store.Snapshot())
	var toThree int
	rec.mu.Lock()
	for _, m := range rec.msgs {
		if m.ChatID == 3 {
			toThree++
		}
	}
	rec.mu.Unlock()
	assert.Zero(t, toThree)
}

func TestRouterShardNonNegative(t *testing.T) {
	r := NewRouter(nil, logx.Nop(), 3)
	for _, id := range []int64{-1001234567890, -1, 0, 1, 5} {
		s := r.shard(id)
		assert.GreaterOrEqual(t, s, 0)
		assert.Less(t, s, 3)
	}
}
