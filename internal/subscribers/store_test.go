package subscribers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leetbot/internal/storage"
	"leetbot/pkg/logx"
)

type fakeBackend struct {
	mu      sync.Mutex
	stored  []int64
	loadErr error
	saveErr error
	saves   int
}

func (f *fakeBackend) Load(context.Context) ([]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.stored...), f.loadErr
}

func (f *fakeBackend) Save(_ context.Context, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.stored = append([]int64(nil), ids...)
	return nil
}

func (f *fakeBackend) Close() error { return nil }

func (f *fakeBackend) last() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.stored...)
}

func TestAddRemoveIdempotent(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{}
	s := New(be, WithLogger(logx.Nop()))
	s.Load(ctx)

	added, err := s.Add(ctx, 42)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, 42)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []int64{42}, s.Snapshot())

	removed, err := s.Remove(ctx, 42)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Remove(ctx, 42)
	require.NoError(t, err)
	assert.False(t, removed)

	assert.Empty(t, s.Snapshot())
	assert.Empty(t, be.last())
	assert.Equal(t, 4, be.saves)
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat_ids.json")

	be, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	s := New(be)
	s.Load(ctx)
	for _, id := range []int64{300, -100200, 7} {
		_, err := s.Add(ctx, id)
		require.NoError(t, err)
	}
	_, err = s.Remove(ctx, 7)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	be2, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	s2 := New(be2)
	assert.Equal(t, []int64{-100200, 300}, s2.Load(ctx))
	assert.True(t, s2.Contains(300))
	assert.False(t, s2.Contains(7))
}

func TestLoadCorruptStartsEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	be, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	s := New(be)
	assert.Empty(t, s.Load(ctx))

	_, err = s.Add(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{5}, New(be).Load(ctx))
}

func TestLoadMissingStartsEmpty(t *testing.T) {
	be, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "absent.json")}, logx.Nop())
	require.NoError(t, err)
	assert.Empty(t, New(be).Load(context.Background()))
}

func TestLoadBackendErrorStartsEmpty(t *testing.T) {
	be := &fakeBackend{stored: []int64{1}, loadErr: errors.New("connection refused")}
	s := New(be)
	assert.Empty(t, s.Load(context.Background()))
	assert.Equal(t, 0, s.Len())
}

func TestPersistFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{saveErr: errors.New("disk full")}
	s := New(be)

	added, err := s.Add(ctx, 9)
	assert.True(t, added)
	var pe *PersistError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, be.saveErr)
	assert.True(t, s.Contains(9))

	// repeating the command retries the write
	be.mu.Lock()
	be.saveErr = nil
	be.mu.Unlock()
	added, err = s.Add(ctx, 9)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []int64{9}, be.last())
}

func TestConcurrentAddRemoveConverges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	be, err := storage.Open(storage.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	s := New(be)
	s.Load(ctx)
	_, err = s.Add(ctx, 2)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Add(ctx, 1)
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Remove(ctx, 2)
	}()
	wg.Wait()

	assert.Equal(t, []int64{1}, s.Snapshot())
	assert.Equal(t, []int64{1}, New(be).Load(ctx))
}

func TestConcurrentManyChats(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{}
	s := New(be)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Add(ctx, id)
			assert.NoError(t, err, fmt.Sprint(id))
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 50, s.Len())
	assert.Len(t, be.last(), 50)
}

func TestStaticMembers(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{stored: []int64{10}}
	s := New(be, WithStatic(-1001))

	assert.Equal(t, []int64{-1001, 10}, s.Load(ctx))

	removed, err := s.Remove(ctx, -1001)
	assert.ErrorIs(t, err, ErrStatic)
	assert.False(t, removed)
	assert.True(t, s.Contains(-1001))
}

func TestStaticMembersAreNotPersisted(t *testing.T) {
	ctx := context.Background()
	be := &fakeBackend{}
	s := New(be, WithStatic(-1001))
	s.Load(ctx)

	added, err := s.Add(ctx, -1001)
	require.NoError(t, err)
	assert.False(t, added)
	added, err = s.Add(ctx, 7)
	require.NoError(t, err)
	assert.True(t, added)

	assert.Equal(t, []int64{-1001, 7}, s.Snapshot())
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, []int64{7}, be.last())

	// Dropping the chat from the configuration unsubscribes it.
	again := New(be)
	assert.Equal(t, []int64{7}, again.Load(ctx))
	assert.False(t, again.Contains(-1001))
}

func TestSnapshotIsCopy(t *testing.T) {
	ctx := context.Background()
	s := New(nil)
	_, _ = s.Add(ctx, 1)
	snap := s.Snapshot()
	snap[0] = 99
	assert.Equal(t, []int64{1}, s.Snapshot())
}
