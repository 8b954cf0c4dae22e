package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leetbot/pkg/logx"
)

func openBackend(t *testing.T, driver string) Backend {
	t.Helper()
	b, err := Open(Config{Driver: driver, Path: filepath.Join(t.TempDir(), "nested", "chat_ids.db")}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackendsRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			b := openBackend(t, driver)

			ids, err := b.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)

			require.NoError(t, b.Save(ctx, []int64{1001, -1002, 1003}))
			ids, err = b.Load(ctx)
			require.NoError(t, err)
			assert.ElementsMatch(t, []int64{1001, -1002, 1003}, ids)

			require.NoError(t, b.Save(ctx, []int64{1003}))
			ids, err = b.Load(ctx)
			require.NoError(t, err)
			assert.Equal(t, []int64{1003}, ids)

			require.NoError(t, b.Save(ctx, nil))
			ids, err = b.Load(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestFileWritesJSONArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	require.NoError(t, b.Save(context.Background(), []int64{7, 8}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `[7,8]`, string(raw))

	matches, err := filepath.Glob(path + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must not be left behind")
}

func TestFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	_, err = b.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorrupt))
}

func TestFileEmptyIsNoSubscribers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat_ids.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)

	ids, err := b.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestOpenDrivers(t *testing.T) {
	b, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	assert.IsType(t, Memory{}, b)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "redis"}, logx.Nop())
	require.Error(t, err)

	_, err = Open(Config{Driver: "etcd"}, logx.Nop())
	require.Error(t, err)
}

func TestRedisMembers(t *testing.T) {
	members := formatMembers([]int64{1, -2})
	assert.Equal(t, []any{"1", "-2"}, members)

	ids, err := parseMembers([]string{"1", "-2"})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, -2}, ids)

	_, err = parseMembers([]string{"x"})
	assert.ErrorIs(t, err, ErrCorrupt)
}
