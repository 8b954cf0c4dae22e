package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLogLine(t *testing.T) {
	line := []byte(`{"level":"warn","time":"x","message":"delivery failed","chat_id":1002,"comp":"dispatch"}`)
	got := formatLogLine(line)
	assert.Equal(t, "[WARN] delivery failed\n- chat_id=1002\n- comp=dispatch", got)
}

func TestFormatLogLineNotJSON(t *testing.T) {
	assert.Equal(t, "plain text", formatLogLine([]byte("  plain text \n")))
}

func TestTruncate(t *testing.T) {
	s := strings.Repeat("a", 50)
	assert.Equal(t, s, truncate(s, 100))
	got := truncate(s, 20)
	assert.Len(t, got, 20)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel(" debug ", zerolog.InfoLevel))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("warning", zerolog.InfoLevel))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("bogus", zerolog.InfoLevel))
}

func TestZeroLoggerIsNop(t *testing.T) {
	var l Logger
	assert.True(t, l.IsZero())
	l.Info("ignored", String("k", "v"))
	assert.False(t, l.With(String("comp", "x")).IsZero())
}

func TestApplyKeepsPreviousFileWritable(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")

	svc, _ := New(Config{Level: "info", File: FileConfig{Enabled: true, Path: first}}, nil)
	defer func() { _ = svc.Close() }()

	before := svc.current()
	svc.Apply(Config{Level: "info", File: FileConfig{Enabled: true, Path: second}})
	before.Info().Msg("late line")
	svc.Logger().Info("new line")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(data), "late line")

	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(data), "new line")
	assert.NotContains(t, string(data), "late line")
}
