package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leetbot/internal/dispatch"
	"leetbot/internal/leetcode"
	"leetbot/internal/trigger"
)

func envMap(kv map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := kv[k]
		return v, ok
	}
}

func TestEnvOnlyMatchesLegacyDeployment(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(map[string]string{
		EnvToken:       "123:abc",
		EnvTriggerTime: "08:30:00",
		EnvChatIDsFile: "/var/lib/leetbot/chat_ids.json",
	}))

	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", s.Token)
	assert.Equal(t, trigger.TimeOfDay{Hour: 8, Minute: 30}, s.Trigger.At)
	assert.Equal(t, "file", s.Storage.Driver)
	assert.Equal(t, "/var/lib/leetbot/chat_ids.json", s.Storage.Path)
	assert.Equal(t, []leetcode.Difficulty{leetcode.Daily}, s.Dispatch.Difficulties)
	assert.Equal(t, dispatch.DefaultJitterMax, s.Dispatch.JitterMax)
	assert.True(t, s.CommandsEnabled)
	assert.Equal(t, "info", s.Logging.Level)
	assert.Same(t, s, m.Get())
}

func TestSingleRecipientVariant(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(map[string]string{
		EnvTokenAlt:    "t",
		EnvTriggerTime: "09:00:00",
		EnvChatID:      "-100123",
	}))
	s, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, []int64{-100123}, s.Static)
	assert.Equal(t, "memory", s.Storage.Driver)
}

func TestMissingRequired(t *testing.T) {
	cases := map[string]map[string]string{
		"telegram.token":        {EnvTriggerTime: "09:00:00"},
		"schedule.trigger_time": {EnvToken: "t"},
	}
	for field, env := range cases {
		m := NewManager("")
		m.SetLookup(envMap(env))
		_, err := m.Load()
		var ce *ConfigError
		require.ErrorAs(t, err, &ce, field)
		assert.Equal(t, field, ce.Field)
	}
}

func TestBadChatIDEnv(t *testing.T) {
	m := NewManager("")
	m.SetLookup(envMap(map[string]string{EnvToken: "t", EnvTriggerTime: "09:00:00", EnvChatID: "abc"}))
	_, err := m.Load()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, EnvChatID, ce.Field)
}

func TestYAMLFileWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
telegram:
  token: from-file
  poll_timeout: 20s
schedule:
  trigger_time: "07:00:00"
  timezone: UTC
dispatch:
  difficulties: [daily, easy, hard]
  jitter_max: 0s
  rate_per_sec: 20
subscribers:
  driver: sqlite
  path: ./subs.db
commands:
  enabled: false
debug:
  enabled: true
`), 0o600))

	m := NewManager(path)
	m.SetLookup(envMap(map[string]string{EnvToken: "from-env"}))
	s, err := m.Load()
	require.NoError(t, err)

	assert.Equal(t, "from-env", s.Token)
	assert.Equal(t, 20*time.Second, s.PollTimeout)
	assert.Equal(t, "UTC", s.Trigger.Loc.String())
	assert.Equal(t, []leetcode.Difficulty{leetcode.Daily, leetcode.Easy, leetcode.Hard}, s.Dispatch.Difficulties)
	assert.Zero(t, s.Dispatch.JitterMax)
	assert.Equal(t, 20, s.Dispatch.RatePerSec)
	assert.Equal(t, "sqlite", s.Storage.Driver)
	assert.False(t, s.CommandsEnabled)
	assert.Equal(t, DefaultDebugAddr, s.DebugAddr)
}

func TestJSONStrictDecoding(t *testing.T) {
	dir := t.TempDir()

	unknown := filepath.Join(dir, "unknown.json")
	require.NoError(t, os.WriteFile(unknown, []byte(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"09:00:00"},"bogus":1}`), 0o600))
	_, err := NewManager(unknown).Load()
	assert.ErrorContains(t, err, "bogus")

	trailing := filepath.Join(dir, "trailing.json")
	require.NoError(t, os.WriteFile(trailing, []byte(`{"telegram":{"token":"t"}} {}`), 0o600))
	_, err = NewManager(trailing).Load()
	assert.ErrorContains(t, err, "trailing")
}

func TestResolveValidation(t *testing.T) {
	base := func() *Config {
		return &Config{
			Telegram: TelegramConfig{Token: "t"},
			Schedule: ScheduleConfig{TriggerTime: "09:00:00"},
		}
	}
	cases := []struct {
		field  string
		mutate func(*Config)
	}{
		{"schedule.trigger_time", func(c *Config) { c.Schedule.TriggerTime = "25:00:00" }},
		{"schedule.timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"dispatch.difficulties[1]", func(c *Config) { c.Dispatch.Difficulties = []string{"daily", "extreme"} }},
		{"dispatch.difficulties[1]", func(c *Config) { c.Dispatch.Difficulties = []string{"easy", "EASY"} }},
		{"dispatch.jitter_max", func(c *Config) { c.Dispatch.JitterMax = "soon" }},
		{"dispatch.jitter_max", func(c *Config) { c.Dispatch.JitterMax = "48h" }},
		{"dispatch.jitter_max", func(c *Config) { c.Dispatch.JitterMax = "24h" }},
		{"dispatch.rate_per_sec", func(c *Config) { c.Dispatch.RatePerSec = -1 }},
		{"subscribers.driver", func(c *Config) { c.Subscribers.Driver = "mongo" }},
		{"subscribers.path", func(c *Config) { c.Subscribers.Driver = "sqlite" }},
		{"subscribers.redis.addr", func(c *Config) { c.Subscribers.Driver = "redis" }},
		{"logging.level", func(c *Config) { c.Logging.Level = "loud" }},
		{"logging.file.path", func(c *Config) { c.Logging.File.Enabled = true }},
		{"telegram.log_chat_id", func(c *Config) { c.Logging.Telegram.Enabled = true }},
		{"telegram.poll_timeout", func(c *Config) { c.Telegram.PollTimeout = "-1s" }},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		_, err := Resolve(cfg)
		var ce *ConfigError
		if assert.ErrorAs(t, err, &ce, tc.field) {
			assert.Equal(t, tc.field, ce.Field)
		}
	}

	s, err := Resolve(base())
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, s.Dispatch.SendTimeout)
	assert.Equal(t, 15*time.Second, s.LeetCode.Timeout)

	cfg := base()
	cfg.Dispatch.JitterMax = "23h59m"
	s, err = Resolve(cfg)
	require.NoError(t, err)
	assert.Equal(t, 23*time.Hour+59*time.Minute, s.Dispatch.JitterMax)
}

func TestLoadDotEnvSkipsMissing(t *testing.T) {
	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("LEETBOT_TEST_DOTENV=hello\n"), 0o600))
	t.Setenv("LEETBOT_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("LEETBOT_TEST_DOTENV"))
	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "hello", os.Getenv("LEETBOT_TEST_DOTENV"))
}

func TestSummarizeChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Schedule: ScheduleConfig{TriggerTime: "09:00:00"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Schedule: ScheduleConfig{TriggerTime: "10:00:00"}, Dispatch: DispatchConfig{JitterMax: "1m"}}
	changed, fields := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"schedule", "dispatch"}, changed)
	assert.NotEmpty(t, fields)
	assert.Empty(t, RestartRequired(changed))
	assert.Equal(t, []string{"subscribers"}, RestartRequired([]string{"logging", "subscribers"}))
}

func TestReloadPublishesValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	write := func(s string) { require.NoError(t, os.WriteFile(path, []byte(s), 0o600)) }
	write(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"09:00:00"}}`)

	m := NewManager(path)
	m.SetLookup(envMap(nil))
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	assert.False(t, m.Reload(), "unchanged file")

	write(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"bad"}}`)
	assert.False(t, m.Reload(), "invalid file")
	assert.Equal(t, 9, m.Get().Trigger.At.Hour)

	write(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"10:15:00"}}`)
	require.True(t, m.Reload())
	select {
	case s := <-ch:
		assert.Equal(t, 10, s.Trigger.At.Hour)
		assert.Equal(t, 15, s.Trigger.At.Minute)
	default:
		t.Fatal("no settings published")
	}
}

func TestWatchPicksUpWrites(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"09:00:00"}}`), 0o600))

	m := NewManager(path)
	m.SetLookup(envMap(nil))
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// give the watcher time to register
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"telegram":{"token":"t"},"schedule":{"trigger_time":"11:00:00"}}`), 0o600))

	select {
	case s := <-ch:
		assert.Equal(t, 11, s.Trigger.At.Hour)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not publish")
	}
}
