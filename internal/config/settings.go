package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"leetbot/internal/dispatch"
	"leetbot/internal/leetcode"
	"leetbot/internal/storage"
	"leetbot/internal/trigger"
	"leetbot/pkg/logx"
)

const DefaultDebugAddr = "127.0.0.1:6060"

// ConfigError is a missing or malformed setting. It is fatal at startup; a
// hot reload that fails validation is rejected and the old settings stay.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string { return "config " + e.Field + ": " + e.Err.Error() }
func (e *ConfigError) Unwrap() error { return e.Err }

// Settings is a validated Config with parsed values, ready to hand to
// components.
type Settings struct {
	Token       string
	PollTimeout time.Duration

	Trigger trigger.Config

	Dispatch dispatch.Config
	LeetCode leetcode.Config

	Storage storage.Config
	Static  []int64

	CommandsEnabled bool
	CommandWorkers  int

	Logging logx.Config

	DebugEnabled bool
	DebugAddr    string
}

// Resolve validates cfg and converts it to Settings. Errors are *ConfigError.
func Resolve(cfg *Config) (*Settings, error) {
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Err: errors.New("is nil")}
	}
	s := &Settings{
		Token:           strings.TrimSpace(cfg.Telegram.Token),
		Static:          append([]int64(nil), cfg.Subscribers.Static...),
		CommandsEnabled: cfg.Commands.IsEnabled(),
		CommandWorkers:  cfg.Commands.Workers,
		DebugEnabled:    cfg.Debug.Enabled,
		DebugAddr:       strings.TrimSpace(cfg.Debug.Addr),
	}
	if s.Token == "" {
		return nil, &ConfigError{Field: "telegram.token", Err: fmt.Errorf("required (or set %s)", EnvToken)}
	}

	var err error
	if s.PollTimeout, err = durationOr("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Schedule.TriggerTime) == "" {
		return nil, &ConfigError{Field: "schedule.trigger_time", Err: fmt.Errorf("required (or set %s)", EnvTriggerTime)}
	}
	at, err := trigger.ParseTimeOfDay(cfg.Schedule.TriggerTime)
	if err != nil {
		return nil, &ConfigError{Field: "schedule.trigger_time", Err: err}
	}
	loc, err := trigger.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return nil, &ConfigError{Field: "schedule.timezone", Err: err}
	}
	s.Trigger = trigger.Config{At: at, Loc: loc}

	if s.Dispatch, err = resolveDispatch(cfg.Dispatch); err != nil {
		return nil, err
	}

	s.LeetCode = leetcode.Config{
		BaseURL:   strings.TrimSpace(cfg.LeetCode.BaseURL),
		UserAgent: strings.TrimSpace(cfg.LeetCode.UserAgent),
	}
	if s.LeetCode.Timeout, err = durationOr("leetcode.timeout", cfg.LeetCode.Timeout, 15*time.Second); err != nil {
		return nil, err
	}

	if s.Storage, err = resolveStorage(cfg.Subscribers); err != nil {
		return nil, err
	}

	if cfg.Commands.Workers < 0 {
		return nil, &ConfigError{Field: "commands.workers", Err: errors.New("must be >= 0")}
	}

	if s.Logging, err = resolveLogging(cfg.Logging, cfg.Telegram.LogChatID); err != nil {
		return nil, err
	}

	if s.DebugEnabled && s.DebugAddr == "" {
		s.DebugAddr = DefaultDebugAddr
	}
	return s, nil
}

func resolveDispatch(c DispatchConfig) (dispatch.Config, error) {
	out := dispatch.Config{RatePerSec: c.RatePerSec}
	seen := map[leetcode.Difficulty]bool{}
	for i, raw := range c.Difficulties {
		d, err := leetcode.ParseDifficulty(raw)
		if err != nil {
			return out, &ConfigError{Field: fmt.Sprintf("dispatch.difficulties[%d]", i), Err: err}
		}
		if seen[d] {
			return out, &ConfigError{Field: fmt.Sprintf("dispatch.difficulties[%d]", i), Err: fmt.Errorf("duplicate %q", d)}
		}
		seen[d] = true
		out.Difficulties = append(out.Difficulties, d)
	}
	if len(out.Difficulties) == 0 {
		out.Difficulties = []leetcode.Difficulty{leetcode.Daily}
	}
	if c.RatePerSec < 0 {
		return out, &ConfigError{Field: "dispatch.rate_per_sec", Err: errors.New("must be >= 0")}
	}

	var err error
	// "0s" disables jitter; an omitted value keeps the default window.
	if strings.TrimSpace(c.JitterMax) == "" {
		out.JitterMax = dispatch.DefaultJitterMax
	} else if out.JitterMax, err = parseDuration("dispatch.jitter_max", c.JitterMax); err != nil {
		return out, err
	}
	// Deliveries of one day must start before the next trigger.
	if out.JitterMax >= 24*time.Hour {
		return out, &ConfigError{Field: "dispatch.jitter_max", Err: errors.New("must be shorter than 24h")}
	}
	if out.SendTimeout, err = durationOr("dispatch.send_timeout", c.SendTimeout, 30*time.Second); err != nil {
		return out, err
	}
	return out, nil
}

func resolveStorage(c SubscribersConfig) (storage.Config, error) {
	out := storage.Config{
		Driver: strings.ToLower(strings.TrimSpace(c.Driver)),
		Path:   strings.TrimSpace(c.Path),
		Redis: storage.RedisConfig{
			Addr:     strings.TrimSpace(c.Redis.Addr),
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Key:      strings.TrimSpace(c.Redis.Key),
		},
	}
	if out.Driver == "" {
		out.Driver = "file"
		if out.Path == "" {
			out.Driver = "memory"
		}
	}
	switch out.Driver {
	case "memory", "none":
	case "file", "json", "sqlite", "sqlite3":
		if out.Path == "" {
			return out, &ConfigError{Field: "subscribers.path", Err: fmt.Errorf("required for driver %q (or set %s)", out.Driver, EnvChatIDsFile)}
		}
	case "redis":
		if out.Redis.Addr == "" {
			return out, &ConfigError{Field: "subscribers.redis.addr", Err: errors.New("required for driver \"redis\"")}
		}
	default:
		return out, &ConfigError{Field: "subscribers.driver", Err: fmt.Errorf("unknown driver %q", c.Driver)}
	}
	var err error
	if out.BusyTimeout, err = parseDuration("subscribers.busy_timeout", c.BusyTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func resolveLogging(c LoggingConfig, logChatID int64) (logx.Config, error) {
	out := logx.Config{
		Level:   strings.TrimSpace(c.Level),
		Console: c.ConsoleEnabled(),
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: strings.TrimSpace(c.File.Path)},
		Telegram: logx.TelegramConfig{
			Enabled:    c.Telegram.Enabled,
			ChatID:     logChatID,
			MinLevel:   strings.TrimSpace(c.Telegram.MinLevel),
			RatePerSec: c.Telegram.RatePerSec,
		},
	}
	if out.Level == "" {
		out.Level = "info"
	}
	if !validLevel(out.Level) {
		return out, &ConfigError{Field: "logging.level", Err: fmt.Errorf("unknown level %q", c.Level)}
	}
	if out.File.Enabled && out.File.Path == "" {
		return out, &ConfigError{Field: "logging.file.path", Err: errors.New("required when file logging is enabled")}
	}
	if out.Telegram.Enabled && out.Telegram.ChatID == 0 {
		return out, &ConfigError{Field: "telegram.log_chat_id", Err: errors.New("required when logging.telegram.enabled")}
	}
	if out.Telegram.MinLevel != "" && !validLevel(out.Telegram.MinLevel) {
		return out, &ConfigError{Field: "logging.telegram.min_level", Err: fmt.Errorf("unknown level %q", out.Telegram.MinLevel)}
	}
	return out, nil
}

func validLevel(s string) bool {
	switch strings.ToLower(s) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

func parseDuration(field, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ConfigError{Field: field, Err: fmt.Errorf("invalid duration %q", raw)}
	}
	if d < 0 {
		return 0, &ConfigError{Field: field, Err: errors.New("must be >= 0")}
	}
	return d, nil
}

func durationOr(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
