// Package config loads, validates and hot-reloads daemon settings.
package config

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("10s", "10m"). Every field may be omitted; environment
// overrides are applied after the file is read.
type Config struct {
	Telegram    TelegramConfig    `json:"telegram"`
	Schedule    ScheduleConfig    `json:"schedule"`
	Dispatch    DispatchConfig    `json:"dispatch"`
	LeetCode    LeetCodeConfig    `json:"leetcode"`
	Subscribers SubscribersConfig `json:"subscribers"`
	Commands    CommandsConfig    `json:"commands"`
	Logging     LoggingConfig     `json:"logging"`
	Debug       DebugConfig       `json:"debug"`
}

type TelegramConfig struct {
	Token       string `json:"token"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// LogChatID receives warnings when logging.telegram.enabled is set.
	LogChatID int64 `json:"log_chat_id,omitempty"`
}

type ScheduleConfig struct {
	// TriggerTime is the local time of day, "HH:MM:SS".
	TriggerTime string `json:"trigger_time"`
	// Timezone is an IANA name; empty means the process zone.
	Timezone string `json:"timezone,omitempty"`
}

type DispatchConfig struct {
	// Difficulties in render order: daily, easy, medium, hard.
	Difficulties []string `json:"difficulties,omitempty"`
	JitterMax    string   `json:"jitter_max,omitempty"`
	RatePerSec   int      `json:"rate_per_sec,omitempty"`
	SendTimeout  string   `json:"send_timeout,omitempty"`
}

type LeetCodeConfig struct {
	BaseURL   string `json:"base_url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// SubscribersConfig selects the subscriber store backend.
//
// Example:
//
//	"subscribers": { "driver": "file", "path": "./chat_ids.json" }
type SubscribersConfig struct {
	Driver      string      `json:"driver,omitempty"` // memory | file | sqlite | redis
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
	// Static chats always receive deliveries and cannot /stop.
	Static []int64 `json:"static,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type CommandsConfig struct {
	// Enabled is a pointer so an omitted value can default to true.
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`
}

func (c CommandsConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

type LoggingConfig struct {
	Level    string          `json:"level,omitempty"`
	Console  *bool           `json:"console,omitempty"`
	File     LoggingFile     `json:"file,omitempty"`
	Telegram LoggingTelegram `json:"telegram,omitempty"`
}

func (c LoggingConfig) ConsoleEnabled() bool { return c.Console == nil || *c.Console }

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// DebugConfig controls the optional HTTP server for /metrics and pprof.
// Prefer a loopback address.
type DebugConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
}
