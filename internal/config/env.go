package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables understood by the daemon.
const (
	EnvToken       = "TELOXIDE_TOKEN"
	EnvTokenAlt    = "TELEGRAM_TOKEN"
	EnvTriggerTime = "TRIGGER_TIME"
	EnvChatIDsFile = "CHAT_IDS_FILE_PATH"
	EnvChatID      = "TELEGRAM_CHAT_ID"
	EnvLogLevel    = "LOG_LEVEL"
	EnvDebugAddr   = "DEBUG_ADDR"
	defaultDotEnv  = ".env"
)

// LoadDotEnv loads the given files (default ".env") into the process
// environment. Variables that are already set win. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{defaultDotEnv}
	}
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		found = append(found, p)
	}
	if len(found) == 0 {
		return nil
	}
	return godotenv.Load(found...)
}

// ApplyEnv overlays environment settings on cfg. lookup is os.LookupEnv
// outside tests.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvToken); ok {
		cfg.Telegram.Token = v
	} else if v, ok := get(EnvTokenAlt); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvTriggerTime); ok {
		cfg.Schedule.TriggerTime = v
	}
	if v, ok := get(EnvChatIDsFile); ok {
		cfg.Subscribers.Path = v
		if cfg.Subscribers.Driver == "" {
			cfg.Subscribers.Driver = "file"
		}
	}
	if v, ok := get(EnvChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return &ConfigError{Field: EnvChatID, Err: err}
		}
		if !containsID(cfg.Subscribers.Static, id) {
			cfg.Subscribers.Static = append(cfg.Subscribers.Static, id)
		}
	}
	if v, ok := get(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := get(EnvDebugAddr); ok {
		cfg.Debug.Enabled = true
		cfg.Debug.Addr = v
	}
	return nil
}

func containsID(ids []int64, id int64) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
