package config

import (
	"reflect"
	"strings"

	"leetbot/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// returns log fields describing the new values. Secrets (token, redis
// password) are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	fields := make([]logx.Field, 0, 16)

	if oldCfg.Telegram != newCfg.Telegram {
		changed = append(changed, "telegram")
		fields = append(fields,
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
			logx.String("telegram.poll_timeout", newCfg.Telegram.PollTimeout),
		)
	}
	if oldCfg.Schedule != newCfg.Schedule {
		changed = append(changed, "schedule")
		fields = append(fields,
			logx.String("schedule.trigger_time", newCfg.Schedule.TriggerTime),
			logx.String("schedule.timezone", newCfg.Schedule.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Dispatch, newCfg.Dispatch) {
		changed = append(changed, "dispatch")
		fields = append(fields,
			logx.String("dispatch.difficulties", strings.Join(newCfg.Dispatch.Difficulties, ",")),
			logx.String("dispatch.jitter_max", newCfg.Dispatch.JitterMax),
			logx.Int("dispatch.rate_per_sec", newCfg.Dispatch.RatePerSec),
		)
	}
	if oldCfg.LeetCode != newCfg.LeetCode {
		changed = append(changed, "leetcode")
		fields = append(fields, logx.String("leetcode.base_url", newCfg.LeetCode.BaseURL))
	}
	if !reflect.DeepEqual(oldCfg.Subscribers, newCfg.Subscribers) {
		changed = append(changed, "subscribers")
		fields = append(fields,
			logx.String("subscribers.driver", newCfg.Subscribers.Driver),
			logx.Int("subscribers.static", len(newCfg.Subscribers.Static)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Commands, newCfg.Commands) {
		changed = append(changed, "commands")
		fields = append(fields, logx.Bool("commands.enabled", newCfg.Commands.IsEnabled()))
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		fields = append(fields,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram", newCfg.Logging.Telegram.Enabled),
		)
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		fields = append(fields,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
		)
	}
	return changed, fields
}

// RestartRequired reports sections that cannot be applied live.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "telegram", "subscribers", "commands", "leetcode", "debug":
			out = append(out, s)
		}
	}
	return out
}
