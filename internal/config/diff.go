package config

import (
	"reflect"
	"sort"
	"strings"

	logx "chapterbot/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and safe
// structured fields for logging them. Secrets are reported only as set or
// unset.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	ot, nt := oldCfg.Telegram, newCfg.Telegram
	tokenChanged := ot.Token != nt.Token
	ot.Token, nt.Token = "", ""
	if tokenChanged || ot != nt {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Int64("telegram.notify_chat_id", nt.NotifyChatID),
			logx.Int("telegram.notify_thread_id", nt.NotifyThreadID),
			logx.Bool("telegram.group_log_set", strings.TrimSpace(nt.GroupLog) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Tracker, newCfg.Tracker) {
		changed = append(changed, "tracker")
		attrs = append(attrs,
			logx.String("tracker.schedule", newCfg.Tracker.Schedule),
			logx.Int("tracker.concurrency", newCfg.Tracker.Concurrency),
			logx.Int("tracker.allowed_prefixes", len(newCfg.Tracker.AllowedPrefixes)),
		)
	}

	if oldCfg.Extractor != newCfg.Extractor {
		changed = append(changed, "extractor")
		attrs = append(attrs, logx.Bool("extractor.custom_pattern", newCfg.Extractor.Pattern != ""))
	}

	if oldCfg.Fetcher != newCfg.Fetcher {
		changed = append(changed, "fetcher")
		attrs = append(attrs, logx.String("fetcher.driver", newCfg.Fetcher.Driver))
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Bool("notifier.nats_enabled", newCfg.Notifier.NATS.Enabled),
		)
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	obsTokenChanged := oo.Token != no.Token
	oo.Token, no.Token = "", ""
	if obsTokenChanged || oo != no {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", no.Addr),
			logx.Bool("observability.pprof", no.Pprof),
			logx.Bool("observability.token_set", strings.TrimSpace(newCfg.Observability.Token) != ""),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "logging", "tracker", "extractor", "observability":
		default:
			out = append(out, s)
		}
	}
	return out
}
