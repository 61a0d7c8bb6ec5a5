package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"chapterbot/internal/chapters"
	"chapterbot/internal/config"
	"chapterbot/internal/fetch"
	"chapterbot/internal/notifier"
	"chapterbot/internal/observability"
	"chapterbot/internal/storage"
	"chapterbot/internal/task/scheduler"
	kit "chapterbot/internal/transport"
	telegram "chapterbot/internal/transport/telegram/adapter"
	logx "chapterbot/pkg/logx"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file", "json":
		if path == "" {
			path = config.DefaultStatePath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapFetcherConfig(cfg *config.Config) (fetch.Config, error) {
	timeout, err := config.ParseDurationOrDefault("tracker.fetch_timeout", cfg.Tracker.FetchTimeout, 30*time.Second)
	if err != nil {
		return fetch.Config{}, err
	}
	nav, err := config.ParseDurationField("fetcher.headless.navigation_timeout", cfg.Fetcher.Headless.NavigationTimeout)
	if err != nil {
		return fetch.Config{}, err
	}
	return fetch.Config{
		Driver:        cfg.Fetcher.Driver,
		UserAgent:     cfg.Fetcher.UserAgent,
		RespectRobots: cfg.Fetcher.RespectRobots,
		Timeout:       timeout,
		Headless: fetch.HeadlessConfig{
			MaxParallel:       cfg.Fetcher.Headless.MaxParallel,
			NavigationTimeout: nav,
		},
	}, nil
}

func mapCycleConfig(cfg *config.Config) (chapters.CycleConfig, error) {
	fetchTimeout, err := config.ParseDurationField("tracker.fetch_timeout", cfg.Tracker.FetchTimeout)
	if err != nil {
		return chapters.CycleConfig{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if err != nil {
		return chapters.CycleConfig{}, err
	}
	return chapters.CycleConfig{
		FetchTimeout:  fetchTimeout,
		NotifyTimeout: sendTimeout,
		Concurrency:   cfg.Tracker.Concurrency,
	}, nil
}

func mapTrackerConfig(cfg *config.Config) (chapters.TrackerConfig, error) {
	fetchTimeout, err := config.ParseDurationField("tracker.fetch_timeout", cfg.Tracker.FetchTimeout)
	if err != nil {
		return chapters.TrackerConfig{}, err
	}
	return chapters.TrackerConfig{
		AllowedPrefixes: cfg.Tracker.AllowedPrefixes,
		FetchTimeout:    fetchTimeout,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	initial, err := config.ParseDurationField("tracker.initial_delay", cfg.Tracker.InitialDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	drain, err := config.ParseDurationField("tracker.drain_timeout", cfg.Tracker.DrainTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Schedule:     cfg.Tracker.Schedule,
		InitialDelay: initial,
		DrainTimeout: drain,
		Timezone:     cfg.Tracker.Timezone,
	}, nil
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: cfg.Telegram.Token, PollTimeout: poll}, nil
}

func mapNotifierConfig(cfg *config.Config) notifier.TelegramConfig {
	return notifier.TelegramConfig{
		Target:     kit.ChatTarget{ChatID: cfg.Telegram.NotifyChatID, ThreadID: cfg.Telegram.NotifyThreadID},
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapObservabilityConfig(cfg *config.Config) (observability.Config, error) {
	oc := cfg.Observability
	out := observability.Config{
		Enabled: oc.Enabled,
		Addr:    oc.Addr,
		Token:   oc.Token,
		Pprof:   oc.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("observability.read_timeout", oc.ReadTimeout, 10*time.Second); err != nil {
		return observability.Config{}, err
	}
	// pprof profiles stream for 30s by default.
	if out.WriteTimeout, err = config.ParseDurationOrDefault("observability.write_timeout", oc.WriteTimeout, 60*time.Second); err != nil {
		return observability.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("observability.idle_timeout", oc.IdleTimeout, 60*time.Second); err != nil {
		return observability.Config{}, err
	}
	return out, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

// parseGroupLog reads telegram.group_log: "<chat_id>" or "<chat_id>:<thread_id>".
// A thread in group_log wins over logging.telegram.thread_id.
func parseGroupLog(raw string, fallbackThread int) (chatID int64, threadID int, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, 0, false
	}
	chat, thread, hasThread := strings.Cut(raw, ":")
	id, err := strconv.ParseInt(strings.TrimSpace(chat), 10, 64)
	if err != nil || id == 0 {
		return 0, 0, false
	}
	threadID = fallbackThread
	if hasThread {
		t, err := strconv.Atoi(strings.TrimSpace(thread))
		if err != nil || t < 0 {
			return 0, 0, false
		}
		threadID = t
	}
	return id, threadID, true
}
