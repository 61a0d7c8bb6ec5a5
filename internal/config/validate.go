package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"chapterbot/internal/task/scheduler"
)

const (
	DefaultStatePath         = "chapterbot_state.json"
	DefaultObservabilityAddr = "127.0.0.1:9090"
)

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Tracker.Schedule) == "" {
		c.Tracker.Schedule = "30m"
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = "file"
	}
	if strings.TrimSpace(c.Storage.Path) == "" && c.Storage.Driver != "memory" {
		c.Storage.Path = DefaultStatePath
	}
	if c.Observability.Enabled && strings.TrimSpace(c.Observability.Addr) == "" {
		c.Observability.Addr = DefaultObservabilityAddr
	}
}

// ParseDurationField parses a Go duration string. Empty means zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"telegram.poll_timeout", cfg.Telegram.PollTimeout},
		{"tracker.initial_delay", cfg.Tracker.InitialDelay},
		{"tracker.fetch_timeout", cfg.Tracker.FetchTimeout},
		{"tracker.drain_timeout", cfg.Tracker.DrainTimeout},
		{"fetcher.headless.navigation_timeout", cfg.Fetcher.Headless.NavigationTimeout},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"notifier.send_timeout", cfg.Notifier.SendTimeout},
		{"observability.read_timeout", cfg.Observability.ReadTimeout},
		{"observability.write_timeout", cfg.Observability.WriteTimeout},
		{"observability.idle_timeout", cfg.Observability.IdleTimeout},
	} {
		_, err := ParseDurationField(f.path, f.raw)
		add(err)
	}

	if _, err := scheduler.ParseSchedule(cfg.Tracker.Schedule); err != nil {
		add(fmt.Errorf("tracker.schedule: %w", err))
	}
	if cfg.Tracker.Concurrency < 0 {
		add(errors.New("tracker.concurrency: must be >= 0"))
	}
	for _, p := range cfg.Tracker.AllowedPrefixes {
		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			add(fmt.Errorf("tracker.allowed_prefixes: %q is not an absolute URL", p))
		}
	}

	if p := strings.TrimSpace(cfg.Extractor.Pattern); p != "" {
		re, err := regexp.Compile(p)
		switch {
		case err != nil:
			add(fmt.Errorf("extractor.pattern: %w", err))
		case re.NumSubexp() < 2:
			add(errors.New("extractor.pattern: needs two capture groups (date, chapter)"))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Fetcher.Driver)) {
	case "", "http", "colly", "headless", "chromedp":
	default:
		add(fmt.Errorf("fetcher.driver: unknown driver %q", cfg.Fetcher.Driver))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "json", "sqlite", "memory":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if cfg.Telegram.NotifyThreadID < 0 {
		add(errors.New("telegram.notify_thread_id: must be >= 0"))
	}
	if cfg.Notifier.NATS.Enabled && strings.TrimSpace(cfg.Notifier.NATS.URL) == "" {
		add(errors.New("notifier.nats.url: required when nats is enabled"))
	}
	if cfg.Observability.Enabled && !isLoopback(cfg.Observability.Addr) && strings.TrimSpace(cfg.Observability.Token) == "" {
		add(fmt.Errorf("observability.token: required for non-loopback addr %q", cfg.Observability.Addr))
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
