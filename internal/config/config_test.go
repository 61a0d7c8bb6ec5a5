package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func noEnv(string) (string, bool) { return "", false }

func newManager(path string) *ConfigManager {
	m := NewConfigManager(path)
	m.SetLookup(noEnv)
	return m
}

func TestParseJSONAndDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{
		"telegram": {"token": "abc", "notify_chat_id": -1001},
		"tracker": {"concurrency": 2}
	}`)
	cfg, err := newManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "abc" || cfg.Telegram.NotifyChatID != -1001 || cfg.Tracker.Concurrency != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Tracker.Schedule != "30m" || cfg.Storage.Driver != "file" || cfg.Storage.Path != DefaultStatePath {
		t.Fatalf("defaults not applied: %+v / %+v", cfg.Tracker, cfg.Storage)
	}
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
telegram:
  token: abc
  notify_chat_id: 42
  notify_thread_id: 7
tracker:
  schedule: "*/15 * * * *"
  allowed_prefixes:
    - https://www.viz.com/shonenjump/chapters/
storage:
  driver: sqlite
  path: state.db
`)
	cfg, err := newManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.NotifyThreadID != 7 || cfg.Tracker.Schedule != "*/15 * * * *" || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if len(cfg.Tracker.AllowedPrefixes) != 1 {
		t.Fatalf("allowed_prefixes = %v", cfg.Tracker.AllowedPrefixes)
	}

	empty := writeFile(t, t.TempDir(), "empty.yml", "")
	if _, err := newManager(empty).Load(); err != nil {
		t.Fatalf("empty yaml: %v", err)
	}
}

func TestParseYAMLAnchorsAndDuplicates(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", `
defaults: &fetch
  driver: colly
  timeout: 20s
  user_agent: base
fetcher:
  <<: *fetch
  user_agent: custom
telegram:
  token: abc
  notify_chat_id: 42
`)
	jb, err := configJSON(p, mustRead(t, p))
	if err != nil {
		t.Fatalf("configJSON: %v", err)
	}
	if !strings.Contains(string(jb), `"fetcher":{"driver":"colly","timeout":"20s","user_agent":"custom"}`) {
		t.Fatalf("merged = %s", jb)
	}

	dup := writeFile(t, dir, "dup.yaml", "telegram:\n  token: a\n  token: b\n")
	_, err = newManager(dup).Parse()
	if err == nil || !strings.Contains(err.Error(), `line 3: key "token" defined twice`) {
		t.Fatalf("duplicate key err = %v", err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestParseRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"unknown.json":  `{"telegram": {"tokn": "x"}}`,
		"trailing.json": `{} {}`,
		"bad.yaml":      "telegram: [",
	} {
		if _, err := newManager(writeFile(t, dir, name, body)).Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
	if _, err := newManager(filepath.Join(dir, "missing.json")).Parse(); !os.IsNotExist(err) {
		t.Fatalf("missing file err = %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.json", `{"telegram": {"token": "file", "notify_chat_id": 1}}`)
	env := map[string]string{
		EnvTelegramToken:  "env-token",
		EnvNotifyChatID:   "-100200",
		EnvNotifyThreadID: "3",
		EnvStatePath:      "/var/lib/chapterbot/state.json",
	}
	m := NewConfigManager(p)
	m.SetLookup(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "env-token" || cfg.Telegram.NotifyChatID != -100200 || cfg.Telegram.NotifyThreadID != 3 {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Storage.Path != "/var/lib/chapterbot/state.json" {
		t.Fatalf("storage.path = %q", cfg.Storage.Path)
	}

	env[EnvNotifyChatID] = "not-a-number"
	if _, err := m.Parse(); err == nil || !strings.Contains(err.Error(), EnvNotifyChatID) {
		t.Fatalf("bad env err = %v", err)
	}
}

func TestEnvOnlyWithoutFile(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("")
	m.SetLookup(func(k string) (string, bool) {
		if k == EnvTelegramToken {
			return "t", true
		}
		return "", false
	})
	cfg, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Telegram.Token != "t" || cfg.Tracker.Schedule != "30m" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadDotEnv(t *testing.T) {
	p := writeFile(t, t.TempDir(), ".env", "CHAPTERBOT_TEST_DOTENV=from-file\nCHAPTERBOT_TEST_PRESET=from-file\n")
	t.Setenv("CHAPTERBOT_TEST_PRESET", "from-env")
	t.Setenv("CHAPTERBOT_TEST_DOTENV", "")
	os.Unsetenv("CHAPTERBOT_TEST_DOTENV")

	if err := LoadDotEnv(p, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CHAPTERBOT_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("dotenv value = %q", got)
	}
	if got := os.Getenv("CHAPTERBOT_TEST_PRESET"); got != "from-env" {
		t.Fatalf("existing env was overridden: %q", got)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"bad schedule", func(c *Config) { c.Tracker.Schedule = "whenever" }, "tracker.schedule"},
		{"bad duration", func(c *Config) { c.Tracker.FetchTimeout = "soon" }, "tracker.fetch_timeout"},
		{"negative duration", func(c *Config) { c.Notifier.SendTimeout = "-1s" }, "notifier.send_timeout"},
		{"pattern groups", func(c *Config) { c.Extractor.Pattern = `Ch\. (\d+)` }, "extractor.pattern"},
		{"fetch driver", func(c *Config) { c.Fetcher.Driver = "curl" }, "fetcher.driver"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "redis" }, "storage.driver"},
		{"prefix", func(c *Config) { c.Tracker.AllowedPrefixes = []string{"viz.com"} }, "tracker.allowed_prefixes"},
		{"nats url", func(c *Config) { c.Notifier.NATS.Enabled = true }, "notifier.nats.url"},
		{"public metrics", func(c *Config) {
			c.Observability.Enabled = true
			c.Observability.Addr = "0.0.0.0:9090"
		}, "observability.token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			cfg.applyDefaults()
			tt.mut(cfg)
			err := Validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate() = %v, want mention of %s", err, tt.want)
			}
		})
	}

	ok := &Config{Observability: ObservabilityConfig{Enabled: true}}
	ok.applyDefaults()
	if err := Validate(ok); err != nil {
		t.Fatalf("loopback default rejected: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Telegram: TelegramConfig{Token: "secret-1"}, Tracker: TrackerConfig{Schedule: "30m"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "secret-2"}, Tracker: TrackerConfig{Schedule: "1h"}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if strings.Join(changed, ",") != "telegram,tracker" {
		t.Fatalf("changed = %v", changed)
	}
	if got := RestartRequired(changed); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("RestartRequired = %v", got)
	}
	if changed, _ := SummarizeConfigChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported %v", changed)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.json", `{"tracker": {"schedule": "30m"}}`)
	m := newManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	writeFile(t, dir, "config.json", `{"tracker": {"schedule": "never"}}`)
	time.Sleep(2 * reloadDebounce)
	writeFile(t, dir, "config.json", `{"tracker": {"schedule": "1h"}}`)

	select {
	case cfg := <-sub:
		if cfg.Tracker.Schedule != "1h" {
			t.Fatalf("published schedule = %q", cfg.Tracker.Schedule)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
	if m.Get().Tracker.Schedule != "1h" {
		t.Fatalf("committed schedule = %q", m.Get().Tracker.Schedule)
	}
}
