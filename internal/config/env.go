package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment overrides. They win over the config file.
const (
	EnvTelegramToken  = "CHAPTERBOT_TELEGRAM_TOKEN"
	EnvNotifyChatID   = "CHAPTERBOT_NOTIFY_CHAT_ID"
	EnvNotifyThreadID = "CHAPTERBOT_NOTIFY_THREAD_ID"
	EnvStatePath      = "CHAPTERBOT_STATE_PATH"
)

// LoadDotEnv loads KEY=VALUE files into the process environment. Missing
// files are skipped and variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overlays the CHAPTERBOT_* variables on cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvNotifyChatID); ok {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: invalid chat id %q", EnvNotifyChatID, v)
		}
		cfg.Telegram.NotifyChatID = id
	}
	if v, ok := get(EnvNotifyThreadID); ok {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return fmt.Errorf("%s: invalid thread id %q", EnvNotifyThreadID, v)
		}
		cfg.Telegram.NotifyThreadID = id
	}
	if v, ok := get(EnvStatePath); ok {
		cfg.Storage.Path = v
	}
	return nil
}
