package notifier

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"chapterbot/internal/chapters"
	kit "chapterbot/internal/transport"
	logx "chapterbot/pkg/logx"
)

var ErrNoDestination = errors.New("notifier: notify chat is not configured")

// Sender is the part of a chat adapter the notifier needs.
type Sender interface {
	SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error)
}

type TelegramConfig struct {
	Target     kit.ChatTarget
	RatePerSec int
}

// Telegram posts announcements to one chat (optionally a forum topic).
type Telegram struct {
	sender  Sender
	target  kit.ChatTarget
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg TelegramConfig, sender Sender, log logx.Logger) *Telegram {
	rps := max(1, cfg.RatePerSec)
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		sender:  sender,
		target:  cfg.Target,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log.With(logx.String("comp", "notifier.telegram")),
	}
}

func (t *Telegram) Resolve(ctx context.Context) error {
	if t.sender == nil {
		return errors.New("notifier: telegram transport unavailable")
	}
	if t.target.IsZero() {
		return ErrNoDestination
	}
	return nil
}

func (t *Telegram) Notify(ctx context.Context, ch chapters.Change) error {
	if err := t.Resolve(ctx); err != nil {
		return err
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("notifier: rate limit wait: %w", err)
	}
	ref, err := t.sender.SendText(ctx, t.target, FormatChange(ch), &kit.SendOptions{})
	if err != nil {
		return fmt.Errorf("notifier: send to chat %d: %w", t.target.ChatID, err)
	}
	t.log.Debug("announcement sent", logx.String("item", ch.Name), logx.Int("message_id", ref.MessageID))
	return nil
}
