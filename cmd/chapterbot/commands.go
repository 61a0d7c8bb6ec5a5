package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chapterbot/internal/app"
	"chapterbot/internal/chapters"
	"chapterbot/internal/config"
	"chapterbot/internal/notifier"
	kit "chapterbot/internal/transport"
	telegram "chapterbot/internal/transport/telegram/adapter"
	"chapterbot/internal/transport/telegram/router"
	logx "chapterbot/pkg/logx"
)

type RunCmd struct {
	DryRun bool `name:"dry-run" help:"Log announcements instead of posting them."`
}

func (r *RunCmd) Run(_ *Global, cli *CLI) error {
	cfgm, _, err := cli.loadConfig()
	if err != nil {
		return err
	}
	a, err := app.NewApp(cfgm, app.Options{DryRun: r.DryRun})
	if err != nil {
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopAppStop
	select {
	case sig := <-sigs:
		reason = app.StopReasonForSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}

	// The drain timeout of the poll scheduler fits inside this budget.
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		return err
	}
	return stopErr
}

type CheckCmd struct {
	DryRun bool `name:"dry-run" help:"Log announcements instead of posting them."`
}

func (c *CheckCmd) Run(g *Global, cli *CLI) error {
	_, cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	tk, err := app.OpenToolkit(cfg, g.Log)
	if err != nil {
		return err
	}
	defer tk.Close()

	var n chapters.Notifier
	if !c.DryRun {
		if n, err = telegramNotifier(cfg, g.Log); err != nil {
			return err
		}
	}

	ctx, cancel := commandContext()
	defer cancel()
	rep, err := tk.RunOnce(ctx, cfg, n)
	if err != nil {
		return err
	}
	for _, res := range rep.Results {
		switch {
		case res.Kind != chapters.ResultOK:
			fmt.Printf("%-24s %s: %v\n", res.Name, res.Kind, res.Err)
		case res.NotifyErr != nil:
			fmt.Printf("%-24s %s Ch. %s (announcement failed: %v)\n", res.Name, res.Outcome, res.Value.ChapterLabel, res.NotifyErr)
		default:
			fmt.Printf("%-24s %s Ch. %s (%s)\n", res.Name, res.Outcome, res.Value.ChapterLabel, res.Value.Date)
		}
	}
	if len(rep.Results) == 0 {
		fmt.Println("No tracked series.")
	}
	return nil
}

func telegramNotifier(cfg *config.Config, log logx.Logger) (chapters.Notifier, error) {
	if cfg.Telegram.Token == "" {
		return nil, errors.New("telegram.token is required to post announcements; use --dry-run to only log them")
	}
	ad, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token}, log)
	if err != nil {
		return nil, err
	}
	return notifier.NewTelegram(notifier.TelegramConfig{
		Target:     kit.ChatTarget{ChatID: cfg.Telegram.NotifyChatID, ThreadID: cfg.Telegram.NotifyThreadID},
		RatePerSec: cfg.Notifier.RatePerSec,
	}, ad, log), nil
}

type TrackCmd struct {
	Name string `arg:"" help:"Series name, e.g. \"One Piece\"."`
	URL  string `arg:"" name:"url" help:"Chapters page URL."`
}

func (t *TrackCmd) Run(g *Global, cli *CLI) error {
	return withTracker(g, cli, func(ctx context.Context, tr *chapters.Tracker) error {
		name, v, err := tr.Track(ctx, t.Name, t.URL)
		if err != nil {
			return err
		}
		fmt.Printf("Tracking %s\nBaseline set to Ch. %s (%s).\n", name, v.ChapterLabel, v.Date)
		return nil
	})
}

type UntrackCmd struct {
	Name string `arg:"" help:"Series name."`
}

func (u *UntrackCmd) Run(g *Global, cli *CLI) error {
	return withTracker(g, cli, func(ctx context.Context, tr *chapters.Tracker) error {
		name, err := tr.Untrack(ctx, u.Name)
		if err != nil {
			return err
		}
		fmt.Printf("Untracked %s.\n", name)
		return nil
	})
}

type ListCmd struct{}

func (ListCmd) Run(g *Global, cli *CLI) error {
	return withTracker(g, cli, func(ctx context.Context, tr *chapters.Tracker) error {
		items, err := tr.List(ctx)
		if err != nil {
			return err
		}
		fmt.Println(router.FormatListing(items))
		return nil
	})
}

func withTracker(g *Global, cli *CLI, fn func(context.Context, *chapters.Tracker) error) error {
	_, cfg, err := cli.loadConfig()
	if err != nil {
		return err
	}
	tk, err := app.OpenToolkit(cfg, g.Log)
	if err != nil {
		return err
	}
	defer tk.Close()
	tr, err := tk.Tracker(cfg)
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()
	return fn(ctx, tr)
}
