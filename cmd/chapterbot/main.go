package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"chapterbot/internal/config"
	logx "chapterbot/pkg/logx"
)

var version = "dev"

// Global is shared by every command.
type Global struct {
	Log logx.Logger
}

type CLI struct {
	Config  string           `short:"c" help:"Config file (JSON or YAML). Empty means environment and defaults only." env:"CHAPTERBOT_CONFIG" type:"path"`
	EnvFile []string         `name:"env-file" help:"KEY=VALUE files loaded into the environment." default:".env"`
	Verbose bool             `short:"v" help:"Enable debug logging for one-shot commands."`
	Version kong.VersionFlag `name:"version" help:"Show version and exit."`

	Run     RunCmd     `cmd:"" default:"1" help:"Run the bot: poll on schedule and answer chat commands."`
	Check   CheckCmd   `cmd:"" help:"Run one poll cycle and exit."`
	Track   TrackCmd   `cmd:"" help:"Start tracking a series."`
	Untrack UntrackCmd `cmd:"" help:"Stop tracking a series."`
	List    ListCmd    `cmd:"" help:"List tracked series."`
}

func (c *CLI) AfterApply() error {
	return config.LoadDotEnv(c.EnvFile...)
}

func (c *CLI) loadConfig() (*config.ConfigManager, *config.Config, error) {
	cfgm := config.NewConfigManager(c.Config)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfgm, cfg, nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chapterbot"),
		kong.Description("Watches chapter listing pages and announces new chapters on Telegram."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	level := "WARN"
	if cli.Verbose {
		level = "DEBUG"
	}
	g := &Global{Log: logx.NewConsole(level)}

	if err := kctx.Run(g, &cli); err != nil {
		fmt.Fprintln(os.Stderr, "chapterbot:", err)
		os.Exit(1)
	}
}

// commandContext is canceled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
