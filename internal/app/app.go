package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"chapterbot/internal/chapters"
	"chapterbot/internal/config"
	"chapterbot/internal/notifier"
	"chapterbot/internal/observability"
	rtsup "chapterbot/internal/runtime/supervisor"
	"chapterbot/internal/storage"
	"chapterbot/internal/task/scheduler"
	kit "chapterbot/internal/transport"
	telegram "chapterbot/internal/transport/telegram/adapter"
	"chapterbot/internal/transport/telegram/router"
	logx "chapterbot/pkg/logx"
)

// Options tweak a run without touching the config file.
type Options struct {
	// DryRun logs announcements instead of posting them.
	DryRun bool
}

type App struct {
	cfgm *config.ConfigManager
	opts Options

	sup  *rtsup.Supervisor
	log  logx.Logger
	logs *logx.Service

	kit     *Toolkit
	adapter *telegram.Adapter
	notif   chapters.Notifier
	nats    *notifier.NATS
	metrics *observability.Metrics
	obs     *observability.Server
	sched   *scheduler.Service
	cmdm    *router.CommandManager

	// Swapped on hot reload of the tracker or extractor sections.
	cycle   atomic.Pointer[chapters.Cycle]
	tracker atomic.Pointer[chapters.Tracker]

	updates chan kit.Update
}

func NewApp(cfgm *config.ConfigManager, opts Options) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		var err error
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	}

	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(adCfg, logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	// Enable the Telegram log sink only after its target is set so Apply
	// does not warn about a missing destination.
	logCfg := mapLoggingConfig(cfg)
	bootCfg := logCfg
	bootCfg.Telegram.Enabled = false
	logSvc, log := logx.New(bootCfg, ad)
	if chatID, threadID, ok := parseGroupLog(cfg.Telegram.GroupLog, cfg.Logging.Telegram.ThreadID); ok {
		logSvc.SetTelegramTarget(chatID, threadID)
	}
	logSvc.Apply(logCfg)
	appLog := log.With(logx.String("comp", "app"))

	tk, err := OpenToolkit(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:    cfgm,
		opts:    opts,
		log:     appLog,
		logs:    logSvc,
		kit:     tk,
		adapter: ad,
		metrics: observability.NewMetrics(),
		updates: make(chan kit.Update, 256),
	}

	var primary chapters.Notifier
	if opts.DryRun {
		primary = notifier.NewLog(log)
		appLog.Warn("dry run: announcements are logged, not posted")
	} else {
		primary = notifier.NewTelegram(mapNotifierConfig(cfg), ad, log)
	}
	var sinks []notifier.Sink
	if nc := cfg.Notifier.NATS; nc.Enabled {
		n, err := notifier.DialNATS(notifier.NATSConfig{URL: nc.URL, Subject: nc.Subject}, log)
		if err != nil {
			_ = tk.Close()
			_ = logSvc.Close()
			return nil, fmt.Errorf("notifier.nats: %w", err)
		}
		a.nats = n
		sinks = append(sinks, n)
	}
	a.notif = notifier.NewFanout(primary, log, sinks...)

	if err := a.rebuild(cfg); err != nil {
		_ = a.closeResources()
		return nil, err
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	a.sched, err = scheduler.New("poll", schedCfg, a.poll, log)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	a.metrics.WatchScheduler("poll", a.sched.Snapshot)

	obsCfg, err := mapObservabilityConfig(cfg)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}
	a.obs = observability.NewServer(obsCfg, a.metrics, a.health, log)

	a.cmdm = router.NewCommandManager(log, ad)
	a.cmdm.SetRegistry(router.TrackerCommands(liveTracker{a}, a.sched, announceTarget(cfg)))

	return a, nil
}

// rebuild swaps in a cycle and tracker built from cfg.
func (a *App) rebuild(cfg *config.Config) error {
	ext, err := chapters.NewTextExtractor(cfg.Extractor.Pattern)
	if err != nil {
		return err
	}
	cc, err := mapCycleConfig(cfg)
	if err != nil {
		return err
	}
	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		return err
	}
	deps := a.kit.Deps(a.notif, a.metrics)
	deps.Extractor = ext
	a.cycle.Store(chapters.NewCycle(cc, deps))
	a.tracker.Store(chapters.NewTracker(tc, deps))
	return nil
}

func announceTarget(cfg *config.Config) string {
	if cfg.Telegram.NotifyChatID == 0 {
		return ""
	}
	s := "chat " + strconv.FormatInt(cfg.Telegram.NotifyChatID, 10)
	if cfg.Telegram.NotifyThreadID != 0 {
		s += " (topic " + strconv.Itoa(cfg.Telegram.NotifyThreadID) + ")"
	}
	return s
}

// poll is the scheduled job. Per-item failures are in the report and
// already logged; only an aborted cycle counts as a failed run.
func (a *App) poll(ctx context.Context) error {
	_, err := a.cycle.Load().Run(ctx)
	return err
}

func (a *App) health() error {
	select {
	case <-a.adapter.Ready():
	default:
		return errors.New("telegram adapter not polling yet")
	}
	if a.sup != nil {
		if err := a.sup.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Scheduler exposes the poll scheduler for status reporting.
func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, err := chapters.NewTextExtractor(cfg.Extractor.Pattern); err != nil {
			return err
		}
		if _, err := mapSchedulerConfig(cfg); err != nil {
			return err
		}
		if _, err := mapObservabilityConfig(cfg); err != nil {
			return err
		}
		_, err := mapStorageConfig(cfg)
		return err
	})

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})
	a.sup.Go0("commands.menu", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.adapter.Ready():
		}
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		if err := a.cmdm.PublishMenu(mctx); err != nil {
			a.log.Warn("publish command menu failed", logx.Err(err))
		}
	})

	a.obs.Start(a.sup.Context())

	if err := a.sched.Start(a.sup.Context(), a.adapter.Ready()); err != nil {
		return err
	}

	a.sup.Go0("config.reload", a.reloadLoop)
	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	a.sup.Go0("systemd.notify", func(c context.Context) {
		select {
		case <-c.Done():
			return
		case <-a.adapter.Ready():
		}
		sdNotify(a.log, sdReady)
		sdWatchdog(c, a.log)
	})

	a.log.Info("app started",
		logx.String("schedule", a.sched.Snapshot().Schedule),
		logx.Bool("dry_run", a.opts.DryRun),
		logx.Bool("nats", a.nats != nil),
	)
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.closeResources()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, sdStopping)

	// Stop accepting commands and updates right away; an in-flight cycle
	// keeps its own context and is drained by the scheduler step.
	a.sup.Cancel()

	// step bounds one shutdown step so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		if dl, ok := ctx.Deadline(); ok {
			max = min(max, time.Until(dl))
		}
		if max <= 0 {
			a.log.Warn("stop step skipped: deadline reached", logx.String("name", name))
			return
		}
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			if took := time.Since(start); took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	drain, _ := config.ParseDurationOrDefault("tracker.drain_timeout", a.cfgm.Get().Tracker.DrainTimeout, 45*time.Second)
	step("scheduler", drain+time.Second, a.sched.Stop)
	step("observability", time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("adapter", 2*time.Second, a.adapter.Stop)
	step("supervisor", 2*time.Second, a.sup.Wait)
	step("resources", 2*time.Second, func(context.Context) error { return a.closeResources() })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() error {
	var errs []error
	if a.nats != nil {
		errs = append(errs, a.nats.Close())
	}
	if a.kit != nil {
		errs = append(errs, a.kit.Close())
	}
	return errors.Join(errs...)
}

// liveTracker follows tracker rebuilds on config reload.
type liveTracker struct{ a *App }

func (l liveTracker) Track(ctx context.Context, rawName, pageURL string) (string, storage.ObservedValue, error) {
	return l.a.tracker.Load().Track(ctx, rawName, pageURL)
}

func (l liveTracker) Untrack(ctx context.Context, rawName string) (string, error) {
	return l.a.tracker.Load().Untrack(ctx, rawName)
}

func (l liveTracker) List(ctx context.Context) ([]chapters.Listing, error) {
	return l.a.tracker.Load().List(ctx)
}
