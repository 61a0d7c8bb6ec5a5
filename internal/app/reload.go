package app

import (
	"context"
	"slices"
	"strings"

	"chapterbot/internal/config"
	logx "chapterbot/pkg/logx"
)

// reloadLoop applies committed config changes. Sections that cannot change
// at runtime are reported and otherwise ignored until restart.
func (a *App) reloadLoop(c context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)

	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-c.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the latest config in the channel.
		drain:
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					break drain
				}
			}
			a.applyConfig(c, lastApplied, newCfg)
			lastApplied = newCfg
		}
	}
}

func (a *App) applyConfig(c context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	if restart := config.RestartRequired(sections); len(restart) > 0 {
		a.log.Warn("config sections changed that need a restart to take effect",
			logx.String("sections", strings.Join(restart, ",")),
		)
	}

	if slices.Contains(sections, "logging") || slices.Contains(sections, "telegram") {
		// Target first so Apply does not warn when Telegram logging is enabled.
		if chatID, threadID, ok := parseGroupLog(newCfg.Telegram.GroupLog, newCfg.Logging.Telegram.ThreadID); ok {
			a.logs.SetTelegramTarget(chatID, threadID)
		} else {
			a.logs.SetTelegramTarget(0, 0)
		}
		a.logs.Apply(mapLoggingConfig(newCfg))
	}

	if slices.Contains(sections, "tracker") {
		if sc, err := mapSchedulerConfig(newCfg); err != nil {
			a.log.Warn("invalid tracker schedule config; keeping previous", logx.Err(err))
		} else if err := a.sched.Apply(sc); err != nil {
			a.log.Warn("scheduler rejected new config; keeping previous", logx.Err(err))
		}
	}
	if slices.Contains(sections, "tracker") || slices.Contains(sections, "extractor") {
		if err := a.rebuild(newCfg); err != nil {
			a.log.Warn("invalid tracker config; keeping previous", logx.Err(err))
		}
	}

	if slices.Contains(sections, "observability") {
		if oc, err := mapObservabilityConfig(newCfg); err != nil {
			a.log.Warn("invalid observability config; keeping previous", logx.Err(err))
		} else {
			a.obs.Reconfigure(c, oc)
		}
	}

	a.log.Info("config reloaded", fields...)
}
