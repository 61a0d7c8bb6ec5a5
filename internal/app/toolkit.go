package app

import (
	"context"
	"errors"

	"chapterbot/internal/chapters"
	"chapterbot/internal/config"
	"chapterbot/internal/fetch"
	"chapterbot/internal/notifier"
	"chapterbot/internal/storage"
	logx "chapterbot/pkg/logx"
)

// Toolkit holds the collaborators every entry point needs: the long-running
// bot as well as one-shot CLI commands.
type Toolkit struct {
	Store     storage.Store
	Fetcher   fetch.Fetcher
	Extractor chapters.Extractor
	Log       logx.Logger
}

// OpenToolkit opens the state store and builds the fetcher and extractor.
func OpenToolkit(cfg *config.Config, log logx.Logger) (*Toolkit, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	ext, err := chapters.NewTextExtractor(cfg.Extractor.Pattern)
	if err != nil {
		return nil, err
	}
	fc, err := mapFetcherConfig(cfg)
	if err != nil {
		return nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	f, err := fetch.New(fc, log.With(logx.String("comp", "fetch")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	log.Debug("toolkit ready",
		logx.String("storage", sc.Driver),
		logx.String("path", sc.Path),
		logx.String("fetcher", fc.Driver),
	)
	return &Toolkit{Store: store, Fetcher: f, Extractor: ext, Log: log}, nil
}

// Deps wires the toolkit with a notifier and recorder. Either may be nil.
func (t *Toolkit) Deps(n chapters.Notifier, rec chapters.Recorder) chapters.Deps {
	return chapters.Deps{
		Store:     t.Store,
		Fetcher:   t.Fetcher,
		Extractor: t.Extractor,
		Notifier:  n,
		Recorder:  rec,
		Log:       t.Log,
	}
}

// Tracker builds the administration service for cfg.
func (t *Toolkit) Tracker(cfg *config.Config) (*chapters.Tracker, error) {
	tc, err := mapTrackerConfig(cfg)
	if err != nil {
		return nil, err
	}
	return chapters.NewTracker(tc, t.Deps(nil, nil)), nil
}

// RunOnce runs a single poll cycle. A nil notifier logs announcements
// instead of sending them.
func (t *Toolkit) RunOnce(ctx context.Context, cfg *config.Config, n chapters.Notifier) (chapters.Report, error) {
	cc, err := mapCycleConfig(cfg)
	if err != nil {
		return chapters.Report{}, err
	}
	if n == nil {
		n = notifier.NewLog(t.Log)
	}
	return chapters.NewCycle(cc, t.Deps(n, nil)).Run(ctx)
}

func (t *Toolkit) Close() error {
	var errs []error
	if c, ok := t.Fetcher.(fetch.Closer); ok {
		c.Close()
	}
	if t.Store != nil {
		errs = append(errs, t.Store.Close())
	}
	return errors.Join(errs...)
}
