package chapters

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"chapterbot/internal/fetch"
	"chapterbot/internal/storage"
	logx "chapterbot/pkg/logx"
)

// Change is emitted once per detected new chapter.
type Change struct {
	CycleID    string
	Name       string
	Chapter    storage.ObservedValue
	Previous   storage.ObservedValue
	DetectedAt time.Time
}

// Notifier delivers change events.
//
// Resolve is called once per cycle before any item is checked; an error
// aborts that cycle only. Notify failures never undo the persisted value.
type Notifier interface {
	Resolve(ctx context.Context) error
	Notify(ctx context.Context, ch Change) error
}

// Recorder receives operational signals. Implementations must be safe for
// concurrent use.
type Recorder interface {
	FetchObserved(d time.Duration, err error)
	NotifyObserved(err error)
	CycleFinished(rep Report, err error)
}

type nopRecorder struct{}

func (nopRecorder) FetchObserved(time.Duration, error) {}
func (nopRecorder) NotifyObserved(error)               {}
func (nopRecorder) CycleFinished(Report, error)        {}

// Deps are the collaborators shared by Cycle and Tracker.
type Deps struct {
	Store     storage.Store
	Fetcher   fetch.Fetcher
	Extractor Extractor
	Notifier  Notifier
	Recorder  Recorder
	Log       logx.Logger
	Now       func() time.Time
}

func (d *Deps) defaults() {
	if d.Extractor == nil {
		d.Extractor = MustTextExtractor("")
	}
	if d.Recorder == nil {
		d.Recorder = nopRecorder{}
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

type CycleConfig struct {
	// FetchTimeout bounds fetching one item. Default 30s.
	FetchTimeout time.Duration
	// NotifyTimeout bounds delivering one change. Default 10s.
	NotifyTimeout time.Duration
	// Concurrency is the number of items fetched in parallel. Default 1.
	Concurrency int
}

// ResultKind tags the per-item outcome of a cycle.
type ResultKind string

const (
	ResultOK            ResultKind = "ok"
	ResultFetchFailed   ResultKind = "fetch_failed"
	ResultParseFailed   ResultKind = "parse_failed"
	ResultPersistFailed ResultKind = "persist_failed"
	ResultSkipped       ResultKind = "skipped"
	ResultPanicked      ResultKind = "panicked"
)

// ItemResult is what happened to one tracked item. Outcome and Value are set
// for ResultOK; Err for every other kind. NotifyErr records a failed delivery
// of an already persisted change.
type ItemResult struct {
	Name      string
	URL       string
	Kind      ResultKind
	Outcome   Outcome
	Value     *storage.ObservedValue
	Err       error
	NotifyErr error
	Took      time.Duration
}

// Report summarizes one cycle. Results are ordered by item name.
type Report struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []ItemResult
}

// Count returns how many results match kind.
func (r Report) Count(kind ResultKind) int {
	n := 0
	for _, res := range r.Results {
		if res.Kind == kind {
			n++
		}
	}
	return n
}

// Outcomes counts successful results per reconcile outcome.
func (r Report) Outcomes() map[Outcome]int {
	out := map[Outcome]int{}
	for _, res := range r.Results {
		if res.Kind == ResultOK {
			out[res.Outcome]++
		}
	}
	return out
}

// Cycle runs one sweep over every tracked item.
type Cycle struct {
	cfg  CycleConfig
	deps Deps
	log  logx.Logger
}

func NewCycle(cfg CycleConfig, deps Deps) *Cycle {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	deps.defaults()
	return &Cycle{cfg: cfg, deps: deps, log: deps.Log.With(logx.String("comp", "cycle"))}
}

// Run checks every tracked item once. The returned error is set only when
// the whole cycle was aborted; per-item failures live in the report.
func (c *Cycle) Run(ctx context.Context) (rep Report, err error) {
	rep = Report{ID: uuid.NewString(), StartedAt: c.deps.Now()}
	log := c.log.With(logx.String("cycle_id", rep.ID))
	defer func() {
		rep.FinishedAt = c.deps.Now()
		c.deps.Recorder.CycleFinished(rep, err)
	}()

	st, err := c.deps.Store.Load(ctx)
	if err != nil {
		log.Error("load state failed; cycle aborted", logx.Err(err))
		return rep, fmt.Errorf("load state: %w", err)
	}
	names := st.Names()
	if len(names) == 0 {
		log.Info("no tracked items; nothing to check")
		return rep, nil
	}

	if err := c.deps.Notifier.Resolve(ctx); err != nil {
		log.Error("notification destination unresolved; cycle aborted", logx.Err(err))
		return rep, fmt.Errorf("%w: %w", ErrDestinationUnresolved, err)
	}

	log.Debug("cycle started", logx.Int("items", len(names)))
	rep.Results = make([]ItemResult, len(names))

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	for i, name := range names {
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			rep.Results[i] = c.checkItem(ctx, rep.ID, log, name, st.Tracked[name].URL)
		}()
	}
	wg.Wait()

	log.Info("cycle finished",
		logx.Int("items", len(names)),
		logx.Int("changed", rep.Outcomes()[OutcomeChanged]),
		logx.Int("initialized", rep.Outcomes()[OutcomeInitialize]),
		logx.Int("fetch_failed", rep.Count(ResultFetchFailed)),
		logx.Int("parse_failed", rep.Count(ResultParseFailed)),
		logx.Int("persist_failed", rep.Count(ResultPersistFailed)),
		logx.Duration("took", c.deps.Now().Sub(rep.StartedAt)),
	)
	return rep, nil
}

// checkItem never panics and never returns an error: everything that goes
// wrong for one item stays in its result.
func (c *Cycle) checkItem(ctx context.Context, cycleID string, log logx.Logger, name, url string) (res ItemResult) {
	res = ItemResult{Name: name, URL: url}
	log = log.With(logx.String("item", name))
	start := c.deps.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error("item check panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res.Kind = ResultPanicked
			res.Err = fmt.Errorf("panic: %v", r)
		}
		res.Took = c.deps.Now().Sub(start)
	}()

	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	body, err := c.deps.Fetcher.Fetch(fctx, url)
	cancel()
	c.deps.Recorder.FetchObserved(c.deps.Now().Sub(start), err)
	if err != nil {
		log.Warn("fetch failed; item skipped", logx.String("url", url), logx.Err(err))
		res.Kind, res.Err = ResultFetchFailed, err
		return res
	}

	ch, ok := c.deps.Extractor.Extract(body)
	if !ok {
		log.Warn("no chapter marker found; item skipped", logx.String("url", url))
		res.Kind, res.Outcome, res.Err = ResultParseFailed, OutcomeParseFailed, ErrNoChapter
		return res
	}

	// Reconcile against the state read under the store lock so a concurrent
	// Track or Untrack cannot interleave between decision and write.
	var dec Decision
	err = c.deps.Store.Update(ctx, func(st *storage.State) (bool, error) {
		if _, tracked := st.Tracked[name]; !tracked {
			return false, errNoLongerTracked
		}
		dec = Reconcile(st.Observation(name), &ch, url)
		switch dec.Outcome {
		case OutcomeInitialize, OutcomeChanged:
			st.Observed[name] = *dec.Value
			return true, nil
		default:
			return false, nil
		}
	})
	switch {
	case errors.Is(err, errNoLongerTracked):
		log.Info("item untracked during check; result dropped")
		res.Kind, res.Err = ResultSkipped, err
		return res
	case err != nil:
		log.Error("persist observation failed; item skipped", logx.Err(err))
		res.Kind, res.Err = ResultPersistFailed, err
		return res
	}

	res.Kind, res.Outcome, res.Value = ResultOK, dec.Outcome, dec.Value
	switch dec.Outcome {
	case OutcomeInitialize:
		log.Info("baseline recorded", logx.String("chapter", ch.Label), logx.String("date", ch.Date))
	case OutcomeUnchanged:
		log.Debug("no new chapter", logx.String("chapter", ch.Label))
	case OutcomeChanged:
		log.Info("new chapter detected",
			logx.String("chapter", ch.Label),
			logx.String("date", ch.Date),
			logx.String("previous", dec.Previous.ChapterLabel),
		)
		res.NotifyErr = c.notify(ctx, log, Change{
			CycleID:    cycleID,
			Name:       name,
			Chapter:    *dec.Value,
			Previous:   *dec.Previous,
			DetectedAt: c.deps.Now(),
		})
	}
	return res
}

func (c *Cycle) notify(ctx context.Context, log logx.Logger, ch Change) error {
	nctx, cancel := context.WithTimeout(ctx, c.cfg.NotifyTimeout)
	defer cancel()
	err := c.deps.Notifier.Notify(nctx, ch)
	c.deps.Recorder.NotifyObserved(err)
	if err != nil {
		log.Error("notification failed; new chapter stays recorded", logx.Err(err))
	}
	return err
}
