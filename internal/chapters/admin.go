package chapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"chapterbot/internal/storage"
	logx "chapterbot/pkg/logx"
)

// DefaultAllowedPrefix is the only source accepted out of the box.
const DefaultAllowedPrefix = "https://www.viz.com/shonenjump/chapters/"

type TrackerConfig struct {
	AllowedPrefixes []string
	FetchTimeout    time.Duration
}

// Listing is one row of List.
type Listing struct {
	Name             string
	URL              string
	LastChapterLabel string
	LastDate         string
}

// Tracker adds, removes and lists tracked items.
type Tracker struct {
	cfg  TrackerConfig
	deps Deps
	log  logx.Logger
}

func NewTracker(cfg TrackerConfig, deps Deps) *Tracker {
	if len(cfg.AllowedPrefixes) == 0 {
		cfg.AllowedPrefixes = []string{DefaultAllowedPrefix}
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	deps.defaults()
	return &Tracker{cfg: cfg, deps: deps, log: deps.Log.With(logx.String("comp", "tracker"))}
}

// ValidateURL accepts only absolute URLs under one of the allowed prefixes.
func (t *Tracker) ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &ValidationError{Field: "url", Value: raw, Reason: "not an absolute URL"}
	}
	for _, p := range t.cfg.AllowedPrefixes {
		if strings.HasPrefix(raw, p) && len(raw) > len(p) {
			return nil
		}
	}
	return &ValidationError{Field: "url", Value: raw, Reason: "must start with " + strings.Join(t.cfg.AllowedPrefixes, " or ")}
}

// Track starts following rawName at pageURL.
//
// The page is fetched once to record a baseline, so tracking an item never
// produces a notification for its current chapter. Nothing is stored unless
// the fetch and extraction both succeed. Tracking an existing name replaces
// its URL and baseline.
func (t *Tracker) Track(ctx context.Context, rawName, pageURL string) (string, storage.ObservedValue, error) {
	name := NormalizeName(rawName)
	pageURL = strings.TrimSpace(pageURL)
	if name == "" {
		return "", storage.ObservedValue{}, &ValidationError{Field: "name", Value: rawName, Reason: "must not be empty"}
	}
	if err := t.ValidateURL(pageURL); err != nil {
		return name, storage.ObservedValue{}, err
	}

	fctx, cancel := context.WithTimeout(ctx, t.cfg.FetchTimeout)
	start := t.deps.Now()
	body, err := t.deps.Fetcher.Fetch(fctx, pageURL)
	cancel()
	t.deps.Recorder.FetchObserved(t.deps.Now().Sub(start), err)
	if err != nil {
		t.log.Warn("track: fetch failed", logx.String("item", name), logx.Err(err))
		return name, storage.ObservedValue{}, err
	}
	ch, ok := t.deps.Extractor.Extract(body)
	if !ok {
		t.log.Warn("track: no chapter marker found", logx.String("item", name), logx.String("url", pageURL))
		return name, storage.ObservedValue{}, fmt.Errorf("%s: %w", pageURL, ErrNoChapter)
	}

	baseline := storage.ObservedValue{Date: ch.Date, ChapterLabel: ch.Label, URL: pageURL}
	err = t.deps.Store.Update(ctx, func(st *storage.State) (bool, error) {
		st.Tracked[name] = storage.TrackedItem{URL: pageURL}
		st.Observed[name] = baseline
		return true, nil
	})
	if err != nil {
		t.log.Error("track: persist failed", logx.String("item", name), logx.Err(err))
		return name, storage.ObservedValue{}, fmt.Errorf("persist %s: %w", name, err)
	}
	t.log.Info("tracking started", logx.String("item", name), logx.String("chapter", ch.Label), logx.String("date", ch.Date))
	return name, baseline, nil
}

// Untrack stops following rawName and forgets its last observation.
// It returns the normalized name, and ErrNotTracked if it was not tracked.
func (t *Tracker) Untrack(ctx context.Context, rawName string) (string, error) {
	name := NormalizeName(rawName)
	if name == "" {
		return "", &ValidationError{Field: "name", Value: rawName, Reason: "must not be empty"}
	}
	found := false
	err := t.deps.Store.Update(ctx, func(st *storage.State) (bool, error) {
		_, found = st.Tracked[name]
		_, observed := st.Observed[name]
		delete(st.Tracked, name)
		delete(st.Observed, name)
		return found || observed, nil
	})
	if err != nil {
		return name, fmt.Errorf("persist %s: %w", name, err)
	}
	if !found {
		return name, ErrNotTracked
	}
	t.log.Info("tracking stopped", logx.String("item", name))
	return name, nil
}

// List returns every tracked item with its last observation, sorted by name.
// Items without an observation have empty chapter and date.
func (t *Tracker) List(ctx context.Context) ([]Listing, error) {
	st, err := t.deps.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Listing, 0, len(st.Tracked))
	for _, name := range st.Names() {
		l := Listing{Name: name, URL: st.Tracked[name].URL}
		if v := st.Observation(name); v != nil {
			l.LastChapterLabel, l.LastDate = v.ChapterLabel, v.Date
		}
		out = append(out, l)
	}
	return out, nil
}
