package chapters

import (
	"context"
	"errors"
	"testing"

	"chapterbot/internal/fetch"
	"chapterbot/internal/storage"
	logx "chapterbot/pkg/logx"
)

func newTestTracker(s storage.Store, f fetch.Fetcher) *Tracker {
	return NewTracker(TrackerConfig{}, Deps{Store: s, Fetcher: f, Log: logx.Nop()})
}

func TestTrackRecordsBaselineWithoutNotifying(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	f := newFakeFetcher()
	f.set(onePieceURL, "<div>January 18, 2026</div><div>Ch. 1171</div>")
	n := &fakeNotifier{}
	tr := NewTracker(TrackerConfig{}, Deps{Store: s, Fetcher: f, Notifier: n})

	name, v, err := tr.Track(ctx, "One Piece", onePieceURL)
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	want := storage.ObservedValue{Date: "January 18, 2026", ChapterLabel: "1171", URL: onePieceURL}
	if name != "one_piece" || v != want {
		t.Fatalf("Track() = %q, %+v", name, v)
	}
	st, _ := s.Load(ctx)
	if st.Tracked["one_piece"].URL != onePieceURL || st.Observed["one_piece"] != want {
		t.Fatalf("state = %+v", st)
	}

	// A poll right after tracking sees nothing new.
	rep, err := NewCycle(CycleConfig{}, Deps{Store: s, Fetcher: f, Notifier: n}).Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Results[0].Outcome != OutcomeUnchanged || len(n.sent()) != 0 {
		t.Fatalf("post-track cycle = %+v, sent=%d", rep.Results[0], len(n.sent()))
	}
}

func TestTrackRejectsForeignURLBeforeFetching(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	f := newFakeFetcher()
	tr := newTestTracker(s, f)

	for _, u := range []string{
		"https://example.com/x",
		"http://www.viz.com/shonenjump/chapters/one-piece",
		DefaultAllowedPrefix,
		"not a url",
	} {
		_, _, err := tr.Track(ctx, "X", u)
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("Track(%q) err = %v, want ValidationError", u, err)
		}
		if f.count(u) != 0 {
			t.Fatalf("Track(%q) fetched before validating", u)
		}
	}
	if _, _, err := tr.Track(ctx, "   ", onePieceURL); err == nil {
		t.Fatal("empty name accepted")
	}
	if s.Saves() != 0 {
		t.Fatal("rejected input was persisted")
	}
}

func TestTrackFailuresLeaveStateUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	f := newFakeFetcher()
	f.fail(onePieceURL, &fetch.Error{URL: onePieceURL, StatusCode: 503, Err: errors.New("unavailable")})
	f.set(jjkURL, "<html><body>no chapters yet</body></html>")
	tr := newTestTracker(s, f)

	if _, _, err := tr.Track(ctx, "One Piece", onePieceURL); !fetch.IsFetchError(err) {
		t.Fatalf("fetch failure err = %v", err)
	}
	if _, _, err := tr.Track(ctx, "Jujutsu Kaisen", jjkURL); !errors.Is(err, ErrNoChapter) {
		t.Fatalf("parse failure err = %v", err)
	}
	if s.Saves() != 0 {
		t.Fatal("failed track was persisted")
	}
}

func TestTrackOverwritesExistingEntry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	seed(t, s, map[string]string{"one_piece": jjkURL},
		map[string]storage.ObservedValue{"one_piece": {Date: "September 29, 2024", ChapterLabel: "271", URL: jjkURL}})
	f := newFakeFetcher()
	f.set(onePieceURL, "January 18, 2026 Ch. 1171")

	if _, _, err := newTestTracker(s, f).Track(ctx, "ONE PIECE", onePieceURL); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Load(ctx)
	if len(st.Tracked) != 1 || st.Tracked["one_piece"].URL != onePieceURL || st.Observed["one_piece"].ChapterLabel != "1171" {
		t.Fatalf("state = %+v", st)
	}
}

func TestUntrack(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	seed(t, s, map[string]string{"one_piece": onePieceURL, "jujutsu_kaisen": jjkURL},
		map[string]storage.ObservedValue{"one_piece": {Date: "January 18, 2026", ChapterLabel: "1171", URL: onePieceURL}})
	tr := newTestTracker(s, newFakeFetcher())

	name, err := tr.Untrack(ctx, " One Piece ")
	if err != nil || name != "one_piece" {
		t.Fatalf("Untrack() = %q, %v", name, err)
	}
	st, _ := s.Load(ctx)
	if _, ok := st.Tracked["one_piece"]; ok {
		t.Fatal("tracked entry kept")
	}
	if _, ok := st.Observed["one_piece"]; ok {
		t.Fatal("observed entry kept")
	}
	if _, ok := st.Tracked["jujutsu_kaisen"]; !ok {
		t.Fatal("unrelated item removed")
	}

	saves := s.Saves()
	if _, err := tr.Untrack(ctx, "nonexistent"); !errors.Is(err, ErrNotTracked) {
		t.Fatalf("Untrack(nonexistent) err = %v", err)
	}
	if s.Saves() != saves {
		t.Fatal("not-found untrack wrote state")
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := storage.NewMemory()
	seed(t, s, map[string]string{"one_piece": onePieceURL, "jujutsu_kaisen": jjkURL},
		map[string]storage.ObservedValue{"one_piece": {Date: "January 18, 2026", ChapterLabel: "1171", URL: onePieceURL}})

	got, err := newTestTracker(s, newFakeFetcher()).List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []Listing{
		{Name: "jujutsu_kaisen", URL: jjkURL},
		{Name: "one_piece", URL: onePieceURL, LastChapterLabel: "1171", LastDate: "January 18, 2026"},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("List() = %+v", got)
	}
}
