package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"chapterbot/internal/chapters"
	"chapterbot/internal/fetch"
	"chapterbot/internal/storage"
	kit "chapterbot/internal/transport"
	logx "chapterbot/pkg/logx"
)

func TestTokenizeCommandLine(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want []string
	}{
		{"/list", []string{"/list"}},
		{`/track "One Piece" https://x/y`, []string{"/track", "One Piece", "https://x/y"}},
		{`/track 'Jujutsu Kaisen'   url`, []string{"/track", "Jujutsu Kaisen", "url"}},
		{`/a b\ c ""`, []string{"/a", "b c", ""}},
		{"   ", nil},
	}
	for _, tt := range tests {
		if got := tokenizeCommandLine(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("tokenizeCommandLine(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseFlags(t *testing.T) {
	t.Parallel()
	pos, flags, bools := parseFlags([]string{"one", "--k=v", "--name", "x", "-", "--dry-run"})
	if !reflect.DeepEqual(pos, []string{"one", "-"}) {
		t.Fatalf("pos = %q", pos)
	}
	if flags["k"] != "v" || flags["name"] != "x" || !bools["dry-run"] {
		t.Fatalf("flags = %v bools = %v", flags, bools)
	}
}

func TestCommandWordAndSanitize(t *testing.T) {
	t.Parallel()
	if got := commandWord("/List@ChapterBot"); got != "list" {
		t.Fatalf("commandWord = %q", got)
	}
	for in, want := range map[string]string{
		"Track":        "track",
		"/untrack":     "untrack",
		"dry-run now":  "dry_run_now",
		"__x__":        "x",
		"émoji only ✨": "moji_only",
	} {
		if got := sanitizeCommand(in); got != want {
			t.Fatalf("sanitizeCommand(%q) = %q, want %q", in, got, want)
		}
	}
}

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu    sync.Mutex
	msgs  []sent
	menus [][]kit.BotCommand
	got   chan struct{}
}

func newFakeSender() *fakeSender { return &fakeSender{got: make(chan struct{}, 16)} }

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	f.msgs = append(f.msgs, sent{to, text})
	f.mu.Unlock()
	f.got <- struct{}{}
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (f *fakeSender) UpdateMenuCommands(_ context.Context, cmds []kit.BotCommand) error {
	f.mu.Lock()
	f.menus = append(f.menus, cmds)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) wait(t *testing.T) sent {
	t.Helper()
	select {
	case <-f.got:
	case <-time.After(2 * time.Second):
		t.Fatal("no reply")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[len(f.msgs)-1]
}

type fakeTracker struct {
	trackErr   error
	untrackErr error
	lastName   string
	lastURL    string
	items      []chapters.Listing
}

func (f *fakeTracker) Track(_ context.Context, rawName, pageURL string) (string, storage.ObservedValue, error) {
	f.lastName, f.lastURL = rawName, pageURL
	if f.trackErr != nil {
		return "", storage.ObservedValue{}, f.trackErr
	}
	return chapters.NormalizeName(rawName), storage.ObservedValue{Date: "January 18, 2026", ChapterLabel: "1171", URL: pageURL}, nil
}

func (f *fakeTracker) Untrack(_ context.Context, rawName string) (string, error) {
	return chapters.NormalizeName(rawName), f.untrackErr
}

func (f *fakeTracker) List(context.Context) ([]chapters.Listing, error) { return f.items, nil }

type fakeTrigger struct{ ok, running bool }

func (f fakeTrigger) TriggerNow(string) bool { return f.ok }
func (f fakeTrigger) Running() bool          { return f.running }

func startRouter(t *testing.T, tr Tracker, trig Trigger) (chan kit.Update, *fakeSender) {
	t.Helper()
	s := newFakeSender()
	m := NewCommandManager(logx.Nop(), s)
	m.SetRegistry(TrackerCommands(tr, trig, ""))
	updates := make(chan kit.Update, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.DispatchLoop(ctx, updates)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return updates, s
}

func say(updates chan<- kit.Update, text string) {
	updates <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 42, ThreadID: 3, FromID: 7, Text: text}}
}

func TestTrackCommand(t *testing.T) {
	tr := &fakeTracker{}
	updates, s := startRouter(t, tr, nil)

	say(updates, "/track One Piece https://www.viz.com/shonenjump/chapters/one-piece")
	got := s.wait(t)
	if got.to != (kit.ChatTarget{ChatID: 42, ThreadID: 3}) {
		t.Fatalf("reply target = %+v", got.to)
	}
	if !strings.Contains(got.text, "Tracking one_piece") || !strings.Contains(got.text, "Ch. 1171") {
		t.Fatalf("reply = %q", got.text)
	}
	if tr.lastName != "One Piece" || tr.lastURL != "https://www.viz.com/shonenjump/chapters/one-piece" {
		t.Fatalf("tracker got %q %q", tr.lastName, tr.lastURL)
	}

	say(updates, "/track onlyname")
	if got := s.wait(t); !strings.HasPrefix(got.text, "Usage: /track") {
		t.Fatalf("usage reply = %q", got.text)
	}
}

func TestTrackCommandErrors(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&chapters.ValidationError{Field: "url", Value: "x", Reason: "bad"}, "doesn't look like"},
		{&chapters.ValidationError{Field: "name", Reason: "empty"}, "give the series a name"},
		{chapters.ErrNoChapter, "couldn't find a chapter"},
		{&fetch.Error{URL: "u", StatusCode: 503, Err: errors.New("unavailable")}, "Couldn't fetch"},
		{errors.New("disk full"), "Something went wrong"},
	}
	for _, tt := range tests {
		updates, s := startRouter(t, &fakeTracker{trackErr: tt.err}, nil)
		say(updates, "/track x https://www.viz.com/shonenjump/chapters/x")
		if got := s.wait(t); !strings.Contains(got.text, tt.want) {
			t.Fatalf("err %v: reply = %q, want %q", tt.err, got.text, tt.want)
		}
	}
}

func TestUntrackAndList(t *testing.T) {
	tr := &fakeTracker{items: []chapters.Listing{
		{Name: "jujutsu_kaisen", URL: "https://j"},
		{Name: "one_piece", URL: "https://o", LastChapterLabel: "1171", LastDate: "January 18, 2026"},
	}}
	updates, s := startRouter(t, tr, nil)

	say(updates, "/untrack One Piece")
	if got := s.wait(t); got.text != "Untracked one_piece." {
		t.Fatalf("untrack reply = %q", got.text)
	}

	tr.untrackErr = chapters.ErrNotTracked
	say(updates, "/untrack nope")
	if got := s.wait(t); !strings.HasPrefix(got.text, "Not tracking nope") {
		t.Fatalf("not-found reply = %q", got.text)
	}

	say(updates, "/list")
	want := "• jujutsu_kaisen: Ch. - (-)\n  https://j\n• one_piece: Ch. 1171 (January 18, 2026)\n  https://o"
	if got := s.wait(t); got.text != want {
		t.Fatalf("list reply = %q", got.text)
	}
}

func TestCheckCommandAndUnknown(t *testing.T) {
	updates, s := startRouter(t, &fakeTracker{}, fakeTrigger{ok: false, running: true})

	say(updates, "/check")
	if got := s.wait(t); got.text != "A check is already running." {
		t.Fatalf("check reply = %q", got.text)
	}
	say(updates, "/frobnicate")
	if got := s.wait(t); !strings.Contains(got.text, "Unknown command") {
		t.Fatalf("unknown reply = %q", got.text)
	}
	say(updates, "not a command")
	say(updates, "/help track")
	if got := s.wait(t); !strings.Contains(got.text, "Usage: /track <name> <url>") {
		t.Fatalf("help reply = %q", got.text)
	}
}

func TestCheckCommandReplies(t *testing.T) {
	cases := []struct {
		name string
		trig Trigger
		want string
	}{
		{"started", fakeTrigger{ok: true}, "Checking tracked series now."},
		{"busy", fakeTrigger{running: true}, "A check is already running."},
		{"stopped", fakeTrigger{}, "Checks are not available right now."},
		{"no scheduler", nil, "Checks are not available right now."},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			updates, s := startRouter(t, &fakeTracker{}, tc.trig)
			say(updates, "/check")
			if got := s.wait(t); got.text != tc.want {
				t.Fatalf("check reply = %q, want %q", got.text, tc.want)
			}
		})
	}
}

func TestPublishMenu(t *testing.T) {
	t.Parallel()
	s := newFakeSender()
	m := NewCommandManager(logx.Nop(), s)
	m.SetRegistry(TrackerCommands(&fakeTracker{}, nil, ""))
	if err := m.PublishMenu(context.Background()); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range s.menus[0] {
		names = append(names, c.Command)
	}
	if strings.Join(names, ",") != "check,help,list,track,untrack" {
		t.Fatalf("menu = %v", names)
	}
}

func TestFormatListingEmpty(t *testing.T) {
	t.Parallel()
	if got := FormatListing(nil); got != "No tracked series yet. Use /track." {
		t.Fatalf("FormatListing(nil) = %q", got)
	}
}
