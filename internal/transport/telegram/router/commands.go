package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"chapterbot/internal/chapters"
	"chapterbot/internal/fetch"
	"chapterbot/internal/storage"
)

// Tracker is the administration surface the chat commands drive.
type Tracker interface {
	Track(ctx context.Context, rawName, pageURL string) (string, storage.ObservedValue, error)
	Untrack(ctx context.Context, rawName string) (string, error)
	List(ctx context.Context) ([]chapters.Listing, error)
}

// Trigger starts a poll cycle out of schedule. TriggerNow reports false both
// while a cycle runs and once the scheduler is stopped; Running tells them apart.
type Trigger interface {
	TriggerNow(reason string) bool
	Running() bool
}

// TrackerCommands returns /track, /untrack, /list and /check.
func TrackerCommands(t Tracker, trig Trigger, announceIn string) []Command {
	return []Command{
		{
			Name:        "track",
			Description: "Track a series by its chapters page",
			Usage:       "/track <name> <url>",
			Timeout:     time.Minute,
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) < 2 {
					return req.Reply(ctx, "Usage: /track <name> <url>\nExample: /track one_piece "+chapters.DefaultAllowedPrefix+"one-piece")
				}
				// The URL is the last argument; everything before it is the name.
				pageURL := req.Args[len(req.Args)-1]
				rawName := strings.Join(req.Args[:len(req.Args)-1], " ")
				name, v, err := t.Track(ctx, rawName, pageURL)
				if err != nil {
					return replyTrackError(ctx, req, err)
				}
				msg := fmt.Sprintf("Tracking %s\nBaseline set to Ch. %s (%s).", name, v.ChapterLabel, v.Date)
				if announceIn != "" {
					msg += "\nUpdates will be posted in " + announceIn + "."
				}
				return req.Reply(ctx, msg)
			},
		},
		{
			Name:        "untrack",
			Description: "Stop tracking a series",
			Usage:       "/untrack <name>",
			Handle: func(ctx context.Context, req *Request) error {
				if len(req.Args) == 0 {
					return req.Reply(ctx, "Usage: /untrack <name>")
				}
				name, err := t.Untrack(ctx, strings.Join(req.Args, " "))
				switch {
				case errors.Is(err, chapters.ErrNotTracked):
					return req.Reply(ctx, fmt.Sprintf("Not tracking %s. Use /list to see tracked series.", name))
				case err != nil:
					var ve *chapters.ValidationError
					if errors.As(err, &ve) {
						return req.Reply(ctx, "Usage: /untrack <name>")
					}
					return err
				}
				return req.Reply(ctx, "Untracked "+name+".")
			},
		},
		{
			Name:        "list",
			Description: "List tracked series",
			Usage:       "/list",
			Handle: func(ctx context.Context, req *Request) error {
				items, err := t.List(ctx)
				if err != nil {
					return err
				}
				return req.Reply(ctx, FormatListing(items))
			},
		},
		{
			Name:        "check",
			Description: "Check all tracked series now",
			Usage:       "/check",
			Handle: func(ctx context.Context, req *Request) error {
				switch {
				case trig == nil:
					return req.Reply(ctx, "Checks are not available right now.")
				case trig.TriggerNow("command:" + req.ReqID):
					return req.Reply(ctx, "Checking tracked series now.")
				case trig.Running():
					return req.Reply(ctx, "A check is already running.")
				default:
					return req.Reply(ctx, "Checks are not available right now.")
				}
			},
		},
	}
}

func replyTrackError(ctx context.Context, req *Request, err error) error {
	var ve *chapters.ValidationError
	switch {
	case errors.As(err, &ve) && ve.Field == "url":
		return req.Reply(ctx, "That URL doesn't look like a supported chapters page.\nExample: "+chapters.DefaultAllowedPrefix+"one-piece")
	case errors.As(err, &ve):
		return req.Reply(ctx, "Please give the series a name: /track <name> <url>")
	case errors.Is(err, chapters.ErrNoChapter):
		return req.Reply(ctx, "I could fetch the page, but couldn't find a chapter entry on it. Double-check it is a chapters listing.")
	case fetch.IsFetchError(err):
		return req.Reply(ctx, "Couldn't fetch that URL: "+err.Error())
	}
	return err
}

// FormatListing renders List output for chat and CLI.
func FormatListing(items []chapters.Listing) string {
	if len(items) == 0 {
		return "No tracked series yet. Use /track."
	}
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		ch, date := it.LastChapterLabel, it.LastDate
		if ch == "" {
			ch = "-"
		}
		if date == "" {
			date = "-"
		}
		fmt.Fprintf(&b, "• %s: Ch. %s (%s)\n  %s", it.Name, ch, date, it.URL)
	}
	return b.String()
}
