package notifier

import (
	"context"
	"time"

	"chapterbot/internal/chapters"
	logx "chapterbot/pkg/logx"
)

// DefaultSinkTimeout bounds one sink publish.
const DefaultSinkTimeout = 5 * time.Second

// Sink is a secondary, best-effort destination.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ch chapters.Change) error
}

// Fanout announces through a primary notifier and copies each change to the
// sinks. Only the primary decides whether a cycle can run and whether a
// delivery failed; sink errors are logged.
//
// The primary is always served first. Sinks get their own deadline detached
// from the caller's, so a stuck sink cannot eat the primary's budget.
type Fanout struct {
	primary     chapters.Notifier
	sinks       []Sink
	sinkTimeout time.Duration
	log         logx.Logger
}

func NewFanout(primary chapters.Notifier, log logx.Logger, sinks ...Sink) *Fanout {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fanout{
		primary:     primary,
		sinks:       sinks,
		sinkTimeout: DefaultSinkTimeout,
		log:         log.With(logx.String("comp", "notifier")),
	}
}

func (f *Fanout) Resolve(ctx context.Context) error { return f.primary.Resolve(ctx) }

func (f *Fanout) Notify(ctx context.Context, ch chapters.Change) error {
	err := f.primary.Notify(ctx, ch)
	for _, s := range f.sinks {
		f.publish(ctx, s, ch)
	}
	return err
}

func (f *Fanout) publish(ctx context.Context, s Sink, ch chapters.Change) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.sinkTimeout)
	defer cancel()
	if err := s.Publish(sctx, ch); err != nil {
		f.log.Warn("sink publish failed", logx.String("sink", s.Name()), logx.String("item", ch.Name), logx.Err(err))
	}
}

// Log only writes announcements to the log. It backs dry runs.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log.With(logx.String("comp", "notifier.log"))}
}

func (l *Log) Resolve(context.Context) error { return nil }

func (l *Log) Notify(_ context.Context, ch chapters.Change) error {
	l.log.Info("announcement (dry run)", logx.String("item", ch.Name), logx.String("text", FormatChange(ch)))
	return nil
}
