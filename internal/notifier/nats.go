package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"chapterbot/internal/chapters"
	logx "chapterbot/pkg/logx"
)

const DefaultNATSSubject = "chapterbot.chapters.new"

type NATSConfig struct {
	URL     string
	Subject string
}

// ChangeEvent is the JSON payload published for every change.
type ChangeEvent struct {
	CycleID         string    `json:"cycle_id"`
	Series          string    `json:"series"`
	Title           string    `json:"title"`
	Chapter         string    `json:"chapter"`
	Date            string    `json:"date"`
	URL             string    `json:"url"`
	PreviousChapter string    `json:"previous_chapter,omitempty"`
	PreviousDate    string    `json:"previous_date,omitempty"`
	DetectedAt      time.Time `json:"detected_at"`
}

func NewChangeEvent(ch chapters.Change) ChangeEvent {
	return ChangeEvent{
		CycleID:         ch.CycleID,
		Series:          ch.Name,
		Title:           chapters.DisplayName(ch.Name),
		Chapter:         ch.Chapter.ChapterLabel,
		Date:            ch.Chapter.Date,
		URL:             ch.Chapter.URL,
		PreviousChapter: ch.Previous.ChapterLabel,
		PreviousDate:    ch.Previous.Date,
		DetectedAt:      ch.DetectedAt.UTC(),
	}
}

// NATS publishes change events to a subject for downstream consumers.
type NATS struct {
	conn    *nats.Conn
	subject string
	log     logx.Logger
}

func DialNATS(cfg NATSConfig, log logx.Logger) (*NATS, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("notifier: nats url is required")
	}
	if cfg.Subject == "" {
		cfg.Subject = DefaultNATSSubject
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier.nats"))

	conn, err := nats.Connect(cfg.URL,
		nats.Name("chapterbot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("notifier: connect nats: %w", err)
	}
	log.Info("nats connected", logx.String("subject", cfg.Subject))
	return &NATS{conn: conn, subject: cfg.Subject, log: log}, nil
}

func (n *NATS) Name() string { return "nats" }

func (n *NATS) Publish(ctx context.Context, ch chapters.Change) error {
	data, err := json.Marshal(NewChangeEvent(ch))
	if err != nil {
		return fmt.Errorf("notifier: marshal event: %w", err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSinkTimeout)
		defer cancel()
	}
	if err := n.conn.Publish(n.subject, data); err != nil {
		return fmt.Errorf("notifier: nats publish: %w", err)
	}
	if err := n.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("notifier: nats flush: %w", err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (n *NATS) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}
