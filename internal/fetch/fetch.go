// Package fetch retrieves tracked pages.
//
// Two drivers exist: "colly" issues a plain HTTP GET through a gocolly
// collector, "headless" renders the page in headless Chrome via chromedp for
// sources that build their chapter list client-side.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "chapterbot/pkg/logx"
)

const DefaultUserAgent = "chapterbot/1.0 (personal project)"

// Fetcher returns the raw content of a page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Error is a failed retrieval: transport failure, timeout or non-success status.
type Error struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsFetchError reports whether err is (or wraps) a fetch Error.
func IsFetchError(err error) bool {
	var fe *Error
	return errors.As(err, &fe)
}

type Config struct {
	Driver        string
	UserAgent     string
	RespectRobots bool
	// Timeout bounds one request. Callers usually also pass a deadline in ctx.
	Timeout  time.Duration
	Headless HeadlessConfig
}

type HeadlessConfig struct {
	MaxParallel       int
	NavigationTimeout time.Duration
}

// Closer is implemented by fetchers holding external resources (a browser).
type Closer interface {
	Close()
}

// New builds the configured fetcher.
func New(cfg Config, log logx.Logger) (Fetcher, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	switch driver := strings.ToLower(strings.TrimSpace(cfg.Driver)); driver {
	case "", "colly", "http":
		return NewColly(cfg, log), nil
	case "headless", "chromedp":
		return NewHeadless(cfg, log)
	default:
		return nil, errors.New("unknown fetcher driver: " + driver)
	}
}
