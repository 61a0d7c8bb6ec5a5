package fetch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	logx "chapterbot/pkg/logx"
)

// Colly fetches pages with a plain HTTP GET.
type Colly struct {
	cfg  Config
	log  logx.Logger
	base *colly.Collector
}

func NewColly(cfg Config, log logx.Logger) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	// Every poll revisits the same URLs, so the collector must not dedupe them.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	return &Colly{cfg: cfg, log: log, base: c}
}

func (f *Colly) Fetch(ctx context.Context, url string) (string, error) {
	c := f.base.Clone()
	c.Context = ctx

	var (
		body    string
		status  int
		hookErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		hookErr = err
	})

	start := time.Now()
	done := make(chan error, 1)
	go func() { done <- c.Visit(url) }()

	select {
	case <-ctx.Done():
		return "", &Error{URL: url, Err: ctx.Err()}
	case err := <-done:
		if hookErr != nil {
			err = hookErr
		}
		if err != nil {
			return "", &Error{URL: url, StatusCode: status, Err: err}
		}
	}
	if status < 200 || status >= 300 {
		return "", &Error{URL: url, StatusCode: status, Err: fmt.Errorf("unexpected status")}
	}

	f.log.Debug("page fetched",
		logx.String("url", url),
		logx.Int("status", status),
		logx.Int("bytes", len(body)),
		logx.Duration("took", time.Since(start)),
	)
	return body, nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
