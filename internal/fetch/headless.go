package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	logx "chapterbot/pkg/logx"
)

// Headless renders pages in headless Chrome and returns the final DOM.
type Headless struct {
	cfg         Config
	log         logx.Logger
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

func NewHeadless(cfg Config, log logx.Logger) (*Headless, error) {
	if cfg.Headless.MaxParallel < 0 {
		return nil, errors.New("headless max_parallel must be >= 0")
	}
	if cfg.Headless.NavigationTimeout <= 0 {
		cfg.Headless.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.Headless.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.Headless.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Headless{cfg: cfg, log: log, limiter: limiter, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close shuts the browser down.
func (f *Headless) Close() { f.allocCancel() }

func (f *Headless) Fetch(ctx context.Context, url string) (string, error) {
	if err := f.acquire(ctx); err != nil {
		return "", &Error{URL: url, Err: err}
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.Headless.NavigationTimeout)
	defer cancel()

	// Tie the browser tab to the caller's deadline as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var doc documentStatus
	chromedp.ListenTarget(taskCtx, doc.capture)

	start := time.Now()
	var html string
	err := chromedp.Run(taskCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if err := network.Enable().Do(ctx); err != nil {
				return fmt.Errorf("enable network domain: %w", err)
			}
			if f.cfg.UserAgent != "" {
				if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
					return fmt.Errorf("set user-agent: %w", err)
				}
			}
			return nil
		}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	status := doc.get()
	if err != nil {
		return "", &Error{URL: url, StatusCode: status, Err: err}
	}
	if status >= 400 {
		return "", &Error{URL: url, StatusCode: status, Err: errors.New("unexpected status")}
	}

	f.log.Debug("page rendered",
		logx.String("url", url),
		logx.Int("status", status),
		logx.Int("bytes", len(html)),
		logx.Duration("took", time.Since(start)),
	)
	return html, nil
}

func (f *Headless) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Headless) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

// documentStatus remembers the HTTP status of the main document response.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) capture(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = int(resp.Response.Status)
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
