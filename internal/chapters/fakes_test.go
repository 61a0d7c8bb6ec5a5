package chapters

import (
	"context"
	"errors"
	"sync"

	"chapterbot/internal/fetch"
)

type page struct {
	body string
	err  error
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]page
	calls map[string]int
	hook  func(url string)
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]page{}, calls: map[string]int{}}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	f.pages[url] = page{body: body}
	f.mu.Unlock()
}

func (f *fakeFetcher) fail(url string, err error) {
	f.mu.Lock()
	f.pages[url] = page{err: err}
	f.mu.Unlock()
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	f.calls[url]++
	p, ok := f.pages[url]
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(url)
	}
	if !ok {
		return "", &fetch.Error{URL: url, StatusCode: 404, Err: errors.New("no such page")}
	}
	return p.body, p.err
}

type fakeNotifier struct {
	mu         sync.Mutex
	resolveErr error
	notifyErr  error
	changes    []Change
}

func (n *fakeNotifier) Resolve(ctx context.Context) error { return n.resolveErr }

func (n *fakeNotifier) Notify(ctx context.Context, ch Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, ch)
	return n.notifyErr
}

func (n *fakeNotifier) sent() []Change {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Change(nil), n.changes...)
}
