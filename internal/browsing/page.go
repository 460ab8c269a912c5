package browsing

import (
	"context"
	"sync"

	"github.com/italolelis/browser_downloader/internal/download"
)

// Page is the event scope for the wait-for-download pattern: a caller
// triggers a UI action and then awaits the next download produced by
// that page.
type Page struct {
	id  string
	url string
	bc  *Context

	mu      sync.Mutex
	waiters []chan *download.Download
}

func (p *Page) ID() string { return p.id }

func (p *Page) URL() string { return p.url }

// BrowsingContext returns the context that owns this page.
func (p *Page) BrowsingContext() *Context { return p.bc }

// ExpectDownload runs action and blocks until the next download starts on
// this page. The waiter is registered before action runs, so a download
// triggered synchronously by the action cannot be missed.
func (p *Page) ExpectDownload(ctx context.Context, action func() error) (*download.Download, error) {
	ch := make(chan *download.Download, 1)

	p.mu.Lock()
	p.waiters = append(p.waiters, ch)
	p.mu.Unlock()

	if action != nil {
		if err := action(); err != nil {
			p.removeWaiter(ch)

			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		p.removeWaiter(ch)

		return nil, ctx.Err()
	case d := <-ch:
		return d, nil
	}
}

// notifyDownload hands the new download to every registered waiter. Each
// waiter observes at most one download; the channels are buffered so the
// event-delivery goroutine never blocks here.
func (p *Page) notifyDownload(d *download.Download) {
	p.mu.Lock()
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- d
	}
}

func (p *Page) removeWaiter(ch chan *download.Download) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)

			return
		}
	}
}
