package browsing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/browser_downloader/internal/download"
	"github.com/italolelis/browser_downloader/internal/logctx"
	"github.com/italolelis/browser_downloader/internal/protocol"
	"github.com/italolelis/browser_downloader/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// EventSource delivers backend events on a single ordering channel. A
// value on the error channel means the connection is gone and no further
// events will arrive.
type EventSource interface {
	StreamEvents(ctx context.Context) (<-chan protocol.Event, <-chan error, error)
}

// Session owns the browsing contexts of one backend connection and
// routes the event stream to them.
type Session struct {
	backend        Backend
	tracker        ArtifactTracker
	tel            *telemetry.Telemetry
	localArtifacts bool

	mu       sync.Mutex
	contexts map[string]*Context

	// Notification channels, consumed by the notifier wiring in main.
	// Sends never block the event loop; a slow consumer drops events.
	OnDownloadFinished chan download.Status
	OnDownloadFailed   chan download.Status
}

func NewSession(backend Backend, tracker ArtifactTracker, tel *telemetry.Telemetry, localArtifacts bool) *Session {
	return &Session{
		backend:        backend,
		tracker:        tracker,
		tel:            tel,
		localArtifacts: localArtifacts,
		contexts:       make(map[string]*Context),

		OnDownloadFinished: make(chan download.Status, 16),
		OnDownloadFailed:   make(chan download.Status, 16),
	}
}

// Context returns the browsing context with the given id, creating it on
// first use.
func (s *Session) Context(id string) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.contexts[id]; ok {
		return c
	}

	c := NewContext(id, s.localArtifacts, s.backend, s.tracker)
	s.contexts[id] = c

	return c
}

// Download looks up a download across all contexts.
func (s *Session) Download(id string) (*download.Download, bool) {
	s.mu.Lock()
	contexts := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		contexts = append(contexts, c)
	}
	s.mu.Unlock()

	for _, c := range contexts {
		if d, ok := c.Download(id); ok {
			return d, true
		}
	}

	return nil, false
}

// Downloads returns a snapshot of every tracked download in the session.
func (s *Session) Downloads() []*download.Download {
	s.mu.Lock()
	contexts := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		contexts = append(contexts, c)
	}
	s.mu.Unlock()

	var out []*download.Download
	for _, c := range contexts {
		out = append(out, c.Downloads()...)
	}

	return out
}

// Run consumes the event stream until the context is done or the
// connection fails. On a transport failure every in-flight waiter in
// every context is released with a transport error before Run returns.
func (s *Session) Run(ctx context.Context, events <-chan protocol.Event, errs <-chan error) error {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("session event loop started")

	for {
		select {
		case <-ctx.Done():
			logger.Info("session event loop shutting down")

			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil

				continue
			}

			s.route(ctx, ev)
		case err, ok := <-errs:
			// A closed error channel is a clean teardown of the stream,
			// not a failure. Only a delivered error releases waiters.
			if !ok {
				errs = nil

				continue
			}

			s.handleDisconnect(ctx, err)

			return fmt.Errorf("event stream failed: %w", err)
		}
	}
}

func (s *Session) route(ctx context.Context, ev protocol.Event) {
	bc := s.Context(ev.ContextID)

	d, changed := bc.Dispatch(ctx, ev)
	if d == nil || !changed {
		return
	}

	switch ev.Type {
	case protocol.EventDownloadWillBegin:
		if s.tel != nil {
			s.tel.IncrementActiveDownloads()
		}
	case protocol.EventDownloadFinished, protocol.EventDownloadCancelAcked:
		status := d.Snapshot()

		if s.tel != nil {
			s.tel.DecrementActiveDownloads()
			s.tel.RecordDownload(string(status.State), time.Since(d.StartedAt()))
		}

		switch status.State {
		case download.StateCompleted:
			s.publish(ctx, s.OnDownloadFinished, status)
		case download.StateFailed:
			s.publish(ctx, s.OnDownloadFailed, status)
		}
	}
}

// publish drops the notification when the consumer lags; the event loop
// must stay free to deliver terminal-state events to waiters.
func (s *Session) publish(ctx context.Context, ch chan download.Status, status download.Status) {
	select {
	case ch <- status:
	default:
		logctx.LoggerFromContext(ctx).Debug("notification dropped, consumer too slow",
			"download_id", status.ID, "state", status.State)
	}
}

func (s *Session) handleDisconnect(ctx context.Context, err error) {
	s.mu.Lock()
	contexts := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		contexts = append(contexts, c)
	}
	s.mu.Unlock()

	for _, c := range contexts {
		c.HandleDisconnect(ctx, err)
	}
}

// Close tears down every browsing context and the notification channels.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	contexts := make([]*Context, 0, len(s.contexts))
	for _, c := range s.contexts {
		contexts = append(contexts, c)
	}
	s.contexts = make(map[string]*Context)
	s.mu.Unlock()

	var g errgroup.Group
	for _, c := range contexts {
		g.Go(func() error { return c.Close(ctx) })
	}

	err := g.Wait()

	close(s.OnDownloadFinished)
	close(s.OnDownloadFailed)

	return err
}
