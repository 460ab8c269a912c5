package browsing

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/italolelis/browser_downloader/internal/download"
	"github.com/italolelis/browser_downloader/internal/logctx"
	"github.com/italolelis/browser_downloader/internal/protocol"
	"golang.org/x/sync/errgroup"
)

// Backend sends commands to the remote browser. Acknowledgments arrive
// later on the event stream, never on the return path of these calls.
type Backend interface {
	CancelDownload(ctx context.Context, downloadID string) error
}

// ArtifactTracker records which artifacts exist on disk and who owns
// them. The in-memory registry is authoritative while the process runs;
// the tracker is the durable trace used for retention cleanup and crash
// recovery.
type ArtifactTracker interface {
	TrackArtifact(downloadID, contextID, filePath string) error
	UpdateArtifactStatus(downloadID, status string) error
	DeleteContextArtifacts(contextID string) error
}

// Context is a browsing context: the isolated session a page belongs to.
// It owns the registry of its downloads and tears them down, artifacts
// included, when it closes.
type Context struct {
	id             string
	localArtifacts bool
	backend        Backend
	tracker        ArtifactTracker

	mu        sync.Mutex
	pages     map[string]*Page
	downloads map[string]*download.Download
	closed    bool
}

func NewContext(id string, localArtifacts bool, backend Backend, tracker ArtifactTracker) *Context {
	return &Context{
		id:             id,
		localArtifacts: localArtifacts,
		backend:        backend,
		tracker:        tracker,
		pages:          make(map[string]*Page),
		downloads:      make(map[string]*download.Download),
	}
}

func (c *Context) ID() string { return c.id }

// Page returns the page with the given id, creating it on first use.
func (c *Context) Page(id, url string) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[id]; ok {
		return p
	}

	p := &Page{id: id, url: url, bc: c}
	c.pages[id] = p

	return p
}

// Download looks up a tracked download by id.
func (c *Context) Download(id string) (*download.Download, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.downloads[id]

	return d, ok
}

// Downloads returns a snapshot of all tracked downloads.
func (c *Context) Downloads() []*download.Download {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*download.Download, 0, len(c.downloads))
	for _, d := range c.downloads {
		out = append(out, d)
	}

	return out
}

// Dispatch applies one backend event to the registry. It returns the
// affected download and whether the event changed its state, so the
// caller can hook metrics and notifications without re-resolving. Events
// for unknown downloads and events after close are logged and dropped.
func (c *Context) Dispatch(ctx context.Context, ev protocol.Event) (*download.Download, bool) {
	logger := logctx.LoggerFromContext(ctx).With("context_id", c.id, "download_id", ev.DownloadID)

	switch ev.Type {
	case protocol.EventDownloadWillBegin:
		return c.beginDownload(ctx, ev)
	case protocol.EventDownloadFinished:
		d, ok := c.Download(ev.DownloadID)
		if !ok {
			logger.Warn("finished event for untracked download")

			return nil, false
		}

		changed := false
		if ev.Success {
			changed = d.Resolve(download.StateCompleted, ev.ArtifactPath, "", ev.Size)
		} else {
			changed = d.Resolve(download.StateFailed, "", ev.Reason, 0)
		}

		if changed {
			c.trackStatus(logger, ev.DownloadID, string(d.State()))
			logger.Info("download finished", "state", d.State(), "reason", ev.Reason)
		}

		return d, changed
	case protocol.EventDownloadCancelAcked:
		d, ok := c.Download(ev.DownloadID)
		if !ok {
			logger.Warn("cancel ack for untracked download")

			return nil, false
		}

		// A completion that already arrived wins; the ack is then a no-op.
		changed := d.Resolve(download.StateCanceled, "", download.CanceledReason, 0)
		if changed {
			c.trackStatus(logger, ev.DownloadID, string(download.StateCanceled))
			logger.Info("download canceled")
		}

		return d, changed
	case protocol.EventBrowsingContextClosed:
		if err := c.Close(ctx); err != nil {
			logger.Error("failed to close browsing context", "err", err)
		}

		return nil, false
	default:
		logger.Debug("ignoring unknown event", "event", ev.Type)

		return nil, false
	}
}

func (c *Context) beginDownload(ctx context.Context, ev protocol.Event) (*download.Download, bool) {
	logger := logctx.LoggerFromContext(ctx).With("context_id", c.id, "download_id", ev.DownloadID)

	// The closed check and the registry insert must be one critical
	// section: a Close racing this dispatch either sees the download in
	// the registry and deletes its artifact, or this dispatch sees the
	// context closed and cleans up itself. No handle may land in the
	// registry of an already-closed context.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		logger.Warn("download started on closed context, ignoring")

		if ev.ArtifactPath != "" {
			if err := os.Remove(ev.ArtifactPath); err != nil && !os.IsNotExist(err) {
				logger.Error("failed to remove orphaned artifact", "file", ev.ArtifactPath, "err", err)
			}
		}

		return nil, false
	}

	page, ok := c.pages[ev.PageID]
	if !ok {
		page = &Page{id: ev.PageID, bc: c}
		c.pages[ev.PageID] = page
	}

	d := download.New(download.Options{
		ID:                ev.DownloadID,
		URL:               ev.URL,
		SuggestedFilename: ev.SuggestedFilename,
		ArtifactPath:      ev.ArtifactPath,
		Owner:             page,
		LocalArtifacts:    c.localArtifacts,
		Cancel:            c.backend.CancelDownload,
	})

	c.downloads[ev.DownloadID] = d
	c.mu.Unlock()

	if c.tracker != nil {
		if err := c.tracker.TrackArtifact(ev.DownloadID, c.id, ev.ArtifactPath); err != nil {
			logger.Error("failed to track artifact", "err", err)
		}
	}

	page.notifyDownload(d)

	logger.Info("download started",
		"url", ev.URL,
		"suggested_filename", ev.SuggestedFilename)

	return d, true
}

// HandleDisconnect releases every waiter on every in-progress download
// with a transport error after the backend connection is lost.
func (c *Context) HandleDisconnect(ctx context.Context, err error) {
	logger := logctx.LoggerFromContext(ctx).With("context_id", c.id)

	for _, d := range c.Downloads() {
		d.ResolveTransportFailure(err)
	}

	logger.Warn("backend connection lost, released all waiters", "err", err)
}

// Close tears down the context: downloads still in progress are treated
// as canceled, every owned artifact is deleted regardless of its terminal
// state, and the tracked entries are released. Closing twice is a no-op.
func (c *Context) Close(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("context_id", c.id)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true

	downloads := make([]*download.Download, 0, len(c.downloads))
	for _, d := range c.downloads {
		downloads = append(downloads, d)
	}

	c.downloads = make(map[string]*download.Download)
	c.pages = make(map[string]*Page)
	c.mu.Unlock()

	var g errgroup.Group

	for _, d := range downloads {
		d.Resolve(download.StateCanceled, "", download.CanceledReason, 0)

		g.Go(d.RemoveArtifact)
	}

	err := g.Wait()

	if c.tracker != nil {
		if trackErr := c.tracker.DeleteContextArtifacts(c.id); trackErr != nil {
			logger.Error("failed to delete tracked artifacts", "err", trackErr)
		}
	}

	logger.Info("browsing context closed", "download_count", len(downloads))

	return err
}

func (c *Context) trackStatus(logger *slog.Logger, downloadID, status string) {
	if c.tracker == nil {
		return
	}

	if err := c.tracker.UpdateArtifactStatus(downloadID, status); err != nil {
		logger.Error("failed to update artifact status", "err", err)
	}
}
