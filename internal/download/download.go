package download

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/browser_downloader/internal/download/progress"
	"github.com/italolelis/browser_downloader/internal/logctx"
)

// State of a download. A download starts in progress and transitions
// exactly once to one of the terminal states; terminal states are
// absorbing.
type State string

const (
	StateInProgress State = "in_progress"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

// CanceledReason is the failure reason recorded for a canceled download.
const CanceledReason = "canceled"

// IsTerminal reports whether s is one of the absorbing states.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Owner identifies the page a download belongs to.
type Owner interface {
	ID() string
}

// CancelFunc sends a cancellation request for a download to the backend.
// Acknowledgment arrives later on the event stream.
type CancelFunc func(ctx context.Context, downloadID string) error

// Download tracks one browser-initiated file download. The handle is
// created when the backend reports that a download will begin and is
// resolved by a later finished or cancel-acknowledged event. Accessors
// that depend on the terminal state block the caller until that event
// arrives, without ever blocking the event-delivery goroutine.
type Download struct {
	id                string
	url               string
	suggestedFilename string
	owner             Owner
	local             bool
	cancel            CancelFunc
	startedAt         time.Time

	mu           sync.Mutex
	state        State
	artifactPath string
	reason       string
	size         int64
	transportErr error
	settled      bool
	done         chan struct{}

	// fsMu serializes terminal-state filesystem operations (SaveAs,
	// Delete, CreateReadStream) on this download's artifact.
	fsMu    sync.Mutex
	deleted bool
}

// Options carries the immutable fields of a download, as reported by the
// backend's will-begin event.
type Options struct {
	ID                string
	URL               string
	SuggestedFilename string
	// ArtifactPath is the backend-assigned on-disk location. It is an
	// opaque generated name, set at download start, but only exposed to
	// callers once the download completes.
	ArtifactPath string
	Owner        Owner
	// LocalArtifacts is false when the backend runs on a host whose
	// filesystem this client cannot reach.
	LocalArtifacts bool
	Cancel         CancelFunc
}

func New(opts Options) *Download {
	return &Download{
		id:                opts.ID,
		url:               opts.URL,
		suggestedFilename: opts.SuggestedFilename,
		artifactPath:      opts.ArtifactPath,
		owner:             opts.Owner,
		local:             opts.LocalArtifacts,
		cancel:            opts.Cancel,
		startedAt:         time.Now(),
		state:             StateInProgress,
		done:              make(chan struct{}),
	}
}

// ID returns the backend-assigned download identifier.
func (d *Download) ID() string { return d.id }

// URL returns the originating URL. Available immediately.
func (d *Download) URL() string { return d.url }

// SuggestedFilename returns the filename hint derived by the browser from
// response headers or the triggering element. Available immediately and
// distinct from the actual on-disk artifact name.
func (d *Download) SuggestedFilename() string { return d.suggestedFilename }

// Page returns the owning page. Available immediately.
func (d *Download) Page() Owner { return d.owner }

// StartedAt returns when this handle was created.
func (d *Download) StartedAt() time.Time { return d.startedAt }

// State returns the current state without blocking.
func (d *Download) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.state
}

// Status is a non-blocking snapshot of the download, used by the REST
// layer and for logging.
type Status struct {
	ID                string
	URL               string
	SuggestedFilename string
	State             State
	Reason            string
	ArtifactPath      string
	Size              int64
}

func (d *Download) Snapshot() Status {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Status{
		ID:                d.id,
		URL:               d.url,
		SuggestedFilename: d.suggestedFilename,
		State:             d.state,
		Reason:            d.reason,
		ArtifactPath:      d.artifactPath,
		Size:              d.size,
	}
}

// Resolve moves the download into a terminal state and wakes every
// waiter. The first signal wins: once a terminal state is recorded, later
// signals (a completion racing a cancellation ack, duplicate events) are
// ignored. Returns true if the state changed.
func (d *Download) Resolve(state State, artifactPath, reason string, size int64) bool {
	if !state.IsTerminal() {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateInProgress {
		return false
	}

	d.state = state
	d.reason = reason
	d.size = size

	if artifactPath != "" {
		d.artifactPath = artifactPath
	}

	d.settle()

	return true
}

// ResolveTransportFailure releases all waiters with a transport error
// after the backend connection is lost. The download itself stays
// formally in progress; there is no browser left to report its outcome.
func (d *Download) ResolveTransportFailure(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != StateInProgress || d.settled {
		return
	}

	d.transportErr = err
	d.settle()
}

// settle closes the broadcast channel exactly once. Callers must hold mu.
func (d *Download) settle() {
	if !d.settled {
		d.settled = true
		close(d.done)
	}
}

// awaitTerminal parks the caller until the download settles or ctx is
// done. No timeout is imposed here; callers layer their own policy
// through ctx.
func (d *Download) awaitTerminal(ctx context.Context, operation string) (State, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.IsTerminal() {
		return d.state, nil
	}

	return "", &TransportError{Operation: operation, Err: d.transportErr}
}

// Cancel requests cancellation of an in-progress download. It is a no-op
// when the download already reached a terminal state. The state flips to
// canceled only once the backend acknowledges on the event stream, so a
// completion that arrives first wins the race.
func (d *Download) Cancel(ctx context.Context) error {
	d.mu.Lock()
	terminal := d.state != StateInProgress
	d.mu.Unlock()

	if terminal || d.cancel == nil {
		return nil
	}

	if err := d.cancel(ctx, d.id); err != nil {
		return &TransportError{Operation: "cancel", Err: err}
	}

	return nil
}

// Failure returns the failure reason, or an empty string if the download
// succeeded. Waits for the download to finish if necessary. A canceled
// download reports "canceled".
func (d *Download) Failure(ctx context.Context) (string, error) {
	state, err := d.awaitTerminal(ctx, "failure")
	if err != nil {
		return "", err
	}

	if state == StateCompleted {
		return "", nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.reason, nil
}

// Path returns the on-disk location of the completed artifact. Waits for
// the download to finish if necessary. Returns an UnsupportedError
// immediately, without waiting, when artifacts are not locally
// accessible.
func (d *Download) Path(ctx context.Context) (string, error) {
	if !d.local {
		return "", &UnsupportedError{Operation: "path"}
	}

	state, err := d.awaitTerminal(ctx, "path")
	if err != nil {
		return "", err
	}

	if state != StateCompleted {
		return "", &FailedError{Reason: d.failureReason()}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	return d.artifactPath, nil
}

// SaveAs copies the completed artifact to dest. It is safe to call while
// the download is still in progress; the copy starts once the download
// finishes. An existing file at dest is overwritten. The destination
// directory must already exist.
func (d *Download) SaveAs(ctx context.Context, dest string) error {
	logger := logctx.LoggerFromContext(ctx).With("download_id", d.id)

	state, err := d.awaitTerminal(ctx, "save_as")
	if err != nil {
		return err
	}

	if state != StateCompleted {
		return &FailedError{Reason: d.failureReason()}
	}

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	if d.deleted {
		return &ArtifactError{Operation: "open", Path: d.artifactPath, Err: os.ErrNotExist}
	}

	src, err := os.Open(d.artifactPath)
	if err != nil {
		return &ArtifactError{Operation: "open", Path: d.artifactPath, Err: err}
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return &ArtifactError{Operation: "open", Path: d.artifactPath, Err: err}
	}

	out, err := os.Create(dest)
	if err != nil {
		return &ArtifactError{Operation: "create", Path: dest, Err: err}
	}

	pr := progress.NewReader(src, info.Size(), progressReportInterval, func(copied, total int64) {
		logger.Debug("copy progress",
			"destination", dest,
			"copied", humanize.Bytes(uint64(copied)),
			"total", humanize.Bytes(uint64(total)))
	})

	if _, err := io.Copy(out, pr); err != nil {
		out.Close()

		return &ArtifactError{Operation: "copy", Path: dest, Err: err}
	}

	if err := out.Close(); err != nil {
		return &ArtifactError{Operation: "copy", Path: dest, Err: err}
	}

	logger.Info("artifact saved",
		"destination", dest,
		"size", humanize.Bytes(uint64(info.Size())))

	return nil
}

const progressReportInterval = 32 * 1024 * 1024 // 32MB

// Delete removes the downloaded artifact. Waits for the download to
// finish if necessary. Deleting a failed or canceled download, or
// deleting twice, is a no-op.
func (d *Download) Delete(ctx context.Context) error {
	state, err := d.awaitTerminal(ctx, "delete")
	if err != nil {
		return err
	}

	if state != StateCompleted {
		return nil
	}

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	if d.deleted {
		return nil
	}

	if err := os.Remove(d.artifactPath); err != nil && !os.IsNotExist(err) {
		return &ArtifactError{Operation: "remove", Path: d.artifactPath, Err: err}
	}

	d.deleted = true

	return nil
}

// CreateReadStream returns a readable stream over the completed artifact,
// or nil if the download ultimately failed or was canceled. Waits for the
// download to finish if necessary. The caller owns closing the stream.
func (d *Download) CreateReadStream(ctx context.Context) (io.ReadCloser, error) {
	if !d.local {
		return nil, &UnsupportedError{Operation: "create_read_stream"}
	}

	state, err := d.awaitTerminal(ctx, "create_read_stream")
	if err != nil {
		return nil, err
	}

	if state != StateCompleted {
		return nil, nil
	}

	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	if d.deleted {
		return nil, &ArtifactError{Operation: "open", Path: d.artifactPath, Err: os.ErrNotExist}
	}

	f, err := os.Open(d.artifactPath)
	if err != nil {
		return nil, &ArtifactError{Operation: "open", Path: d.artifactPath, Err: err}
	}

	return f, nil
}

// RemoveArtifact force-removes the on-disk artifact regardless of the
// download's state. Used by the owning browsing context at close time,
// when all artifacts are deleted even for downloads that never completed.
func (d *Download) RemoveArtifact() error {
	d.fsMu.Lock()
	defer d.fsMu.Unlock()

	d.mu.Lock()
	path := d.artifactPath
	d.mu.Unlock()

	if path == "" || d.deleted {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &ArtifactError{Operation: "remove", Path: path, Err: err}
	}

	d.deleted = true

	return nil
}

func (d *Download) failureReason() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.reason
}
