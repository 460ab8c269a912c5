package protocol

// EventType identifies a message pushed by the backend on the session
// event stream.
type EventType string

const (
	EventDownloadWillBegin     EventType = "download.willBegin"
	EventDownloadFinished      EventType = "download.finished"
	EventDownloadCancelAcked   EventType = "download.cancelAcknowledged"
	EventBrowsingContextClosed EventType = "context.closed"
)

// Event is the envelope for every backend push message. The backend
// guarantees a single ordering channel per session, so events for a given
// download always arrive in the order the browser produced them.
type Event struct {
	Type      EventType `json:"event"`
	ContextID string    `json:"contextId"`
	PageID    string    `json:"pageId,omitempty"`

	DownloadID string `json:"downloadId,omitempty"`

	// download.willBegin fields.
	URL               string `json:"url,omitempty"`
	SuggestedFilename string `json:"suggestedFilename,omitempty"`
	// ArtifactPath is assigned by the backend when the download starts.
	// The on-disk name is an opaque generated identifier, not the
	// suggested filename.
	ArtifactPath string `json:"artifactPath,omitempty"`

	// download.finished fields.
	Success bool   `json:"success,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Size    int64  `json:"size,omitempty"`
}

// Command method names accepted by the backend.
const (
	MethodCancelDownload = "download.cancel"
)

// Command is the envelope for requests sent to the backend.
type Command struct {
	Method string        `json:"method"`
	Params CommandParams `json:"params"`
}

type CommandParams struct {
	DownloadID string `json:"downloadId,omitempty"`
}

// CommandResponse is the backend reply to a command. Error is empty on
// success. Acknowledgment only means the command was accepted; the
// resulting state change arrives later on the event stream.
type CommandResponse struct {
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}
