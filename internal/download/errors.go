package download

import "fmt"

// TransportError reports that the connection to the browser backend was
// lost while an operation was waiting on it. It is deliberately distinct
// from a download that the browser itself reported as failed.
type TransportError struct {
	Operation string // The operation that was waiting (e.g., "path", "save_as")
	Err       error  // Underlying connection error, if any
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend connection lost during %s: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("backend connection lost during %s", e.Operation)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnsupportedError reports an operation that requires local filesystem
// access to the artifact while the client is connected to a remote
// backend without one.
type UnsupportedError struct {
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s is not supported when connected to a remote backend", e.Operation)
}

// FailedError reports that an operation needed a successfully completed
// download, but the download ended in failure or cancellation.
type FailedError struct {
	Reason string // The failure reason reported by the browser
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("download did not complete: %s", e.Reason)
}

// ArtifactError represents a local filesystem failure while operating on
// the downloaded artifact (permissions, missing destination directory).
type ArtifactError struct {
	Operation string // "open", "create", "copy" or "remove"
	Path      string
	Err       error
}

func (e *ArtifactError) Error() string {
	return fmt.Sprintf("artifact %s failed for '%s': %v", e.Operation, e.Path, e.Err)
}

func (e *ArtifactError) Unwrap() error {
	return e.Err
}
