package download

import (
	"errors"
	"fmt"
	"testing"
)

// TestErrorMessages verifies error message formatting
func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "transport error with cause",
			err:  &TransportError{Operation: "path", Err: errors.New("connection reset")},
			want: "backend connection lost during path: connection reset",
		},
		{
			name: "transport error without cause",
			err:  &TransportError{Operation: "save_as"},
			want: "backend connection lost during save_as",
		},
		{
			name: "unsupported error",
			err:  &UnsupportedError{Operation: "path"},
			want: "path is not supported when connected to a remote backend",
		},
		{
			name: "failed error",
			err:  &FailedError{Reason: "net::ERR_BLOCKED_BY_CLIENT"},
			want: "download did not complete: net::ERR_BLOCKED_BY_CLIENT",
		},
		{
			name: "artifact error",
			err:  &ArtifactError{Operation: "create", Path: "/tmp/x.bin", Err: errors.New("permission denied")},
			want: "artifact create failed for '/tmp/x.bin': permission denied",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestTransportError_Unwrap verifies error chain traversal
func TestTransportError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &TransportError{Operation: "failure", Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}

	var target *TransportError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract TransportError from wrapped chain")
	}
	if target.Operation != "failure" {
		t.Errorf("Operation = %q, want %q", target.Operation, "failure")
	}
}

// TestArtifactError_Unwrap verifies error chain traversal
func TestArtifactError_Unwrap(t *testing.T) {
	cause := errors.New("permission denied")
	err := &ArtifactError{Operation: "remove", Path: "/tmp/x.bin", Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("context: %w", err)

	var target *ArtifactError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract ArtifactError from wrapped chain")
	}
	if target.Path != "/tmp/x.bin" {
		t.Errorf("Path = %q, want %q", target.Path, "/tmp/x.bin")
	}
}

// TestErrorTypes_Nil verifies nil cause handling
func TestErrorTypes_Nil(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{name: "TransportError with nil Err", err: &TransportError{Operation: "path"}},
		{name: "ArtifactError with nil Err", err: &ArtifactError{Operation: "open", Path: "/tmp/x.bin"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if unwrapped := errors.Unwrap(tt.err); unwrapped != nil {
				t.Errorf("Unwrap() = %v, want nil", unwrapped)
			}
			if tt.err.Error() == "" {
				t.Error("Error() should return non-empty string even when Err is nil")
			}
		})
	}
}
