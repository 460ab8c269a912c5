package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/italolelis/browser_downloader/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect(t *testing.T) {
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/sessions", r.URL.Path)

		gotAuth = r.Header.Get("Authorization")

		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"sessionId":"sess-42"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret-token")

	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, "sess-42", client.SessionID())
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestConnectRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no capacity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestConnectEmptySessionID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	err := client.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty session id")
}

func TestCancelDownload(t *testing.T) {
	var gotCmd protocol.Command

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			fmt.Fprint(w, `{"sessionId":"sess-42"}`)
		case "/sessions/sess-42/commands":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotCmd))
			fmt.Fprint(w, `{}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))
	require.NoError(t, client.CancelDownload(ctx, "dl-1"))

	assert.Equal(t, protocol.MethodCancelDownload, gotCmd.Method)
	assert.Equal(t, "dl-1", gotCmd.Params.DownloadID)
}

func TestCancelDownloadBackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			fmt.Fprint(w, `{"sessionId":"sess-42"}`)
		default:
			fmt.Fprint(w, `{"error":"unknown download"}`)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))

	err := client.CancelDownload(ctx, "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown download")
}

func TestStreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			fmt.Fprint(w, `{"sessionId":"sess-42"}`)
		case "/sessions/sess-42/events":
			require.Equal(t, "application/x-ndjson", r.Header.Get("Accept"))

			fmt.Fprintln(w, `{"event":"download.willBegin","contextId":"bc-1","downloadId":"dl-1","url":"https://example.com/a"}`)
			fmt.Fprintln(w, `{"event":"download.finished","contextId":"bc-1","downloadId":"dl-1","success":true}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")
	ctx := context.Background()

	require.NoError(t, client.Connect(ctx))

	events, errs, err := client.StreamEvents(ctx)
	require.NoError(t, err)

	first := <-events
	assert.Equal(t, protocol.EventDownloadWillBegin, first.Type)
	assert.Equal(t, "dl-1", first.DownloadID)

	second := <-events
	assert.Equal(t, protocol.EventDownloadFinished, second.Type)
	assert.True(t, second.Success)

	// The server closed the response body, which the reader surfaces as a
	// stream failure.
	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("stream error was never reported")
	}

	_, open := <-events
	assert.False(t, open)
}

func TestStreamEventsContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			fmt.Fprint(w, `{"sessionId":"sess-42"}`)
		case "/sessions/sess-42/events":
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()

			// Hold the stream open until the client goes away.
			<-r.Context().Done()
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	require.NoError(t, client.Connect(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())

	events, errs, err := client.StreamEvents(ctx)
	require.NoError(t, err)

	cancel()

	// Cancellation closes both channels without reporting an error.
	for range events {
	}

	_, open := <-errs
	assert.False(t, open)
}

type countingBody struct {
	r      io.Reader
	closes atomic.Int32
}

func (b *countingBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *countingBody) Close() error {
	b.closes.Add(1)

	return nil
}

func TestReadEventsWatchdogExitsWithReader(t *testing.T) {
	client := NewClient("http://backend.invalid", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	body := &countingBody{r: iotest.ErrReader(io.ErrUnexpectedEOF)}
	events := make(chan protocol.Event)
	errs := make(chan error, 1)

	go client.readEvents(ctx, body, events, errs)

	select {
	case err := <-errs:
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	case <-time.After(time.Second):
		t.Fatal("stream error was never reported")
	}

	// The reader is gone; canceling the session afterwards must not make
	// the watchdog close the body a second time.
	time.Sleep(20 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)

	assert.EqualValues(t, 1, body.closes.Load())
}

func TestStreamEventsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sessions":
			fmt.Fprint(w, `{"sessionId":"sess-42"}`)
		default:
			http.Error(w, "unknown session", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "")

	require.NoError(t, client.Connect(context.Background()))

	_, _, err := client.StreamEvents(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
