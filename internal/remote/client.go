package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/italolelis/browser_downloader/internal/logctx"
	"github.com/italolelis/browser_downloader/internal/protocol"
	"golang.org/x/oauth2"
)

// Client talks to a remote browser automation backend over HTTP:
// commands go out as JSON posts, events come back on a long-lived
// newline-delimited JSON stream.
type Client struct {
	baseURL    string
	httpClient *http.Client
	sessionID  string
	insecure   bool
}

func NewClient(baseURL, token string, insecure ...bool) *Client {
	client := &Client{baseURL: strings.TrimRight(baseURL, "/")}

	tr := &http.Transport{}

	if len(insecure) > 0 && insecure[0] {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		client.insecure = true
	}

	var rt http.RoundTripper = tr
	if token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}),
			Base:   tr,
		}
	}

	// No client-wide timeout: the event stream stays open for the whole
	// session. Commands carry their own deadline through ctx.
	client.httpClient = &http.Client{Transport: rt}

	return client
}

// SessionID returns the id assigned by the backend during Connect.
func (c *Client) SessionID() string {
	return c.sessionID
}

// Connect performs the session handshake and stores the session id used
// by all subsequent calls.
func (c *Client) Connect(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx).With("backend", c.baseURL)

	payload := map[string]string{"client": "browser_downloader"}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal handshake: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build handshake request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)

		return fmt.Errorf("handshake rejected with status %d: %s", resp.StatusCode, string(b))
	}

	var session struct {
		SessionID string `json:"sessionId"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return fmt.Errorf("failed to decode handshake response: %w", err)
	}

	if session.SessionID == "" {
		return fmt.Errorf("backend returned an empty session id")
	}

	c.sessionID = session.SessionID

	logger.Info("connected to backend", "session_id", c.sessionID)

	return nil
}

// CancelDownload asks the backend to cancel a download. A nil return
// only means the command was accepted; the state change arrives as a
// cancel-acknowledged event on the stream.
func (c *Client) CancelDownload(ctx context.Context, downloadID string) error {
	resp, err := c.command(ctx, protocol.Command{
		Method: protocol.MethodCancelDownload,
		Params: protocol.CommandParams{DownloadID: downloadID},
	})
	if err != nil {
		return err
	}

	if resp.Error != "" {
		return fmt.Errorf("cancel rejected by backend: %s", resp.Error)
	}

	return nil
}

func (c *Client) command(ctx context.Context, cmd protocol.Command) (*protocol.CommandResponse, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", cmd.Method)

	body, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/commands", c.baseURL, c.sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build command request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger.Debug("sending command")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("command failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)

		return nil, fmt.Errorf("command rejected with status %d: %s", resp.StatusCode, string(b))
	}

	var cmdResp protocol.CommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&cmdResp); err != nil {
		return nil, fmt.Errorf("failed to decode command response: %w", err)
	}

	return &cmdResp, nil
}

// StreamEvents opens the session event stream and decodes it onto the
// returned channel from a dedicated goroutine. When the stream breaks,
// the error channel receives exactly one value and both channels are
// closed. Canceling ctx tears the stream down.
func (c *Client) StreamEvents(ctx context.Context) (<-chan protocol.Event, <-chan error, error) {
	url := fmt.Sprintf("%s/sessions/%s/events", c.baseURL, c.sessionID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open event stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		return nil, nil, fmt.Errorf("event stream rejected with status %d: %s", resp.StatusCode, string(b))
	}

	events := make(chan protocol.Event)
	errs := make(chan error, 1)

	go c.readEvents(ctx, resp.Body, events, errs)

	return events, errs, nil
}

func (c *Client) readEvents(ctx context.Context, body io.ReadCloser, events chan<- protocol.Event, errs chan<- error) {
	logger := logctx.LoggerFromContext(ctx)

	defer close(events)
	defer close(errs)
	defer body.Close()

	// Unblock the decoder when the caller goes away. The watchdog exits
	// with the reader instead of lingering until the session ends.
	readerDone := make(chan struct{})
	defer close(readerDone)

	go func() {
		select {
		case <-ctx.Done():
			body.Close()
		case <-readerDone:
		}
	}()

	dec := json.NewDecoder(body)

	for {
		var ev protocol.Event
		if err := dec.Decode(&ev); err != nil {
			if ctx.Err() != nil {
				logger.Debug("event stream closed", "reason", "context canceled")

				return
			}

			errs <- fmt.Errorf("event stream read failed: %w", err)

			return
		}

		select {
		case <-ctx.Done():
			return
		case events <- ev:
		}
	}
}
