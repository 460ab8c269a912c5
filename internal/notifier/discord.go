package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// Notification describes one download outcome worth telling a human
// about.
type Notification struct {
	DownloadID        string
	SuggestedFilename string
	Succeeded         bool
	// Reason is the failure diagnostic; empty for a successful download.
	Reason string
}

type Notifier interface {
	Notify(n Notification) error
}

// DiscordNotifier posts download outcomes to a Discord webhook.
type DiscordNotifier struct {
	WebhookURL string
}

type discordPayload struct {
	Content string `json:"content"`
}

func (d *DiscordNotifier) Notify(n Notification) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	body, err := json.Marshal(discordPayload{Content: formatNotification(n)})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := http.Post(d.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

func formatNotification(n Notification) string {
	if n.Succeeded {
		return "✅ Download finished: " + n.SuggestedFilename
	}

	return fmt.Sprintf("❌ Download failed: %s (%s)", n.SuggestedFilename, n.Reason)
}
