package notify

import (
	"context"
	"fmt"
	"net/http"
)

// DiscordSender delivers alerts via a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{webhookURL: webhookURL, client: httpClient}
}

// Send posts the alert to the webhook. Discord answers 204 on success.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	err := postJSON(ctx, d.client, d.webhookURL, map[string]string{
		"content": fmt.Sprintf("**%s**\n%s", title, message),
	})
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string { return "discord" }
