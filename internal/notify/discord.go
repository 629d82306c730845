package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// discordColor is the embed colour: green for executions, red otherwise.
func discordColor(title string) int {
	if title == "Swap executed" {
		return 0x2ecc71
	}
	return 0xe74c3c
}

// DiscordSender posts an embed to a Discord webhook.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts a single embed.
func (d *DiscordSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       discordColor(title),
		}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Name implements Sender.
func (d *DiscordSender) Name() string { return "discord" }
