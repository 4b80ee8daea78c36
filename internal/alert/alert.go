// Package alert delivers operator alerts for conditions that need a human,
// such as a lifecycle boundary that fired well after its due time.
package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/jensholdgaard/auctionhub/internal/config"
)

// Alerter sends a short operator-facing message.
type Alerter interface {
	Alert(ctx context.Context, msg string) error
}

// Nop discards alerts after logging them.
type Nop struct {
	Logger *slog.Logger
}

func (n Nop) Alert(ctx context.Context, msg string) error {
	if n.Logger != nil {
		n.Logger.WarnContext(ctx, "alert", slog.String("message", msg))
	}
	return nil
}

// Discord posts alerts to a Discord channel webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// NewDiscord returns a webhook alerter. Webhook execution needs no bot
// token, so the session is unauthenticated.
func NewDiscord(webhookID, webhookToken string) (*Discord, error) {
	session, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("creating discord session: %w", err)
	}
	return &Discord{session: session, id: webhookID, token: webhookToken}, nil
}

func (d *Discord) Alert(ctx context.Context, msg string) error {
	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Content: msg,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("executing discord webhook: %w", err)
	}
	return nil
}

// New returns a Discord alerter when a webhook is configured, otherwise a
// logging Nop.
func New(cfg config.AlertConfig, logger *slog.Logger) (Alerter, error) {
	if cfg.DiscordWebhookID == "" || cfg.DiscordWebhookToken == "" {
		return Nop{Logger: logger}, nil
	}
	return NewDiscord(cfg.DiscordWebhookID, cfg.DiscordWebhookToken)
}
