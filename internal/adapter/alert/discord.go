package alert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

// DiscordNotifier posts alerts to a channel through a bot account. It uses
// plain REST calls, no gateway session is opened.
type DiscordNotifier struct {
	session   *discordgo.Session
	channelID string
	logger    *slog.Logger
}

func NewDiscordNotifier(cfg config.AlertDiscordConfig, logger *slog.Logger) (*DiscordNotifier, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	return &DiscordNotifier{
		session:   session,
		channelID: cfg.ChannelID,
		logger:    logger,
	}, nil
}

func (d *DiscordNotifier) Name() string { return "discord-bot" }

func (d *DiscordNotifier) Notify(ctx context.Context, alert domain.Alert) error {
	_, err := d.session.ChannelMessageSend(d.channelID, alertMessage(alert),
		discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send discord alert: %w", err)
	}
	return nil
}

func alertMessage(alert domain.Alert) string {
	return fmt.Sprintf("⚠️ Heart rate alert: **%d BPM** (threshold %d) at %s",
		alert.BPM, alert.Threshold, alert.FiredAt)
}

var _ domain.Notifier = (*DiscordNotifier)(nil)
