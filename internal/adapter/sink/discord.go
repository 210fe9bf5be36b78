package sink

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hugolgst/rich-go/client"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

const defaultLargeImage = "fas-fa-heart"

// DiscordSink publishes readings as Discord Rich Presence via the local
// Discord client's IPC socket. Login is lazy so a closed Discord client
// surfaces as a per-publish failure the dispatcher can ride out.
type DiscordSink struct {
	cfg    config.DiscordSinkConfig
	logger *slog.Logger

	mu       sync.Mutex
	loggedIn bool
	started  time.Time
}

func NewDiscord(cfg config.DiscordSinkConfig, logger *slog.Logger) *DiscordSink {
	return &DiscordSink{cfg: cfg, logger: logger, started: time.Now()}
}

func (d *DiscordSink) Name() string { return "discord" }

func (d *DiscordSink) Publish(ctx context.Context, reading domain.NormalizedReading) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.loggedIn {
		if err := client.Login(d.cfg.ClientID); err != nil {
			return fmt.Errorf("%w: discord ipc login: %v", domain.ErrSinkUnavailable, err)
		}
		d.loggedIn = true
		d.logger.Info("discord presence connected", "client_id", d.cfg.ClientID)
	}

	if err := client.SetActivity(d.activity(reading)); err != nil {
		// The client may have quit; force a fresh login next publish.
		d.loggedIn = false
		return fmt.Errorf("%w: discord set activity: %v", domain.ErrSinkUnavailable, err)
	}
	return nil
}

// activity renders the presence card for a reading.
func (d *DiscordSink) activity(reading domain.NormalizedReading) client.Activity {
	largeImage := d.cfg.LargeImage
	if largeImage == "" {
		largeImage = defaultLargeImage
	}

	details, state, smallText := presenceText(reading)

	a := client.Activity{
		Details:    details,
		State:      state,
		LargeImage: largeImage,
		LargeText:  "Heart Rate Monitor",
		Timestamps: &client.Timestamps{Start: &d.started},
	}
	if d.cfg.SmallImage != "" {
		a.SmallImage = d.cfg.SmallImage
		a.SmallText = smallText
	}
	return a
}

// presenceText returns the details, state, and small-image hover text for a
// reading.
func presenceText(reading domain.NormalizedReading) (details, state, smallText string) {
	if !reading.Connected {
		return "💔 Heart Rate Disconnected", "Waiting for connection...", "VRChat Offline"
	}
	return fmt.Sprintf("❤ Heart Rate: %d BPM", reading.BPM),
		"Monitoring heart rate...",
		"VRChat Integration Active"
}

func (d *DiscordSink) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loggedIn {
		client.Logout()
		d.loggedIn = false
	}
	return nil
}

var _ domain.Sink = (*DiscordSink)(nil)
