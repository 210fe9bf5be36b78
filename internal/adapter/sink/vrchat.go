package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hypebeast/go-osc/osc"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

// Avatar parameter addresses VRChat listens on.
const (
	oscParamHR        = "/avatar/parameters/HR"
	oscParamHRPercent = "/avatar/parameters/HRPercent"
	oscParamConnected = "/avatar/parameters/isHRConnected"
)

// VRChatSink pushes readings to VRChat avatar parameters over OSC/UDP.
type VRChatSink struct {
	client *osc.Client
	logger *slog.Logger
	addr   string
}

func NewVRChat(cfg config.VRChatSinkConfig, logger *slog.Logger) *VRChatSink {
	return &VRChatSink{
		client: osc.NewClient(cfg.Host, cfg.Port),
		logger: logger,
		addr:   fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
	}
}

func (v *VRChatSink) Name() string { return "vrchat" }

// Publish sends the three avatar parameters. A disconnected reading zeroes
// them so live avatars stop animating a stale pulse.
func (v *VRChatSink) Publish(ctx context.Context, reading domain.NormalizedReading) error {
	messages := []*osc.Message{
		oscMessage(oscParamHR, int32(reading.BPM)),
		oscMessage(oscParamHRPercent, float32(reading.Percent)),
		oscMessage(oscParamConnected, reading.Connected),
	}
	for _, msg := range messages {
		if err := v.client.Send(msg); err != nil {
			return fmt.Errorf("%w: osc send %s to %s: %v", domain.ErrSinkUnavailable, msg.Address, v.addr, err)
		}
	}
	return nil
}

func oscMessage(address string, value any) *osc.Message {
	msg := osc.NewMessage(address)
	msg.Append(value)
	return msg
}

func (v *VRChatSink) Close() error { return nil }

var _ domain.Sink = (*VRChatSink)(nil)
