// Package sink implements the normalized-reading consumers: Discord Rich
// Presence over the local IPC socket and VRChat avatar parameters over OSC.
package sink

import (
	"log/slog"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

// Build assembles the enabled sinks in delivery order: Discord first, then
// VRChat. When the breaker is enabled every sink is wrapped so a flapping
// sink fails fast instead of stalling each dispatch.
func Build(cfg config.SinksConfig, logger *slog.Logger) []domain.Sink {
	var sinks []domain.Sink
	if cfg.Discord.Enabled {
		sinks = append(sinks, NewDiscord(cfg.Discord, logger))
	}
	if cfg.VRChat.Enabled {
		sinks = append(sinks, NewVRChat(cfg.VRChat, logger))
	}
	if cfg.Breaker.Enabled {
		for i, s := range sinks {
			sinks[i] = NewBreaker(s, cfg.Breaker, logger)
		}
	}
	return sinks
}
