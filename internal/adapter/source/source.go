// Package source provides heart-rate reading sources: the Pulsoid cloud
// stream and local BLE heart-rate monitors.
package source

import (
	"fmt"
	"log/slog"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

// New builds the configured source. Exactly one variant is selected by
// cfg.Type.
func New(cfg config.SourceConfig, logger *slog.Logger) (domain.Source, error) {
	switch cfg.Type {
	case config.SourcePulsoid:
		return NewPulsoid(cfg.Pulsoid, logger), nil
	case config.SourceBluetooth:
		return NewBluetooth(cfg.Bluetooth, logger), nil
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Type)
	}
}
