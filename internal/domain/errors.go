package domain

import "fmt"

// Sentinels wrap with fmt.Errorf("%w: detail", Err) so callers can errors.Is
// against the category while logs keep the detail.

// Sentinel errors for the domain layer.
var (
	// Source errors.
	ErrAuthFailed         = fmt.Errorf("source authentication failed")
	ErrDeviceNotFound     = fmt.Errorf("heart rate device not found")
	ErrSourceDisconnected = fmt.Errorf("source disconnected")

	// Reading errors.
	ErrInvalidReading = fmt.Errorf("invalid heart rate reading")

	// Sink errors.
	ErrSinkUnavailable = fmt.Errorf("sink unavailable")

	// Lifecycle errors.
	ErrStopped = fmt.Errorf("dispatcher stopped")

	// Infra errors.
	ErrConfigLoad   = fmt.Errorf("failed to load configuration")
	ErrDecryption   = fmt.Errorf("decryption failed")
	ErrHistoryStore = fmt.Errorf("history store failed")
)
