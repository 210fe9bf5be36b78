package domain

import "context"

// SourceState is the dispatcher's view of the source connection lifecycle.
type SourceState string

const (
	StateIdle         SourceState = "idle"
	StateConnecting   SourceState = "connecting"
	StateStreaming    SourceState = "streaming"
	StateDisconnected SourceState = "disconnected"
	StateStopped      SourceState = "stopped"
)

// Source produces heart-rate measurements from one upstream: the Pulsoid
// cloud stream or a BLE monitor. Implementations are single-consumer.
type Source interface {
	// Connect establishes the upstream connection. It blocks until the
	// source is ready to stream or fails.
	Connect(ctx context.Context) error
	// Next blocks until a measurement arrives, the stream drops, or ctx is
	// cancelled.
	Next(ctx context.Context) (HeartRateEvent, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
	Name() string
}
