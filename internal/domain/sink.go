package domain

import "context"

// Sink consumes normalized readings. Each sink is an isolated failure
// domain: a Publish error never prevents delivery to other sinks.
type Sink interface {
	Publish(ctx context.Context, reading NormalizedReading) error
	// Close releases sink resources. Safe to call more than once.
	Close() error
	Name() string
}

// Alert describes a threshold crossing worth notifying about.
type Alert struct {
	BPM       int    `json:"bpm"`
	Threshold int    `json:"threshold"`
	FiredAt   string `json:"fired_at"`
}

// Notifier delivers alerts out of band (webhook, chat message).
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
	Name() string
}
