package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventReadingReceived    EventType = "reading.received"
	EventSourceConnecting   EventType = "source.connecting"
	EventSourceConnected    EventType = "source.connected"
	EventSourceDisconnected EventType = "source.disconnected"
	EventSinkPublishFailed  EventType = "sink.publish.failed"
	EventAlertFired         EventType = "alert.fired"
	EventDispatcherStopped  EventType = "dispatcher.stopped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
// The bus is observational: ordered sink delivery happens directly in the
// dispatcher, not through the bus.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
