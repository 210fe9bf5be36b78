// Package dispatcher owns the acquire/normalize/fan-out loop and the
// connect-retry state machine around the active heart-rate source.
package dispatcher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/trace"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/tracer"
	"heartbridge/internal/usecase/normalize"
)

// Recorder persists readings for history queries. Failures are logged, never
// fatal to the loop.
type Recorder interface {
	Record(ctx context.Context, event domain.HeartRateEvent, reading domain.NormalizedReading) error
}

// Alerter evaluates a reading against alert rules (threshold + cooldown).
type Alerter interface {
	Check(ctx context.Context, bpm int)
}

// Backoff bounds the reconnect delay after a connection failure or stream
// drop. The delay doubles per consecutive failure from Initial up to Max and
// resets on a successful connect.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithBus publishes lifecycle and reading events on bus.
func WithBus(bus domain.EventBus) Option {
	return func(d *Dispatcher) { d.bus = bus }
}

// WithRecorder persists each reading through r.
func WithRecorder(r Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

// WithAlerter evaluates each reading against alert rules.
func WithAlerter(a Alerter) Option {
	return func(d *Dispatcher) { d.alerter = a }
}

// WithBackoff overrides the default reconnect backoff.
func WithBackoff(b Backoff) Option {
	return func(d *Dispatcher) { d.backoff = b }
}

// Dispatcher runs the event loop: connect the source, read measurements,
// normalize, and deliver to every enabled sink in fixed order. Sinks are
// isolated failure domains; the source connection is the only thing the
// dispatcher ever retries.
type Dispatcher struct {
	source   domain.Source
	sinks    []domain.Sink
	logger   *slog.Logger
	bus      domain.EventBus
	recorder Recorder
	alerter  Alerter
	backoff  Backoff

	mu    sync.RWMutex
	state domain.SourceState

	// latest is the cell the TUI reads; a whole-struct pointer swap keeps
	// readers from ever seeing a partial write.
	latest atomic.Pointer[domain.NormalizedReading]

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a dispatcher for source fanning out to sinks. Sink order is
// delivery order and must match configuration declaration order.
func New(source domain.Source, sinks []domain.Sink, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:  source,
		sinks:   sinks,
		logger:  logger,
		state:   domain.StateIdle,
		backoff: Backoff{Initial: 2 * time.Second, Max: 60 * time.Second},
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() domain.SourceState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

// Latest returns the most recent normalized reading, or nil before the first
// event and after Stop.
func (d *Dispatcher) Latest() *domain.NormalizedReading {
	return d.latest.Load()
}

// Run drives the state machine until ctx is cancelled or Stop is called.
// It always returns nil after a clean stop; it never returns because of a
// source or sink error.
func (d *Dispatcher) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()
	defer close(d.done)
	defer d.shutdown()

	delay := d.backoff.Initial

	for {
		if ctx.Err() != nil {
			return nil
		}

		d.setState(ctx, domain.StateConnecting, domain.EventSourceConnecting, nil)

		connectCtx, span := tracer.StartSpan(ctx, "source.connect",
			trace.WithAttributes(tracer.StringAttr("source", d.source.Name())))
		err := d.source.Connect(connectCtx)
		if err != nil {
			tracer.RecordError(span, err)
			span.End()
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("source connect failed",
				"source", d.source.Name(), "error", err, "retry_in", delay)
			d.setState(ctx, domain.StateDisconnected, domain.EventSourceDisconnected, err)
			d.resetSinks(ctx)
			if !sleep(ctx, delay) {
				return nil
			}
			delay = d.nextDelay(delay)
			continue
		}
		tracer.SetOK(span)
		span.End()

		delay = d.backoff.Initial
		d.setState(ctx, domain.StateStreaming, domain.EventSourceConnected, nil)
		d.logger.Info("source connected", "source", d.source.Name())

		err = d.stream(ctx)
		if ctx.Err() != nil {
			return nil
		}
		d.logger.Warn("source stream interrupted",
			"source", d.source.Name(), "error", err, "retry_in", delay)
		d.setState(ctx, domain.StateDisconnected, domain.EventSourceDisconnected, err)
		d.resetSinks(ctx)
		if closeErr := d.source.Close(); closeErr != nil {
			d.logger.Debug("source close", "error", closeErr)
		}
		if !sleep(ctx, delay) {
			return nil
		}
		delay = d.nextDelay(delay)
	}
}

// stream consumes measurements until the source errors or ctx is cancelled.
func (d *Dispatcher) stream(ctx context.Context) error {
	for {
		event, err := d.source.Next(ctx)
		if err != nil {
			return err
		}
		d.handle(ctx, event)
	}
}

// handle normalizes one event and fans it out. Called only while Streaming.
func (d *Dispatcher) handle(ctx context.Context, event domain.HeartRateEvent) {
	reading, err := normalize.Reading(event.BPM, true)
	if err != nil {
		// Malformed measurement: discard, no sink calls.
		d.logger.Warn("discarding reading", "bpm", event.BPM, "error", err)
		return
	}

	d.latest.Store(&reading)

	if d.recorder != nil {
		if err := d.recorder.Record(ctx, event, reading); err != nil {
			d.logger.Error("history record failed", "error", err)
		}
	}
	if d.alerter != nil {
		d.alerter.Check(ctx, reading.BPM)
	}
	d.publishEvent(ctx, domain.EventReadingReceived, reading)

	d.deliver(ctx, reading)
}

// deliver publishes reading to every sink in registration order. A sink
// failure is logged and reported on the bus; later sinks still receive the
// reading.
func (d *Dispatcher) deliver(ctx context.Context, reading domain.NormalizedReading) {
	ctx, span := tracer.StartSpan(ctx, "dispatch.deliver",
		trace.WithAttributes(tracer.IntAttr("bpm", reading.BPM)))
	defer span.End()

	for _, sink := range d.sinks {
		if err := sink.Publish(ctx, reading); err != nil {
			d.logger.Warn("sink publish failed", "sink", sink.Name(), "error", err)
			d.publishEvent(ctx, domain.EventSinkPublishFailed, map[string]string{
				"sink":  sink.Name(),
				"error": err.Error(),
			})
		}
	}
}

// resetSinks pushes the disconnected reading so downstream surfaces clear
// instead of freezing on the last value.
func (d *Dispatcher) resetSinks(ctx context.Context) {
	d.deliver(ctx, domain.Disconnected())
}

// Stop aborts any in-flight Next, releases the source, and waits for Run to
// return. Safe to call once Run has been started.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-d.done
}

// shutdown runs once as Run unwinds.
func (d *Dispatcher) shutdown() {
	if err := d.source.Close(); err != nil {
		d.logger.Debug("source close", "error", err)
	}
	d.latest.Store(nil)
	d.mu.Lock()
	d.state = domain.StateStopped
	d.mu.Unlock()
	if d.bus != nil {
		d.bus.Publish(context.Background(), domain.Event{
			Type:      domain.EventDispatcherStopped,
			Timestamp: time.Now().UTC(),
			Source:    d.source.Name(),
		})
	}
	d.logger.Info("dispatcher stopped")
}

func (d *Dispatcher) setState(ctx context.Context, s domain.SourceState, evt domain.EventType, cause error) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()

	var payload any
	if cause != nil {
		payload = map[string]string{"error": cause.Error()}
	}
	d.publishEvent(ctx, evt, payload)
}

func (d *Dispatcher) publishEvent(ctx context.Context, t domain.EventType, payload any) {
	if d.bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = b
		}
	}
	d.bus.Publish(ctx, domain.Event{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Source:    d.source.Name(),
		Payload:   raw,
	})
}

func (d *Dispatcher) nextDelay(cur time.Duration) time.Duration {
	next := cur * 2
	if next > d.backoff.Max {
		next = d.backoff.Max
	}
	return next
}

// sleep waits for delay unless ctx is cancelled first. Reports whether the
// full delay elapsed.
func sleep(ctx context.Context, delay time.Duration) bool {
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
