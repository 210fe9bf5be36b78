package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

// Default breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerTimeout     time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerSink wraps a sink with a circuit breaker. When the wrapped sink
// fails repeatedly the circuit opens and publishes fail fast without
// touching the sink, so one dead surface cannot slow each dispatch by a
// full network timeout.
type BreakerSink struct {
	inner   domain.Sink
	breaker *gobreaker.CircuitBreaker[struct{}]
	logger  *slog.Logger
}

// NewBreaker wraps inner. Zero-valued cfg fields fall back to defaults.
func NewBreaker(inner domain.Sink, cfg config.BreakerConfig, logger *slog.Logger) *BreakerSink {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "sink:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("sink circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerSink{inner: inner, breaker: cb, logger: logger}
}

func (b *BreakerSink) Publish(ctx context.Context, reading domain.NormalizedReading) error {
	_, err := b.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, b.inner.Publish(ctx, reading)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: sink %q circuit open: %v", domain.ErrSinkUnavailable, b.inner.Name(), err)
		}
		return err
	}
	return nil
}

func (b *BreakerSink) Close() error { return b.inner.Close() }

func (b *BreakerSink) Name() string { return b.inner.Name() }

// State exposes the breaker state for the dashboard.
func (b *BreakerSink) State() gobreaker.State { return b.breaker.State() }

var _ domain.Sink = (*BreakerSink)(nil)
