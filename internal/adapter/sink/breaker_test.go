package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbridge/internal/domain"
	"heartbridge/internal/infra/config"
)

type flakySink struct {
	err      error
	publishN int
	closed   bool
}

func (f *flakySink) Publish(ctx context.Context, reading domain.NormalizedReading) error {
	f.publishN++
	return f.err
}
func (f *flakySink) Close() error { f.closed = true; return nil }
func (f *flakySink) Name() string { return "flaky" }

func TestBreakerPassesThroughSuccess(t *testing.T) {
	inner := &flakySink{}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 3}, testLogger())

	require.NoError(t, b.Publish(context.Background(), domain.NormalizedReading{BPM: 70, Connected: true}))
	assert.Equal(t, 1, inner.publishN)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := &flakySink{err: errors.New("ipc socket gone")}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 3, Timeout: time.Minute}, testLogger())

	ctx := context.Background()
	reading := domain.NormalizedReading{BPM: 70, Connected: true}
	for i := 0; i < 3; i++ {
		require.Error(t, b.Publish(ctx, reading))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	// Open circuit fails fast without reaching the sink.
	before := inner.publishN
	err := b.Publish(ctx, reading)
	require.ErrorIs(t, err, domain.ErrSinkUnavailable)
	assert.Equal(t, before, inner.publishN)
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	inner := &flakySink{err: errors.New("down")}
	b := NewBreaker(inner, config.BreakerConfig{MaxFailures: 2, Timeout: 50 * time.Millisecond}, testLogger())

	ctx := context.Background()
	reading := domain.NormalizedReading{BPM: 70, Connected: true}
	for i := 0; i < 2; i++ {
		require.Error(t, b.Publish(ctx, reading))
	}
	require.Equal(t, gobreaker.StateOpen, b.State())

	inner.err = nil
	time.Sleep(80 * time.Millisecond)

	require.NoError(t, b.Publish(ctx, reading))
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerDelegatesCloseAndName(t *testing.T) {
	inner := &flakySink{}
	b := NewBreaker(inner, config.BreakerConfig{}, testLogger())

	assert.Equal(t, "flaky", b.Name())
	require.NoError(t, b.Close())
	assert.True(t, inner.closed)
}
