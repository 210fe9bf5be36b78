package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heartbridge/internal/domain"
	"heartbridge/internal/usecase/eventbus"
)

type nextResult struct {
	event domain.HeartRateEvent
	err   error
}

// fakeSource scripts Connect/Next results for the state machine tests.
type fakeSource struct {
	mu          sync.Mutex
	connectErrs []error // popped per Connect call; nil entry = success
	results     chan nextResult
	connects    atomic.Int32
	closes      atomic.Int32
}

func newFakeSource(buffer int) *fakeSource {
	return &fakeSource{results: make(chan nextResult, buffer)}
}

func (f *fakeSource) Connect(ctx context.Context) error {
	f.connects.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connectErrs) > 0 {
		err := f.connectErrs[0]
		f.connectErrs = f.connectErrs[1:]
		return err
	}
	return nil
}

func (f *fakeSource) Next(ctx context.Context) (domain.HeartRateEvent, error) {
	select {
	case <-ctx.Done():
		return domain.HeartRateEvent{}, ctx.Err()
	case r := <-f.results:
		return r.event, r.err
	}
}

func (f *fakeSource) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeSource) Name() string { return "fake" }

// recordingSink captures every published reading; failOn makes specific
// publish ordinals fail.
type recordingSink struct {
	name   string
	mu     sync.Mutex
	got    []domain.NormalizedReading
	calls  int
	failOn map[int]bool // 1-based call ordinal
}

func (s *recordingSink) Publish(_ context.Context, r domain.NormalizedReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failOn[s.calls] {
		return fmt.Errorf("%w: %s", domain.ErrSinkUnavailable, s.name)
	}
	s.got = append(s.got, r)
	return nil
}

func (s *recordingSink) Close() error { return nil }
func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) readings() []domain.NormalizedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NormalizedReading, len(s.got))
	copy(out, s.got)
	return out
}

func testLogger() *slog.Logger { return slog.Default() }

func runDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	go func() { _ = d.Run(context.Background()) }()
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting: %s", msg)
}

func TestFanOutDeliversToAllSinksInOrder(t *testing.T) {
	src := newFakeSource(8)
	discord := &recordingSink{name: "discord"}
	vrchat := &recordingSink{name: "vrchat"}
	d := New(src, []domain.Sink{discord, vrchat}, testLogger())
	runDispatcher(t, d)
	defer d.Stop()

	bpms := []int{60, 75, 90}
	for _, bpm := range bpms {
		src.results <- nextResult{event: domain.NewHeartRateEvent(bpm)}
	}

	waitFor(t, func() bool { return len(vrchat.readings()) == len(bpms) }, "vrchat deliveries")

	for _, s := range []*recordingSink{discord, vrchat} {
		got := s.readings()
		require.Len(t, got, len(bpms), s.name)
		for i, bpm := range bpms {
			assert.Equal(t, bpm, got[i].BPM, "%s event %d out of order", s.name, i)
			assert.True(t, got[i].Connected)
		}
	}
}

func TestSinkFailureIsIsolated(t *testing.T) {
	src := newFakeSource(8)
	// Discord fails on the first publish; VRChat never fails.
	discord := &recordingSink{name: "discord", failOn: map[int]bool{1: true}}
	vrchat := &recordingSink{name: "vrchat"}
	d := New(src, []domain.Sink{discord, vrchat}, testLogger())
	runDispatcher(t, d)
	defer d.Stop()

	src.results <- nextResult{event: domain.NewHeartRateEvent(100)}
	src.results <- nextResult{event: domain.NewHeartRateEvent(110)}

	waitFor(t, func() bool { return len(vrchat.readings()) == 2 }, "vrchat deliveries")

	// VRChat saw both events despite the discord failure on event 1.
	vr := vrchat.readings()
	require.Len(t, vr, 2)
	assert.Equal(t, 100, vr[0].BPM)
	assert.Equal(t, 110, vr[1].BPM)

	// Discord recovered on event 2.
	waitFor(t, func() bool { return len(discord.readings()) == 1 }, "discord recovery")
	assert.Equal(t, 110, discord.readings()[0].BPM)
}

func TestStreamErrorTriggersReconnect(t *testing.T) {
	src := newFakeSource(8)
	sink := &recordingSink{name: "vrchat"}
	d := New(src, []domain.Sink{sink}, testLogger(),
		WithBackoff(Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}))
	runDispatcher(t, d)
	defer d.Stop()

	waitFor(t, func() bool { return src.connects.Load() == 1 }, "first connect")
	src.results <- nextResult{err: domain.ErrSourceDisconnected}

	// Dispatcher must go Disconnected, then retry connect after backoff.
	waitFor(t, func() bool { return src.connects.Load() >= 2 }, "reconnect attempt")
	waitFor(t, func() bool { return d.State() == domain.StateStreaming }, "back to streaming")
}

func TestDisconnectResetsSinks(t *testing.T) {
	src := newFakeSource(8)
	sink := &recordingSink{name: "vrchat"}
	d := New(src, []domain.Sink{sink}, testLogger(),
		WithBackoff(Backoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}))
	runDispatcher(t, d)
	defer d.Stop()

	src.results <- nextResult{event: domain.NewHeartRateEvent(90)}
	waitFor(t, func() bool { return len(sink.readings()) == 1 }, "streaming delivery")

	src.results <- nextResult{err: domain.ErrSourceDisconnected}
	waitFor(t, func() bool { return len(sink.readings()) >= 2 }, "reset delivery")

	got := sink.readings()
	assert.True(t, got[0].Connected)
	// The reset reading clears the downstream surfaces.
	assert.False(t, got[1].Connected)
	assert.Equal(t, 0, got[1].BPM)
	assert.Equal(t, 0.0, got[1].Percent)

	// After reconnection the next event is connected again.
	waitFor(t, func() bool { return d.State() == domain.StateStreaming }, "reconnected")
	src.results <- nextResult{event: domain.NewHeartRateEvent(95)}
	waitFor(t, func() bool {
		rs := sink.readings()
		return rs[len(rs)-1].Connected
	}, "connected reading after reconnect")
}

func TestConnectFailureBacksOff(t *testing.T) {
	src := newFakeSource(1)
	src.connectErrs = []error{domain.ErrAuthFailed, domain.ErrAuthFailed}
	d := New(src, nil, testLogger(),
		WithBackoff(Backoff{Initial: 10 * time.Millisecond, Max: 20 * time.Millisecond}))
	runDispatcher(t, d)
	defer d.Stop()

	waitFor(t, func() bool { return src.connects.Load() >= 3 }, "retries after connect failures")
	waitFor(t, func() bool { return d.State() == domain.StateStreaming }, "eventual success")
}

func TestInvalidReadingDiscarded(t *testing.T) {
	src := newFakeSource(8)
	sink := &recordingSink{name: "vrchat"}
	d := New(src, []domain.Sink{sink}, testLogger())
	runDispatcher(t, d)
	defer d.Stop()

	src.results <- nextResult{event: domain.HeartRateEvent{ID: "x", BPM: -5}}
	src.results <- nextResult{event: domain.NewHeartRateEvent(70)}

	waitFor(t, func() bool { return len(sink.readings()) == 1 }, "valid delivery")
	assert.Equal(t, 70, sink.readings()[0].BPM, "negative reading must produce no sink calls")
}

func TestLatestReadingCell(t *testing.T) {
	src := newFakeSource(8)
	d := New(src, nil, testLogger())
	runDispatcher(t, d)

	assert.Nil(t, d.Latest())
	src.results <- nextResult{event: domain.NewHeartRateEvent(120)}
	waitFor(t, func() bool { return d.Latest() != nil }, "latest set")
	assert.Equal(t, 120, d.Latest().BPM)
	assert.Equal(t, 0.5, d.Latest().Percent)

	d.Stop()
	assert.Nil(t, d.Latest(), "latest cleared on stop")
}

func TestStopAbortsNextAndReleasesSource(t *testing.T) {
	src := newFakeSource(1)
	d := New(src, nil, testLogger())
	runDispatcher(t, d)

	waitFor(t, func() bool { return d.State() == domain.StateStreaming }, "streaming")

	done := make(chan struct{})
	go func() {
		d.Stop() // must abort the blocked Next
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not abort in-flight Next")
	}

	assert.Equal(t, domain.StateStopped, d.State())
	assert.GreaterOrEqual(t, src.closes.Load(), int32(1), "source handle released")
}

func TestRecorderAndAlerterObserveReadings(t *testing.T) {
	src := newFakeSource(8)

	var recorded atomic.Int32
	rec := recorderFunc(func(_ context.Context, _ domain.HeartRateEvent, _ domain.NormalizedReading) error {
		recorded.Add(1)
		return nil
	})
	var checked atomic.Int32
	al := alerterFunc(func(_ context.Context, bpm int) { checked.Add(1) })

	d := New(src, nil, testLogger(), WithRecorder(rec), WithAlerter(al))
	runDispatcher(t, d)
	defer d.Stop()

	src.results <- nextResult{event: domain.NewHeartRateEvent(80)}
	src.results <- nextResult{event: domain.NewHeartRateEvent(85)}

	waitFor(t, func() bool { return recorded.Load() == 2 && checked.Load() == 2 }, "recorder and alerter")
}

func TestBusReceivesLifecycleEvents(t *testing.T) {
	src := newFakeSource(8)
	bus := eventbus.New(testLogger())

	var mu sync.Mutex
	seen := map[domain.EventType]int{}
	bus.SubscribeAll(func(_ context.Context, e domain.Event) {
		mu.Lock()
		seen[e.Type]++
		mu.Unlock()
	})

	d := New(src, nil, testLogger(), WithBus(bus))
	runDispatcher(t, d)

	src.results <- nextResult{event: domain.NewHeartRateEvent(77)}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[domain.EventReadingReceived] >= 1 && seen[domain.EventSourceConnected] >= 1
	}, "bus events")

	d.Stop()
	bus.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, seen[domain.EventSourceConnecting], 1)
	assert.GreaterOrEqual(t, seen[domain.EventDispatcherStopped], 1)
}

type recorderFunc func(context.Context, domain.HeartRateEvent, domain.NormalizedReading) error

func (f recorderFunc) Record(ctx context.Context, e domain.HeartRateEvent, r domain.NormalizedReading) error {
	return f(ctx, e, r)
}

type alerterFunc func(context.Context, int)

func (f alerterFunc) Check(ctx context.Context, bpm int) { f(ctx, bpm) }
