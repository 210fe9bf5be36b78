// Package alerting evaluates readings against a high-heart-rate threshold
// and fans alerts out to the configured notifiers.
package alerting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"heartbridge/internal/domain"
)

const notifyTimeout = 15 * time.Second

// Service fires at most one alert per cooldown window. The rate limiter is
// the cooldown: one token per window, burst of one, so the first crossing
// fires immediately and later crossings are silent until the window passes.
type Service struct {
	threshold int
	limiter   *rate.Limiter
	notifiers []domain.Notifier
	bus       domain.EventBus
	logger    *slog.Logger

	wg sync.WaitGroup
}

func New(threshold int, cooldown time.Duration, notifiers []domain.Notifier, bus domain.EventBus, logger *slog.Logger) *Service {
	return &Service{
		threshold: threshold,
		limiter:   rate.NewLimiter(rate.Every(cooldown), 1),
		notifiers: notifiers,
		bus:       bus,
		logger:    logger,
	}
}

// Check evaluates one reading. Notifier calls run off the dispatch loop so a
// slow webhook never delays sink delivery.
func (s *Service) Check(ctx context.Context, bpm int) {
	if bpm < s.threshold {
		return
	}
	if !s.limiter.Allow() {
		return
	}

	alert := domain.Alert{
		BPM:       bpm,
		Threshold: s.threshold,
		FiredAt:   time.Now().UTC().Format(time.RFC3339),
	}
	s.logger.Warn("heart rate alert", "bpm", alert.BPM, "threshold", alert.Threshold)

	if s.bus != nil {
		payload, _ := json.Marshal(alert)
		s.bus.Publish(ctx, domain.Event{
			Type:      domain.EventAlertFired,
			Timestamp: time.Now().UTC(),
			Source:    "alerting",
			Payload:   payload,
		})
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.notify(alert)
	}()
}

func (s *Service) notify(alert domain.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	for _, n := range s.notifiers {
		if err := n.Notify(ctx, alert); err != nil {
			s.logger.Error("alert delivery failed", "notifier", n.Name(), "error", err)
		}
	}
}

// Close waits for in-flight notifications to finish.
func (s *Service) Close() {
	s.wg.Wait()
}
