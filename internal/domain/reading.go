// Package domain holds the core heart-rate types shared by every layer:
// raw measurement events, normalized readings, and the source/sink contracts.
package domain

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Normalization range. Percent maps MinBPM..MaxBPM onto 0.0..1.0 and clamps
// outside it.
const (
	MinBPM = 40
	MaxBPM = 200
)

// HeartRateEvent is one raw measurement as it arrived from a source,
// before normalization.
type HeartRateEvent struct {
	ID         string
	BPM        int
	CapturedAt time.Time
}

// NewHeartRateEvent stamps a measurement with a sortable unique ID and the
// current time.
func NewHeartRateEvent(bpm int) HeartRateEvent {
	return HeartRateEvent{
		ID:         ulid.MustNew(ulid.Now(), rand.Reader).String(),
		BPM:        bpm,
		CapturedAt: time.Now().UTC(),
	}
}

// NormalizedReading is the value delivered to sinks: the raw BPM, its
// position within the normalization range, and whether a monitor is
// currently connected.
type NormalizedReading struct {
	BPM       int
	Percent   float64
	Connected bool
}

// Disconnected is the reset reading pushed to sinks when the source drops,
// so presence surfaces clear instead of freezing on the last value.
func Disconnected() NormalizedReading {
	return NormalizedReading{}
}
