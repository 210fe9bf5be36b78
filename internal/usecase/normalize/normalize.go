// Package normalize derives the sink-facing reading from a raw BPM value.
package normalize

import (
	"fmt"

	"heartbridge/internal/domain"
)

// Reading converts a raw BPM into a NormalizedReading. Negative BPM is
// rejected as ErrInvalidReading and must produce no sink calls. Percent maps
// the 40-200 BPM window onto [0,1], clamped at both ends.
func Reading(bpm int, connected bool) (domain.NormalizedReading, error) {
	if bpm < 0 {
		return domain.NormalizedReading{}, fmt.Errorf("%w: bpm %d", domain.ErrInvalidReading, bpm)
	}
	return domain.NormalizedReading{
		BPM:       bpm,
		Percent:   Percent(bpm),
		Connected: connected,
	}, nil
}

// Percent maps bpm onto [0,1] over the MinBPM..MaxBPM window.
func Percent(bpm int) float64 {
	p := float64(bpm-domain.MinBPM) / float64(domain.MaxBPM-domain.MinBPM)
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
