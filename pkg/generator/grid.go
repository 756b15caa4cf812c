package generator

import (
	"fmt"
	"time"
)

// TimeGrid is the ordered sequence of sample timestamps of one run.
type TimeGrid struct {
	Start time.Time
	Step  time.Duration
	Count int
}

// DefaultStart is the first sample timestamp when none is configured.
var DefaultStart = time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

// NewTimeGrid builds a grid spanning the given number of days at
// samplesPerHour resolution. samplesPerHour must divide 60 so that the step
// is a whole number of minutes.
func NewTimeGrid(start time.Time, days int, samplesPerHour int) (TimeGrid, error) {
	if days < 1 {
		return TimeGrid{}, fmt.Errorf("days must be positive, got %d", days)
	}
	if samplesPerHour < 1 || 60%samplesPerHour != 0 {
		return TimeGrid{}, fmt.Errorf("samples per hour must divide 60, got %d", samplesPerHour)
	}
	return TimeGrid{
		Start: start.UTC(),
		Step:  time.Duration(60/samplesPerHour) * time.Minute,
		Count: days * 24 * samplesPerHour,
	}, nil
}

// At returns the i-th sample timestamp.
func (g TimeGrid) At(i int) time.Time {
	return g.Start.Add(time.Duration(i) * g.Step)
}

// End returns the last sample timestamp.
func (g TimeGrid) End() time.Time {
	return g.At(g.Count - 1)
}

// Timestamps materializes all sample timestamps in order.
func (g TimeGrid) Timestamps() []time.Time {
	ts := make([]time.Time, g.Count)
	for i := range ts {
		ts[i] = g.At(i)
	}
	return ts
}
