package app

import (
	"sync"
	"time"
)

// RateRecorder keeps the times of the last N processed pairs.
type RateRecorder struct {
	MaxRecordCount int

	mu      sync.Mutex
	records []time.Time
}

func NewRateRecorder(maxRecordCount int) *RateRecorder {
	return &RateRecorder{MaxRecordCount: maxRecordCount}
}

// AddRecord adds a new record.
func (r *RateRecorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if len(r.records) >= r.MaxRecordCount {
		r.records = r.records[1:]
	}
	r.records = append(r.records, t)
}

// ClearRecords clears all records.
func (r *RateRecorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = nil
}

// RecordsIn returns the number of records in the window ending at now.
func (r *RateRecorder) RecordsIn(window time.Duration, now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := len(r.records) - 1; i >= 0; i-- {
		if now.Sub(r.records[i]) > window {
			break
		}
		count++
	}
	return count
}

// Rate returns records per second over the window ending at now.
func (r *RateRecorder) Rate(window time.Duration, now time.Time) float64 {
	if window <= 0 {
		return 0
	}
	return float64(r.RecordsIn(window, now)) / window.Seconds()
}
