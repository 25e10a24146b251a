package app

import (
	"testing"
	"time"
)

func TestRateRecorder_RecordsIn(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	tests := []struct {
		name    string
		max     int
		records []time.Duration
		window  time.Duration
		want    int
	}{
		{
			name:    "all records in window",
			max:     10,
			records: []time.Duration{-3 * time.Second, -2 * time.Second, -time.Second},
			window:  5 * time.Second,
			want:    3,
		},
		{
			name:    "old records ignored",
			max:     10,
			records: []time.Duration{-30 * time.Second, -20 * time.Second, -2 * time.Second, -time.Second},
			window:  10 * time.Second,
			want:    2,
		},
		{
			name:    "ring drops oldest",
			max:     2,
			records: []time.Duration{-3 * time.Second, -2 * time.Second, -time.Second},
			window:  10 * time.Second,
			want:    2,
		},
		{
			name:   "no records",
			max:    2,
			window: 10 * time.Second,
			want:   0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRateRecorder(tt.max)
			for _, d := range tt.records {
				r.AddRecord(now.Add(d))
			}
			if got := r.RecordsIn(tt.window, now); got != tt.want {
				t.Errorf("RecordsIn() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRateRecorder_Rate(t *testing.T) {
	now := time.Now()
	r := NewRateRecorder(100)
	for i := 0; i < 20; i++ {
		r.AddRecord(now.Add(-time.Duration(i) * 100 * time.Millisecond))
	}
	if got := r.Rate(10*time.Second, now); got != 2 {
		t.Errorf("Rate() = %v, want 2", got)
	}
	if got := r.Rate(0, now); got != 0 {
		t.Errorf("Rate() with empty window = %v, want 0", got)
	}

	r.ClearRecords()
	if got := r.RecordsIn(time.Hour, now); got != 0 {
		t.Errorf("RecordsIn() after clear = %v, want 0", got)
	}
}
