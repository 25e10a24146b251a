package schedule

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestParserDescriptors(t *testing.T) {
	for _, expr := range []string{"@every 10m", "@daily", "0 3 * * 0", "30 0 3 * * *"} {
		sh, err := Parser.Parse(expr)
		if err != nil {
			t.Fatalf("failed to parse %q: %v", expr, err)
		}
		next1 := sh.Next(time.Now())
		next2 := sh.Next(next1)
		if !next2.After(next1) {
			t.Fatalf("%q: expected next2 after next1, got %v and %v", expr, next1, next2)
		}
	}
}

func TestScheduleStatus(t *testing.T) {
	s := New(Options{Trigger: func() error { return nil }})

	if err := s.Schedule("@every 1m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	st := s.Status()
	if st.Running {
		t.Fatalf("scheduler should not be running")
	}
	if st.NextRun.IsZero() || st.Expression != "@every 1m" {
		t.Fatalf("unexpected status %+v", st)
	}

	if err := s.Schedule("not a cron"); err == nil {
		t.Fatalf("expected error for invalid expression")
	}

	if err := s.Schedule(""); err != nil {
		t.Fatalf("empty expression should disable, got %v", err)
	}
	if st := s.Status(); !st.NextRun.IsZero() || st.Expression != "" {
		t.Fatalf("expected schedule to be cleared, got %+v", st)
	}
}

func TestSkip(t *testing.T) {
	s := New(Options{Trigger: func() error { return nil }})
	if err := s.Skip(); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}

	if err := s.Schedule("@every 10m"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	orig := s.Status().NextRun

	s.Start()
	defer s.Stop()

	if err := s.Skip(); err != nil {
		t.Fatalf("Skip returned error: %v", err)
	}
	if skipped := s.Status().NextRun; !skipped.After(orig) {
		t.Fatalf("expected skip to move schedule forward, got %v <= %v", skipped, orig)
	}
}

func TestRunCycle(t *testing.T) {
	upcomingCh := make(chan time.Time, 1)
	triggerCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var readyChecks int32

	s := New(Options{
		Trigger: func() error {
			triggerCh <- struct{}{}
			return nil
		},
		Ready: func() error {
			atomic.AddInt32(&readyChecks, 1)
			return nil
		},
		OnUpcoming: func(at time.Time) { upcomingCh <- at },
		OnError:    func(err error) { errCh <- err },
	})
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}

	forced := time.Now().Add(50 * time.Millisecond)
	s.mu.Lock()
	s.nextRun = forced
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case at := <-upcomingCh:
		if !at.Equal(forced) {
			t.Fatalf("upcoming notification for %v, want %v", at, forced)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive upcoming notification in time")
	}

	select {
	case <-triggerCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("recalibration was not triggered in time")
	}

	if atomic.LoadInt32(&readyChecks) == 0 {
		t.Fatalf("readiness should have been checked")
	}
	if next := s.Status().NextRun; !next.After(forced) {
		t.Fatalf("next run should advance past %v, got %v", forced, next)
	}

	select {
	case err := <-errCh:
		t.Fatalf("unexpected error callback: %v", err)
	default:
	}
}

func TestNotReadySkipsRun(t *testing.T) {
	triggerCh := make(chan struct{}, 1)
	errCh := make(chan error, 4)

	s := New(Options{
		Trigger: func() error {
			triggerCh <- struct{}{}
			return nil
		},
		Ready:         func() error { return errors.New("calibration in progress") },
		OnError:       func(err error) { errCh <- err },
		RetryInterval: 10 * time.Millisecond,
		MaxRetries:    2,
	})
	if err := s.Schedule("@every 1h"); err != nil {
		t.Fatalf("Schedule returned error: %v", err)
	}
	forced := time.Now().Add(20 * time.Millisecond)
	s.mu.Lock()
	s.nextRun = forced
	s.mu.Unlock()

	s.Start()
	defer s.Stop()

	select {
	case <-errCh:
	case <-time.After(time.Second):
		t.Fatalf("expected error callback when not ready")
	}

	deadline := time.Now().Add(time.Second)
	for !s.Status().NextRun.After(forced) {
		if time.Now().After(deadline) {
			t.Fatalf("run was not given up after retries")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-triggerCh:
		t.Fatalf("trigger should not run while not ready")
	default:
	}
}

func TestStopWaitsForLoop(t *testing.T) {
	s := New(Options{Trigger: func() error { return nil }})
	s.Start()
	s.Stop()
	if s.Status().Running {
		t.Fatalf("scheduler should not be running after Stop")
	}
	// Stopping twice is fine.
	s.Stop()
}
