package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
)

type fakeBackend struct {
	status     calibration.Status
	recalErr   error
	recalls    []string
	sched      schedule.Status
	runs       []history.Run
	lastLimit  int
	historyErr error
}

func (f *fakeBackend) Status() calibration.Status { return f.status }

func (f *fakeBackend) RequestRecalibration(trigger string) error {
	f.recalls = append(f.recalls, trigger)
	return f.recalErr
}

func (f *fakeBackend) Schedule() schedule.Status { return f.sched }

func (f *fakeBackend) SetSchedule(expr string) error {
	if expr == "bad" {
		return errors.New("invalid recalibration schedule")
	}
	f.sched.Expression = expr
	return nil
}

func (f *fakeBackend) SkipSchedule() error {
	if f.sched.Expression == "" {
		return schedule.ErrNoSchedule
	}
	f.sched.NextRun = f.sched.NextRun.Add(24 * time.Hour)
	return nil
}

func (f *fakeBackend) History(limit int) ([]history.Run, error) {
	f.lastLimit = limit
	return f.runs, f.historyErr
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetStatus(t *testing.T) {
	b := &fakeBackend{status: calibration.Status{
		Mode:         calibration.ModeLive,
		State:        calibration.StateCalibrated,
		CalibratedAt: "Sat Mar  9 14:05:07 2024",
	}}
	s := New(b, events.NewEventHub())

	rec := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got calibration.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, b.status.Mode, got.Mode)
	assert.Equal(t, b.status.CalibratedAt, got.CalibratedAt)
}

func TestTriangulation(t *testing.T) {
	hub := events.NewEventHub()
	s := New(&fakeBackend{}, hub)

	rec := do(t, s.Handler(), http.MethodGet, "/triangulation", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/triangulation/plot.png", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	hub.Publish(events.Triangulation, events.TriangulationEvent{
		SequenceID: 3,
		Points: []events.TriangulationPoint{
			{Index: 0, X: 1, Y: 2, Z: 100},
			{Index: 1, X: 3.3, Y: 2, Z: 101},
		},
		Skipped: 1,
	})

	rec = do(t, s.Handler(), http.MethodGet, "/triangulation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tri events.TriangulationEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tri))
	assert.Equal(t, uint64(3), tri.SequenceID)
	assert.Len(t, tri.Points, 2)

	rec = do(t, s.Handler(), http.MethodGet, "/triangulation/plot.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))
}

func TestRecalibrate(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, events.NewEventHub())

	rec := do(t, s.Handler(), http.MethodPost, "/recalibrate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{history.TriggerManual}, b.recalls)

	b.recalErr = ErrBusy
	rec = do(t, s.Handler(), http.MethodPost, "/recalibrate", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	b.recalErr = errors.New("boom")
	rec = do(t, s.Handler(), http.MethodPost, "/recalibrate", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestSchedule(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, events.NewEventHub())

	rec := do(t, s.Handler(), http.MethodPut, "/schedule", "@weekly\n")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "@weekly", b.sched.Expression)

	rec = do(t, s.Handler(), http.MethodPut, "/schedule", "bad")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/schedule", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st schedule.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "@weekly", st.Expression)
}

func TestScheduleSkip(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, events.NewEventHub())

	rec := do(t, s.Handler(), http.MethodPost, "/schedule/skip", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	next := time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC)
	b.sched = schedule.Status{Expression: "@daily", NextRun: next}
	rec = do(t, s.Handler(), http.MethodPost, "/schedule/skip", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st schedule.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.NextRun.Equal(next.Add(24*time.Hour)))
}

func TestHistory(t *testing.T) {
	b := &fakeBackend{}
	s := New(b, events.NewEventHub())

	rec := do(t, s.Handler(), http.MethodGet, "/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 20, b.lastLimit)
	assert.JSONEq(t, "[]", rec.Body.String())

	b.runs = []history.Run{{ID: "x", Outcome: history.OutcomeDone}}
	rec = do(t, s.Handler(), http.MethodGet, "/history?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, b.lastLimit)
	assert.Contains(t, rec.Body.String(), `"id": "x"`)

	rec = do(t, s.Handler(), http.MethodGet, "/history?limit=five", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVersion(t *testing.T) {
	s := New(&fakeBackend{}, events.NewEventHub())
	rec := do(t, s.Handler(), http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	hub := events.NewEventHub()
	s := New(&fakeBackend{}, hub)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events", nil)
	require.NoError(t, err)

	respCh := make(chan *http.Response, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err == nil {
			respCh <- resp
		}
	}()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{From: "Cooldown", To: "EvaluatingLeft"})

	var resp *http.Response
	select {
	case resp = <-respCh:
	case <-ctx.Done():
		t.Fatal("no response from event stream")
	}
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	sc := bufio.NewScanner(resp.Body)
	var lines []string
	for sc.Scan() {
		line := sc.Text()
		if line == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, line)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, "event:"+events.CalibrationPhase, lines[0])
	assert.Contains(t, lines[1], `"to":"EvaluatingLeft"`)
}
