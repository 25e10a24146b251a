package client

import (
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/stereovision/pkg/api"
	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
)

type stubBackend struct {
	busy  bool
	sched schedule.Status
}

func (b *stubBackend) Status() calibration.Status {
	return calibration.Status{Mode: calibration.ModeLive, State: calibration.StateCalibrated}
}

func (b *stubBackend) RequestRecalibration(string) error {
	if b.busy {
		return api.ErrBusy
	}
	b.busy = true
	return nil
}

func (b *stubBackend) Schedule() schedule.Status { return b.sched }

func (b *stubBackend) SetSchedule(expr string) error {
	b.sched.Expression = expr
	return nil
}

func (b *stubBackend) SkipSchedule() error {
	if b.sched.Expression == "" {
		return schedule.ErrNoSchedule
	}
	return nil
}

func (b *stubBackend) History(limit int) ([]history.Run, error) {
	runs := []history.Run{{ID: "a", Outcome: history.OutcomeDone}, {ID: "b", Outcome: history.OutcomeFailed}}
	if limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}

// serve starts the api on a short socket path; t.TempDir can exceed the
// unix socket path limit on some systems.
func serve(t *testing.T, hub *events.EventHub) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "sv")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	sock := filepath.Join(dir, "sv.sock")
	l, err := net.Listen("unix", sock)
	require.NoError(t, err)

	srv := &http.Server{Handler: api.New(&stubBackend{}, hub).Handler()}
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })
	return sock
}

func TestClientAPIs(t *testing.T) {
	hub := events.NewEventHub()
	c := NewClient(serve(t, hub))

	st, err := c.GetStatus()
	require.NoError(t, err)
	assert.Equal(t, calibration.ModeLive, st.Mode)

	_, err = c.GetTriangulation()
	assert.ErrorIs(t, err, ErrNotFound)

	hub.Publish(events.Triangulation, events.TriangulationEvent{
		SequenceID: 9,
		Points:     []events.TriangulationPoint{{Index: 0, X: 1, Y: 1, Z: 50}},
	})
	tri, err := c.GetTriangulation()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), tri.SequenceID)
	png, err := c.GetTriangulationPlot()
	require.NoError(t, err)
	assert.NotEmpty(t, png)

	_, err = c.Recalibrate()
	require.NoError(t, err)
	_, err = c.Recalibrate()
	assert.ErrorIs(t, err, ErrConflict)

	_, err = c.SkipSchedule()
	assert.ErrorIs(t, err, ErrConflict)

	sched, err := c.SetSchedule("@daily")
	require.NoError(t, err)
	assert.Equal(t, "@daily", sched.Expression)
	sched, err = c.GetSchedule()
	require.NoError(t, err)
	assert.Equal(t, "@daily", sched.Expression)
	sched, err = c.SkipSchedule()
	require.NoError(t, err)
	assert.Equal(t, "@daily", sched.Expression)

	runs, err := c.GetHistory(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].ID)

	v, err := c.GetVersion()
	require.NoError(t, err)
	assert.NotEmpty(t, v)
}

func TestClientNotRunning(t *testing.T) {
	dir, err := os.MkdirTemp("", "sv")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	c := NewClient(filepath.Join(dir, "missing.sock"))
	_, err = c.GetStatus()
	assert.ErrorIs(t, err, ErrAppNotRunning)
}
