package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDefaults(t *testing.T) {
	f, err := NewFile(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	assert.Equal(t, DefaultDataDir, f.DataDir())
	assert.Equal(t, []int{0, 1}, f.Devices())
	assert.Equal(t, "", f.EmulationImages())
	assert.Equal(t, 5*time.Second, f.GrabTimeout())
	assert.Equal(t, time.Duration(0), f.MaxCalibrationAge())
	assert.Equal(t, DefaultDataDir+"/history.db", f.HistoryDB())
	assert.False(t, f.Display())
}

func TestFileEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultAPISocket, f.APISocket())
}

func TestFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
  "dataDir": "/srv/rig",
  "devices": [2, 3],
  "grabTimeoutMs": 250,
  "maxCalibrationAgeHours": 72,
  "recalibrationCron": "0 3 * * 0",
  "historyDB": "/tmp/h.db",
  "display": true
}`), 0644))

	f, err := NewFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/rig", f.DataDir())
	assert.Equal(t, []int{2, 3}, f.Devices())
	assert.Equal(t, 250*time.Millisecond, f.GrabTimeout())
	assert.Equal(t, 72*time.Hour, f.MaxCalibrationAge())
	assert.Equal(t, "0 3 * * 0", f.RecalibrationCron())
	assert.Equal(t, "/tmp/h.db", f.HistoryDB())
	assert.True(t, f.Display())
	// Unset keys fall back to defaults.
	assert.Equal(t, 640, f.FrameWidth())
}

func TestFileLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "{"},
		{"three devices", `{"devices": [0, 1, 2]}`},
		{"wrong type", `{"fps": "fast"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := NewFile(path)
			assert.Error(t, err)
		})
	}
}

func TestFileSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	f := NewFileFromConfig(nil, path)
	f.SetDataDir("/data")
	f.SetDevices([]int{4, 5})
	f.SetEmulationImages("/data/emulated.txt")
	f.SetRecalibrationCron("@daily")
	f.SetDisplay(true)
	f.SetSolverPath("/usr/local/bin/calib")
	require.NoError(t, f.Save())

	g, err := NewFile(path)
	require.NoError(t, err)
	assert.Equal(t, f.LogrusFields(), g.LogrusFields())
	assert.Equal(t, "/data/history.db", g.HistoryDB())

	assert.Panics(t, func() { f.SetDevices([]int{1}) })
}
