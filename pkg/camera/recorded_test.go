package camera

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/stereovision/pkg/vision"
)

type recordingConfigHandler struct {
	opened  []Device
	started []Device
}

func (h *recordingConfigHandler) OnDeviceOpened(d Device) { h.opened = append(h.opened, d) }
func (h *recordingConfigHandler) OnGrabStarted(d Device)  { h.started = append(h.started, d) }

func writeRecording(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	var lines []string
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("%02d_%s.png", i/2, Side(i%2))
		img := vision.NewImage(4, 3)
		img.Set(0, 0, byte(i))
		require.NoError(t, vision.PNGWriter{}.WriteImage(filepath.Join(dir, name), img))
		lines = append(lines, name)
	}
	list := filepath.Join(dir, "images.txt")
	require.NoError(t, os.WriteFile(list, []byte(strings.Join(lines, "\n")+"\n\n"), 0644))
	return list
}

func TestRecordedSourceAlternatesSides(t *testing.T) {
	list := writeRecording(t, 4)
	src := NewRecordedSource(list, RecordedOptions{})
	h := &recordingConfigHandler{}

	require.NoError(t, src.Open(h))
	require.Len(t, h.opened, 2)
	assert.Equal(t, 4, h.opened[0].Width)
	assert.Equal(t, 3, h.opened[1].Height)

	_, err := src.Retrieve(0)
	assert.ErrorIs(t, err, ErrNotGrabbing)

	require.NoError(t, src.StartGrabbing())
	assert.Len(t, h.started, 2)

	for i := 0; i < 4; i++ {
		f, err := src.Retrieve(0)
		require.NoError(t, err)
		assert.True(t, f.Succeeded)
		assert.Equal(t, Side(i%2), f.CameraIndex)
		assert.Equal(t, byte(i), f.Pixels[0])
	}

	_, err = src.Retrieve(0)
	assert.ErrorIs(t, err, ErrSourceExhausted)
}

func TestRecordedSourceLoops(t *testing.T) {
	list := writeRecording(t, 2)
	src := NewRecordedSource(list, RecordedOptions{Loop: true})
	require.NoError(t, src.Open(nil))
	require.NoError(t, src.StartGrabbing())

	for i := 0; i < 5; i++ {
		f, err := src.Retrieve(0)
		require.NoError(t, err)
		assert.Equal(t, Side(i%2), f.CameraIndex)
	}
}

func TestRecordedSourceDropsUnpairedLastImage(t *testing.T) {
	list := writeRecording(t, 5)
	src := NewRecordedSource(list, RecordedOptions{Loop: true})
	require.NoError(t, src.Open(nil))
	require.NoError(t, src.StartGrabbing())

	// Two passes over the four paired images; the fifth never shows up.
	for i := 0; i < 8; i++ {
		f, err := src.Retrieve(0)
		require.NoError(t, err)
		assert.Equal(t, Side(i%2), f.CameraIndex, "frame %d", i)
		assert.Equal(t, byte(i%4), f.Pixels[0], "frame %d", i)
	}
}

func TestRecordedSourceReportsUnreadableImageAsFailedGrab(t *testing.T) {
	dir := t.TempDir()
	list := filepath.Join(dir, "images.txt")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("not an image"), 0644))
	require.NoError(t, os.WriteFile(list, []byte("broken.png\nbroken.png\n"), 0644))

	src := NewRecordedSource(list, RecordedOptions{})
	require.NoError(t, src.Open(nil))
	require.NoError(t, src.StartGrabbing())

	f, err := src.Retrieve(0)
	require.NoError(t, err)
	assert.False(t, f.Succeeded)
	assert.NotEmpty(t, f.ErrorDescription)
}

func TestRecordedSourceNeedsTwoImages(t *testing.T) {
	list := writeRecording(t, 1)
	err := NewRecordedSource(list, RecordedOptions{}).Open(nil)
	assert.ErrorIs(t, err, ErrNoDevices)
}
