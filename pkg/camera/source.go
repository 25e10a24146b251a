// Package camera abstracts the pair of cameras feeding the stereo rig. A
// Source produces grab results; a Handler receives the device lifecycle
// callbacks and the frames; a Grabber runs the poll loop between them.
package camera

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoDevices is returned when no camera could be opened. It is fatal.
	ErrNoDevices = errors.New("no camera devices found")
	// ErrGrabTimeout is returned by Retrieve when no frame arrived in time.
	// The poll loop retries it.
	ErrGrabTimeout = errors.New("timed out waiting for a grab result")
	// ErrNotGrabbing is returned by Retrieve after StopGrabbing.
	ErrNotGrabbing = errors.New("camera is not grabbing")
	// ErrSourceExhausted is returned by a recorded source with no more frames.
	ErrSourceExhausted = errors.New("no more recorded frames")
)

// Device describes an opened camera.
type Device struct {
	Index  Side   `json:"index"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (d Device) String() string {
	return fmt.Sprintf("Camera %d: %s", int(d.Index), d.Model)
}

// ConfigurationHandler is told about device lifecycle changes.
type ConfigurationHandler interface {
	OnDeviceOpened(d Device)
	OnGrabStarted(d Device)
}

// ImageHandler consumes grab results.
type ImageHandler interface {
	// OnFrameGrabbed consumes f. Returning true stops the grab loop.
	OnFrameGrabbed(f *Frame) (done bool)
}

// Handler receives every camera event. Implementations never see the
// concrete source.
type Handler interface {
	ConfigurationHandler
	ImageHandler
}

// Source is a pair of cameras.
type Source interface {
	// Open attaches the devices and reports each to h.OnDeviceOpened.
	// StartGrabbing reports to h.OnGrabStarted.
	Open(h ConfigurationHandler) error
	StartGrabbing() error
	StopGrabbing() error
	IsGrabbing() bool
	// Retrieve blocks up to timeout for the next grab result from any
	// device.
	Retrieve(timeout time.Duration) (*Frame, error)
	Devices() []Device
	Close() error
}
