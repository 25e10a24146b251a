package config

import (
	"time"

	"github.com/sirupsen/logrus"
)

type Config interface {
	// DataDir holds the pattern, timestamp, manifest, images and matrices.
	DataDir() string
	SolverPath() string
	// Devices are the OpenCV capture indices of the left and right camera.
	Devices() []int
	// EmulationImages is an image list file. When set, recorded images are
	// used instead of cameras.
	EmulationImages() string
	FrameWidth() int
	FrameHeight() int
	FPS() float64
	GrabTimeout() time.Duration
	MaxConsecutiveTimeouts() int
	// MaxCalibrationAge marks older calibrations stale. Zero disables it.
	MaxCalibrationAge() time.Duration
	// RecalibrationCron schedules periodic recalibration. Empty disables it.
	RecalibrationCron() string
	APISocket() string
	HistoryDB() string
	Display() bool

	SetDataDir(string)
	SetSolverPath(string)
	SetDevices([]int)
	SetEmulationImages(string)
	SetRecalibrationCron(string)
	SetAPISocket(string)
	SetDisplay(bool)

	LogrusFields() logrus.Fields

	// Load reads the configuration from the source.
	Load() error
	// Save saves the configuration to the source.
	Save() error
}
