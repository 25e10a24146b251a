package config

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/utils/ptr"
)

const (
	DefaultDataDir   = "/var/lib/sv"
	DefaultAPISocket = "/var/run/sv.sock"
)

var (
	defaultFileConfig = &RawFileConfig{
		DataDir:                ptr.To(DefaultDataDir),
		SolverPath:             ptr.To("stereo_calibrate"),
		Devices:                []int{0, 1},
		EmulationImages:        ptr.To(""),
		FrameWidth:             ptr.To(640),
		FrameHeight:            ptr.To(480),
		FPS:                    ptr.To(15.0),
		GrabTimeoutMs:          ptr.To(5000),
		MaxConsecutiveTimeouts: ptr.To(0),
		MaxCalibrationAgeHours: ptr.To(0),
		RecalibrationCron:      ptr.To(""),
		APISocket:              ptr.To(DefaultAPISocket),
		// Relative to DataDir when not absolute.
		HistoryDB: ptr.To("history.db"),
		Display:   ptr.To(false),
	}
)

var _ Config = &File{}

type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	f := &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}

	return f
}

type RawFileConfig struct {
	DataDir                *string  `json:"dataDir,omitempty"`
	SolverPath             *string  `json:"solverPath,omitempty"`
	Devices                []int    `json:"devices,omitempty"`
	EmulationImages        *string  `json:"emulationImages,omitempty"`
	FrameWidth             *int     `json:"frameWidth,omitempty"`
	FrameHeight            *int     `json:"frameHeight,omitempty"`
	FPS                    *float64 `json:"fps,omitempty"`
	GrabTimeoutMs          *int     `json:"grabTimeoutMs,omitempty"`
	MaxConsecutiveTimeouts *int     `json:"maxConsecutiveTimeouts,omitempty"`
	MaxCalibrationAgeHours *int     `json:"maxCalibrationAgeHours,omitempty"`
	RecalibrationCron      *string  `json:"recalibrationCron,omitempty"`
	APISocket              *string  `json:"apiSocket,omitempty"`
	HistoryDB              *string  `json:"historyDB,omitempty"`
	Display                *bool    `json:"display,omitempty"`
}

// value returns *v, or *def when v is unset.
func value[T any](f *File, v func(c *RawFileConfig) *T) T {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if p := v(f.c); p != nil {
		return *p
	}
	return *v(defaultFileConfig)
}

func (f *File) DataDir() string {
	return value(f, func(c *RawFileConfig) *string { return c.DataDir })
}

func (f *File) SolverPath() string {
	return value(f, func(c *RawFileConfig) *string { return c.SolverPath })
}

func (f *File) Devices() []int {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	devices := f.c.Devices
	if len(devices) == 0 {
		devices = defaultFileConfig.Devices
	}
	return append([]int(nil), devices...)
}

func (f *File) EmulationImages() string {
	return value(f, func(c *RawFileConfig) *string { return c.EmulationImages })
}

func (f *File) FrameWidth() int {
	return value(f, func(c *RawFileConfig) *int { return c.FrameWidth })
}

func (f *File) FrameHeight() int {
	return value(f, func(c *RawFileConfig) *int { return c.FrameHeight })
}

func (f *File) FPS() float64 {
	return value(f, func(c *RawFileConfig) *float64 { return c.FPS })
}

func (f *File) GrabTimeout() time.Duration {
	ms := value(f, func(c *RawFileConfig) *int { return c.GrabTimeoutMs })
	return time.Duration(ms) * time.Millisecond
}

func (f *File) MaxConsecutiveTimeouts() int {
	return value(f, func(c *RawFileConfig) *int { return c.MaxConsecutiveTimeouts })
}

func (f *File) MaxCalibrationAge() time.Duration {
	h := value(f, func(c *RawFileConfig) *int { return c.MaxCalibrationAgeHours })
	return time.Duration(h) * time.Hour
}

func (f *File) RecalibrationCron() string {
	return value(f, func(c *RawFileConfig) *string { return c.RecalibrationCron })
}

func (f *File) APISocket() string {
	return value(f, func(c *RawFileConfig) *string { return c.APISocket })
}

// HistoryDB returns the sqlite path, resolved against DataDir when relative.
func (f *File) HistoryDB() string {
	p := value(f, func(c *RawFileConfig) *string { return c.HistoryDB })
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return strings.TrimRight(f.DataDir(), "/") + "/" + p
}

func (f *File) Display() bool {
	return value(f, func(c *RawFileConfig) *bool { return c.Display })
}

func (f *File) SetDataDir(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.DataDir = &s
}

func (f *File) SetSolverPath(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.SolverPath = &s
}

func (f *File) SetDevices(d []int) {
	if f.c == nil {
		panic("config is nil")
	}
	if len(d) != 0 && len(d) != 2 {
		panic("a stereo rig needs exactly two devices")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Devices = append([]int(nil), d...)
}

func (f *File) SetEmulationImages(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.EmulationImages = &s
}

func (f *File) SetRecalibrationCron(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.RecalibrationCron = &s
}

func (f *File) SetAPISocket(s string) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.APISocket = &s
}

func (f *File) SetDisplay(b bool) {
	if f.c == nil {
		panic("config is nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.c.Display = &b
}

func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	// Since we want to tell if the file is empty, using json.Decoder will
	// not work.
	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	err = json.Unmarshal(b, &conf)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	if len(conf.Devices) != 0 && len(conf.Devices) != 2 {
		return pkgerrors.Errorf("config file %s lists %d devices, a stereo rig needs 2", f.filepath, len(conf.Devices))
	}
	f.c = &conf

	return nil
}

func (f *File) Save() error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}

	fp, err := os.OpenFile(f.filepath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	enc := json.NewEncoder(fp)
	enc.SetIndent("", "  ")
	err = enc.Encode(f.c)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	return nil
}

func (f *File) LogrusFields() logrus.Fields {
	if f.c == nil {
		panic("config is nil")
	}

	return logrus.Fields{
		"dataDir":                f.DataDir(),
		"solverPath":             f.SolverPath(),
		"devices":                f.Devices(),
		"emulationImages":        f.EmulationImages(),
		"frameWidth":             f.FrameWidth(),
		"frameHeight":            f.FrameHeight(),
		"fps":                    f.FPS(),
		"grabTimeout":            f.GrabTimeout(),
		"maxConsecutiveTimeouts": f.MaxConsecutiveTimeouts(),
		"maxCalibrationAge":      f.MaxCalibrationAge(),
		"recalibrationCron":      f.RecalibrationCron(),
		"apiSocket":              f.APISocket(),
		"historyDB":              f.HistoryDB(),
		"display":                f.Display(),
	}
}
