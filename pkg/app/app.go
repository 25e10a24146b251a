// Package app runs the stereo rig: it decides from the calibration store
// whether the cameras need calibrating, runs calibration sessions and the
// external solver, and otherwise triangulates the chessboard live.
package app

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/api"
	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/config"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/geometry"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/schedule"
	"github.com/charlie0129/stereovision/pkg/stereo"
	"github.com/charlie0129/stereovision/pkg/vision"
	"github.com/charlie0129/stereovision/pkg/vision/opencv"
)

// Display shows images to the operator and reports key presses.
type Display interface {
	Show(name string, img *vision.Image, pattern image.Point, corners []vision.Point2D, found bool)
	// PollKey returns the pressed key or -1.
	PollKey() int
	Close() error
}

// Solver turns a manifest into a calibration. *calibration.Solver runs the
// external program.
type Solver interface {
	Invoke(ctx context.Context, manifestPath string, g geometry.Geometry) (*calibration.Result, error)
}

// Options configures an Application. Config is required; everything else
// has a default built from it.
type Options struct {
	Config config.Config
	// Geometry and Params are used for calibration sessions.
	Geometry geometry.Geometry
	Params   geometry.CaptureParams
	// Recalibrate forces a calibration session at startup.
	Recalibrate bool

	Source   camera.Source
	Detector vision.CornerDetector
	Remapper stereo.Remapper
	Display  Display
	// Keys reports whether the operator asked to quit. Nil disables it.
	Keys    func() bool
	Solver  Solver
	History *history.DB
	Hub     *events.EventHub
	// SaveSchedule persists a schedule set through the API. Nil keeps it
	// for this run only.
	SaveSchedule func(expr string) error
	Now          func() time.Time
}

// Application owns the camera source for the whole process lifetime. The
// grab loop runs on the goroutine calling Run or Calibrate; the API and the
// scheduler only read snapshots and post requests.
type Application struct {
	opts    Options
	conf    config.Config
	store   *calibration.Store
	hub     *events.EventHub
	grabber *camera.Grabber
	sched   *schedule.Scheduler

	// recalCh holds at most one pending recalibration trigger.
	recalCh chan string

	mu       sync.RWMutex
	mode     calibration.Mode
	state    calibration.State
	geometry geometry.Geometry
	session  *calibration.Session
	message  string
}

var _ api.Backend = &Application{}

func New(opts Options) (*Application, error) {
	if opts.Config == nil {
		return nil, errors.New("application needs a config")
	}
	conf := opts.Config

	if opts.Geometry == (geometry.Geometry{}) {
		opts.Geometry, opts.Params = geometry.Defaults()
	}
	if opts.Hub == nil {
		opts.Hub = events.NewEventHub()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	store := calibration.NewStore(conf.DataDir())
	if opts.Solver == nil {
		opts.Solver = calibration.NewSolver(conf.SolverPath(), store)
	}
	if opts.Detector == nil {
		opts.Detector = opencv.NewChessboardDetector()
	}
	if opts.Remapper == nil {
		opts.Remapper = opencv.NewRemapper()
	}
	if opts.Source == nil {
		opts.Source = NewSource(conf, true)
	}

	a := &Application{
		opts:  opts,
		conf:  conf,
		store: store,
		hub:   opts.Hub,
		grabber: &camera.Grabber{
			RetrieveTimeout:        conf.GrabTimeout(),
			MaxConsecutiveTimeouts: conf.MaxConsecutiveTimeouts(),
		},
		recalCh:  make(chan string, 1),
		mode:     calibration.ModeStarting,
		geometry: opts.Geometry,
	}
	a.sched = schedule.New(schedule.Options{
		Trigger: func() error {
			return a.RequestRecalibration(history.TriggerScheduled)
		},
		Ready:      a.readyToRecalibrate,
		OnUpcoming: a.announceRecalibration,
		OnError: func(err error) {
			logrus.WithError(err).Warn("scheduled recalibration")
		},
	})
	return a, nil
}

// NewSource picks the frame source once for the process: recorded images
// when an emulation list is configured, the capture devices otherwise.
func NewSource(conf config.Config, loopRecorded bool) camera.Source {
	if list := conf.EmulationImages(); list != "" {
		var interval time.Duration
		if fps := conf.FPS(); fps > 0 {
			interval = time.Duration(float64(time.Second) / fps)
		}
		return camera.NewRecordedSource(list, camera.RecordedOptions{
			Loop:     loopRecorded,
			Interval: interval,
		})
	}
	return camera.NewHardwareSource(camera.HardwareOptions{
		DeviceIDs: conf.Devices(),
		Width:     conf.FrameWidth(),
		Height:    conf.FrameHeight(),
		FPS:       conf.FPS(),
	})
}

func (a *Application) Store() *calibration.Store { return a.store }

func (a *Application) Hub() *events.EventHub { return a.hub }

func (a *Application) Status() calibration.Status {
	a.mu.RLock()
	st := calibration.Status{
		Mode:         a.mode,
		State:        a.state.Kind,
		CalibratedAt: a.state.Timestamp,
		Reason:       a.state.Reason,
		Geometry:     a.geometry,
		Message:      a.message,
	}
	sess := a.session
	a.mu.RUnlock()

	if sess != nil {
		ss := sess.Status()
		st.Session = &ss
	}
	st.NextRecalibration = a.sched.Status().NextRun
	return st
}

// RequestRecalibration asks the live loop to stop and run a new session.
// It fails with api.ErrBusy while a session runs or another request is
// pending.
func (a *Application) RequestRecalibration(trigger string) error {
	if err := a.readyToRecalibrate(); err != nil {
		return err
	}
	select {
	case a.recalCh <- trigger:
	default:
		return api.ErrBusy
	}
	logrus.WithField("trigger", trigger).Info("recalibration requested")
	a.hub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionRecalibrate),
		Message: "Recalibration requested (" + trigger + ")",
		Ts:      a.opts.Now().Unix(),
	})
	return nil
}

// takeRecalibration returns a pending trigger, if any.
func (a *Application) takeRecalibration() (string, bool) {
	select {
	case t := <-a.recalCh:
		return t, true
	default:
		return "", false
	}
}

func (a *Application) readyToRecalibrate() error {
	if a.Mode() == calibration.ModeCalibrating {
		return api.ErrBusy
	}
	return nil
}

func (a *Application) announceRecalibration(at time.Time) {
	a.hub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(calibration.ActionSchedule),
		Message: "Recalibration at " + at.Format(time.DateTime),
		Ts:      a.opts.Now().Unix(),
	})
}

func (a *Application) Schedule() schedule.Status {
	return a.sched.Status()
}

// SetSchedule changes the recalibration schedule.
func (a *Application) SetSchedule(expr string) error {
	if err := a.sched.Schedule(expr); err != nil {
		return err
	}
	if a.opts.SaveSchedule != nil {
		if err := a.opts.SaveSchedule(expr); err != nil {
			logrus.WithError(err).Warn("failed to save recalibration schedule")
		}
	}
	return nil
}

func (a *Application) SkipSchedule() error {
	return a.sched.Skip()
}

func (a *Application) History(limit int) ([]history.Run, error) {
	if a.opts.History == nil {
		return nil, nil
	}
	return a.opts.History.List(limit)
}

func (a *Application) Mode() calibration.Mode {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.mode
}

func (a *Application) State() calibration.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Application) setMode(m calibration.Mode, msg string) {
	a.mu.Lock()
	prev := a.mode
	a.mode = m
	a.message = msg
	a.mu.Unlock()
	if prev != m {
		logrus.WithFields(logrus.Fields{
			"from": prev,
			"to":   m,
		}).Debug("mode changed")
	}
}

func (a *Application) setState(st calibration.State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = st
}

// OnDeviceOpened implements camera.ConfigurationHandler for the source,
// which stays open across sessions.
func (a *Application) OnDeviceOpened(d camera.Device) {
	logrus.WithFields(logrus.Fields{
		"camera": d.Index,
		"name":   d.Name,
		"model":  d.Model,
		"width":  d.Width,
		"height": d.Height,
	}).Infof("using device %s", d)
}

func (a *Application) OnGrabStarted(d camera.Device) {
	logrus.WithField("camera", d.Index).Debug("grabbing started")
}
