package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/api"
	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/vision/opencv"
)

// Run opens the cameras and keeps the rig calibrated and triangulating until
// the operator quits, ctx is done or SIGINT/SIGTERM arrives. An uncalibrated
// or stale rig, or Options.Recalibrate, starts with a calibration session.
// The API is served on the configured socket while Run is active.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.open(); err != nil {
		return err
	}
	defer a.close()

	if sock := a.conf.APISocket(); sock != "" {
		srv := api.New(a, a.hub)
		go func() {
			if err := srv.Serve(ctx, sock); err != nil {
				logrus.WithError(err).Error("api server failed")
			}
		}()
	}

	if err := a.sched.Schedule(a.conf.RecalibrationCron()); err != nil {
		logrus.WithError(err).Warn("ignoring recalibration schedule from config")
	}
	a.sched.Start()
	defer a.sched.Stop()

	trigger := ""
	switch {
	case a.opts.Recalibrate:
		trigger = history.TriggerManual
	case !a.State().Usable():
		trigger = history.TriggerStartup
	}

	for {
		if trigger != "" {
			res, err := a.calibrate(ctx, trigger)
			switch {
			case errors.Is(err, camera.ErrCancelled) || ctx.Err() != nil:
				a.setMode(calibration.ModeStopped, "Calibration cancelled")
				return nil
			case err != nil && !a.State().Usable():
				a.setMode(calibration.ModeStopped, err.Error())
				return err
			case err != nil:
				logrus.WithError(err).Error("recalibration failed, keeping the previous calibration")
			default:
				a.adopt(res)
			}
		}

		next, err := a.live(ctx)
		if err != nil || next == "" {
			a.setMode(calibration.ModeStopped, "")
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		trigger = next
	}
}

// Calibrate runs one calibration session and the solver, then returns. The
// result is stored but nothing is triangulated.
func (a *Application) Calibrate(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.open(); err != nil {
		return err
	}
	defer a.close()

	res, err := a.calibrate(ctx, history.TriggerManual)
	if err != nil {
		a.setMode(calibration.ModeStopped, err.Error())
		return err
	}
	a.adopt(res)
	a.setMode(calibration.ModeStopped, "Calibration finished")
	return nil
}

func (a *Application) open() error {
	if err := a.store.Init(); err != nil {
		return err
	}
	if err := a.opts.Source.Open(a); err != nil {
		return fmt.Errorf("failed to open cameras: %w", err)
	}

	st := a.store.State(a.conf.MaxCalibrationAge())
	a.setState(st)
	log := logrus.WithField("state", st.Kind)
	if st.Timestamp != "" {
		log = log.WithField("calibratedAt", st.Timestamp)
	}
	if st.Reason != "" {
		log = log.WithField("reason", st.Reason)
	}
	log.Info("calibration state")
	return nil
}

func (a *Application) close() {
	if a.opts.Display != nil {
		if err := a.opts.Display.Close(); err != nil {
			logrus.WithError(err).Warn("failed to close display")
		}
	}
	if err := a.opts.Source.Close(); err != nil {
		logrus.WithError(err).Error("failed to close cameras")
	}
	if c, ok := a.opts.Remapper.(io.Closer); ok {
		_ = c.Close()
	}
}

// adopt switches to a freshly solved calibration.
func (a *Application) adopt(res *calibration.Result) {
	a.setState(calibration.State{
		Kind:      calibration.StateCalibrated,
		Timestamp: res.Timestamp,
		Result:    res,
	})
}

// quitRequested is polled by the grab loop once per frame.
func (a *Application) quitRequested() bool {
	if a.opts.Keys != nil && a.opts.Keys() {
		return true
	}
	if a.opts.Display != nil && opencv.IsQuitKey(a.opts.Display.PollKey()) {
		return true
	}
	return false
}

func errOutcome(err error) string {
	switch {
	case err == nil:
		return history.OutcomeDone
	case errors.Is(err, camera.ErrCancelled), errors.Is(err, context.Canceled):
		return history.OutcomeCancelled
	default:
		return history.OutcomeFailed
	}
}
