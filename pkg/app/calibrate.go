package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/history"
	"github.com/charlie0129/stereovision/pkg/vision"
)

// calibrate runs a session on the open source until enough pairs are
// captured, then the solver. The timestamp is only written when the solver
// succeeded and its matrices loaded.
func (a *Application) calibrate(ctx context.Context, trigger string) (*calibration.Result, error) {
	g, p := a.opts.Geometry, a.opts.Params

	a.mu.Lock()
	a.geometry = g
	a.mu.Unlock()
	a.setMode(calibration.ModeCalibrating, fmt.Sprintf("Calibrating (%s)", trigger))

	if err := a.store.SaveGeometry(g); err != nil {
		return nil, err
	}
	m, err := calibration.CreateManifest(a.store.ManifestPath())
	if err != nil {
		return nil, err
	}

	sess, err := calibration.NewSession(calibration.SessionOptions{
		Geometry: g,
		Params:   p,
		ImageDir: a.store.ImagesDir(),
		Manifest: m,
		Detector: a.opts.Detector,
		Hub:      a.hub,
		Preview:  a.preview,
		Now:      a.opts.Now,
	})
	if err != nil {
		_ = m.Close()
		return nil, err
	}
	a.mu.Lock()
	a.session = sess
	a.mu.Unlock()
	a.recordBegin(sess, trigger)

	res, err := a.runSession(ctx, sess)
	sess.Finish(err)
	a.recordFinish(sess, err)
	return res, err
}

func (a *Application) runSession(ctx context.Context, sess *calibration.Session) (*calibration.Result, error) {
	if err := a.grabber.Run(ctx, a.opts.Source, sess, a.quitRequested); err != nil {
		return nil, err
	}
	if err := sess.Err(); err != nil {
		return nil, err
	}
	if !sess.Complete() {
		return nil, fmt.Errorf("grabbing ended with %d of %d pairs captured", sess.PairsCaptured(), sess.Target())
	}

	// The solver must never run while the cameras are still grabbing.
	if src := a.opts.Source; src.IsGrabbing() {
		if err := src.StopGrabbing(); err != nil {
			return nil, fmt.Errorf("failed to stop grabbing before solving: %w", err)
		}
	}

	if err := sess.BeginSolving(); err != nil {
		return nil, err
	}
	res, err := a.opts.Solver.Invoke(ctx, a.store.ManifestPath(), a.opts.Geometry)
	if err != nil {
		return nil, err
	}

	now := a.opts.Now()
	if err := a.store.SaveTimestamp(now); err != nil {
		return nil, err
	}
	res.Timestamp = now.Format(calibration.TimestampLayout)
	return res, nil
}

// preview shows the images evaluated during calibration.
func (a *Application) preview(side camera.Side, img *vision.Image, corners []vision.Point2D, found bool) {
	if a.opts.Display == nil {
		return
	}
	a.opts.Display.Show(side.String(), img, a.opts.Geometry.PatternSize(), corners, found)
}

func (a *Application) recordBegin(sess *calibration.Session, trigger string) {
	if a.opts.History == nil {
		return
	}
	st := sess.Status()
	err := a.opts.History.Begin(history.Run{
		ID:        st.ID,
		Trigger:   trigger,
		StartedAt: st.StartedAt,
		Outcome:   history.OutcomeRunning,
		Geometry:  a.opts.Geometry,
		Target:    st.Target,
	})
	if err != nil {
		logrus.WithError(err).Warn("failed to record calibration run")
	}
}

func (a *Application) recordFinish(sess *calibration.Session, runErr error) {
	if a.opts.History == nil {
		return
	}
	st := sess.Status()
	err := a.opts.History.Finish(st.ID, errOutcome(runErr), a.opts.Now(), st.PairsCaptured, st.Rejected, runErr)
	if err != nil {
		logrus.WithError(err).Warn("failed to record calibration outcome")
	}
}
