package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/calibration"
	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/stereo"
)

const (
	rateWindow     = 10 * time.Second
	statusInterval = 30 * time.Second
)

// live triangulates the chessboard until the operator quits, ctx is done,
// or a recalibration is requested. The returned trigger is non-empty in the
// last case.
func (a *Application) live(ctx context.Context) (string, error) {
	st := a.State()
	if !st.Usable() {
		return "", errors.New("no usable calibration for live triangulation")
	}

	g := a.opts.Geometry
	if stored, err := a.store.LoadGeometry(); err == nil {
		g = stored
	} else {
		logrus.WithError(err).Warn("failed to read the calibration pattern, using the configured one")
	}
	a.mu.Lock()
	a.geometry = g
	a.mu.Unlock()
	a.setMode(calibration.ModeLive, "Triangulating")
	logrus.WithFields(g.LogrusFields()).WithField("calibratedAt", st.Timestamp).Info("live triangulation started")

	h := &liveHandler{
		a:       a,
		res:     st.Result,
		rect:    stereo.NewRectifier(a.opts.Remapper),
		pattern: g.PatternSize(),
		sync:    stereo.NewSynchronizer(),
		rate:    NewRateRecorder(256),
	}
	err := a.grabber.Run(ctx, a.opts.Source, h, a.quitRequested)
	switch {
	case errors.Is(err, camera.ErrCancelled):
		return "", nil
	case errors.Is(err, camera.ErrSourceExhausted):
		logrus.Info("no more recorded frames, stopping")
		return "", nil
	case err != nil:
		return "", err
	case h.err != nil:
		return "", h.err
	}
	return h.trigger, nil
}

// liveHandler turns grabbed frames into triangulations. It runs on the grab
// loop only.
type liveHandler struct {
	a       *Application
	res     *calibration.Result
	rect    *stereo.Rectifier
	pattern image.Point
	sync    *stereo.Synchronizer
	rate    *RateRecorder

	lastFound  bool
	lastStatus time.Time
	trigger    string
	err        error
}

func (h *liveHandler) OnFrameGrabbed(f *camera.Frame) bool {
	if t, ok := h.a.takeRecalibration(); ok {
		h.trigger = t
		return true
	}
	pair, ok := h.sync.OnFrame(f)
	if !ok {
		return false
	}
	if err := h.process(pair); err != nil {
		logrus.WithError(err).WithField("sequenceId", pair.SequenceID).Error("live triangulation failed")
		h.err = err
		return true
	}
	return false
}

// process rectifies both sides, finds the board and triangulates it. A size
// mismatch between frames and maps is fatal; a board not seen on both sides
// is not.
func (h *liveHandler) process(pair *camera.Pair) error {
	left, err := h.rect.Rectify(pair.Left, camera.Left, h.res)
	if err != nil {
		return err
	}
	right, err := h.rect.Rectify(pair.Right, camera.Right, h.res)
	if err != nil {
		return err
	}

	det := h.a.opts.Detector
	lc, lok := det.FindCorners(left, h.pattern)
	rc, rok := det.FindCorners(right, h.pattern)
	if d := h.a.opts.Display; d != nil {
		d.Show("left rectified", left, h.pattern, lc, lok)
		d.Show("right rectified", right, h.pattern, rc, rok)
	}

	now := h.a.opts.Now()
	found := lok && rok
	if found {
		tri := stereo.Triangulate(lc, rc, h.res.Q)
		h.publish(pair.SequenceID, tri, now)
		h.rate.AddRecord(now)
	}
	h.printStatus(found, now)
	return nil
}

func (h *liveHandler) publish(seq uint64, tri stereo.Triangulation, now time.Time) {
	ev := events.TriangulationEvent{
		SequenceID: seq,
		Points:     make([]events.TriangulationPoint, 0, len(tri.Corners)),
		Skipped:    tri.Skipped,
		Ts:         now.Unix(),
	}
	for _, c := range tri.Corners {
		ev.Points = append(ev.Points, events.TriangulationPoint{
			Index: c.Index,
			X:     c.Point.X,
			Y:     c.Point.Y,
			Z:     c.Point.Z,
		})
	}
	h.a.hub.Publish(events.Triangulation, ev)

	if len(tri.Corners) > 0 {
		first := tri.Corners[0].Point
		logrus.WithFields(logrus.Fields{
			"sequenceId": seq,
			"corners":    len(tri.Corners),
			"skipped":    tri.Skipped,
			"x":          first.X,
			"y":          first.Y,
			"z":          first.Z,
		}).Debug("triangulated")
	}
}

// printStatus logs when the board appears or disappears, and otherwise
// at most every statusInterval.
func (h *liveHandler) printStatus(found bool, now time.Time) {
	if found == h.lastFound && now.Sub(h.lastStatus) < statusInterval {
		return
	}
	h.lastFound = found
	h.lastStatus = now

	rate := h.rate.Rate(rateWindow, now)
	h.a.setMode(calibration.ModeLive, fmt.Sprintf("Triangulating %.1f pairs/s", rate))
	logrus.WithFields(logrus.Fields{
		"boardVisible": found,
		"pairsPerSec":  fmt.Sprintf("%.1f", rate),
	}).Info("live status")
}
