package calibration

import (
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/camera"
	"github.com/charlie0129/stereovision/pkg/events"
	"github.com/charlie0129/stereovision/pkg/geometry"
	"github.com/charlie0129/stereovision/pkg/stereo"
	"github.com/charlie0129/stereovision/pkg/vision"
)

// Decision is what a session did with a pair.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	// DecisionCooldown means the pair arrived before the inter-photo delay
	// elapsed and was not evaluated.
	DecisionCooldown Decision = "cooldown"
)

// PreviewFunc is shown every evaluated image with the corners found on it.
type PreviewFunc func(side camera.Side, img *vision.Image, corners []vision.Point2D, found bool)

// SessionOptions configures a Session. Geometry, Params, ImageDir, Manifest
// and Detector are required.
type SessionOptions struct {
	Geometry geometry.Geometry
	Params   geometry.CaptureParams
	ImageDir string
	Manifest *Manifest
	Detector vision.CornerDetector
	// Writer defaults to vision.PNGWriter.
	Writer vision.ImageWriter
	Hub    *events.EventHub
	// Preview is optional.
	Preview PreviewFunc
	// Now defaults to time.Now.
	Now func() time.Time
}

// Session collects Params.Photos pairs on which both cameras see the full
// chessboard. It consumes frames from the grab loop directly (it is a
// camera.Handler) and tells the loop to stop once every pair is captured.
//
// Frame handling runs on the grab loop only. Status may be called from
// other goroutines.
type Session struct {
	opts SessionOptions
	id   string
	sync *stereo.Synchronizer

	mu            sync.RWMutex
	phase         Phase
	captured      int
	rejected      int
	cooldownUntil time.Time
	startedAt     time.Time
	err           error
}

func NewSession(opts SessionOptions) (*Session, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	// Operator ranges are enforced by the caller; the session only needs a
	// sane target.
	if opts.Params.Photos < 1 {
		return nil, fmt.Errorf("target pair count must be positive, got %d", opts.Params.Photos)
	}
	if opts.Params.Delay < 0 {
		return nil, fmt.Errorf("inter-photo delay must not be negative, got %s", opts.Params.Delay)
	}
	if opts.Manifest == nil {
		return nil, errors.New("calibration session needs a manifest")
	}
	if opts.Detector == nil {
		return nil, errors.New("calibration session needs a corner detector")
	}
	if opts.ImageDir == "" {
		return nil, errors.New("calibration session needs an image directory")
	}
	if opts.Writer == nil {
		opts.Writer = vision.PNGWriter{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Session{
		opts:      opts,
		id:        uuid.NewString(),
		sync:      stereo.NewSynchronizer(),
		phase:     PhaseAwaitingPair,
		startedAt: opts.Now(),
	}

	s.opts.Hub.Publish(events.CalibrationAction, events.CalibrationActionEvent{
		Action:  string(ActionStart),
		Message: fmt.Sprintf("Start calibration: %d photos, %s apart", opts.Params.Photos, opts.Params.Delay),
		Ts:      s.startedAt.Unix(),
	})
	s.logger().WithFields(opts.Geometry.LogrusFields()).Info("calibration session started")

	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) Target() int { return s.opts.Params.Photos }

func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Session) PairsCaptured() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captured
}

// Complete reports whether every pair has been captured.
func (s *Session) Complete() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captured >= s.opts.Params.Photos
}

// Err returns the error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// SyncStats exposes the pairing counters.
func (s *Session) SyncStats() stereo.SyncStats {
	return s.sync.Stats()
}

func (s *Session) Status() SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := SessionStatus{
		ID:            s.id,
		Phase:         s.phase,
		PairsCaptured: s.captured,
		Target:        s.opts.Params.Photos,
		Rejected:      s.rejected,
		StartedAt:     s.startedAt,
	}
	if s.phase == PhaseCooldown {
		if rem := s.cooldownUntil.Sub(s.opts.Now()); rem > 0 {
			st.CooldownRemaining = rem.Seconds()
		}
	}
	if s.err != nil {
		st.LastError = s.err.Error()
	}
	return st
}

func (s *Session) logger() *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"session":   s.id,
		"operation": "calibration",
	})
}

func (s *Session) OnDeviceOpened(d camera.Device) {
	s.logger().WithFields(logrus.Fields{
		"camera": d.Index,
		"model":  d.Model,
		"width":  d.Width,
		"height": d.Height,
	}).Info("camera opened for calibration")
}

func (s *Session) OnGrabStarted(d camera.Device) {
	s.logger().WithField("camera", d.Index).Debug("grabbing calibration frames")
}

// OnFrameGrabbed feeds the synchronizer and evaluates every completed pair.
// It returns true once the session is complete or has failed.
func (s *Session) OnFrameGrabbed(f *camera.Frame) bool {
	if s.Complete() || s.Phase().Terminal() {
		return true
	}
	pair, ok := s.sync.OnFrame(f)
	if !ok {
		return false
	}
	if _, err := s.OnPair(pair); err != nil {
		s.Finish(err)
		return true
	}
	return s.Complete()
}

// OnPair evaluates one stereo pair. The pair is accepted only if the full
// chessboard is found on both sides; both images are then saved and listed
// in the manifest and the inter-photo delay starts. A rejected pair is
// dropped and the next one is evaluated right away.
func (s *Session) OnPair(pair *camera.Pair) (Decision, error) {
	if s.Phase().Terminal() {
		return "", ErrSessionTerminated
	}
	if s.Complete() {
		return "", ErrSessionComplete
	}

	now := s.opts.Now()
	s.mu.RLock()
	cooling := now.Before(s.cooldownUntil)
	s.mu.RUnlock()
	if cooling {
		s.setPhase(PhaseCooldown, "")
		return DecisionCooldown, nil
	}

	pattern := s.opts.Geometry.PatternSize()

	s.setPhase(PhaseEvaluatingLeft, "")
	leftImg, leftFound := s.evaluate(pair.Left, camera.Left, pattern)

	s.setPhase(PhaseEvaluatingRight, "")
	rightImg, rightFound := s.evaluate(pair.Right, camera.Right, pattern)

	log := s.logger().WithFields(logrus.Fields{
		"sequenceId": pair.SequenceID,
		"leftFound":  leftFound,
		"rightFound": rightFound,
	})

	if !leftFound || !rightFound {
		s.mu.Lock()
		s.rejected++
		s.mu.Unlock()
		log.Debug("chessboard not found on both cameras, pair rejected")
		s.setPhase(PhasePairRejected, "")
		s.publishPair(pair.SequenceID, false, leftFound, rightFound)
		s.setPhase(PhaseAwaitingPair, "")
		return DecisionRejected, nil
	}

	slot := s.PairsCaptured()
	if err := s.save(slot, camera.Left, leftImg); err != nil {
		return "", err
	}
	if err := s.save(slot, camera.Right, rightImg); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.captured++
	s.cooldownUntil = now.Add(s.opts.Params.Delay)
	captured := s.captured
	s.mu.Unlock()

	log.WithFields(logrus.Fields{
		"captured": captured,
		"target":   s.opts.Params.Photos,
	}).Info("stereo photo taken")
	s.setPhase(PhasePairAccepted, fmt.Sprintf("Photo %d of %d taken", captured, s.opts.Params.Photos))
	s.publishPair(pair.SequenceID, true, true, true)

	if captured < s.opts.Params.Photos {
		s.setPhase(PhaseCooldown, "")
	}
	return DecisionAccepted, nil
}

// evaluate runs the corner detector on one side of a pair. A frame that
// cannot be viewed as an image counts as not found.
func (s *Session) evaluate(f *camera.Frame, side camera.Side, pattern image.Point) (*vision.Image, bool) {
	img, err := f.Image()
	if err != nil {
		s.logger().WithError(err).WithField("camera", side).Warn("unusable frame in pair")
		return nil, false
	}
	corners, found := s.opts.Detector.FindCorners(img, pattern)
	if s.opts.Preview != nil {
		s.opts.Preview(side, img, corners, found)
	}
	return img, found
}

// save writes the image of one side and lists it in the manifest.
func (s *Session) save(slot int, side camera.Side, img *vision.Image) error {
	path := filepath.Join(s.opts.ImageDir, ImageName(slot, side))
	if err := s.opts.Writer.WriteImage(path, img); err != nil {
		return err
	}
	written, err := s.opts.Manifest.Append(slot, side, path)
	if err != nil {
		return err
	}
	if !written {
		s.logger().WithFields(logrus.Fields{"slot": slot, "camera": side}).Warn("image already listed in manifest")
	}
	return nil
}

// ImageName is the file name of a calibration image, e.g. 07_left.png.
func ImageName(slot int, side camera.Side) string {
	return fmt.Sprintf("%02d_%s.png", slot, side)
}

// BeginSolving closes the manifest and moves the session to Solving. The
// caller must have stopped grabbing.
func (s *Session) BeginSolving() error {
	if !s.Complete() {
		return ErrSessionNotDone
	}
	if err := s.opts.Manifest.Close(); err != nil {
		s.Finish(err)
		return err
	}
	s.setPhase(PhaseSolving, "Running calibration solver")
	return nil
}

// Finish ends the session, in Failed if err is non-nil and Done otherwise.
// Finishing twice keeps the first outcome.
func (s *Session) Finish(err error) {
	if s.Phase().Terminal() {
		return
	}
	if closeErr := s.opts.Manifest.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		s.logger().WithError(err).Error("calibration failed")
		s.setPhase(PhaseFailed, err.Error())
		return
	}
	s.logger().Info("calibration finished")
	s.setPhase(PhaseDone, "Calibration finished")
}

func (s *Session) setPhase(p Phase, msg string) {
	s.mu.Lock()
	prev := s.phase
	s.phase = p
	s.mu.Unlock()
	if prev == p {
		return
	}

	s.logger().WithFields(logrus.Fields{
		"from": prev,
		"to":   p,
	}).Trace("calibration phase changed")
	s.opts.Hub.Publish(events.CalibrationPhase, events.CalibrationPhaseEvent{
		SessionID: s.id,
		From:      string(prev),
		To:        string(p),
		Message:   msg,
		Ts:        s.opts.Now().Unix(),
	})
}

func (s *Session) publishPair(seq uint64, accepted, leftFound, rightFound bool) {
	s.opts.Hub.Publish(events.CalibrationPair, events.CalibrationPairEvent{
		SessionID:     s.id,
		SequenceID:    seq,
		Accepted:      accepted,
		LeftFound:     leftFound,
		RightFound:    rightFound,
		PairsCaptured: s.PairsCaptured(),
		Target:        s.opts.Params.Photos,
		Ts:            s.opts.Now().Unix(),
	})
}
