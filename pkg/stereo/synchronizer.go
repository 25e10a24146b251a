// Package stereo turns frames from two cameras into stereo pairs, rectifies
// them with the calibration maps and triangulates matched chessboard
// corners.
package stereo

import (
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/stereovision/pkg/camera"
)

// Synchronizer pairs left and right frames arriving independently. Each side
// has a single slot: a newer frame replaces an unconsumed older one, so
// memory and latency stay bounded. A pair is emitted as soon as both slots
// are filled, and both slots are then cleared.
//
// Pairing only looks at the camera index. Whether a frame is any good (for
// example whether it shows the chessboard) is for the consumer to decide.
//
// A Synchronizer is owned by the grab loop and is not safe for concurrent
// use.
type Synchronizer struct {
	left  *camera.Frame
	right *camera.Frame
	seq   uint64
	stats SyncStats
}

// SyncStats counts what happened to incoming frames.
type SyncStats struct {
	Pairs         uint64 `json:"pairs"`
	ReplacedLeft  uint64 `json:"replacedLeft"`
	ReplacedRight uint64 `json:"replacedRight"`
	Failed        uint64 `json:"failed"`
	UnknownCamera uint64 `json:"unknownCamera"`
}

func NewSynchronizer() *Synchronizer {
	return &Synchronizer{}
}

// OnFrame consumes f and returns a pair when f completes one.
func (s *Synchronizer) OnFrame(f *camera.Frame) (*camera.Pair, bool) {
	if f == nil {
		return nil, false
	}
	if !f.Succeeded {
		s.stats.Failed++
		logrus.WithFields(logrus.Fields{
			"camera":      f.CameraIndex,
			"errorCode":   f.ErrorCode,
			"description": f.ErrorDescription,
		}).Error("grab failed, dropping frame")
		return nil, false
	}

	switch f.CameraIndex {
	case camera.Left:
		if s.right != nil {
			return s.emit(f, s.right), true
		}
		if s.left != nil {
			s.stats.ReplacedLeft++
		}
		s.left = f
	case camera.Right:
		if s.left != nil {
			return s.emit(s.left, f), true
		}
		if s.right != nil {
			s.stats.ReplacedRight++
		}
		s.right = f
	default:
		s.stats.UnknownCamera++
		logrus.WithField("camera", int(f.CameraIndex)).Warn("frame from unknown camera, dropping")
	}
	return nil, false
}

func (s *Synchronizer) emit(left, right *camera.Frame) *camera.Pair {
	s.left, s.right = nil, nil
	s.seq++
	s.stats.Pairs++
	return &camera.Pair{Left: left, Right: right, SequenceID: s.seq}
}

// Pending reports which slots currently hold a frame.
func (s *Synchronizer) Pending() (left, right bool) {
	return s.left != nil, s.right != nil
}

// Reset drops any pending frames. Sequence numbers keep increasing.
func (s *Synchronizer) Reset() {
	s.left, s.right = nil, nil
}

func (s *Synchronizer) Stats() SyncStats {
	return s.stats
}
