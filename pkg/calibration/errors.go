package calibration

import (
	"errors"
	"fmt"
)

// ErrCalibrationLoad means at least one matrix file is missing or malformed.
// The whole set is unusable and the rig must be recalibrated.
var ErrCalibrationLoad = errors.New("failed to load calibration matrices")

var (
	ErrSessionComplete   = &sessionError{"calibration session already complete"}
	ErrSessionNotDone    = &sessionError{"calibration session has not captured all pairs"}
	ErrSessionTerminated = &sessionError{"calibration session already finished"}
	ErrManifestOrder     = &sessionError{"right image written before left image"}
	ErrManifestClosed    = &sessionError{"manifest is closed"}
)

type sessionError struct{ msg string }

func (e *sessionError) Error() string { return e.msg }

// SpawnError means the solver could not be started at all.
type SpawnError struct {
	Path string
	Err  error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start calibration solver %s: %v", e.Path, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError means the solver ran and exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("calibration solver exited with status %d", e.Code)
}
