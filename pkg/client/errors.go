package client

import "errors"

var (
	// ErrAppNotRunning is returned when nothing listens on the api socket
	ErrAppNotRunning = errors.New("sv is not running")

	// ErrPermissionDenied is returned when the user may not open the api socket
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound is returned when 404 is returned from the app
	ErrNotFound = errors.New("404 not found")

	// ErrConflict is returned when the app is busy with a calibration
	ErrConflict = errors.New("409 conflict")
)
