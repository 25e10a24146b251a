// Package calibration implements stereo calibration of the camera rig. It
// contains:
//
//   - Session: the capture state machine that collects accepted image pairs
//   - Manifest: the image list handed to the solver
//   - Solver: the external stereo calibration program invoker
//   - Store: the persisted timestamp, pattern and matrix files
//   - Phase, State and Status: the types shared with the API, client and CLI
//
// These types are shared across app, api and cmd code to avoid duplicate
// definitions and keep JSON contracts consistent.
package calibration
