package calibration

import (
	"time"

	"github.com/charlie0129/stereovision/pkg/geometry"
)

// Phase defines phases of a calibration session.
type Phase string

const (
	PhaseIdle            Phase = "Idle"
	PhaseAwaitingPair    Phase = "AwaitingPair"
	PhaseEvaluatingLeft  Phase = "EvaluatingLeft"
	PhaseEvaluatingRight Phase = "EvaluatingRight"
	PhasePairAccepted    Phase = "PairAccepted"
	PhasePairRejected    Phase = "PairRejected"
	PhaseCooldown        Phase = "Cooldown"
	PhaseSolving         Phase = "Solving"
	PhaseDone            Phase = "Done"
	PhaseFailed          Phase = "Failed"
)

// Terminal reports whether the session has ended.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Action defines operator and scheduler actions on calibration.
type Action string

const (
	ActionStart       Action = "Start"
	ActionCancel      Action = "Cancel"
	ActionRecalibrate Action = "Recalibrate"
	ActionSchedule    Action = "Schedule"
)

// StateKind is the calibration state the application branches on.
type StateKind string

const (
	StateNeverCalibrated StateKind = "NeverCalibrated"
	StateStale           StateKind = "Stale"
	StateCalibrated      StateKind = "Calibrated"
)

// State is the calibration state derived from the store. Timestamp is set
// for Stale and Calibrated, Result only for Calibrated.
type State struct {
	Kind      StateKind `json:"kind"`
	Timestamp string    `json:"timestamp,omitempty"`
	// Reason explains a Stale state.
	Reason string  `json:"reason,omitempty"`
	Result *Result `json:"-"`
}

// Usable reports whether live triangulation can run on this state.
func (s State) Usable() bool {
	return s.Kind == StateCalibrated && s.Result != nil
}

// Mode is what the application is currently doing.
type Mode string

const (
	ModeStarting    Mode = "Starting"
	ModeCalibrating Mode = "Calibrating"
	ModeLive        Mode = "Live"
	ModeStopped     Mode = "Stopped"
)

// SessionStatus is a snapshot of a running or finished session.
type SessionStatus struct {
	ID                string    `json:"id"`
	Phase             Phase     `json:"phase"`
	PairsCaptured     int       `json:"pairsCaptured"`
	Target            int       `json:"target"`
	Rejected          int       `json:"rejected"`
	CooldownRemaining float64   `json:"cooldownRemainingSeconds"`
	StartedAt         time.Time `json:"startedAt"`
	LastError         string    `json:"lastError,omitempty"`
}

// Status is a synthesized view model exposed via the HTTP API and printed by
// the CLI. It derives from the store state plus the live session, if any.
type Status struct {
	Mode              Mode              `json:"mode"`
	State             StateKind         `json:"state"`
	CalibratedAt      string            `json:"calibratedAt,omitempty"`
	Reason            string            `json:"reason,omitempty"`
	Geometry          geometry.Geometry `json:"geometry"`
	Session           *SessionStatus    `json:"session,omitempty"`
	NextRecalibration time.Time         `json:"nextRecalibration,omitempty"`
	Message           string            `json:"message"`
}
