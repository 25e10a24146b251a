package events

import (
	"encoding/json"
	"time"
)

// Event names
const (
	CalibrationPhase  = "calibration.phase"
	CalibrationPair   = "calibration.pair"
	CalibrationAction = "calibration.action"
	Triangulation     = "triangulation"
)

// Event is a generic event as streamed over SSE.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
	Time time.Time
}

// CalibrationPhaseEvent is the typed payload for calibration.phase.
type CalibrationPhaseEvent struct {
	SessionID string `json:"sessionId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message,omitempty"`
	Ts        int64  `json:"ts"`
}

// CalibrationPairEvent is the typed payload for calibration.pair.
type CalibrationPairEvent struct {
	SessionID     string `json:"sessionId"`
	SequenceID    uint64 `json:"sequenceId"`
	Accepted      bool   `json:"accepted"`
	LeftFound     bool   `json:"leftFound"`
	RightFound    bool   `json:"rightFound"`
	PairsCaptured int    `json:"pairsCaptured"`
	Target        int    `json:"target"`
	Ts            int64  `json:"ts"`
}

// CalibrationActionEvent is the typed payload for calibration.action.
type CalibrationActionEvent struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// TriangulationPoint is one reprojected corner.
type TriangulationPoint struct {
	Index int     `json:"index"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// TriangulationEvent is the typed payload for triangulation.
type TriangulationEvent struct {
	SequenceID uint64               `json:"sequenceId"`
	Points     []TriangulationPoint `json:"points"`
	Skipped    int                  `json:"skipped"`
	Ts         int64                `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.CalibrationPhaseEvent](ev)
//	if err != nil { /* handle */ }
//	fmt.Println(payload.From, payload.To)
func DecodeAs[T any](e Event) (T, error) {
	var zero T
	if len(e.Data) == 0 {
		return zero, nil
	}
	var v T
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return zero, err
	}
	return v, nil
}
