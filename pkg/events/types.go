package events

import "encoding/json"

// Event name constants
const (
	CommAttempt    = "comm.attempt"
	StepTransition = "step.transition"
	SessionSummary = "session.summary"
)

// Event is a generic SSE event from daemon.
type Event struct {
	Name string          // SSE event name
	Data json.RawMessage // Raw JSON payload
}

// AttemptEvent is the typed payload for comm.attempt: one request/response
// exchange attempt with the meter.
type AttemptEvent struct {
	Attempt   int    `json:"attempt"`
	DI        string `json:"di"`
	TxHex     string `json:"txHex"`
	RxHex     string `json:"rxHex,omitempty"`
	ElapsedMs int64  `json:"elapsedMs"`
	Outcome   string `json:"outcome"` // success, timeout, decode-error, mismatch, cancelled
	Error     string `json:"error,omitempty"`
	Ts        int64  `json:"ts"`
}

// StepEvent is the typed payload for step.transition.
type StepEvent struct {
	StepID  int    `json:"stepId"`
	Name    string `json:"name"`
	From    string `json:"from"`
	To      string `json:"to"`
	Message string `json:"message,omitempty"`
	Ts      int64  `json:"ts"`
}

// SessionEvent is the typed payload for session.summary, emitted once when a
// calibration session reaches a terminal state.
type SessionEvent struct {
	State       string  `json:"state"`
	Total       int     `json:"total"`
	Succeeded   int     `json:"succeeded"`
	Failed      int     `json:"failed"`
	Skipped     int     `json:"skipped"`
	SuccessRate float64 `json:"successRate"`
	DurationMs  int64   `json:"durationMs"`
	Ts          int64   `json:"ts"`
}

// DecodeAs decodes the event payload into the caller-specified generic type T.
// It ignores the event name and simply unmarshals Data into T. If Data is empty,
// it returns the zero value of T with a nil error.
//
// Example:
//
//	payload, err := events.DecodeAs[events.StepEvent](ev)
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
