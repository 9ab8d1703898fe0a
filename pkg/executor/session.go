package executor

import (
	"time"

	"github.com/junwei-lu/metercal/pkg/params"
	"github.com/junwei-lu/metercal/pkg/steps"
)

// SessionState is the overall state of a calibration session.
type SessionState string

const (
	NotStarted SessionState = "not-started"
	InProgress SessionState = "in-progress"
	Completed  SessionState = "completed"
	Aborted    SessionState = "aborted"
)

// Session is the record of one calibration run: the standards it was
// performed against and the per-step results in execution order.
type Session struct {
	State     SessionState          `json:"state"`
	Standards params.StandardValues `json:"standards"`
	Results   []steps.Result        `json:"results"`
	StartedAt time.Time             `json:"startedAt"`
	EndedAt   time.Time             `json:"endedAt,omitempty"`
}

func (s *Session) count(st steps.State) int {
	n := 0
	for _, r := range s.Results {
		if r.State == st {
			n++
		}
	}
	return n
}

func (s *Session) Succeeded() int { return s.count(steps.Success) }
func (s *Session) Failed() int    { return s.count(steps.Failed) }
func (s *Session) Skipped() int   { return s.count(steps.Skipped) }

// SuccessRate is the share of successful steps in percent, over everything
// the session touched (skipped steps included). Empty sessions rate 0.
func (s *Session) SuccessRate() float64 {
	if len(s.Results) == 0 {
		return 0
	}
	return float64(s.Succeeded()) / float64(len(s.Results)) * 100
}

// clone returns a deep-enough copy for handing to API consumers.
func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Results = append([]steps.Result(nil), s.Results...)
	return &out
}
