package steps

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
	"github.com/junwei-lu/metercal/pkg/params"
)

// State is a step machine state. Success, Failed and Skipped are terminal.
type State string

const (
	Pending   State = "pending"
	Preparing State = "preparing"
	Executing State = "executing"
	Verifying State = "verifying"
	Success   State = "success"
	Failed    State = "failed"
	Skipped   State = "skipped"
)

func (s State) Terminal() bool { return s == Success || s == Failed || s == Skipped }

var (
	// ErrInvalidParameters is returned by Prepare when a standard value fails
	// validation; the step fails without touching the device.
	ErrInvalidParameters = errors.New("invalid step parameters")
	// ErrOutOfTolerance is returned by Verify when a decoded quantity's
	// deviation exceeds the step tolerance.
	ErrOutOfTolerance = errors.New("deviation out of tolerance")
	// ErrBadTransition is returned when a phase method is called out of order.
	ErrBadTransition = errors.New("invalid step transition")
	// ErrNotFinished is returned by Result before the machine is terminal.
	ErrNotFinished = errors.New("step not finished")
)

// CommandSender issues one calibration write and returns the validated
// response plus the number of communication attempts used.
type CommandSender interface {
	SendCommand(ctx context.Context, di dlt645.DI, payload []byte) (dlt645.Frame, int, error)
}

// TxRecorder is optionally implemented by a CommandSender that keeps the hex
// of the last frame it put on the wire. When present, the machine copies it
// into the step result so a timed-out step still shows what was sent.
type TxRecorder interface {
	LastTxHex() string
}

// QuantityResult is the per-quantity outcome of a verified step. Deviation is
// nil when no comparison was possible (zero standard).
type QuantityResult struct {
	Kind      string   `json:"kind"`
	Standard  float64  `json:"standard"`
	Measured  float64  `json:"measured"`
	Deviation *float64 `json:"deviation,omitempty"`
}

// Result is the terminal record of one step.
type Result struct {
	StepID     int              `json:"stepId"`
	Name       string           `json:"name"`
	State      State            `json:"state"`
	Quantities []QuantityResult `json:"quantities,omitempty"`
	Attempts   int              `json:"attempts"`
	Error      string           `json:"error,omitempty"`
	TxHex      string           `json:"txHex,omitempty"`
	RxHex      string           `json:"rxHex,omitempty"`
	StartedAt  time.Time        `json:"startedAt"`
	EndedAt    time.Time        `json:"endedAt"`
}

// Machine walks one step through pending → preparing → executing → verifying
// → success/failed. Skipping is only possible from pending. The executor owns
// the machine; it is not safe for concurrent use.
type Machine struct {
	spec      Spec
	tolerance float64 // max abs deviation, percent
	hub       *events.EventHub

	state      State
	quantities []Quantity
	payload    []byte
	resp       dlt645.Frame
	result     Result
}

// NewMachine returns a pending machine for the given step. tolerance is the
// maximum accepted absolute deviation in percent.
func NewMachine(spec Spec, tolerance float64, hub *events.EventHub) *Machine {
	return &Machine{
		spec:      spec,
		tolerance: tolerance,
		hub:       hub,
		state:     Pending,
		result:    Result{StepID: spec.ID, Name: spec.Name, State: Pending},
	}
}

func (m *Machine) Spec() Spec   { return m.spec }
func (m *Machine) State() State { return m.state }

func (m *Machine) transition(to State, msg string) {
	from := m.state
	m.state = to
	m.result.State = to
	logrus.WithFields(logrus.Fields{
		"step": m.spec.ID,
		"name": m.spec.Name,
		"from": from,
		"to":   to,
	}).Debug("step transition")
	m.hub.PublishStep(events.StepEvent{
		StepID:  m.spec.ID,
		Name:    m.spec.Name,
		From:    string(from),
		To:      string(to),
		Message: msg,
		Ts:      time.Now().Unix(),
	})
}

func (m *Machine) fail(err error) error {
	m.result.Error = err.Error()
	m.result.EndedAt = time.Now()
	m.transition(Failed, err.Error())
	return err
}

// Prepare validates the standard values and encodes the step payload. It
// never touches the device: a bad parameter fails the step locally.
func (m *Machine) Prepare(v params.StandardValues) error {
	if m.state != Pending {
		return fmt.Errorf("%w: prepare from %s", ErrBadTransition, m.state)
	}
	m.result.StartedAt = time.Now()
	m.transition(Preparing, "")

	m.quantities = m.spec.Quantities(v)
	var payload []byte
	for _, q := range m.quantities {
		b, err := params.Encode(q.Kind, q.Standard)
		if err != nil {
			return m.fail(fmt.Errorf("%w: %v", ErrInvalidParameters, err))
		}
		payload = append(payload, b...)
	}
	m.payload = payload
	return nil
}

// Execute builds the write frame (auth trailer included) and performs the
// exchange. Communication failure is terminal for the step.
func (m *Machine) Execute(ctx context.Context, sender CommandSender) error {
	if m.state != Preparing {
		return fmt.Errorf("%w: execute from %s", ErrBadTransition, m.state)
	}
	m.transition(Executing, "")

	resp, attempts, err := sender.SendCommand(ctx, m.spec.DI, dlt645.AppendAuth(m.payload))
	m.result.Attempts = attempts
	if rec, ok := sender.(TxRecorder); ok {
		m.result.TxHex = rec.LastTxHex()
	}
	if err != nil {
		return m.fail(fmt.Errorf("step %d exchange: %w", m.spec.ID, err))
	}
	m.resp = resp
	m.result.RxHex = resp.RawHex()
	m.transition(Verifying, "")
	return nil
}

// Verify decodes the quantities echoed by the meter and compares each against
// its standard. Quantities with a zero standard are accepted on a successful
// exchange alone; a deviation cannot be formed against zero.
func (m *Machine) Verify() error {
	if m.state != Verifying {
		return fmt.Errorf("%w: verify from %s", ErrBadTransition, m.state)
	}

	echoed := m.resp.Payload
	if body, ok := dlt645.StripAuth(echoed); ok && len(body) == len(m.payload) {
		echoed = body
	}
	want := 0
	for _, q := range m.quantities {
		want += params.Width(q.Kind)
	}
	if len(echoed) < want {
		return m.fail(fmt.Errorf("%w: response carries %d parameter bytes, want %d", params.ErrMalformedPayload, len(echoed), want))
	}

	var worst float64
	off := 0
	for _, q := range m.quantities {
		w := params.Width(q.Kind)
		measured, err := params.Decode(q.Kind, echoed[off:off+w])
		off += w
		if err != nil {
			return m.fail(err)
		}

		qr := QuantityResult{Kind: q.Kind.String(), Standard: q.Standard, Measured: measured}
		if q.Standard != 0 {
			d, err := params.Deviation(measured, q.Standard)
			if err != nil {
				return m.fail(err)
			}
			qr.Deviation = &d
			if a := math.Abs(d); a > worst {
				worst = a
			}
		}
		m.result.Quantities = append(m.result.Quantities, qr)
	}

	if worst > m.tolerance {
		return m.fail(fmt.Errorf("%w: worst deviation %.3f%% exceeds %.3f%%", ErrOutOfTolerance, worst, m.tolerance))
	}

	m.result.EndedAt = time.Now()
	m.transition(Success, "")
	return nil
}

// Skip marks a pending step skipped. Any other state rejects.
func (m *Machine) Skip(reason string) error {
	if m.state != Pending {
		return fmt.Errorf("%w: skip from %s", ErrBadTransition, m.state)
	}
	now := time.Now()
	m.result.StartedAt = now
	m.result.EndedAt = now
	m.result.Error = reason
	m.transition(Skipped, reason)
	return nil
}

// Result returns the terminal record. Before the machine reaches a terminal
// state it returns ErrNotFinished.
func (m *Machine) Result() (Result, error) {
	if !m.state.Terminal() {
		return Result{}, ErrNotFinished
	}
	return m.result, nil
}
