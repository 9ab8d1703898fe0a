package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/junwei-lu/metercal/pkg/dlt645"
	"github.com/junwei-lu/metercal/pkg/events"
	"github.com/junwei-lu/metercal/pkg/params"
	"github.com/junwei-lu/metercal/pkg/steps"
)

var testAddr = dlt645.Address{0x11, 0x11, 0x11, 0x11, 0x11, 0x11}

// scriptedSender echoes every command, except that commands for failDI fail
// failCount times before succeeding.
type scriptedSender struct {
	calls     []dlt645.DI
	failDI    dlt645.DI
	failCount int
}

func (s *scriptedSender) SendCommand(_ context.Context, di dlt645.DI, payload []byte) (dlt645.Frame, int, error) {
	s.calls = append(s.calls, di)
	if di == s.failDI && s.failCount > 0 {
		s.failCount--
		return dlt645.Frame{}, 3, errors.New("meter did not answer")
	}
	return dlt645.Build(di, payload, testAddr, dlt645.CtrlWrite|dlt645.RespBit), 1, nil
}

func goodValues() params.StandardValues {
	return params.StandardValues{
		Voltage:               220,
		Current:               1,
		PowerFactor:           1,
		Frequency:             50,
		Phase:                 0,
		SmallCurrentThreshold: 0.1,
	}
}

func fastConfig(p Policy) Config {
	cfg := DefaultConfig()
	cfg.StepDelay = 0
	cfg.Policy = p
	return cfg
}

func stepStates(s *Session) []steps.State {
	out := make([]steps.State, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.State)
	}
	return out
}

func TestOneClickRunsAllStepsInOrder(t *testing.T) {
	sender := &scriptedSender{}
	e := New(sender, fastConfig(Policy{Kind: Abort}), nil)

	session, err := e.ExecuteOneClick(context.Background(), goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Completed {
		t.Fatalf("session state %s, want completed", session.State)
	}
	if len(session.Results) != 5 {
		t.Fatalf("got %d results", len(session.Results))
	}
	for i, r := range session.Results {
		if r.StepID != i+1 || r.State != steps.Success {
			t.Fatalf("result %d = step %d state %s", i, r.StepID, r.State)
		}
	}
	if rate := session.SuccessRate(); rate != 100 {
		t.Fatalf("success rate %g", rate)
	}

	wantDIs := []dlt645.DI{
		dlt645.DICurrentOffset,
		dlt645.DIVoltageCurrentGain,
		dlt645.DIPowerGain,
		dlt645.DIPhaseCompensation,
		dlt645.DISmallCurrentBias,
	}
	if len(sender.calls) != 5 {
		t.Fatalf("sent %d commands", len(sender.calls))
	}
	for i, di := range sender.calls {
		if di != wantDIs[i] {
			t.Fatalf("command %d was %s, want %s", i, di, wantDIs[i])
		}
	}
}

// Selected steps run in canonical order regardless of how they were listed.
func TestSelectedStepsCanonicalOrder(t *testing.T) {
	sender := &scriptedSender{}
	e := New(sender, fastConfig(Policy{Kind: Abort}), nil)

	session, err := e.ExecuteSelectedSteps(context.Background(), []int{4, 2, 4}, goodValues())
	if err != nil {
		t.Fatalf("ExecuteSelectedSteps failed: %v", err)
	}
	if len(session.Results) != 2 || session.Results[0].StepID != 2 || session.Results[1].StepID != 4 {
		t.Fatalf("results = %v", stepStates(session))
	}
}

func TestUnknownStepRejected(t *testing.T) {
	e := New(&scriptedSender{}, fastConfig(Policy{Kind: Abort}), nil)
	if _, err := e.ExecuteSingleStep(context.Background(), 6, goodValues()); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("err = %v, want ErrUnknownStep", err)
	}
	if _, err := e.ExecuteSelectedSteps(context.Background(), nil, goodValues()); !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("err = %v, want ErrUnknownStep", err)
	}
}

func TestInvalidStandardsRejected(t *testing.T) {
	e := New(&scriptedSender{}, fastConfig(Policy{Kind: Abort}), nil)
	vals := goodValues()
	vals.Voltage = 80
	if _, err := e.ExecuteOneClick(context.Background(), vals); !errors.Is(err, params.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestAbortPolicySkipsRemaining(t *testing.T) {
	sender := &scriptedSender{failDI: dlt645.DIVoltageCurrentGain, failCount: 99}
	e := New(sender, fastConfig(Policy{Kind: Abort}), nil)

	session, err := e.ExecuteOneClick(context.Background(), goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Aborted {
		t.Fatalf("session state %s, want aborted", session.State)
	}
	want := []steps.State{steps.Success, steps.Failed, steps.Skipped, steps.Skipped, steps.Skipped}
	got := stepStates(session)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("states = %v, want %v", got, want)
		}
	}
	if rate := session.SuccessRate(); rate != 20 {
		t.Fatalf("success rate %g, want 20", rate)
	}
}

func TestSkipAndContinuePolicy(t *testing.T) {
	sender := &scriptedSender{failDI: dlt645.DIVoltageCurrentGain, failCount: 99}
	e := New(sender, fastConfig(Policy{Kind: SkipAndContinue}), nil)

	session, err := e.ExecuteOneClick(context.Background(), goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Completed {
		t.Fatalf("session state %s, want completed", session.State)
	}
	if session.Failed() != 1 || session.Succeeded() != 4 || session.Skipped() != 0 {
		t.Fatalf("failed=%d succeeded=%d skipped=%d", session.Failed(), session.Succeeded(), session.Skipped())
	}
	if rate := session.SuccessRate(); rate != 80 {
		t.Fatalf("success rate %g, want 80", rate)
	}
}

// A single retry rescues a step that fails once.
func TestRetryPolicyRecovers(t *testing.T) {
	sender := &scriptedSender{failDI: dlt645.DIPowerGain, failCount: 1}
	e := New(sender, fastConfig(Policy{Kind: RetryStep, Retries: 1, Fallback: Abort}), nil)

	session, err := e.ExecuteOneClick(context.Background(), goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Completed || session.Succeeded() != 5 {
		t.Fatalf("state=%s succeeded=%d", session.State, session.Succeeded())
	}
	// five steps plus one rerun of the power-gain command
	if len(sender.calls) != 6 {
		t.Fatalf("sent %d commands, want 6", len(sender.calls))
	}
}

func TestRetryExhaustedFallsBack(t *testing.T) {
	sender := &scriptedSender{failDI: dlt645.DIPowerGain, failCount: 99}
	e := New(sender, fastConfig(Policy{Kind: RetryStep, Retries: 2, Fallback: SkipAndContinue}), nil)

	session, err := e.ExecuteOneClick(context.Background(), goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Completed || session.Failed() != 1 || session.Succeeded() != 4 {
		t.Fatalf("state=%s failed=%d succeeded=%d", session.State, session.Failed(), session.Succeeded())
	}
}

func TestCancelledContextAbortsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(&scriptedSender{}, fastConfig(Policy{Kind: Abort}), nil)
	session, err := e.ExecuteOneClick(ctx, goodValues())
	if err != nil {
		t.Fatalf("ExecuteOneClick failed: %v", err)
	}
	if session.State != Aborted {
		t.Fatalf("session state %s, want aborted", session.State)
	}
	if session.Skipped() != 5 {
		t.Fatalf("skipped = %d, want 5", session.Skipped())
	}
}

func TestSessionSummaryEvent(t *testing.T) {
	hub := events.NewEventHub()
	sub := hub.Subscribe()
	defer hub.Unsubscribe(sub)

	e := New(&scriptedSender{}, fastConfig(Policy{Kind: Abort}), hub)
	if _, err := e.ExecuteSingleStep(context.Background(), 1, goodValues()); err != nil {
		t.Fatalf("ExecuteSingleStep failed: %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sub:
			if ev.Name != events.SessionSummary {
				continue // step transition events come first
			}
			p, err := events.DecodeAs[events.SessionEvent](ev)
			if err != nil {
				t.Fatalf("DecodeAs failed: %v", err)
			}
			if p.State != string(Completed) || p.Total != 1 || p.Succeeded != 1 || p.SuccessRate != 100 {
				t.Fatalf("summary = %+v", p)
			}
			return
		case <-deadline:
			t.Fatalf("no session summary event arrived")
		}
	}
}

func TestSessionSnapshotAvailableAfterRun(t *testing.T) {
	e := New(&scriptedSender{}, fastConfig(Policy{Kind: Abort}), nil)
	if s := e.Session(); s != nil {
		t.Fatalf("session before any run = %+v", s)
	}
	if _, err := e.ExecuteSingleStep(context.Background(), 1, goodValues()); err != nil {
		t.Fatalf("ExecuteSingleStep failed: %v", err)
	}
	s := e.Session()
	if s == nil || s.State != Completed || len(s.Results) != 1 {
		t.Fatalf("session snapshot = %+v", s)
	}
	if e.Running() {
		t.Fatalf("Running() true after session end")
	}
}
