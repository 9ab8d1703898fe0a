// Package executor runs calibration sessions: it drives the per-step state
// machines in order, applies the failure policy, and publishes progress.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/junwei-lu/metercal/pkg/events"
	"github.com/junwei-lu/metercal/pkg/params"
	"github.com/junwei-lu/metercal/pkg/steps"
)

var (
	// ErrSessionInProgress is returned when a run is requested while another
	// session is still executing.
	ErrSessionInProgress = errors.New("a calibration session is already in progress")
	// ErrUnknownStep is returned for step ids outside 1..5.
	ErrUnknownStep = errors.New("unknown step id")
)

// Config tunes a session run.
type Config struct {
	// Tolerances maps step id to the maximum accepted absolute deviation in
	// percent. Steps without an entry use DefaultTolerance.
	Tolerances map[int]float64 `json:"tolerances,omitempty"`
	// DefaultTolerance applies to steps absent from Tolerances.
	DefaultTolerance float64 `json:"defaultTolerance"`
	// StepDelay is the settle time between consecutive steps.
	StepDelay time.Duration `json:"stepDelay"`
	// Policy is the failure policy.
	Policy Policy `json:"policy"`
}

func DefaultConfig() Config {
	return Config{
		DefaultTolerance: 1.0,
		StepDelay:        500 * time.Millisecond,
		Policy:           DefaultPolicy(),
	}
}

func (c Config) tolerance(stepID int) float64 {
	if t, ok := c.Tolerances[stepID]; ok {
		return t
	}
	return c.DefaultTolerance
}

// Executor owns session execution. One session runs at a time.
type Executor struct {
	sender steps.CommandSender
	cfg    Config
	hub    *events.EventHub // may be nil

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	session *Session
}

func New(sender steps.CommandSender, cfg Config, hub *events.EventHub) *Executor {
	return &Executor{sender: sender, cfg: cfg, hub: hub}
}

// SetConfig replaces the executor config. It is rejected while a session is
// executing.
func (e *Executor) SetConfig(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrSessionInProgress
	}
	e.cfg = cfg
	return nil
}

// Config returns the current executor config.
func (e *Executor) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Session returns a copy of the current or most recent session, or nil when
// nothing has run yet.
func (e *Executor) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.clone()
}

// Running reports whether a session is currently executing.
func (e *Executor) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Cancel aborts the session in flight, if any. Remaining steps are marked
// skipped and the session aborted.
func (e *Executor) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// ExecuteSingleStep runs one step as a one-step session.
func (e *Executor) ExecuteSingleStep(ctx context.Context, stepID int, vals params.StandardValues) (*Session, error) {
	return e.ExecuteSelectedSteps(ctx, []int{stepID}, vals)
}

// ExecuteOneClick runs all five steps in the canonical order.
func (e *Executor) ExecuteOneClick(ctx context.Context, vals params.StandardValues) (*Session, error) {
	ids := make([]int, 0, 5)
	for _, s := range steps.All() {
		ids = append(ids, s.ID)
	}
	return e.ExecuteSelectedSteps(ctx, ids, vals)
}

// ExecuteSelectedSteps runs the given steps. Whatever order the caller lists
// them in, execution follows the canonical step order; duplicates collapse.
func (e *Executor) ExecuteSelectedSteps(ctx context.Context, stepIDs []int, vals params.StandardValues) (*Session, error) {
	specs, err := resolve(stepIDs)
	if err != nil {
		return nil, err
	}
	if err := vals.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, ErrSessionInProgress
	}
	session := &Session{State: InProgress, Standards: vals, StartedAt: time.Now()}
	e.running = true
	e.cancel = cancel
	e.session = session
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		e.mu.Unlock()
	}()

	logrus.WithField("steps", stepIDs).Info("starting calibration session")
	e.run(ctx, session, specs, vals)
	e.publishSummary(session)
	return session.clone(), nil
}

func resolve(stepIDs []int) ([]steps.Spec, error) {
	seen := map[int]bool{}
	ids := make([]int, 0, len(stepIDs))
	for _, id := range stepIDs {
		if _, ok := steps.ByID(id); !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownStep, id)
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no steps selected", ErrUnknownStep)
	}
	sort.Ints(ids)

	specs := make([]steps.Spec, 0, len(ids))
	for _, id := range ids {
		s, _ := steps.ByID(id)
		specs = append(specs, s)
	}
	return specs, nil
}

func (e *Executor) run(ctx context.Context, session *Session, specs []steps.Spec, vals params.StandardValues) {
	aborted := false
	abortReason := ""

	for i, spec := range specs {
		if !aborted && ctx.Err() != nil {
			aborted, abortReason = true, "session cancelled"
		}

		if aborted {
			m := steps.NewMachine(spec, e.cfg.tolerance(spec.ID), e.hub)
			_ = m.Skip(abortReason)
			e.appendResult(session, m)
			continue
		}

		if i > 0 && e.cfg.StepDelay > 0 {
			select {
			case <-ctx.Done():
				aborted, abortReason = true, "session cancelled"
				m := steps.NewMachine(spec, e.cfg.tolerance(spec.ID), e.hub)
				_ = m.Skip(abortReason)
				e.appendResult(session, m)
				continue
			case <-time.After(e.cfg.StepDelay):
			}
		}

		res := e.runStepWithPolicy(ctx, spec, vals)
		e.mu.Lock()
		session.Results = append(session.Results, res)
		e.mu.Unlock()

		if res.State == steps.Failed {
			switch e.policyAfterFailure() {
			case Abort:
				aborted, abortReason = true, fmt.Sprintf("aborted after step %d failed", spec.ID)
				logrus.WithField("step", spec.ID).Warn("step failed, aborting session")
			default:
				logrus.WithField("step", spec.ID).Warn("step failed, continuing")
			}
		}
	}

	e.mu.Lock()
	session.EndedAt = time.Now()
	if aborted {
		session.State = Aborted
	} else {
		session.State = Completed
	}
	e.mu.Unlock()
}

// policyAfterFailure resolves the terminal reaction once a step (retries
// included) has definitively failed.
func (e *Executor) policyAfterFailure() PolicyKind {
	p := e.cfg.Policy
	if p.Kind == RetryStep {
		if p.Fallback == SkipAndContinue {
			return SkipAndContinue
		}
		return Abort
	}
	return p.Kind
}

// runStepWithPolicy runs one step, rerunning it on failure when the policy
// says so. The recorded result is the final attempt's.
func (e *Executor) runStepWithPolicy(ctx context.Context, spec steps.Spec, vals params.StandardValues) steps.Result {
	tries := 1
	if e.cfg.Policy.Kind == RetryStep {
		tries += e.cfg.Policy.Retries
	}

	var res steps.Result
	for n := 1; n <= tries; n++ {
		res = e.runStepOnce(ctx, spec, vals)
		if res.State == steps.Success {
			return res
		}
		if ctx.Err() != nil {
			return res
		}
		if n < tries {
			logrus.WithFields(logrus.Fields{"step": spec.ID, "run": n}).Info("rerunning failed step")
		}
	}
	return res
}

func (e *Executor) runStepOnce(ctx context.Context, spec steps.Spec, vals params.StandardValues) steps.Result {
	m := steps.NewMachine(spec, e.cfg.tolerance(spec.ID), e.hub)
	err := m.Prepare(vals)
	if err == nil {
		err = m.Execute(ctx, e.sender)
	}
	if err == nil {
		err = m.Verify()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{"step": spec.ID, "name": spec.Name}).Warnf("step failed: %v", err)
	}
	res, rerr := m.Result()
	if rerr != nil {
		// machine left non-terminal means a transition bug; record it as failed
		res = steps.Result{StepID: spec.ID, Name: spec.Name, State: steps.Failed, Error: rerr.Error()}
	}
	return res
}

func (e *Executor) appendResult(session *Session, m *steps.Machine) {
	res, err := m.Result()
	if err != nil {
		return
	}
	e.mu.Lock()
	session.Results = append(session.Results, res)
	e.mu.Unlock()
}

func (e *Executor) publishSummary(session *Session) {
	e.hub.PublishSummary(events.SessionEvent{
		State:       string(session.State),
		Total:       len(session.Results),
		Succeeded:   session.Succeeded(),
		Failed:      session.Failed(),
		Skipped:     session.Skipped(),
		SuccessRate: session.SuccessRate(),
		DurationMs:  session.EndedAt.Sub(session.StartedAt).Milliseconds(),
		Ts:          time.Now().Unix(),
	})
	logrus.WithFields(logrus.Fields{
		"state":       session.State,
		"succeeded":   session.Succeeded(),
		"failed":      session.Failed(),
		"skipped":     session.Skipped(),
		"successRate": session.SuccessRate(),
	}).Info("calibration session finished")
}
