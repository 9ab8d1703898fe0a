package executor

import "fmt"

// PolicyKind selects how the executor reacts to a failed step.
type PolicyKind string

const (
	// Abort marks all remaining steps skipped and the session aborted.
	Abort PolicyKind = "abort"
	// SkipAndContinue records the failure and moves to the next step.
	SkipAndContinue PolicyKind = "skip"
	// RetryStep reruns the failed step before falling back.
	RetryStep PolicyKind = "retry"
)

// Policy is the failure policy for a session. Retries and Fallback only
// apply when Kind is RetryStep.
type Policy struct {
	Kind    PolicyKind `json:"kind"`
	Retries int        `json:"retries,omitempty"`
	// Fallback applies once retries are exhausted: Abort or SkipAndContinue.
	Fallback PolicyKind `json:"fallback,omitempty"`
}

// DefaultPolicy retries a failed step once, then aborts the session.
func DefaultPolicy() Policy {
	return Policy{Kind: RetryStep, Retries: 1, Fallback: Abort}
}

// Validate normalizes and checks the policy.
func (p *Policy) Validate() error {
	switch p.Kind {
	case Abort, SkipAndContinue:
		return nil
	case RetryStep:
		if p.Retries < 0 {
			return fmt.Errorf("retry count must not be negative, got %d", p.Retries)
		}
		switch p.Fallback {
		case "":
			p.Fallback = Abort
		case Abort, SkipAndContinue:
		default:
			return fmt.Errorf("invalid retry fallback %q", p.Fallback)
		}
		return nil
	default:
		return fmt.Errorf("invalid failure policy %q", p.Kind)
	}
}
