package crawler

import (
	"errors"
	"fmt"
)

// Failure taxonomy. Fetchers, detectors and adapters wrap one of these so the
// recovery layer can classify with errors.Is.
var (
	// ErrTimeout marks a fetch that exceeded its time budget.
	ErrTimeout = errors.New("fetch timed out")
	// ErrNetwork marks a transient transport failure (connection reset, 5xx).
	ErrNetwork = errors.New("transient network error")
	// ErrChallenge marks a verification, captcha or block page.
	ErrChallenge = errors.New("challenge page served")
	// ErrStructural marks a page whose markup does not match the adapter.
	ErrStructural = errors.New("structural extraction failure")
	// ErrQuotaExceeded is a control signal: the unit already holds cap items.
	ErrQuotaExceeded = errors.New("unit quota exceeded")
	// ErrCheckpointCorruption is fatal: persisted progress cannot be trusted.
	ErrCheckpointCorruption = errors.New("checkpoint corrupted")
	// ErrCheckpointRegression rejects attempts to move a checkpoint backwards.
	ErrCheckpointRegression = errors.New("checkpoint regression")
	// ErrSessionBudgetExhausted is fatal for a worker that restarted its session too often.
	ErrSessionBudgetExhausted = errors.New("session restart budget exhausted")
)

// FailureKind is the classification of a failed attempt.
type FailureKind int

// Failure kinds in escalation order.
const (
	KindSuccess FailureKind = iota
	KindTransient
	KindChallenge
	KindStructural
)

func (k FailureKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTransient:
		return "transient"
	case KindChallenge:
		return "challenge"
	case KindStructural:
		return "structural"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FailureError carries the context of a classified failure.
type FailureError struct {
	Kind    FailureKind
	Unit    WorkUnit
	URL     string
	Attempt int
	Err     error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failure on %s (unit %s, attempt %d): %v", e.Kind, e.URL, e.Unit, e.Attempt, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Structuralf builds an ErrStructural-wrapped error.
func Structuralf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStructural, fmt.Sprintf(format, args...))
}

// Challengef builds an ErrChallenge-wrapped error.
func Challengef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrChallenge, fmt.Sprintf(format, args...))
}
