package harness

import (
	"fmt"
	"time"
)

// Timer measures single operations with a monotonic clock.
type Timer struct {
	now func() time.Time
}

// NewTimer returns a Timer backed by the wall clock.
func NewTimer() *Timer {
	return &Timer{now: time.Now}
}

// Time runs fn exactly once and records how long it took. The int64 fn
// returns is the number of rows or documents it affected. Errors and
// panics from fn are classified into the returned timing and never
// propagated.
func (t *Timer) Time(kind OpKind, label string, fn func() (int64, error)) OperationTiming {
	return t.Probe(ProbeNone, kind, label, fn)
}

// Probe is Time for operations whose expected outcome is the measurement
// itself, such as an insert that must be rejected.
func (t *Timer) Probe(
	probe Probe,
	kind OpKind,
	label string,
	fn func() (int64, error),
) OperationTiming {
	start := t.now()
	affected, err := call(fn)
	elapsed := t.now().Sub(start)

	if elapsed < 0 {
		elapsed = 0
	}

	timing := OperationTiming{
		Kind:      kind,
		Label:     label,
		StartedAt: start,
		Elapsed:   elapsed,
		ElapsedMs: msOf(elapsed),
		Outcome:   classify(err),
		Affected:  affected,
		Probe:     probe,
	}

	timing.Success = timing.Outcome == OutcomeOK
	if err != nil {
		timing.Reason = err.Error()
	}

	return timing
}

func call(fn func() (int64, error)) (n int64, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("panic: %v", p)
		}
	}()

	return fn()
}

func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case IsRejection(err):
		return OutcomeRejected
	default:
		return OutcomeFailed
	}
}
