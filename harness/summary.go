package harness

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Rate is a ratio that may be undefined. An undefined rate encodes as the
// JSON string "N/A".
type Rate struct {
	Value float64
	Valid bool
}

// NA is the undefined Rate.
var NA = Rate{}

// Ratio returns num/den, or NA when den is not positive.
func Ratio(num, den float64) Rate {
	if den <= 0 {
		return NA
	}

	return Rate{Value: num / den, Valid: true}
}

func (r Rate) String() string {
	if !r.Valid {
		return "N/A"
	}

	return strconv.FormatFloat(r.Value, 'f', 2, 64)
}

func (r Rate) MarshalJSON() ([]byte, error) {
	if !r.Valid {
		return []byte(`"N/A"`), nil
	}

	return json.Marshal(r.Value)
}

func (r *Rate) UnmarshalJSON(b []byte) error {
	if string(b) == `"N/A"` || string(b) == "null" {
		*r = NA

		return nil
	}

	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return fmt.Errorf("decode rate: %w", err)
	}

	*r = Rate{Value: v, Valid: true}

	return nil
}

// KindSummary aggregates the operations of one kind.
type KindSummary struct {
	Operations int           `json:"operations"`
	Succeeded  int           `json:"succeeded"`
	Elapsed    time.Duration `json:"-"`
	ElapsedMs  float64       `json:"elapsed_ms"`
}

// AllSucceeded reports whether every operation of the kind succeeded.
func (k KindSummary) AllSucceeded() bool {
	return k.Operations > 0 && k.Succeeded == k.Operations
}

// Summary aggregates the timings of one experiment.
type Summary struct {
	Operations int                    `json:"operations"`
	Succeeded  int                    `json:"succeeded"`
	Rejected   int                    `json:"rejected"`
	Failed     int                    `json:"failed"`
	Elapsed    time.Duration          `json:"-"`
	ElapsedMs  float64                `json:"elapsed_ms"`
	Throughput Rate                   `json:"throughput_ops_per_sec"`
	ByKind     map[OpKind]KindSummary `json:"by_kind"`

	ValidationRejectionRate *Rate `json:"validation_rejection_rate,omitempty"`
	RollbackSuccessRate     *Rate `json:"rollback_success_rate,omitempty"`
}

// Summarize aggregates timings. Throughput is successful operations per
// second of total elapsed time and is N/A when no time elapsed.
func Summarize(timings []OperationTiming) Summary {
	s := Summary{ByKind: make(map[OpKind]KindSummary)}

	var validations, rejectedValidations, rollbacks, cleanRollbacks int

	for _, t := range timings {
		s.Operations++
		s.Elapsed += t.Elapsed

		k := s.ByKind[t.Kind]
		k.Operations++
		k.Elapsed += t.Elapsed

		switch t.Outcome {
		case OutcomeOK:
			s.Succeeded++
			k.Succeeded++
		case OutcomeRejected:
			s.Rejected++
		default:
			s.Failed++
		}

		k.ElapsedMs = msOf(k.Elapsed)
		s.ByKind[t.Kind] = k

		switch t.Probe {
		case ProbeValidation:
			validations++
			if t.Outcome == OutcomeRejected {
				rejectedValidations++
			}
		case ProbeRollback:
			rollbacks++
			if t.Outcome == OutcomeOK {
				cleanRollbacks++
			}
		}
	}

	s.ElapsedMs = msOf(s.Elapsed)
	s.Throughput = Ratio(float64(s.Succeeded), s.Elapsed.Seconds())

	if validations > 0 {
		r := Ratio(float64(rejectedValidations), float64(validations))
		s.ValidationRejectionRate = &r
	}

	if rollbacks > 0 {
		r := Ratio(float64(cleanRollbacks), float64(rollbacks))
		s.RollbackSuccessRate = &r
	}

	return s
}

// withoutSuccesses is the summary of an aborted experiment: the timings
// stay but none of its operations count as succeeded.
func (s Summary) withoutSuccesses() Summary {
	byKind := make(map[OpKind]KindSummary, len(s.ByKind))
	for kind, k := range s.ByKind {
		k.Succeeded = 0
		byKind[kind] = k
	}

	s.ByKind = byKind
	s.Succeeded = 0
	s.Throughput = Ratio(0, s.Elapsed.Seconds())

	return s
}
