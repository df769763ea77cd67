// Package harness runs the comparison experiments against a Store, times
// every operation and summarizes the outcome per experiment.
package harness

import "time"

// OperationTiming records one timed operation. It is never modified after
// the Timer returns it.
type OperationTiming struct {
	Kind      OpKind        `json:"kind"`
	Label     string        `json:"label"`
	StartedAt time.Time     `json:"started_at"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs float64       `json:"elapsed_ms"`
	Outcome   Outcome       `json:"outcome"`
	Success   bool          `json:"success"`
	Affected  int64         `json:"affected"`
	Probe     Probe         `json:"probe,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// ExperimentResult holds everything measured by one experiment against one
// backend.
type ExperimentResult struct {
	Name        string            `json:"name"`
	Backend     Backend           `json:"backend"`
	Objective   Objective         `json:"objective"`
	DatasetSize int               `json:"dataset_size,omitempty"`
	Operations  []OperationTiming `json:"operations"`
	Summary     Summary           `json:"summary"`
	Checks      map[string]bool   `json:"checks,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// Completed reports whether the experiment ran to the end.
func (r ExperimentResult) Completed() bool {
	return r.Error == ""
}

func newResult(
	exp Experiment,
	backend Backend,
	timings []OperationTiming,
	checks map[string]bool,
	err error,
) ExperimentResult {
	if timings == nil {
		timings = []OperationTiming{}
	}

	result := ExperimentResult{
		Name:        exp.Name,
		Backend:     backend,
		Objective:   exp.Objective,
		DatasetSize: exp.Size,
		Operations:  timings,
		Summary:     Summarize(timings),
		Checks:      checks,
	}

	if err != nil {
		result.Error = err.Error()
		result.Summary = result.Summary.withoutSuccesses()
	}

	return result
}

func msOf(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
