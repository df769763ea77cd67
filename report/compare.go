package report

import (
	"fmt"
	"slices"
	"sort"

	"github.com/weiihann/dbcompare/harness"
)

// Winner values besides a backend name.
const (
	Tie           = "tie"
	NotApplicable = "n/a"
)

// BackendRun is everything one backend produced. Err is set when the
// backend could not be reached at all.
type BackendRun struct {
	Backend harness.Backend
	Results []harness.ExperimentResult
	Err     error
}

// ComparisonReport is the exported artifact. It has exactly one key per
// objective.
type ComparisonReport struct {
	SchemaFlexibility ObjectiveReport `json:"schema_flexibility"`
	Performance       ObjectiveReport `json:"performance"`
	DataIntegrity     ObjectiveReport `json:"data_integrity"`
}

// Objective returns the section for o.
func (r *ComparisonReport) Objective(o harness.Objective) *ObjectiveReport {
	switch o {
	case harness.SchemaFlexibility:
		return &r.SchemaFlexibility
	case harness.Performance:
		return &r.Performance
	case harness.DataIntegrity:
		return &r.DataIntegrity
	default:
		return nil
	}
}

// ObjectiveReport compares the backends on one objective.
type ObjectiveReport struct {
	Backends    map[harness.Backend]*BackendReport `json:"backends"`
	Comparisons []Comparison                       `json:"comparisons"`
	Winner      string                             `json:"winner"`
	// Basis names what decided the winner.
	Basis string `json:"basis"`
}

// BackendReport is one backend's share of an objective.
type BackendReport struct {
	Experiments []harness.ExperimentResult `json:"experiments"`
	Checklist   map[string]bool            `json:"checklist,omitempty"`
	Satisfied   int                        `json:"satisfied"`
	Error       string                     `json:"error,omitempty"`
}

// Comparison is one metric measured on both backends. A nil value means
// the backend has no comparable measurement.
type Comparison struct {
	Metric         string                       `json:"metric"`
	DatasetSize    int                          `json:"dataset_size,omitempty"`
	Unit           string                       `json:"unit"`
	HigherIsBetter bool                         `json:"higher_is_better"`
	Values         map[harness.Backend]*float64 `json:"values"`
	Winner         string                       `json:"winner"`
}

// Compare builds the comparison report from every backend's run.
func Compare(runs []BackendRun) ComparisonReport {
	var rep ComparisonReport

	for _, obj := range harness.Objectives() {
		or := rep.Objective(obj)
		or.Backends = make(map[harness.Backend]*BackendReport, len(runs))
		or.Comparisons = []Comparison{}

		for _, run := range runs {
			br := &BackendReport{Experiments: []harness.ExperimentResult{}}

			for _, r := range run.Results {
				if r.Objective == obj {
					br.Experiments = append(br.Experiments, r)
				}
			}

			if run.Err != nil {
				br.Error = run.Err.Error()
			}

			or.Backends[run.Backend] = br
		}
	}

	compareCapabilities(&rep.SchemaFlexibility)
	comparePerformance(&rep.Performance)
	compareCapabilities(&rep.DataIntegrity)

	return rep
}

// compareCapabilities decides an objective by its checklist: the backend
// satisfying more checks wins. Elapsed times and probe rates are reported
// alongside.
func compareCapabilities(or *ObjectiveReport) {
	var checks []string
	var experiments []string

	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if !ok {
			continue
		}

		for _, r := range br.Experiments {
			if !slices.Contains(experiments, r.Name) {
				experiments = append(experiments, r.Name)
			}

			for name := range r.Checks {
				if !slices.Contains(checks, name) {
					checks = append(checks, name)
				}
			}
		}
	}

	sort.Strings(checks)

	for _, br := range or.Backends {
		if len(br.Experiments) == 0 {
			continue
		}

		br.Checklist = make(map[string]bool, len(checks))
		for _, name := range checks {
			br.Checklist[name] = checkHolds(br.Experiments, name)
			if br.Checklist[name] {
				br.Satisfied++
			}
		}
	}

	for _, name := range experiments {
		or.Comparisons = append(or.Comparisons, compareMetric(or, name+" elapsed", 0, "ms", false,
			func(r harness.ExperimentResult) (float64, bool) {
				return r.Summary.ElapsedMs, r.Name == name && r.Completed()
			}))

		for _, rate := range []struct {
			metric string
			get    func(harness.Summary) *harness.Rate
		}{
			{"validation rejection rate", func(s harness.Summary) *harness.Rate { return s.ValidationRejectionRate }},
			{"rollback success rate", func(s harness.Summary) *harness.Rate { return s.RollbackSuccessRate }},
		} {
			c := compareMetric(or, name+" "+rate.metric, 0, "ratio", true,
				func(r harness.ExperimentResult) (float64, bool) {
					v := rate.get(r.Summary)
					if r.Name != name || v == nil || !v.Valid {
						return 0, false
					}

					return v.Value, true
				})

			if c.measured() {
				or.Comparisons = append(or.Comparisons, c)
			}
		}
	}

	if !bothRan(or) {
		or.Winner, or.Basis = NotApplicable, "a backend produced no results"

		return
	}

	satisfied := make(map[harness.Backend]*float64, 2)
	for _, b := range harness.Backends() {
		v := float64(or.Backends[b].Satisfied)
		satisfied[b] = &v
	}

	or.Winner = pick(satisfied, true)
	or.Basis = fmt.Sprintf("capability checklist (%d checks)", len(checks))
}

// comparePerformance compares summed elapsed time per operation kind and
// dataset size. A backend only qualifies for a kind when every operation
// of that kind succeeded. The objective goes to the faster total at the
// largest size both backends completed.
func comparePerformance(or *ObjectiveReport) {
	var sizes []int

	for _, br := range or.Backends {
		for _, r := range br.Experiments {
			if !slices.Contains(sizes, r.DatasetSize) {
				sizes = append(sizes, r.DatasetSize)
			}
		}
	}

	sort.Ints(sizes)

	for _, size := range sizes {
		for _, kind := range harness.CRUDKinds() {
			or.Comparisons = append(or.Comparisons, compareMetric(or, string(kind)+" elapsed", size, "ms", false,
				func(r harness.ExperimentResult) (float64, bool) {
					ks, ok := r.Summary.ByKind[kind]

					return ks.ElapsedMs, ok && r.DatasetSize == size && r.Completed() && ks.AllSucceeded()
				}))
		}

		or.Comparisons = append(or.Comparisons, compareMetric(or, TotalMetric, size, "ms", false,
			func(r harness.ExperimentResult) (float64, bool) {
				s := r.Summary

				return s.ElapsedMs, r.DatasetSize == size && r.Completed() && s.Operations > 0 && s.Failed == 0
			}))
	}

	or.Winner, or.Basis = NotApplicable, "no dataset size completed on both backends"

	for i := len(sizes) - 1; i >= 0; i-- {
		if !completedOnBoth(or, sizes[i]) {
			continue
		}

		for _, c := range or.Comparisons {
			if c.Metric == TotalMetric && c.DatasetSize == sizes[i] {
				or.Winner = c.Winner
				or.Basis = fmt.Sprintf("total elapsed at %d records", sizes[i])
			}
		}

		return
	}
}

// TotalMetric is the whole-experiment elapsed time of a performance run.
const TotalMetric = "total elapsed"

func compareMetric(
	or *ObjectiveReport,
	metric string,
	size int,
	unit string,
	higherIsBetter bool,
	value func(harness.ExperimentResult) (float64, bool),
) Comparison {
	c := Comparison{
		Metric:         metric,
		DatasetSize:    size,
		Unit:           unit,
		HigherIsBetter: higherIsBetter,
		Values:         make(map[harness.Backend]*float64, 2),
	}

	for _, b := range harness.Backends() {
		c.Values[b] = nil

		br, ok := or.Backends[b]
		if !ok {
			continue
		}

		for _, r := range br.Experiments {
			if v, ok := value(r); ok {
				c.Values[b] = &v

				break
			}
		}
	}

	c.Winner = pick(c.Values, higherIsBetter)

	return c
}

func (c Comparison) measured() bool {
	for _, v := range c.Values {
		if v != nil {
			return true
		}
	}

	return false
}

// pick names the better of the two backends. Equal values tie; a missing
// value makes the comparison not applicable.
func pick(values map[harness.Backend]*float64, higherIsBetter bool) string {
	backends := harness.Backends()
	a, b := values[backends[0]], values[backends[1]]

	switch {
	case a == nil || b == nil:
		return NotApplicable
	case *a == *b:
		return Tie
	case (*a > *b) == higherIsBetter:
		return string(backends[0])
	default:
		return string(backends[1])
	}
}

func checkHolds(results []harness.ExperimentResult, name string) bool {
	seen := false

	for _, r := range results {
		v, ok := r.Checks[name]
		if !ok {
			continue
		}

		if !v || !r.Completed() {
			return false
		}

		seen = true
	}

	return seen
}

func bothRan(or *ObjectiveReport) bool {
	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if !ok || len(br.Experiments) == 0 {
			return false
		}
	}

	return true
}

func completedOnBoth(or *ObjectiveReport, size int) bool {
	for _, b := range harness.Backends() {
		br, ok := or.Backends[b]
		if !ok {
			return false
		}

		found := false
		for _, r := range br.Experiments {
			if r.DatasetSize == size && r.Completed() {
				found = true
			}
		}

		if !found {
			return false
		}
	}

	return true
}
