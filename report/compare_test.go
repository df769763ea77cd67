package report

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/dbcompare/harness"
)

func op(kind harness.OpKind, ms int, outcome harness.Outcome) harness.OperationTiming {
	return harness.OperationTiming{
		Kind:      kind,
		Label:     string(kind),
		Elapsed:   time.Duration(ms) * time.Millisecond,
		ElapsedMs: float64(ms),
		Outcome:   outcome,
		Success:   outcome == harness.OutcomeOK,
		Reason:    reasonFor(outcome),
	}
}

func reasonFor(outcome harness.Outcome) string {
	if outcome == harness.OutcomeFailed {
		return "connection reset"
	}

	return ""
}

func probe(p harness.Probe, kind harness.OpKind, outcome harness.Outcome) harness.OperationTiming {
	t := op(kind, 1, outcome)
	t.Probe = p

	return t
}

func result(
	name string,
	b harness.Backend,
	obj harness.Objective,
	size int,
	checks map[string]bool,
	ops ...harness.OperationTiming,
) harness.ExperimentResult {
	return harness.ExperimentResult{
		Name:        name,
		Backend:     b,
		Objective:   obj,
		DatasetSize: size,
		Operations:  ops,
		Summary:     harness.Summarize(ops),
		Checks:      checks,
	}
}

// crud builds a performance result with one operation per CRUD kind.
func crud(b harness.Backend, size, create, read, update, del int) harness.ExperimentResult {
	return result("crud", b, harness.Performance, size, map[string]bool{"consistent_after_crud": true},
		op(harness.OpCreate, create, harness.OutcomeOK),
		op(harness.OpRead, read, harness.OutcomeOK),
		op(harness.OpUpdate, update, harness.OutcomeOK),
		op(harness.OpDelete, del, harness.OutcomeOK),
	)
}

func comparison(t *testing.T, or ObjectiveReport, metric string, size int) Comparison {
	t.Helper()

	for _, c := range or.Comparisons {
		if c.Metric == metric && c.DatasetSize == size {
			return c
		}
	}

	t.Fatalf("no comparison %q at size %d", metric, size)

	return Comparison{}
}

func TestComparePerformancePerKind(t *testing.T) {
	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			crud(harness.MongoDB, 1000, 2, 1, 1, 1),
			crud(harness.MongoDB, 10000, 10, 5, 5, 5),
		}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{
			crud(harness.PostgreSQL, 1000, 1, 1, 1, 1),
			crud(harness.PostgreSQL, 10000, 20, 5, 3, 2),
		}},
	})

	perf := rep.Performance

	create := comparison(t, perf, "create elapsed", 10000)
	assert.Equal(t, string(harness.MongoDB), create.Winner)
	assert.InDelta(t, 10, *create.Values[harness.MongoDB], 1e-9)
	assert.InDelta(t, 20, *create.Values[harness.PostgreSQL], 1e-9)
	assert.False(t, create.HigherIsBetter)

	assert.Equal(t, Tie, comparison(t, perf, "read elapsed", 10000).Winner)
	assert.Equal(t, string(harness.PostgreSQL), comparison(t, perf, "delete elapsed", 10000).Winner)
	assert.Equal(t, string(harness.PostgreSQL), comparison(t, perf, TotalMetric, 1000).Winner)

	// 25ms against 30ms at the largest size.
	assert.Equal(t, string(harness.MongoDB), perf.Winner)
	assert.Contains(t, perf.Basis, "10000")
}

func TestComparePerformanceSubMicrosecondDifference(t *testing.T) {
	timed := func(b harness.Backend, create time.Duration) harness.ExperimentResult {
		return result("crud_10000", b, harness.Performance, 10000, nil,
			harness.OperationTiming{Kind: harness.OpCreate, Outcome: harness.OutcomeOK, Success: true, Elapsed: create})
	}

	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{timed(harness.MongoDB, 1500*time.Microsecond+100)}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{timed(harness.PostgreSQL, 1500*time.Microsecond+900)}},
	})

	create := comparison(t, rep.Performance, "create elapsed", 10000)
	assert.Equal(t, string(harness.MongoDB), create.Winner)
	assert.Less(t, *create.Values[harness.MongoDB], *create.Values[harness.PostgreSQL])
	assert.Equal(t, string(harness.MongoDB), rep.Performance.Winner)
}

func TestComparePerformanceFailedKindIsNotApplicable(t *testing.T) {
	broken := result("crud", harness.PostgreSQL, harness.Performance, 1000, nil,
		op(harness.OpCreate, 1, harness.OutcomeOK),
		op(harness.OpRead, 1, harness.OutcomeOK),
		op(harness.OpUpdate, 1, harness.OutcomeFailed),
		op(harness.OpDelete, 1, harness.OutcomeOK),
	)

	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{crud(harness.MongoDB, 1000, 5, 5, 5, 5)}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{broken}},
	})

	update := comparison(t, rep.Performance, "update elapsed", 1000)
	assert.Equal(t, NotApplicable, update.Winner)
	assert.Nil(t, update.Values[harness.PostgreSQL])

	assert.Equal(t, string(harness.PostgreSQL), comparison(t, rep.Performance, "create elapsed", 1000).Winner)
	assert.Equal(t, NotApplicable, comparison(t, rep.Performance, TotalMetric, 1000).Winner)
	assert.Equal(t, NotApplicable, rep.Performance.Winner)
}

func TestComparePerformanceUsesLargestSharedSize(t *testing.T) {
	lost := crud(harness.PostgreSQL, 10000, 1, 1, 1, 1)
	lost.Error = "connection lost: ping: refused"

	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			crud(harness.MongoDB, 1000, 1, 1, 1, 1),
			crud(harness.MongoDB, 10000, 50, 50, 50, 50),
		}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{
			crud(harness.PostgreSQL, 1000, 2, 2, 2, 2),
			lost,
		}},
	})

	assert.Equal(t, string(harness.MongoDB), rep.Performance.Winner)
	assert.Contains(t, rep.Performance.Basis, "1000 records")
	assert.Equal(t, NotApplicable, comparison(t, rep.Performance, TotalMetric, 10000).Winner)
}

func TestCompareUnreachableBackend(t *testing.T) {
	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			crud(harness.MongoDB, 1000, 1, 1, 1, 1),
			result("basic_schema", harness.MongoDB, harness.SchemaFlexibility, 0, map[string]bool{"ok": true}),
		}},
		{Backend: harness.PostgreSQL, Err: errors.New("connect postgresql: refused")},
	})

	for _, obj := range harness.Objectives() {
		or := rep.Objective(obj)
		assert.Equal(t, NotApplicable, or.Winner, obj)
		require.Contains(t, or.Backends, harness.PostgreSQL)
		assert.Equal(t, "connect postgresql: refused", or.Backends[harness.PostgreSQL].Error)
		assert.Empty(t, or.Backends[harness.PostgreSQL].Experiments)
	}
}

func TestCompareChecklistUnion(t *testing.T) {
	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			result("schema_evolution", harness.MongoDB, harness.SchemaFlexibility, 0,
				map[string]bool{"a": true, "b": true}),
		}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{
			result("schema_evolution", harness.PostgreSQL, harness.SchemaFlexibility, 0,
				map[string]bool{"a": true, "b": false, "c": true}),
		}},
	})

	flex := rep.SchemaFlexibility
	mongo := flex.Backends[harness.MongoDB]
	pg := flex.Backends[harness.PostgreSQL]

	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": false}, mongo.Checklist)
	assert.Equal(t, map[string]bool{"a": true, "b": false, "c": true}, pg.Checklist)
	assert.Equal(t, 2, mongo.Satisfied)
	assert.Equal(t, 2, pg.Satisfied)
	assert.Equal(t, Tie, flex.Winner)
}

func TestCompareChecklistWinner(t *testing.T) {
	failed := result("nested_structures", harness.PostgreSQL, harness.SchemaFlexibility, 0,
		map[string]bool{"stores_nested_structures": true})
	failed.Error = "insert nested: relation missing"

	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			result("nested_structures", harness.MongoDB, harness.SchemaFlexibility, 0,
				map[string]bool{"stores_nested_structures": true}),
		}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{failed}},
	})

	// A check recorded by an experiment that errored does not count.
	assert.False(t, rep.SchemaFlexibility.Backends[harness.PostgreSQL].Checklist["stores_nested_structures"])
	assert.Equal(t, string(harness.MongoDB), rep.SchemaFlexibility.Winner)

	elapsed := comparison(t, rep.SchemaFlexibility, "nested_structures elapsed", 0)
	assert.Equal(t, NotApplicable, elapsed.Winner)
}

func TestCompareIntegrityRates(t *testing.T) {
	rej, okay := harness.OutcomeRejected, harness.OutcomeOK

	rep := Compare([]BackendRun{
		{Backend: harness.MongoDB, Results: []harness.ExperimentResult{
			result("validation_rules", harness.MongoDB, harness.DataIntegrity, 0, map[string]bool{"rejects_invalid_records": false},
				probe(harness.ProbeValidation, harness.OpValidate, rej),
				probe(harness.ProbeValidation, harness.OpValidate, rej),
				probe(harness.ProbeValidation, harness.OpValidate, okay),
			),
		}},
		{Backend: harness.PostgreSQL, Results: []harness.ExperimentResult{
			result("validation_rules", harness.PostgreSQL, harness.DataIntegrity, 0, map[string]bool{"rejects_invalid_records": true},
				probe(harness.ProbeValidation, harness.OpValidate, rej),
				probe(harness.ProbeValidation, harness.OpValidate, rej),
				probe(harness.ProbeValidation, harness.OpValidate, rej),
			),
		}},
	})

	rate := comparison(t, rep.DataIntegrity, "validation_rules validation rejection rate", 0)
	assert.True(t, rate.HigherIsBetter)
	assert.Equal(t, string(harness.PostgreSQL), rate.Winner)
	assert.InDelta(t, 2.0/3, *rate.Values[harness.MongoDB], 1e-9)

	for _, c := range rep.DataIntegrity.Comparisons {
		assert.NotContains(t, c.Metric, "rollback", "no rollback probes were recorded")
	}

	assert.Equal(t, string(harness.PostgreSQL), rep.DataIntegrity.Winner)
}

func TestPick(t *testing.T) {
	one, two := 1.0, 2.0

	tests := []struct {
		name   string
		mongo  *float64
		pg     *float64
		higher bool
		want   string
	}{
		{"lower wins", &one, &two, false, string(harness.MongoDB)},
		{"higher wins", &one, &two, true, string(harness.PostgreSQL)},
		{"equal", &two, &two, false, Tie},
		{"missing", nil, &two, false, NotApplicable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pick(map[harness.Backend]*float64{harness.MongoDB: tt.mongo, harness.PostgreSQL: tt.pg}, tt.higher)
			assert.Equal(t, tt.want, got)
		})
	}
}
