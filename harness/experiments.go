package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/weiihann/dbcompare/workload"
)

// DefaultSizes are the dataset sizes of the CRUD performance suite.
var DefaultSizes = []int{1000, 5000, 10000}

// Script is the body of an experiment. It records operations on rec and
// returns an error only when the experiment cannot continue.
type Script func(ctx context.Context, s Store, rec *Recorder) error

// Experiment is one named entry of the plan.
type Experiment struct {
	Name      string
	Objective Objective
	// Size is the dataset size of performance experiments, zero otherwise.
	Size   int
	Script Script
}

// PlanConfig parameterizes Plan.
type PlanConfig struct {
	Sizes []int
	Seed  int64
	// Now anchors generated timestamps so both backends see identical data.
	Now time.Time
}

// Plan returns every experiment in run order: schema flexibility, then
// performance by ascending size, then data integrity.
func Plan(cfg PlanConfig) []Experiment {
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = DefaultSizes
	}

	if cfg.Now.IsZero() {
		cfg.Now = time.Now()
	}

	gen := func() *workload.Generator {
		return workload.NewGenerator(workload.Config{Seed: cfg.Seed, Now: cfg.Now})
	}

	plan := []Experiment{
		{Name: "basic_schema", Objective: SchemaFlexibility, Script: basicSchema(gen)},
		{Name: "schema_evolution", Objective: SchemaFlexibility, Script: schemaEvolution(gen)},
		{Name: "nested_structures", Objective: SchemaFlexibility, Script: nestedStructures(gen)},
		{Name: "query_flexibility", Objective: SchemaFlexibility, Script: queryFlexibility(gen)},
	}

	for _, size := range cfg.Sizes {
		plan = append(plan, Experiment{
			Name:      fmt.Sprintf("crud_%d", size),
			Objective: Performance,
			Size:      size,
			Script:    crud(gen, size),
		})
	}

	return append(plan,
		Experiment{Name: "validation_rules", Objective: DataIntegrity, Script: validationRules(gen)},
		Experiment{Name: "order_transactions", Objective: DataIntegrity, Script: orderTransactions(gen)},
		Experiment{Name: "referential_integrity", Objective: DataIntegrity, Script: referentialIntegrity(gen)},
		Experiment{Name: "validation_overhead", Objective: DataIntegrity, Script: validationOverhead(gen)},
	)
}

// Recorder collects the timings and capability checks of one experiment.
type Recorder struct {
	ctx     context.Context
	timer   *Timer
	timings []OperationTiming
	checks  map[string]bool
}

func newRecorder(ctx context.Context, timer *Timer) *Recorder {
	return &Recorder{ctx: ctx, timer: timer}
}

// Time times fn and appends the timing.
func (r *Recorder) Time(kind OpKind, label string, fn func(ctx context.Context) (int64, error)) OperationTiming {
	return r.Probe(ProbeNone, kind, label, fn)
}

// Probe times fn as a probe and appends the timing.
func (r *Recorder) Probe(
	probe Probe,
	kind OpKind,
	label string,
	fn func(ctx context.Context) (int64, error),
) OperationTiming {
	t := r.timer.Probe(probe, kind, label, func() (int64, error) {
		return fn(r.ctx)
	})
	r.timings = append(r.timings, t)

	return t
}

// Check records a named capability. A check recorded more than once holds
// only if every recording held.
func (r *Recorder) Check(name string, ok bool) {
	if r.checks == nil {
		r.checks = make(map[string]bool)
	}

	if prev, seen := r.checks[name]; seen {
		ok = ok && prev
	}

	r.checks[name] = ok
}

// Timings returns the timings recorded so far.
func (r *Recorder) Timings() []OperationTiming {
	return r.timings
}

// exec adapts a method that reports no count.
func exec(fn func(ctx context.Context) error) func(ctx context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		if err := fn(ctx); err != nil {
			return 0, err
		}

		return 1, nil
	}
}

func allOK(timings ...OperationTiming) bool {
	for _, t := range timings {
		if !t.Success {
			return false
		}
	}

	return len(timings) > 0
}
