package harness

// Backend identifies one of the two databases under comparison.
type Backend string

const (
	MongoDB    Backend = "mongodb"
	PostgreSQL Backend = "postgresql"
)

// Backends returns the supported backends in run order.
func Backends() []Backend {
	return []Backend{MongoDB, PostgreSQL}
}

// Objective groups experiments into one of three comparison areas.
type Objective string

const (
	SchemaFlexibility Objective = "schema_flexibility"
	Performance       Objective = "performance"
	DataIntegrity     Objective = "data_integrity"
)

// Objectives returns the objectives in report order.
func Objectives() []Objective {
	return []Objective{SchemaFlexibility, Performance, DataIntegrity}
}

// OpKind classifies a timed operation.
type OpKind string

const (
	OpCreate      OpKind = "create"
	OpRead        OpKind = "read"
	OpUpdate      OpKind = "update"
	OpDelete      OpKind = "delete"
	OpValidate    OpKind = "validate"
	OpTransaction OpKind = "transaction"
	// OpMigrate is an explicit schema change, such as ALTER TABLE.
	OpMigrate OpKind = "migrate"
)

// CRUDKinds returns the kinds compared by the performance objective.
func CRUDKinds() []OpKind {
	return []OpKind{OpCreate, OpRead, OpUpdate, OpDelete}
}

// Outcome is the classified result of one operation.
type Outcome string

const (
	OutcomeOK       Outcome = "ok"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "failed"
)

// Probe tags an operation whose expected outcome is itself the measurement.
type Probe string

const (
	ProbeNone Probe = ""
	// ProbeValidation expects the store to reject the operation.
	ProbeValidation Probe = "validation"
	// ProbeRollback expects a failed transaction to have left no trace.
	ProbeRollback Probe = "rollback"
)
