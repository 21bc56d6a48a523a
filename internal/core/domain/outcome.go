package domain

// BackupArtifact is an opaque handle to a downloaded controller backup.
type BackupArtifact string

// RestoreResult tags the outcome of a restore attempt.
type RestoreResult int

const (
	RestoreSuccess RestoreResult = iota
	RestoreExpectedRefusal
	RestoreUnexpectedFailure
)

func (r RestoreResult) String() string {
	switch r {
	case RestoreSuccess:
		return "success"
	case RestoreExpectedRefusal:
		return "expected-refusal"
	case RestoreUnexpectedFailure:
		return "unexpected-failure"
	default:
		return "unknown"
	}
}

// RestoreOutcome is the classified result of a restore invocation.
// Output is set for RestoreSuccess, InstanceID for RestoreExpectedRefusal
// and Err for RestoreUnexpectedFailure.
type RestoreOutcome struct {
	Result     RestoreResult
	Output     string
	InstanceID string
	Diagnostic string
	Err        error
}
