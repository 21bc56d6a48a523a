package domain

import "time"

// RunResult is the lifecycle state of a recorded assessment.
type RunResult string

const (
	RunResultRunning RunResult = "running"
	RunResultPass    RunResult = "pass"
	RunResultFail    RunResult = "fail"
)

// Run is the persisted record of one assessment.
type Run struct {
	ID                string       `json:"id"                  db:"id"`
	Environment       string       `json:"environment"         db:"environment"`
	Strategy          StrategyKind `json:"strategy"            db:"strategy"`
	Result            RunResult    `json:"result"              db:"result"`
	Error             string       `json:"error,omitempty"     db:"error_msg"`
	PrimaryInstanceID string       `json:"primary_instance_id" db:"primary_instance_id"`
	RefusalInstanceID string       `json:"refusal_instance_id" db:"refusal_instance_id"`
	StartedAt         time.Time    `json:"started_at"          db:"started_at"`
	FinishedAt        *time.Time   `json:"finished_at"         db:"finished_at"`
	Steps             []Step       `json:"steps"               db:"-"`
}

// Step is one state of the recovery state machine as it executed.
type Step struct {
	RunID      string    `json:"run_id"          db:"run_id"`
	Seq        int       `json:"seq"             db:"seq"`
	Name       string    `json:"name"            db:"name"`
	StartedAt  time.Time `json:"started_at"      db:"started_at"`
	FinishedAt time.Time `json:"finished_at"     db:"finished_at"`
	Error      string    `json:"error,omitempty" db:"error_msg"`
}

// Duration returns how long the step ran.
func (s Step) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
