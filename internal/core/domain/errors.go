package domain

import (
	"fmt"
	"strings"
)

// Diagnosed is implemented by errors that carry captured diagnostic text,
// typically the stderr of a failed command.
type Diagnosed interface {
	Diagnostic() (string, bool)
}

// CommandError is returned when the cluster tool exits non-zero.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %q returned non-zero exit status %d", strings.Join(e.Args, " "), e.ExitCode)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Diagnostic returns the captured stderr. Stderr that was never captured
// (nil pipe) and an empty stream are both reported as absent.
func (e *CommandError) Diagnostic() (string, bool) {
	return e.Stderr, e.Stderr != ""
}

// TimeoutError is raised when a bounded wait exhausts its budget.
type TimeoutError struct {
	What       string
	Host       string
	InstanceID string
	Attempts   int
	Last       string
}

func (e *TimeoutError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "timed out after %d attempts waiting for %s", e.Attempts, e.What)
	if e.Host != "" {
		fmt.Fprintf(&b, " on %s", e.Host)
	}
	if e.InstanceID != "" {
		fmt.Fprintf(&b, " (instance %s)", e.InstanceID)
	}
	return b.String()
}

// Diagnostic returns the last observation made before the timeout.
func (e *TimeoutError) Diagnostic() (string, bool) {
	return e.Last, e.Last != ""
}

// InvariantViolationError means the cluster accepted an operation the
// assessment requires it to refuse.
type InvariantViolationError struct {
	Message string
	Output  string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Message, e.Output)
}

func (e *InvariantViolationError) Diagnostic() (string, bool) {
	return e.Output, e.Output != ""
}

// RestoreFailedError wraps a failed restore against a missing controller.
type RestoreFailedError struct {
	Stderr string
	Err    error
}

func (e *RestoreFailedError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("restore failed: %v", e.Err)
	}
	return fmt.Sprintf("restore failed: \n%s", e.Stderr)
}

func (e *RestoreFailedError) Unwrap() error { return e.Err }

func (e *RestoreFailedError) Diagnostic() (string, bool) {
	return e.Stderr, e.Stderr != ""
}
