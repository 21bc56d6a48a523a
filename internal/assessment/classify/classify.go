// Package classify inspects failed cluster-tool invocations and decides
// whether they match an expected refusal.
package classify

import (
	"errors"
	"regexp"

	"github.com/vietddude/drcheck/internal/core/domain"
)

var (
	// runningInstancePattern matches the bracket-quoted instance list the
	// restore tool prints when a controller is still running.
	runningInstancePattern = regexp.MustCompile(`\["([^"]+)"\]`)

	// connectPattern matches the ssh attempts printed while a restore
	// provisions its replacement controller.
	connectPattern = regexp.MustCompile(`Attempting to connect to (.*):22`)
)

// Diagnosis is what could be extracted from an error.
type Diagnosis struct {
	Text       string
	HasText    bool
	InstanceID string
}

// Found reports whether an instance id was extracted.
func (d Diagnosis) Found() bool { return d.InstanceID != "" }

// Diagnose extracts diagnostic text and an embedded instance id from err.
// Without text it returns the zero Diagnosis; with text but no match,
// HasText is set and Found reports false.
func Diagnose(err error) Diagnosis {
	var diagnosed domain.Diagnosed
	if err == nil || !errors.As(err, &diagnosed) {
		return Diagnosis{}
	}
	text, ok := diagnosed.Diagnostic()
	if !ok {
		return Diagnosis{}
	}
	return DiagnoseText(text)
}

// DiagnoseText extracts the instance id from already captured text.
func DiagnoseText(text string) Diagnosis {
	d := Diagnosis{Text: text, HasText: true}
	if m := runningInstancePattern.FindStringSubmatch(text); m != nil {
		d.InstanceID = m[1]
	}
	return d
}

// ConnectTarget returns the last host the restore tool tried to reach over
// ssh, or "" when the text has none.
func ConnectTarget(text string) string {
	matches := connectPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return matches[len(matches)-1][1]
}

// Restore classifies the result of a restore attempted while the controller
// is expected to be alive. Errors that are not command failures, such as a
// missing binary, are returned as-is because they say nothing about the
// controller.
func Restore(output string, err error) (domain.RestoreOutcome, error) {
	if err == nil {
		return domain.RestoreOutcome{Result: domain.RestoreSuccess, Output: output}, nil
	}

	var cmdErr *domain.CommandError
	if !errors.As(err, &cmdErr) {
		return domain.RestoreOutcome{}, err
	}

	d := Diagnose(cmdErr)
	if d.Found() {
		return domain.RestoreOutcome{
			Result:     domain.RestoreExpectedRefusal,
			InstanceID: d.InstanceID,
			Diagnostic: d.Text,
		}, nil
	}
	return domain.RestoreOutcome{
		Result:     domain.RestoreUnexpectedFailure,
		Diagnostic: d.Text,
		Err:        err,
	}, nil
}
