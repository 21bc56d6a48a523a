package juju

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/vietddude/drcheck/internal/core/domain"
)

// Runner executes the cluster tool.
type Runner interface {
	// Run executes argv with extra environment variables appended to the
	// process environment. A non-zero exit is reported as *domain.CommandError.
	Run(ctx context.Context, env []string, argv ...string) (stdout string, err error)
}

// ExecRunner runs commands with os/exec, capturing stdout and stderr.
type ExecRunner struct {
	Dir string
	log *slog.Logger
}

// NewExecRunner creates a runner rooted at dir ("" for the current directory).
func NewExecRunner(dir string) *ExecRunner {
	return &ExecRunner{Dir: dir, log: slog.Default()}
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, env []string, argv ...string) (string, error) {
	if len(argv) == 0 {
		return "", errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debug("Running command", "argv", argv)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return stdout.String(), &domain.CommandError{
			Args:     argv,
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Err:      err,
		}
	}
	return stdout.String(), fmt.Errorf("failed to run %s: %w", argv[0], err)
}
