package substrate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"slices"
	"strings"
)

// Command terminates instances by running a shell command template, e.g.
// "nova delete {ids}" for OpenStack.
type Command struct {
	terminate string
	list      string
	run       func(ctx context.Context, script string) (string, error)
	log       *slog.Logger
}

// NewCommand creates a command substrate.
func NewCommand(cfg Config) *Command {
	return &Command{
		terminate: cfg.TerminateCommand,
		list:      cfg.ListCommand,
		run:       runShell,
		log:       slog.Default(),
	}
}

// Terminate implements Substrate.
func (c *Command) Terminate(ctx context.Context, env Environment, instanceIDs []string) error {
	script := expand(c.terminate, env, instanceIDs)
	c.log.Info("Terminating instances", "env", env.Name, "command", script)
	if out, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("terminate command failed: %w: %s", err, strings.TrimSpace(out))
	}
	return nil
}

// InstanceRunning implements Lister. The list command prints whitespace
// separated instance ids. Without a list command every instance is reported
// gone.
func (c *Command) InstanceRunning(ctx context.Context, env Environment, instanceID string) (bool, error) {
	if c.list == "" {
		return false, nil
	}
	out, err := c.run(ctx, expand(c.list, env, nil))
	if err != nil {
		return false, fmt.Errorf("list command failed: %w", err)
	}
	return slices.Contains(strings.Fields(out), instanceID), nil
}

func expand(template string, env Environment, ids []string) string {
	return strings.NewReplacer(
		"{env}", env.Name,
		"{ids}", strings.Join(ids, " "),
	).Replace(template)
}

func runShell(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", script)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}
