// Package juju drives a juju environment through the juju command-line tool.
package juju

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/vietddude/drcheck/internal/assessment/inspect"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
)

// backupFilePattern matches the archive name printed by `juju backups create --download`.
var backupFilePattern = regexp.MustCompile(`(juju-backup-[0-9-]+\.(t|tar.)gz)`)

// haMembers is the number of voting controller members ensure-availability creates.
const haMembers = 3

// Config holds settings for a Client.
type Config struct {
	Path        string // path to the juju binary
	Environment string
	Debug       bool
	Constraints string
	WorkDir     string // directory backups are downloaded into
}

// Client is one juju session bound to an environment.
type Client struct {
	cfg    Config
	runner Runner
	poller poll.Poller
	log    *slog.Logger
}

// NewClient creates a client that runs juju through runner.
func NewClient(cfg Config, runner Runner, poller poll.Poller) *Client {
	if cfg.Path == "" {
		cfg.Path = "juju"
	}
	if cfg.Constraints == "" {
		cfg.Constraints = "mem=2G"
	}
	return &Client{
		cfg:    cfg,
		runner: runner,
		poller: poller,
		log:    slog.Default().With("env", cfg.Environment),
	}
}

// Environment returns the environment name.
func (c *Client) Environment() string { return c.cfg.Environment }

// ForEnvironment returns a client for another environment sharing this
// client's binary and settings.
func (c *Client) ForEnvironment(env string) *Client {
	cfg := c.cfg
	cfg.Environment = env
	return NewClient(cfg, c.runner, c.poller)
}

func (c *Client) args(command string, withEnv bool, args ...string) []string {
	argv := []string{c.cfg.Path}
	if c.cfg.Debug {
		argv = append(argv, "--debug")
	}
	argv = append(argv, command)
	if withEnv {
		argv = append(argv, "-e", c.cfg.Environment)
	}
	return append(argv, args...)
}

// Juju runs a juju command against the environment.
func (c *Client) Juju(ctx context.Context, command string, args ...string) error {
	_, err := c.runner.Run(ctx, nil, c.args(command, true, args...)...)
	return err
}

// Output runs a juju command and returns its stdout.
func (c *Client) Output(ctx context.Context, command string, args ...string) (string, error) {
	return c.runner.Run(ctx, nil, c.args(command, true, args...)...)
}

// AgentVersion returns the agent version matching the local juju binary,
// e.g. "1.25.0" for "1.25.0-trusty-amd64".
func (c *Client) AgentVersion(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, nil, c.cfg.Path, "--version")
	if err != nil {
		return "", fmt.Errorf("failed to get juju version: %w", err)
	}
	return matchingAgentVersion(strings.TrimSpace(out))
}

func matchingAgentVersion(full string) (string, error) {
	parts := strings.Split(full, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("unexpected juju version %q", full)
	}
	// drop series and architecture
	return strings.Join(parts[:len(parts)-2], "-"), nil
}

// Status returns the current environment status.
func (c *Client) Status(ctx context.Context) (*domain.Status, error) {
	out, err := c.Output(ctx, "status", "--format", "yaml")
	if err != nil {
		return nil, err
	}
	return ParseStatus(out)
}

// WaitForStatus retries status until the controller answers.
func (c *Client) WaitForStatus(ctx context.Context, budget int) (*domain.Status, error) {
	var last error
	for range c.poller.Until(budget) {
		status, err := c.Status(ctx)
		if err == nil {
			return status, nil
		}
		var cmdErr *domain.CommandError
		if !errors.As(err, &cmdErr) {
			return nil, err
		}
		last = err
	}
	return nil, c.timeout("status", budget, last)
}

// UpgradeAgents asks every agent to move to version.
func (c *Client) UpgradeAgents(ctx context.Context, version string) error {
	return c.Juju(ctx, "upgrade-juju", "--version", version)
}

// WaitForVersion waits until every agent reports version.
func (c *Client) WaitForVersion(ctx context.Context, version string, budget int) error {
	var last error
	for range c.poller.Until(budget) {
		status, err := c.Status(ctx)
		if err != nil {
			last = err
			continue
		}
		versions := inspect.AgentVersions(status)
		if _, ok := versions[version]; ok && len(versions) == 1 {
			return nil
		}
		last = fmt.Errorf("current versions: %s", versionList(versions))
	}
	return c.timeout("agents to reach "+version, budget, last)
}

// Deploy deploys a charm into the environment.
func (c *Client) Deploy(ctx context.Context, charm string) error {
	return c.Juju(ctx, "deploy", charm)
}

// WaitForStarted waits until every machine and unit agent has started.
func (c *Client) WaitForStarted(ctx context.Context, budget int) (*domain.Status, error) {
	var last error
	for range c.poller.Until(budget) {
		status, err := c.Status(ctx)
		if err != nil {
			last = err
			continue
		}
		started, err := CheckAgentsStarted(status)
		if err != nil {
			return status, err
		}
		if started {
			return status, nil
		}
		last = fmt.Errorf("agent states: %v", AgentStates(status))
	}
	return nil, c.timeout("agents to start", budget, last)
}

// EnableHA asks for three controller members.
func (c *Client) EnableHA(ctx context.Context) error {
	return c.Juju(ctx, "ensure-availability", "-n", fmt.Sprint(haMembers))
}

// WaitForHA waits until all controller members have a vote.
func (c *Client) WaitForHA(ctx context.Context, budget int) error {
	var last error
	for range c.poller.Until(budget) {
		status, err := c.Status(ctx)
		if err != nil {
			last = err
			continue
		}
		ready, members := HAReady(status, haMembers)
		if ready {
			return nil
		}
		last = fmt.Errorf("controller members: %v", members)
	}
	return c.timeout("voting to be enabled", budget, last)
}

// Backup creates and downloads a controller backup, returning its absolute path.
func (c *Client) Backup(ctx context.Context) (domain.BackupArtifact, error) {
	env := []string{"JUJU_ENV=" + c.cfg.Environment}
	out, err := c.runner.Run(ctx, env, c.args("backups", false, "create", "--download")...)
	if err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	c.log.Info("Backup created", "output", strings.TrimSpace(out))

	match := backupFilePattern.FindStringSubmatch(out)
	if match == nil {
		return "", fmt.Errorf("the backup file was not found in output: %s", out)
	}
	path := match[1]
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.cfg.WorkDir, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve backup path: %w", err)
	}
	return domain.BackupArtifact(abs), nil
}

// RestoreBackup restores the controller from artifact.
func (c *Client) RestoreBackup(ctx context.Context, artifact domain.BackupArtifact) (string, error) {
	return c.Output(ctx, "restore-backup", "-b", "--constraints", c.cfg.Constraints, "--file", string(artifact))
}

// Bootstrap creates the environment's controller.
func (c *Client) Bootstrap(ctx context.Context, args ...string) error {
	all := append([]string{"--constraints", c.cfg.Constraints}, args...)
	return c.Juju(ctx, "bootstrap", all...)
}

// Destroy tears the environment down.
func (c *Client) Destroy(ctx context.Context) error {
	_, err := c.runner.Run(ctx, nil, c.args("destroy-environment", false, c.cfg.Environment, "--force", "-y")...)
	return err
}

func (c *Client) timeout(what string, budget int, last error) error {
	err := &domain.TimeoutError{What: what + " in " + c.cfg.Environment, Attempts: budget}
	var cmdErr *domain.CommandError
	switch {
	case errors.As(last, &cmdErr) && cmdErr.Stderr != "":
		err.Last = cmdErr.Stderr
	case last != nil:
		err.Last = last.Error()
	}
	return err
}

func versionList(versions map[string][]string) string {
	return strings.Join(slices.Sorted(maps.Keys(versions)), ", ")
}
