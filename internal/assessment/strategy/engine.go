// Package strategy drives a cluster through a recovery strategy: it deploys
// a workload, optionally enables HA and takes a backup, kills the primary
// controller and verifies that the cluster recovers.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/vietddude/drcheck/internal/assessment/classify"
	"github.com/vietddude/drcheck/internal/assessment/inspect"
	"github.com/vietddude/drcheck/internal/assessment/lifecycle"
	"github.com/vietddude/drcheck/internal/assessment/metrics"
	"github.com/vietddude/drcheck/internal/assessment/report"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
	"github.com/vietddude/drcheck/internal/infra/substrate"
)

// ClusterClient is a session against one environment.
type ClusterClient interface {
	Environment() string
	AgentVersion(ctx context.Context) (string, error)
	Status(ctx context.Context) (*domain.Status, error)
	WaitForStatus(ctx context.Context, budget int) (*domain.Status, error)
	UpgradeAgents(ctx context.Context, version string) error
	WaitForVersion(ctx context.Context, version string, budget int) error
	Deploy(ctx context.Context, charm string) error
	WaitForStarted(ctx context.Context, budget int) (*domain.Status, error)
	EnableHA(ctx context.Context) error
	WaitForHA(ctx context.Context, budget int) error
	Backup(ctx context.Context) (domain.BackupArtifact, error)
	RestoreBackup(ctx context.Context, artifact domain.BackupArtifact) (string, error)
}

// RestoreClientFunc opens a session for the environment a restore rebuilds.
type RestoreClientFunc func(ctx context.Context, env string) (ClusterClient, error)

// Lifecycle terminates instances and waits for them to go away.
type Lifecycle interface {
	Terminate(ctx context.Context, env substrate.Environment, instanceIDs []string) error
	WaitForShutdown(ctx context.Context, host string, cluster lifecycle.Cluster, instanceID string, budget int) error
}

// HostResolver maps an instance id to an address.
type HostResolver interface {
	ResolveInstance(ctx context.Context, instanceID string) (string, error)
}

// Budgets are wait budgets in poll attempts.
type Budgets struct {
	VersionSettle  int
	VersionUpgrade int
	Started        int
	HA             int
	HARecovery     int
	RestoreStarted int
	Shutdown       int
	DNSName        int
}

// DefaultBudgets returns the budgets used when none are configured.
func DefaultBudgets() Budgets {
	return Budgets{
		VersionSettle:  30,
		VersionUpgrade: 300,
		Started:        1200,
		HA:             1200,
		HARecovery:     600,
		RestoreStarted: 600,
		Shutdown:       60,
		DNSName:        300,
	}
}

// Config holds engine settings.
type Config struct {
	CharmPrefix   string
	Charm         string
	RestoreSuffix string
	Budgets       Budgets
}

// Deps are the collaborators of an Engine. Resolver and Recorder are
// optional.
type Deps struct {
	Client        ClusterClient
	RestoreClient RestoreClientFunc
	Lifecycle     Lifecycle
	Resolver      HostResolver
	Hosts         *domain.KnownHosts
	Poller        poll.Poller
	Recorder      *report.Recorder
	Out           io.Writer
}

// Engine runs one assessment. It is not safe for concurrent use.
type Engine struct {
	deps    Deps
	cfg     Config
	current ClusterClient
	state   State
	log     *slog.Logger
}

// New creates an Engine.
func New(deps Deps, cfg Config) *Engine {
	if cfg.Charm == "" {
		cfg.Charm = "ubuntu"
	}
	if cfg.RestoreSuffix == "" {
		cfg.RestoreSuffix = "-restore"
	}
	if cfg.Budgets == (Budgets{}) {
		cfg.Budgets = DefaultBudgets()
	}
	if deps.Out == nil {
		deps.Out = io.Discard
	}
	if deps.Hosts == nil {
		deps.Hosts = domain.NewKnownHosts()
	}
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		current: deps.Client,
		state:   StateIdle,
		log:     slog.Default().With("env", deps.Client.Environment()),
	}
}

// State returns the current state of the machine.
func (e *Engine) State() State {
	return e.state
}

// Run executes kind against the cluster. On failure it re-derives the
// primary controller address from the error before returning the error
// unchanged, so teardown can reach the right host.
func (e *Engine) Run(ctx context.Context, kind domain.StrategyKind) (err error) {
	e.log.Info("Starting assessment", "strategy", kind)

	defer func() {
		if err != nil {
			e.state = StateFailed
			e.repair(ctx, err)
		} else {
			e.state = StateDone
		}
		e.deps.Recorder.Finish(ctx, err)
	}()

	var primary string
	if err := e.step(ctx, StateDeploying, func() (err error) {
		primary, err = e.deploy(ctx)
		return err
	}); err != nil {
		return err
	}

	if kind.UsesHA() {
		if err := e.step(ctx, StateHAEnabling, func() error {
			return e.enableHA(ctx)
		}); err != nil {
			return err
		}
	}

	var artifact domain.BackupArtifact
	if kind.UsesBackup() {
		if err := e.step(ctx, StateBackingUp, func() (err error) {
			artifact, err = e.current.Backup(ctx)
			return err
		}); err != nil {
			return err
		}
		if err := e.step(ctx, StateRestoreRejectedCheck, func() error {
			return e.restorePresentController(ctx, artifact)
		}); err != nil {
			return err
		}
	}

	if kind == domain.StrategyHABackup {
		if err := e.step(ctx, StateRemovingExtraMembers, func() error {
			return e.deleteExtraMembers(ctx, primary)
		}); err != nil {
			return err
		}
	}

	if err := e.step(ctx, StateTerminatingPrimary, func() error {
		if err := e.deps.Lifecycle.Terminate(ctx, e.substrateEnv(), []string{primary}); err != nil {
			return err
		}
		metrics.InstancesTerminated.WithLabelValues("primary").Inc()
		return nil
	}); err != nil {
		return err
	}

	if err := e.step(ctx, StateAwaitingShutdown, func() error {
		return e.awaitPrimaryShutdown(ctx, primary)
	}); err != nil {
		return err
	}

	if !kind.UsesBackup() {
		return e.step(ctx, StateHARevalidation, func() error {
			_, err := e.current.WaitForStatus(ctx, e.cfg.Budgets.HARecovery)
			return err
		})
	}
	return e.step(ctx, StateRestoring, func() error {
		return e.restoreMissingController(ctx, artifact)
	})
}

func (e *Engine) step(ctx context.Context, to State, fn func() error) error {
	if !CanTransition(e.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.state, to)
	}
	e.log.Debug("Entering state", "from", e.state, "to", to)
	e.state = to
	return e.deps.Recorder.Step(ctx, string(to), fn)
}

// deploy brings the environment to a single agent version, deploys the
// workload and returns the instance id of machine 0.
func (e *Engine) deploy(ctx context.Context) (string, error) {
	client := e.current
	expected, err := client.AgentVersion(ctx)
	if err != nil {
		return "", err
	}

	status, err := client.Status(ctx)
	if err != nil {
		return "", err
	}
	machine, ok := status.Machines["0"]
	if !ok || machine.InstanceID == "" {
		return "", errors.New("machine 0 has no instance id")
	}
	primary := machine.InstanceID
	e.deps.Recorder.SetPrimary(primary)
	e.log.Info("Recorded primary controller", "instance", primary)

	inspector := inspect.New(client, e.deps.Poller)
	versions, _ := inspector.SettleAgentVersions(ctx, e.cfg.Budgets.VersionSettle)
	if !slices.Equal(slices.Collect(maps.Keys(versions)), []string{expected}) {
		current := slices.Sorted(maps.Keys(versions))
		fmt.Fprintf(e.deps.Out, "Current versions: %s\n", strings.Join(current, ", "))
		if err := client.UpgradeAgents(ctx, expected); err != nil {
			return "", err
		}
	}
	if err := client.WaitForVersion(ctx, expected, e.cfg.Budgets.VersionUpgrade); err != nil {
		return "", err
	}

	if err := client.Deploy(ctx, e.charmURL()); err != nil {
		return "", err
	}
	if _, err := client.WaitForStarted(ctx, e.cfg.Budgets.Started); err != nil {
		return "", err
	}

	if _, known := e.deps.Hosts.Get(domain.PrimarySlot); !known {
		host, err := inspector.MachineDNSName(ctx, "0", e.cfg.Budgets.DNSName)
		if err != nil {
			return "", err
		}
		e.deps.Hosts.Set(domain.PrimarySlot, host)
	}

	fmt.Fprintf(e.deps.Out, "%s is ready to testing\n", client.Environment())
	return primary, nil
}

func (e *Engine) charmURL() string {
	prefix := e.cfg.CharmPrefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + e.cfg.Charm
}

func (e *Engine) enableHA(ctx context.Context) error {
	if err := e.current.EnableHA(ctx); err != nil {
		return err
	}
	return e.current.WaitForHA(ctx, e.cfg.Budgets.HA)
}

// restorePresentController restores while the controller is still up. The
// restore must be refused; accepting it is an invariant violation.
func (e *Engine) restorePresentController(ctx context.Context, artifact domain.BackupArtifact) error {
	output, restoreErr := e.current.RestoreBackup(ctx, artifact)
	outcome, err := classify.Restore(output, restoreErr)
	if err != nil {
		return err
	}
	metrics.RestoreOutcomes.WithLabelValues("live", outcome.Result.String()).Inc()

	switch outcome.Result {
	case domain.RestoreSuccess:
		return &domain.InvariantViolationError{
			Message: "juju-restore restored to an operational state-server",
			Output:  outcome.Output,
		}
	case domain.RestoreExpectedRefusal:
		fmt.Fprintln(e.deps.Out, "juju-restore correctly refused to restore because the state-server was still up.")
		e.deps.Recorder.SetRefusal(outcome.InstanceID)
		e.log.Info("Restore refused", "instance", outcome.InstanceID)
	default:
		fmt.Fprintln(e.deps.Out, "juju-restore correctly refused to restore because the state-server was still up.")
		if outcome.Diagnostic == "" {
			e.log.Warn("Restore refused without diagnostic output", "error", outcome.Err)
			return nil
		}
		fmt.Fprintln(e.deps.Out, "WARNING: Could not find the instance_id in output:")
		fmt.Fprintln(e.deps.Out, outcome.Diagnostic)
		fmt.Fprintln(e.deps.Out)
	}
	return nil
}

// deleteExtraMembers kills every controller member other than the primary.
func (e *Engine) deleteExtraMembers(ctx context.Context, primary string) error {
	status, err := e.current.Status(ctx)
	if err != nil {
		return err
	}
	inspector := inspect.New(e.current, e.deps.Poller)
	for _, member := range extraMembers(status, primary) {
		fmt.Fprintf(e.deps.Out, "Deleting state-server-member %s\n", member.MachineID)
		host, err := inspector.MachineDNSName(ctx, member.MachineID, e.cfg.Budgets.DNSName)
		if err != nil {
			return err
		}
		if err := e.deps.Lifecycle.Terminate(ctx, e.substrateEnv(), []string{member.InstanceID}); err != nil {
			return err
		}
		metrics.InstancesTerminated.WithLabelValues("member").Inc()
		if err := e.deps.Lifecycle.WaitForShutdown(ctx, host, e.current, member.InstanceID, e.cfg.Budgets.Shutdown); err != nil {
			return err
		}
	}
	return nil
}

// extraMembers returns the controller members other than primary, in
// machine-id order. Members with an unknown status are included.
func extraMembers(status *domain.Status, primary string) []domain.MemberStatus {
	var extra []domain.MemberStatus
	for machine, info := range inspect.Machines(status) {
		m := inspect.Member(machine, info)
		if m.Membership == domain.MembershipAbsent || m.InstanceID == primary {
			continue
		}
		extra = append(extra, m)
	}
	return extra
}

func (e *Engine) awaitPrimaryShutdown(ctx context.Context, primary string) error {
	host, ok := e.deps.Hosts.Get(domain.PrimarySlot)
	if !ok {
		return fmt.Errorf("no known host for primary controller %s", primary)
	}
	if err := e.deps.Lifecycle.WaitForShutdown(ctx, host, e.current, primary, e.cfg.Budgets.Shutdown); err != nil {
		return err
	}
	e.deps.Hosts.Delete(domain.PrimarySlot)
	return nil
}

// restoreMissingController rebuilds the controller from artifact in a new
// session. Restore errors are fatal.
func (e *Engine) restoreMissingController(ctx context.Context, artifact domain.BackupArtifact) error {
	client, err := e.deps.RestoreClient(ctx, e.current.Environment()+e.cfg.RestoreSuffix)
	if err != nil {
		return err
	}
	e.current = client

	fmt.Fprintln(e.deps.Out, "Starting restore.")
	output, err := client.RestoreBackup(ctx, artifact)
	if err != nil {
		metrics.RestoreOutcomes.WithLabelValues("missing", domain.RestoreUnexpectedFailure.String()).Inc()
		fmt.Fprintln(e.deps.Out, "Call of juju restore exited with an error")
		fmt.Fprintln(e.deps.Out)
		var cmdErr *domain.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.Stderr == "" {
			return &domain.RestoreFailedError{Err: err}
		}
		fmt.Fprintf(e.deps.Out, "Restore failed: \n%s\n", cmdErr.Stderr)
		fmt.Fprintln(e.deps.Out)
		return &domain.RestoreFailedError{Stderr: cmdErr.Stderr, Err: err}
	}
	metrics.RestoreOutcomes.WithLabelValues("missing", domain.RestoreSuccess.String()).Inc()

	fmt.Fprintln(e.deps.Out, output)
	if _, err := client.WaitForStarted(ctx, e.cfg.Budgets.RestoreStarted); err != nil {
		return err
	}
	fmt.Fprintf(e.deps.Out, "%s restored\n", client.Environment())
	fmt.Fprintln(e.deps.Out, "PASS")
	return nil
}

// repair stores a best-effort primary address derived from err. The
// address comes from the last ssh target the restore tool printed, or
// else from resolving the instance id embedded in the diagnostic text.
func (e *Engine) repair(ctx context.Context, err error) {
	d := classify.Diagnose(err)
	if !d.HasText {
		e.log.Debug("No diagnostic text to repair known hosts from", "error", err)
		return
	}

	host := classify.ConnectTarget(d.Text)
	if host == "" && d.Found() {
		host = e.resolve(ctx, d.InstanceID)
	}
	if host == "" {
		e.log.Warn("Could not derive controller address from error", "error", err)
		return
	}
	e.deps.Hosts.Set(domain.PrimarySlot, host)
	e.log.Info("Repaired primary controller address", "host", host)
}

func (e *Engine) resolve(ctx context.Context, instanceID string) string {
	resolvers := []HostResolver{inspect.New(e.current, e.deps.Poller)}
	if e.deps.Resolver != nil {
		resolvers = append(resolvers, e.deps.Resolver)
	}
	for _, r := range resolvers {
		host, err := r.ResolveInstance(ctx, instanceID)
		if err == nil && host != "" {
			return host
		}
		e.log.Debug("Resolver failed", "instance", instanceID, "error", err)
	}
	return ""
}

func (e *Engine) substrateEnv() substrate.Environment {
	return substrate.Environment{Name: e.current.Environment()}
}
