package strategy

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/vietddude/drcheck/internal/assessment/lifecycle"
	"github.com/vietddude/drcheck/internal/assessment/report"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
	"github.com/vietddude/drcheck/internal/infra/storage/memory"
	"github.com/vietddude/drcheck/internal/infra/substrate"
)

type fakeClient struct {
	env        string
	version    string
	status     *domain.Status
	statusErr  error
	restoreOut string
	restoreErr error
	haErr      error
	calls      []string
	upgradedTo string
	deployed   string
}

func (f *fakeClient) Environment() string { return f.env }

func (f *fakeClient) AgentVersion(ctx context.Context) (string, error) {
	return f.version, nil
}

func (f *fakeClient) Status(ctx context.Context) (*domain.Status, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.status, nil
}

func (f *fakeClient) WaitForStatus(ctx context.Context, budget int) (*domain.Status, error) {
	f.calls = append(f.calls, "wait-for-status")
	return f.status, nil
}

func (f *fakeClient) UpgradeAgents(ctx context.Context, version string) error {
	f.calls = append(f.calls, "upgrade")
	f.upgradedTo = version
	return nil
}

func (f *fakeClient) WaitForVersion(ctx context.Context, version string, budget int) error {
	f.calls = append(f.calls, "wait-for-version")
	return nil
}

func (f *fakeClient) Deploy(ctx context.Context, charm string) error {
	f.calls = append(f.calls, "deploy")
	f.deployed = charm
	return nil
}

func (f *fakeClient) WaitForStarted(ctx context.Context, budget int) (*domain.Status, error) {
	f.calls = append(f.calls, "wait-for-started")
	return f.status, nil
}

func (f *fakeClient) EnableHA(ctx context.Context) error {
	f.calls = append(f.calls, "enable-ha")
	return nil
}

func (f *fakeClient) WaitForHA(ctx context.Context, budget int) error {
	f.calls = append(f.calls, "wait-for-ha")
	return f.haErr
}

func (f *fakeClient) Backup(ctx context.Context) (domain.BackupArtifact, error) {
	f.calls = append(f.calls, "backup")
	return "/tmp/juju-backup.tar.gz", nil
}

func (f *fakeClient) RestoreBackup(ctx context.Context, artifact domain.BackupArtifact) (string, error) {
	f.calls = append(f.calls, "restore")
	return f.restoreOut, f.restoreErr
}

type waitCall struct {
	host       string
	instanceID string
}

type fakeLifecycle struct {
	terminated []string
	waits      []waitCall
	waitErr    error
}

func (f *fakeLifecycle) Terminate(ctx context.Context, env substrate.Environment, ids []string) error {
	f.terminated = append(f.terminated, ids...)
	return nil
}

func (f *fakeLifecycle) WaitForShutdown(ctx context.Context, host string, cluster lifecycle.Cluster, instanceID string, budget int) error {
	f.waits = append(f.waits, waitCall{host: host, instanceID: instanceID})
	return f.waitErr
}

type fakeResolver map[string]string

func (f fakeResolver) ResolveInstance(ctx context.Context, instanceID string) (string, error) {
	if host, ok := f[instanceID]; ok {
		return host, nil
	}
	return "", errors.New("unknown instance")
}

func machine(instanceID, host, member string) domain.MachineInfo {
	return domain.MachineInfo{
		AgentState:              "started",
		AgentVersion:            "1.25.0",
		DNSName:                 host,
		InstanceID:              instanceID,
		StateServerMemberStatus: member,
	}
}

func singleController() *domain.Status {
	return &domain.Status{
		Machines: map[string]domain.MachineInfo{
			"0": machine("i-0", "10.0.0.1", "has-vote"),
		},
		Services: map[string]domain.ServiceInfo{
			"ubuntu": {Units: map[string]domain.UnitInfo{
				"ubuntu/0": {AgentState: "started", AgentVersion: "1.25.0"},
			}},
		},
	}
}

func refusal(id string) error {
	return &domain.CommandError{
		Args:     []string{"juju", "restore-backup"},
		ExitCode: 1,
		Stderr:   `ERROR cannot restore: a controller is already running on ["` + id + `"]`,
	}
}

type harness struct {
	client        *fakeClient
	restoreClient *fakeClient
	lifecycle     *fakeLifecycle
	hosts         *domain.KnownHosts
	out           *bytes.Buffer
	repo          *memory.RunRepo
	recorder      *report.Recorder
	restoreEnvs   []string
	hostsAtFork   []map[string]string
	resolver      HostResolver
}

func newHarness(t *testing.T, kind domain.StrategyKind) *harness {
	t.Helper()
	hosts := domain.NewKnownHosts()
	repo := memory.NewRunRepo()
	return &harness{
		client: &fakeClient{
			env:        "prod",
			version:    "1.25.0",
			status:     singleController(),
			restoreErr: refusal("i-999"),
		},
		restoreClient: &fakeClient{
			env:        "prod-restore",
			version:    "1.25.0",
			status:     singleController(),
			restoreOut: "restore complete",
		},
		lifecycle: &fakeLifecycle{},
		hosts:     hosts,
		out:       &bytes.Buffer{},
		repo:      repo,
		recorder:  report.Start(context.Background(), repo, "prod", kind),
	}
}

func (h *harness) engine(cfg Config) *Engine {
	return New(Deps{
		Client: h.client,
		RestoreClient: func(ctx context.Context, env string) (ClusterClient, error) {
			h.restoreEnvs = append(h.restoreEnvs, env)
			h.hostsAtFork = append(h.hostsAtFork, h.hosts.Snapshot())
			return h.restoreClient, nil
		},
		Lifecycle: h.lifecycle,
		Resolver:  h.resolver,
		Hosts:     h.hosts,
		Poller:    poll.Poller{Sleep: func(time.Duration) {}},
		Recorder:  h.recorder,
		Out:       h.out,
	}, cfg)
}

func lines(out *bytes.Buffer) []string {
	return strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
}

func mustRun(t *testing.T, e *Engine, kind domain.StrategyKind) {
	t.Helper()
	if err := e.Run(context.Background(), kind); err != nil {
		t.Fatalf("Run(%s) failed: %v", kind, err)
	}
}

func expectOutput(t *testing.T, out *bytes.Buffer, wants ...string) {
	t.Helper()
	for _, want := range wants {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func rejectOutput(t *testing.T, out *bytes.Buffer, unwanted ...string) {
	t.Helper()
	for _, u := range unwanted {
		if strings.Contains(out.String(), u) {
			t.Errorf("output unexpectedly contains %q:\n%s", u, out)
		}
	}
}

func expectStrings(t *testing.T, what string, got, want []string) {
	t.Helper()
	if !slices.Equal(got, want) {
		t.Errorf("%s: expected %v, got %v", what, want, got)
	}
}

func expectPrimary(t *testing.T, h *harness, want string) {
	t.Helper()
	host, ok := h.hosts.Get(domain.PrimarySlot)
	if want == "" {
		if ok {
			t.Errorf("expected no primary host, got %q", host)
		}
		return
	}
	if !ok || host != want {
		t.Errorf("expected primary host %q, got %q (present=%v)", want, host, ok)
	}
}

func TestRun_Backup(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyBackup)

	if e.State() != StateDone {
		t.Errorf("expected done, got %s", e.State())
	}
	expectStrings(t, "terminated", h.lifecycle.terminated, []string{"i-0"})
	if len(h.lifecycle.waits) != 1 || h.lifecycle.waits[0].host != "10.0.0.1" {
		t.Errorf("expected one wait on 10.0.0.1, got %+v", h.lifecycle.waits)
	}
	expectStrings(t, "restore envs", h.restoreEnvs, []string{"prod-restore"})

	expectOutput(t, h.out,
		"prod is ready to testing\n",
		"juju-restore correctly refused to restore because the state-server was still up.\n",
		"Starting restore.\nrestore complete\n",
		"prod-restore restored\n",
	)
	rejectOutput(t, h.out, "WARNING")
	all := lines(h.out)
	if last := all[len(all)-1]; last != "PASS" {
		t.Errorf("expected PASS as last line, got %q", last)
	}

	expectStrings(t, "client calls", h.client.calls, []string{"wait-for-version", "deploy", "wait-for-started", "backup", "restore"})
	expectStrings(t, "restore client calls", h.restoreClient.calls, []string{"restore", "wait-for-started"})
	if h.client.deployed != "ubuntu" {
		t.Errorf("expected ubuntu deployed, got %q", h.client.deployed)
	}

	run, err := h.repo.Get(context.Background(), h.recorder.ID())
	if err != nil {
		t.Fatalf("Get run failed: %v", err)
	}
	if run.Result != domain.RunResultPass {
		t.Errorf("expected pass, got %s", run.Result)
	}
	if run.PrimaryInstanceID != "i-0" || run.RefusalInstanceID != "i-999" {
		t.Errorf("unexpected instances primary=%q refusal=%q", run.PrimaryInstanceID, run.RefusalInstanceID)
	}
	var names []string
	for _, s := range run.Steps {
		names = append(names, s.Name)
	}
	expectStrings(t, "steps", names, []string{
		"deploying", "backing-up", "restore-rejected-check",
		"terminating-primary", "awaiting-shutdown", "restoring",
	})
}

func TestRun_HA(t *testing.T) {
	h := newHarness(t, domain.StrategyHA)
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyHA)

	expectStrings(t, "terminated", h.lifecycle.terminated, []string{"i-0"})
	if len(h.restoreEnvs) != 0 {
		t.Errorf("HA run opened restore sessions %v", h.restoreEnvs)
	}
	expectStrings(t, "client calls", h.client.calls, []string{
		"wait-for-version", "deploy", "wait-for-started",
		"enable-ha", "wait-for-ha", "wait-for-status",
	})
	rejectOutput(t, h.out, "PASS")
	expectPrimary(t, h, "")
}

func TestRun_HAFailureIsFatal(t *testing.T) {
	h := newHarness(t, domain.StrategyHA)
	h.client.haErr = &domain.TimeoutError{What: "ha", Attempts: 3}
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyHA)

	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if e.State() != StateFailed {
		t.Errorf("expected failed, got %s", e.State())
	}
	if len(h.lifecycle.terminated) != 0 {
		t.Errorf("instances terminated after HA failure: %v", h.lifecycle.terminated)
	}
	if n := strings.Count(strings.Join(h.client.calls, ","), "wait-for-ha"); n != 1 {
		t.Errorf("expected one HA wait, got %d", n)
	}
}

func TestRun_PrimaryTerminatedOnce(t *testing.T) {
	for _, kind := range []domain.StrategyKind{domain.StrategyBackup, domain.StrategyHA, domain.StrategyHABackup} {
		t.Run(kind.String(), func(t *testing.T) {
			h := newHarness(t, kind)
			mustRun(t, h.engine(Config{}), kind)

			count := 0
			for _, id := range h.lifecycle.terminated {
				if id == "i-0" {
					count++
				}
			}
			if count != 1 {
				t.Errorf("expected primary terminated once, got %d", count)
			}
		})
	}
}

func TestRun_KnownHostsClearedAfterShutdown(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	mustRun(t, h.engine(Config{}), domain.StrategyBackup)

	if len(h.hostsAtFork) != 1 {
		t.Fatalf("expected one restore session, got %d", len(h.hostsAtFork))
	}
	if _, ok := h.hostsAtFork[0][domain.PrimarySlot]; ok {
		t.Error("primary host still known when restore started")
	}
	expectPrimary(t, h, "")
}

func TestRun_ShutdownTimeoutKeepsHost(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.lifecycle.waitErr = &domain.TimeoutError{What: "port 17070 to close", Host: "10.0.0.1", InstanceID: "i-0", Attempts: 60}
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyBackup)

	var timeout *domain.TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.InstanceID != "i-0" {
		t.Errorf("expected i-0, got %q", timeout.InstanceID)
	}
	expectPrimary(t, h, "10.0.0.1")
	if len(h.restoreEnvs) != 0 {
		t.Errorf("restore started after shutdown timeout: %v", h.restoreEnvs)
	}
}

func TestRun_ExtraMemberCleanup(t *testing.T) {
	h := newHarness(t, domain.StrategyHABackup)
	status := singleController()
	status.Machines["1"] = machine("i-1", "10.0.0.2", "has-vote")
	status.Machines["2"] = machine("i-2", "10.0.0.3", "")
	status.Machines["10"] = machine("i-10", "10.0.0.10", "no-vote")
	h.client.status = status
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyHABackup)

	expectStrings(t, "terminated", h.lifecycle.terminated, []string{"i-1", "i-10", "i-0"})
	if len(h.lifecycle.waits) != 3 {
		t.Fatalf("expected 3 waits, got %+v", h.lifecycle.waits)
	}
	if w := h.lifecycle.waits[0]; w.host != "10.0.0.2" || w.instanceID != "i-1" {
		t.Errorf("unexpected first wait %+v", w)
	}
	if w := h.lifecycle.waits[1]; w.host != "10.0.0.10" {
		t.Errorf("unexpected second wait %+v", w)
	}

	expectOutput(t, h.out,
		"Deleting state-server-member 1\n",
		"Deleting state-server-member 10\n",
		"PASS",
	)
	rejectOutput(t, h.out,
		"Deleting state-server-member 2\n",
		"Deleting state-server-member 0\n",
	)
}

func TestRun_LiveRestoreSucceeds(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.client.restoreErr = nil
	h.client.restoreOut = "restored to running controller"
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyBackup)

	var violation *domain.InvariantViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected InvariantViolationError, got %v", err)
	}
	if violation.Output != "restored to running controller" {
		t.Errorf("unexpected violation output %q", violation.Output)
	}
	if len(h.lifecycle.terminated) != 0 {
		t.Errorf("instances terminated: %v", h.lifecycle.terminated)
	}
	rejectOutput(t, h.out, "PASS")
	expectPrimary(t, h, "10.0.0.1")

	run, err := h.repo.Get(context.Background(), h.recorder.ID())
	if err != nil {
		t.Fatalf("Get run failed: %v", err)
	}
	if run.Result != domain.RunResultFail {
		t.Errorf("expected fail, got %s", run.Result)
	}
}

func TestRun_RefusalWithoutInstanceID(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.client.restoreErr = &domain.CommandError{ExitCode: 1, Stderr: "ERROR something else went wrong"}
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyBackup)

	expectOutput(t, h.out,
		"juju-restore correctly refused",
		"WARNING: Could not find the instance_id in output:\nERROR something else went wrong\n\n",
	)
	if id := h.recorder.Run().RefusalInstanceID; id != "" {
		t.Errorf("expected no refusal instance, got %q", id)
	}
}

func TestRun_RefusalWithoutStderr(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.client.restoreErr = &domain.CommandError{ExitCode: 1}
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyBackup)

	expectOutput(t, h.out, "juju-restore correctly refused")
	rejectOutput(t, h.out, "WARNING")
}

func TestRun_LiveRestoreNonCommandError(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	missing := errors.New("exec: \"juju\": executable file not found in $PATH")
	h.client.restoreErr = missing
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyBackup)

	if !errors.Is(err, missing) {
		t.Errorf("expected exec error, got %v", err)
	}
	if len(h.lifecycle.terminated) != 0 {
		t.Errorf("instances terminated: %v", h.lifecycle.terminated)
	}
}

func TestRun_RestoreFailureRepairsKnownHosts(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.restoreClient.restoreOut = ""
	h.restoreClient.restoreErr = &domain.CommandError{
		ExitCode: 1,
		Stderr:   `ERROR replacement controller ["i-777"] did not come up`,
	}
	h.restoreClient.status = &domain.Status{Machines: map[string]domain.MachineInfo{
		"0": machine("i-777", "10.0.0.77", "has-vote"),
	}}
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyBackup)

	var failed *domain.RestoreFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected RestoreFailedError, got %v", err)
	}
	var cmdErr *domain.CommandError
	if !errors.As(err, &cmdErr) {
		t.Errorf("expected CommandError cause, got %v", err)
	}
	if !strings.Contains(failed.Stderr, `["i-777"]`) {
		t.Errorf("unexpected stderr %q", failed.Stderr)
	}

	expectPrimary(t, h, "10.0.0.77")
	expectOutput(t, h.out,
		"Call of juju restore exited with an error\n",
		"Restore failed: \n",
	)
	rejectOutput(t, h.out, "PASS")
}

func TestRun_RestoreFailureUsesConnectTarget(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.restoreClient.restoreErr = &domain.CommandError{
		ExitCode: 1,
		Stderr: "Attempting to connect to 10.1.1.1:22\n" +
			"Attempting to connect to 10.2.2.2:22\n" +
			`ERROR ["i-777"]`,
	}
	e := h.engine(Config{})

	if err := e.Run(context.Background(), domain.StrategyBackup); err == nil {
		t.Fatal("expected restore failure")
	}

	expectPrimary(t, h, "10.2.2.2")
}

func TestRun_RepairFallsBackToResolver(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.restoreClient.restoreErr = &domain.CommandError{ExitCode: 1, Stderr: `ERROR ["i-777"]`}
	h.restoreClient.statusErr = errors.New("no controller")
	h.resolver = fakeResolver{"i-777": "ec2-1-2-3-4.compute.amazonaws.com"}
	e := h.engine(Config{})

	if err := e.Run(context.Background(), domain.StrategyBackup); err == nil {
		t.Fatal("expected restore failure")
	}

	expectPrimary(t, h, "ec2-1-2-3-4.compute.amazonaws.com")
}

func TestRun_RestoreFailureWithoutStderr(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	cause := errors.New("signal: killed")
	h.restoreClient.restoreErr = cause
	e := h.engine(Config{})

	err := e.Run(context.Background(), domain.StrategyBackup)

	var failed *domain.RestoreFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected RestoreFailedError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause preserved, got %v", err)
	}
	if failed.Stderr != "" {
		t.Errorf("expected empty stderr, got %q", failed.Stderr)
	}
	expectPrimary(t, h, "")
}

func TestRun_UpgradesSkewedAgents(t *testing.T) {
	h := newHarness(t, domain.StrategyHA)
	h.client.status.Services["ubuntu"].Units["ubuntu/0"] = domain.UnitInfo{AgentState: "started", AgentVersion: "1.24.7"}
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyHA)

	expectOutput(t, h.out, "Current versions: 1.24.7, 1.25.0\n")
	if h.client.upgradedTo != "1.25.0" {
		t.Errorf("expected upgrade to 1.25.0, got %q", h.client.upgradedTo)
	}
	if h.client.calls[0] != "upgrade" {
		t.Errorf("expected upgrade first, got %v", h.client.calls)
	}
}

func TestRun_KnownPrimaryHostIsKept(t *testing.T) {
	h := newHarness(t, domain.StrategyHA)
	h.hosts.Set(domain.PrimarySlot, "bootstrap.example.com")
	e := h.engine(Config{})

	mustRun(t, e, domain.StrategyHA)

	if len(h.lifecycle.waits) != 1 || h.lifecycle.waits[0].host != "bootstrap.example.com" {
		t.Errorf("expected one wait on bootstrap.example.com, got %+v", h.lifecycle.waits)
	}
}

func TestRun_MissingPrimaryMachine(t *testing.T) {
	h := newHarness(t, domain.StrategyBackup)
	h.client.status = &domain.Status{Machines: map[string]domain.MachineInfo{}}
	e := h.engine(Config{})

	if err := e.Run(context.Background(), domain.StrategyBackup); err == nil {
		t.Fatal("expected error without machine 0")
	}
	if e.State() != StateFailed {
		t.Errorf("expected failed, got %s", e.State())
	}
	if len(h.lifecycle.terminated) != 0 {
		t.Errorf("instances terminated: %v", h.lifecycle.terminated)
	}
}

func TestCharmURL(t *testing.T) {
	tests := []struct {
		prefix, want string
	}{
		{"", "ubuntu"},
		{"cs:~user", "cs:~user/ubuntu"},
		{"local:trusty/", "local:trusty/ubuntu"},
	}
	for _, tt := range tests {
		e := New(Deps{Client: &fakeClient{env: "prod"}}, Config{CharmPrefix: tt.prefix})
		if got := e.charmURL(); got != tt.want {
			t.Errorf("charmURL(%q) = %q, want %q", tt.prefix, got, tt.want)
		}
	}
}

func TestExtraMembers(t *testing.T) {
	status := singleController()
	status.Machines["1"] = machine("i-1", "10.0.0.2", "has-vote")
	status.Machines["2"] = machine("i-2", "10.0.0.3", "")
	status.Machines["3"] = machine("i-3", "10.0.0.4", "unknown")

	extra := extraMembers(status, "i-0")

	if len(extra) != 2 {
		t.Fatalf("expected 2 extra members, got %+v", extra)
	}
	if extra[0].MachineID != "1" || extra[0].Membership != domain.MembershipPresent {
		t.Errorf("unexpected first member %+v", extra[0])
	}
	if extra[1].MachineID != "3" || extra[1].Membership != domain.MembershipUnknown {
		t.Errorf("unexpected second member %+v", extra[1])
	}
	if got := extraMembers(singleController(), "i-0"); len(got) != 0 {
		t.Errorf("single controller has extra members %+v", got)
	}
}
