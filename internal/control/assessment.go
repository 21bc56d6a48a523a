package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vietddude/drcheck/internal/assessment/lifecycle"
	"github.com/vietddude/drcheck/internal/assessment/metrics"
	"github.com/vietddude/drcheck/internal/assessment/report"
	"github.com/vietddude/drcheck/internal/assessment/strategy"
	"github.com/vietddude/drcheck/internal/core/config"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
	"github.com/vietddude/drcheck/internal/infra/juju"
	redisclient "github.com/vietddude/drcheck/internal/infra/redis"
	"github.com/vietddude/drcheck/internal/infra/storage"
	"github.com/vietddude/drcheck/internal/infra/substrate"
)

// Assessment is one disaster-recovery run with all dependencies initialized.
type Assessment struct {
	cfg         Config
	client      *juju.Client
	session     *juju.Session
	engine      *strategy.Engine
	hosts       *domain.KnownHosts
	store       *Store
	redisClient *redisclient.Client
	recorder    *report.Recorder
	log         *slog.Logger
}

// Config holds the run configuration.
type Config struct {
	JujuPath        string
	Environment     string
	TempEnvironment string // environment actually bootstrapped, when set
	LogDir          string
	Strategy        domain.StrategyKind
	CharmPrefix     string
	Debug           bool
	AgentStream     string
	Series          string
	KeepEnv         bool
	App             *config.AppConfig
	Out             io.Writer
}

// EnvironmentName returns the environment the run bootstraps.
func (c Config) EnvironmentName() string {
	if c.TempEnvironment != "" {
		return c.TempEnvironment
	}
	return c.Environment
}

// NewAssessment creates an Assessment. Storage and Redis are optional and
// only used when configured.
func NewAssessment(ctx context.Context, cfg Config) (*Assessment, error) {
	if cfg.App == nil {
		return nil, errors.New("missing application config")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	app := cfg.App
	env := cfg.EnvironmentName()
	log := slog.Default().With("env", env, "strategy", cfg.Strategy)

	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	// 1. Initialize Storage
	store, err := OpenStore(ctx, app)
	if err != nil {
		return nil, err
	}

	a := &Assessment{cfg: cfg, store: store, log: log}

	// 2. Initialize Redis (lock + known hosts mirror)
	if app.Redis.URL != "" {
		a.redisClient, err = redisclient.NewClient(app.Redis)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		log.Info("Using Redis coordination")
	}

	// 3. Initialize Shared Components
	poller := poll.New(app.Timeouts.PollInterval)
	a.client = juju.NewClient(juju.Config{
		Path:        cfg.JujuPath,
		Environment: env,
		Debug:       cfg.Debug,
		Constraints: app.Juju.Constraints,
		WorkDir:     cfg.LogDir,
	}, juju.NewExecRunner(cfg.LogDir), poller)

	a.hosts = domain.NewKnownHosts()
	a.hosts.Observe(a.mirrorHosts(ctx, env))

	sub, err := substrate.New(ctx, app.Substrate)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to init substrate: %w", err)
	}
	lc := lifecycle.New(sub, lifecycle.DialProber{}, poller, lifecycle.Config{
		APIPort:       app.Juju.APIPort,
		RemovalBudget: app.Timeouts.SubstrateRemoval,
	}, cfg.Out)

	var resolver strategy.HostResolver
	if r, ok := sub.(substrate.Resolver); ok {
		resolver = r
	}

	// 4. Initialize Run
	a.recorder = report.Start(ctx, store.Runs, env, cfg.Strategy)
	a.session = juju.NewSession(a.client, a.hosts, juju.SessionConfig{
		LogDir:        cfg.LogDir,
		Series:        cfg.Series,
		AgentStream:   cfg.AgentStream,
		KeepEnv:       cfg.KeepEnv || app.Juju.KeepEnv,
		BootstrapArgs: app.Juju.BootstrapExtra,
		DNSBudget:     app.Timeouts.DNSName,
	})
	a.engine = strategy.New(strategy.Deps{
		Client: a.client,
		RestoreClient: func(ctx context.Context, env string) (strategy.ClusterClient, error) {
			return a.client.ForEnvironment(env), nil
		},
		Lifecycle: lc,
		Resolver:  resolver,
		Hosts:     a.hosts,
		Poller:    poller,
		Recorder:  a.recorder,
		Out:       cfg.Out,
	}, strategy.Config{
		CharmPrefix:   cfg.CharmPrefix,
		Charm:         app.Juju.Charm,
		RestoreSuffix: app.Juju.RestoreSuffix,
		Budgets:       Budgets(app.Timeouts),
	})

	return a, nil
}

// Budgets converts configured timeouts into engine budgets.
func Budgets(t config.TimeoutConfig) strategy.Budgets {
	return strategy.Budgets{
		VersionSettle:  t.VersionSettle,
		VersionUpgrade: t.VersionUpgrade,
		Started:        t.Started,
		HA:             t.HA,
		HARecovery:     t.HARecovery,
		RestoreStarted: t.RestoreStarted,
		Shutdown:       t.Shutdown,
		DNSName:        t.DNSName,
	}
}

// RunID returns the id of the recorded run.
func (a *Assessment) RunID() string {
	return a.recorder.ID()
}

// Run bootstraps the environment, executes the strategy and tears the
// environment down again.
func (a *Assessment) Run(ctx context.Context) (err error) {
	env := a.cfg.EnvironmentName()

	if a.redisClient != nil {
		if err := a.redisClient.AcquireLock(ctx, env, a.RunID()); err != nil {
			a.recorder.Finish(ctx, err)
			return err
		}
		defer func() {
			if rerr := a.redisClient.ReleaseLock(ctx, env, a.RunID()); rerr != nil {
				a.log.Warn("Failed to release lock", "error", rerr)
			}
		}()
	}

	defer a.writeMetrics()

	started := false
	err = a.session.Booted(ctx, func(ctx context.Context) error {
		started = true
		return a.engine.Run(ctx, a.cfg.Strategy)
	})
	if !started {
		a.recorder.Finish(ctx, err)
	}
	return err
}

// Close releases storage and Redis connections.
func (a *Assessment) Close() error {
	var errs []error
	if a.redisClient != nil {
		errs = append(errs, a.redisClient.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// mirrorHosts returns a KnownHosts observer that keeps the gauge and the
// Redis copy current.
func (a *Assessment) mirrorHosts(ctx context.Context, env string) func(map[string]string) {
	return func(hosts map[string]string) {
		metrics.KnownHosts.Set(float64(len(hosts)))
		if a.redisClient == nil {
			return
		}
		if err := a.redisClient.SaveKnownHosts(ctx, env, hosts); err != nil {
			a.log.Warn("Failed to mirror known hosts", "error", err)
		}
	}
}

func (a *Assessment) writeMetrics() {
	path := a.cfg.App.Metrics.Textfile
	if path == "" {
		return
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(a.cfg.LogDir, path)
	}
	if err := metrics.WriteTextfile(path); err != nil {
		a.log.Warn("Failed to write metrics", "error", err)
		return
	}
	a.log.Debug("Wrote metrics", "path", path)
}

// Store is the run history backend selected by configuration.
type Store struct {
	Runs  storage.RunRepository
	close func() error
}

// Close releases the backend.
func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}
