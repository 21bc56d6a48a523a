package juju

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/drcheck/internal/assessment/inspect"
	"github.com/vietddude/drcheck/internal/core/domain"
)

// KnownHostsFile is written into the log directory on teardown.
const KnownHostsFile = "known_hosts.yaml"

// SessionConfig holds bootstrap and teardown settings.
type SessionConfig struct {
	LogDir        string
	Series        string
	AgentStream   string
	KeepEnv       bool
	BootstrapArgs []string
	DNSBudget     int
}

// Session bootstraps an environment, runs a function against it and always
// tears it down afterwards using whatever KnownHosts holds at that point.
type Session struct {
	client *Client
	hosts  *domain.KnownHosts
	cfg    SessionConfig
	log    *slog.Logger
}

// NewSession creates a bootstrap session for client.
func NewSession(client *Client, hosts *domain.KnownHosts, cfg SessionConfig) *Session {
	return &Session{
		client: client,
		hosts:  hosts,
		cfg:    cfg,
		log:    slog.Default().With("env", client.Environment()),
	}
}

// Booted bootstraps the environment, records the primary controller address
// and runs fn. Teardown runs whether bootstrap and fn succeed or not.
func (s *Session) Booted(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	// A failed bootstrap can leave a partial environment behind.
	defer func() {
		if tdErr := s.tearDown(ctx); tdErr != nil {
			s.log.Error("Teardown failed", "error", tdErr)
			err = errors.Join(err, tdErr)
		}
	}()

	if err := s.client.Bootstrap(ctx, s.bootstrapArgs()...); err != nil {
		return fmt.Errorf("failed to bootstrap %s: %w", s.client.Environment(), err)
	}

	host, err := inspect.New(s.client, s.client.poller).MachineDNSName(ctx, "0", s.cfg.DNSBudget)
	if err != nil {
		return fmt.Errorf("failed to resolve bootstrap host: %w", err)
	}
	s.hosts.Set(domain.PrimarySlot, host)
	s.log.Info("Bootstrapped", "host", host)

	return fn(ctx)
}

func (s *Session) bootstrapArgs() []string {
	args := append([]string{}, s.cfg.BootstrapArgs...)
	if s.cfg.Series != "" {
		args = append(args, "--bootstrap-series", s.cfg.Series)
	}
	if s.cfg.AgentStream != "" {
		args = append(args, "--agent-stream", s.cfg.AgentStream)
	}
	return args
}

func (s *Session) tearDown(ctx context.Context) error {
	hosts := s.hosts.Snapshot()
	if s.cfg.LogDir != "" {
		if err := writeKnownHosts(filepath.Join(s.cfg.LogDir, KnownHostsFile), hosts); err != nil {
			s.log.Warn("Failed to record known hosts", "error", err)
		}
	}
	if s.cfg.KeepEnv {
		s.log.Info("Keeping environment", "hosts", hosts)
		return nil
	}
	s.log.Info("Destroying environment", "hosts", hosts)
	return s.client.Destroy(ctx)
}

func writeKnownHosts(path string, hosts map[string]string) error {
	data, err := yaml.Marshal(hosts)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
