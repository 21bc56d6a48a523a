// Package lifecycle kills controller instances and waits for the cluster to
// notice they are gone.
package lifecycle

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/vietddude/drcheck/internal/assessment/metrics"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/core/poll"
	"github.com/vietddude/drcheck/internal/infra/substrate"
)

// Cluster identifies the environment an instance belongs to.
type Cluster interface {
	Environment() string
}

// Prober reports whether a TCP port accepts connections.
type Prober interface {
	PortOpen(ctx context.Context, host string, port int) bool
}

// DialProber probes ports with a plain TCP dial.
type DialProber struct {
	Timeout time.Duration
}

// PortOpen implements Prober.
func (p DialProber) PortOpen(ctx context.Context, host string, port int) bool {
	timeout := p.Timeout
	if timeout == 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Config holds lifecycle settings.
type Config struct {
	APIPort       int // controller API port that must close
	RemovalBudget int // attempts for the substrate to stop listing the instance
}

// Controller terminates instances through a substrate.
type Controller struct {
	substrate substrate.Substrate
	prober    Prober
	poller    poll.Poller
	cfg       Config
	out       io.Writer
	log       *slog.Logger
}

// New creates a Controller. Progress lines are written to out.
func New(sub substrate.Substrate, prober Prober, poller poll.Poller, cfg Config, out io.Writer) *Controller {
	if cfg.APIPort == 0 {
		cfg.APIPort = 17070
	}
	if cfg.RemovalBudget == 0 {
		cfg.RemovalBudget = 300
	}
	return &Controller{
		substrate: sub,
		prober:    prober,
		poller:    poller,
		cfg:       cfg,
		out:       out,
		log:       slog.Default(),
	}
}

// Terminate asks the substrate to kill instanceIDs. Substrate errors are
// returned unchanged in the chain.
func (c *Controller) Terminate(ctx context.Context, env substrate.Environment, instanceIDs []string) error {
	fmt.Fprintln(c.out, "Instrumenting a bootstrap node failure.")
	if err := c.substrate.Terminate(ctx, env, instanceIDs); err != nil {
		return fmt.Errorf("failed to terminate %v: %w", instanceIDs, err)
	}
	c.log.Info("Terminated instances", "env", env.Name, "instances", instanceIDs)
	return nil
}

// WaitForShutdown waits until the controller API on host stops answering
// and, when the substrate can list instances, until instanceID is no longer
// running. It returns a *domain.TimeoutError naming host and instance when
// the budget runs out.
func (c *Controller) WaitForShutdown(ctx context.Context, host string, cluster Cluster, instanceID string, budget int) error {
	fmt.Fprintf(c.out, "Waiting for port to close on %s\n", host)

	attempts, closed, _ := c.poller.Check(budget, func(int) (bool, error) {
		return !c.prober.PortOpen(ctx, host, c.cfg.APIPort), nil
	})
	metrics.PollAttempts.WithLabelValues("port_close").Add(float64(attempts))
	if !closed {
		return &domain.TimeoutError{
			What:       fmt.Sprintf("port %d to close", c.cfg.APIPort),
			Host:       host,
			InstanceID: instanceID,
			Attempts:   attempts,
		}
	}
	fmt.Fprintln(c.out, "Closed.")

	lister, ok := c.substrate.(substrate.Lister)
	if !ok {
		return nil
	}

	env := substrate.Environment{Name: cluster.Environment()}
	var last error
	attempts, gone, _ := c.poller.Check(c.cfg.RemovalBudget, func(int) (bool, error) {
		running, err := lister.InstanceRunning(ctx, env, instanceID)
		if err != nil {
			last = err
			return false, nil
		}
		return !running, nil
	})
	metrics.PollAttempts.WithLabelValues("instance_removal").Add(float64(attempts))
	if !gone {
		timeout := &domain.TimeoutError{
			What:       "instance to be removed",
			Host:       host,
			InstanceID: instanceID,
			Attempts:   attempts,
		}
		if last != nil {
			timeout.Last = last.Error()
		}
		return timeout
	}
	fmt.Fprintf(c.out, "%s was removed from the substrate\n", instanceID)
	return nil
}
