// Package report records assessment runs and their steps.
package report

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/drcheck/internal/assessment/metrics"
	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/infra/storage"
)

// Recorder tracks one run. A nil *Recorder is valid and records nothing.
// Storage failures are logged and never fail the assessment.
type Recorder struct {
	repo storage.RunRepository
	run  *domain.Run
	seq  int
	now  func() time.Time
	log  *slog.Logger
}

// Start creates and stores a new running record.
func Start(ctx context.Context, repo storage.RunRepository, env string, kind domain.StrategyKind) *Recorder {
	r := &Recorder{
		repo: repo,
		now:  time.Now,
		log:  slog.Default(),
	}
	r.run = &domain.Run{
		ID:          uuid.NewString(),
		Environment: env,
		Strategy:    kind,
		Result:      domain.RunResultRunning,
		StartedAt:   r.now(),
	}
	r.log = r.log.With("run", r.run.ID)
	if repo != nil {
		if err := repo.Create(ctx, r.run); err != nil {
			r.log.Warn("Failed to store run", "error", err)
		}
	}
	return r
}

// Run returns the record being built.
func (r *Recorder) Run() *domain.Run {
	if r == nil {
		return nil
	}
	return r.run
}

// ID returns the run id, or "" for a nil recorder.
func (r *Recorder) ID() string {
	if r == nil {
		return ""
	}
	return r.run.ID
}

// Step runs fn as the named step and records its timing and error.
func (r *Recorder) Step(ctx context.Context, name string, fn func() error) error {
	if r == nil {
		return fn()
	}

	r.seq++
	step := domain.Step{RunID: r.run.ID, Seq: r.seq, Name: name, StartedAt: r.now()}
	r.log.Debug("Step started", "step", name)

	err := fn()

	step.FinishedAt = r.now()
	if err != nil {
		step.Error = err.Error()
	}
	r.run.Steps = append(r.run.Steps, step)
	metrics.StepDuration.WithLabelValues(r.run.Strategy.String(), name).Observe(step.Duration().Seconds())

	if r.repo != nil {
		if serr := r.repo.AddStep(ctx, step); serr != nil {
			r.log.Warn("Failed to store step", "step", name, "error", serr)
		}
	}
	return err
}

// SetPrimary records the primary controller instance id.
func (r *Recorder) SetPrimary(instanceID string) {
	if r == nil {
		return
	}
	r.run.PrimaryInstanceID = instanceID
}

// SetRefusal records the instance id named by the refused restore.
func (r *Recorder) SetRefusal(instanceID string) {
	if r == nil {
		return
	}
	r.run.RefusalInstanceID = instanceID
}

// Finish marks the run passed or failed and stores the result.
func (r *Recorder) Finish(ctx context.Context, err error) {
	if r == nil {
		return
	}
	finished := r.now()
	r.run.FinishedAt = &finished
	r.run.Result = domain.RunResultPass
	if err != nil {
		r.run.Result = domain.RunResultFail
		r.run.Error = err.Error()
	}
	metrics.RunsTotal.WithLabelValues(r.run.Strategy.String(), string(r.run.Result)).Inc()

	if r.repo != nil {
		if serr := r.repo.Update(ctx, r.run); serr != nil {
			r.log.Warn("Failed to store run result", "error", serr)
		}
	}
	r.log.Info("Run finished", "result", r.run.Result, "steps", len(r.run.Steps))
}
