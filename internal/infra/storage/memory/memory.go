package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/vietddude/drcheck/internal/core/domain"
	"github.com/vietddude/drcheck/internal/infra/storage"
)

// RunRepo keeps run history in process memory.
type RunRepo struct {
	runs  map[string]*domain.Run
	order []string
	mu    sync.RWMutex
}

func NewRunRepo() *RunRepo {
	return &RunRepo{runs: make(map[string]*domain.Run)}
}

func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *run
	stored.Steps = slices.Clone(run.Steps)
	r.runs[run.ID] = &stored
	r.order = append(r.order, run.ID)
	return nil
}

func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[run.ID]
	if !ok {
		return storage.ErrRunNotFound
	}
	steps := stored.Steps
	*stored = *run
	stored.Steps = steps
	return nil
}

func (r *RunRepo) AddStep(ctx context.Context, step domain.Step) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.runs[step.RunID]
	if !ok {
		return storage.ErrRunNotFound
	}
	stored.Steps = append(stored.Steps, step)
	return nil
}

func (r *RunRepo) Get(ctx context.Context, id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.runs[id]
	if !ok {
		return nil, storage.ErrRunNotFound
	}
	run := *stored
	run.Steps = slices.Clone(stored.Steps)
	return &run, nil
}

func (r *RunRepo) List(ctx context.Context, limit int) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var runs []*domain.Run
	for i := len(r.order) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) >= limit {
			break
		}
		run := *r.runs[r.order[i]]
		run.Steps = nil
		runs = append(runs, &run)
	}
	return runs, nil
}
