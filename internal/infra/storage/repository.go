package storage

import (
	"context"
	"errors"

	"github.com/vietddude/drcheck/internal/core/domain"
)

var (
	// ErrRunNotFound is returned when a run doesn't exist
	ErrRunNotFound = errors.New("run not found")
)

// RunRepository handles assessment run history
type RunRepository interface {
	// Create stores a new run
	Create(ctx context.Context, run *domain.Run) error

	// Update saves the result fields of an existing run
	Update(ctx context.Context, run *domain.Run) error

	// AddStep appends a finished step to a run
	AddStep(ctx context.Context, step domain.Step) error

	// Get retrieves a run and its steps
	Get(ctx context.Context, id string) (*domain.Run, error)

	// List retrieves the most recent runs, newest first, without steps
	List(ctx context.Context, limit int) ([]*domain.Run, error)
}
