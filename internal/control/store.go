package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/drcheck/internal/core/config"
	"github.com/vietddude/drcheck/internal/infra/storage/memory"
	"github.com/vietddude/drcheck/internal/infra/storage/postgres"
)

// OpenStore selects PostgreSQL when a database URL is configured and
// process memory otherwise.
func OpenStore(ctx context.Context, app *config.AppConfig) (*Store, error) {
	if app.Database.URL == "" {
		slog.Info("Using Memory storage")
		return &Store{Runs: memory.NewRunRepo()}, nil
	}

	db, err := postgres.NewDB(ctx, app.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to init db: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("Using PostgreSQL storage", "driver", app.Database.Driver)
	return &Store{Runs: postgres.NewRunRepo(db), close: db.Close}, nil
}
