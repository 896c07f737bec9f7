package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/errors"
	"github.com/anstrom/portscout/internal/profiles"
)

// DatabaseOperation represents a function that operates on a database connection.
type DatabaseOperation func(*db.DB) error

// connectDatabase is swapped out in tests.
var connectDatabase = db.Connect

// withDatabase executes the given operation with a database connection.
// It handles connection setup and cleanup, returning any errors that occur.
func withDatabase(ctx context.Context, cfg *config.Config, operation DatabaseOperation) error {
	if !cfg.Database.IsConfigured() {
		return errors.NewConfigFieldError(errors.CodeConfiguration,
			"database is not configured (set database.database and database.username)", "database", nil)
	}

	database, err := connectDatabase(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("error connecting to database: %w", err)
	}

	defer func() {
		if closeErr := database.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close database connection: %v\n", closeErr)
		}
	}()

	return operation(database)
}

// withProfiles runs operation against a profile manager backed by the
// database.
func withProfiles(ctx context.Context, cfg *config.Config, operation func(*profiles.Manager) error) error {
	return withDatabase(ctx, cfg, func(database *db.DB) error {
		return operation(profiles.NewManager(db.NewProfileRepository(database)))
	})
}
