package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/portscout/internal/api"
	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/db"
	"github.com/anstrom/portscout/internal/logging"
)

const databaseTimeout = 5 * time.Second

// Server command flags.
var (
	serverHost string
	serverPort int
)

// serverCmd represents the server command.
var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the HTTP API server",
	Long: `Serve the portscout REST API and the WebSocket progress feed in the
foreground until interrupted.

When a database is configured the server connects, runs pending migrations
and exposes scan history and profiles. Without one, scans still work but
endpoints that need storage answer 503.`,
	Example: `  portscout server
  portscout server --host 0.0.0.0 --port 8080`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	serverCmd.Flags().StringVar(&serverHost, "host", "", "Override server host")
	serverCmd.Flags().IntVar(&serverPort, "port", 0, "Override server port")
}

// connectServerDatabase is swapped out in tests.
var connectServerDatabase = db.ConnectAndMigrate

func runServer(cmd *cobra.Command, args []string) error {
	logger := logging.Default().WithComponent("server")

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	if serverHost != "" {
		cfg.API.Host = serverHost
	}
	if serverPort > 0 {
		cfg.API.Port = serverPort
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := setupServerDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if database != nil {
		defer func() {
			if closeErr := database.Close(); closeErr != nil {
				logger.Error("Failed to close database connection", "error", closeErr)
			}
		}()
	}

	return serve(ctx, cmd.OutOrStdout(), cfg, database, logger)
}

// setupServerDatabase connects and migrates when a database is configured.
// It returns nil without error when none is.
func setupServerDatabase(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*db.DB, error) {
	if !cfg.Database.IsConfigured() {
		logger.Warn("No database configured, scan history and profiles are disabled")
		return nil, nil
	}

	logger.Info("Connecting to database...", "host", cfg.Database.Host, "database", cfg.Database.Database)
	database, err := connectServerDatabase(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, databaseTimeout)
	defer cancel()
	if err := database.PingContext(pingCtx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Info("Database connection successful")
	return database, nil
}

// serve runs the API server until ctx is canceled.
func serve(ctx context.Context, out io.Writer, cfg *config.Config, database *db.DB, logger *logging.Logger) error {
	apiServer, err := api.New(cfg, database)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	address := cfg.GetAPIAddress()
	fmt.Fprintf(out, "Starting portscout API server %s\n", getVersion())
	fmt.Fprintf(out, "Listening on http://%s\n", address)
	fmt.Fprintf(out, "Health check: http://%s/api/v1/health\n", address)
	fmt.Fprintf(out, "Progress feed: ws://%s/api/v1/ws/progress\n", address)
	logger.Info("Starting portscout API server",
		"version", version,
		"commit", commit,
		"build_time", buildTime,
		"address", address)

	if err := apiServer.Start(ctx); err != nil {
		logger.Error("API server error", "error", err)
		return err
	}
	fmt.Fprintln(out, "Server stopped successfully")
	return nil
}
