// Package cli provides the cobra command tree for portscout: one-shot scans,
// the interactive menu, profile and scan history management, migrations and
// the API server.
package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/anstrom/portscout/internal/config"
	"github.com/anstrom/portscout/internal/logging"
)

const (
	envPrefix         = "PORTSCOUT"
	defaultConfigFile = "config.yaml"
)

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// errSilentExit marks failures whose message has already been printed.
var errSilentExit = stderrors.New("exit")

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "portscout",
	Short: "Concurrent TCP connect port scanner",
	Long: `portscout resolves a target, probes a set of TCP ports concurrently,
grabs banners from open ports and prints a compact summary. Results can be
written as JSON artifacts or stored in PostgreSQL, and named profiles make
repeated scans a single command.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !stderrors.Is(err, errSilentExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	configureEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	initLogging()
}

// configureEnv maps config keys such as database.host onto PORTSCOUT_DATABASE_HOST.
func configureEnv() {
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// getConfigFilePath returns the config file in effect.
func getConfigFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return defaultConfigFile
}

// loadConfig loads the config file and layers PORTSCOUT_* environment
// overrides on top.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides copies the keys viper can see from the environment into
// cfg. Only keys that are commonly set per deployment are covered.
func applyEnvOverrides(cfg *config.Config) {
	for _, key := range []string{
		"database.host", "database.port", "database.database", "database.username",
		"database.password", "database.ssl_mode", "api.host", "api.port",
		"logging.level", "logging.format", "scanning.dns_server", "scanning.output_dir",
	} {
		_ = viper.BindEnv(key)
	}

	if v := viper.GetString("database.host"); v != "" {
		cfg.Database.Host = v
	}
	if v := viper.GetInt("database.port"); v != 0 {
		cfg.Database.Port = v
	}
	if v := viper.GetString("database.database"); v != "" {
		cfg.Database.Database = v
	}
	if v := viper.GetString("database.username"); v != "" {
		cfg.Database.Username = v
	}
	if v := viper.GetString("database.password"); v != "" {
		cfg.Database.Password = v
	}
	if v := viper.GetString("database.ssl_mode"); v != "" {
		cfg.Database.SSLMode = v
	}
	if v := viper.GetString("api.host"); v != "" {
		cfg.API.Host = v
	}
	if v := viper.GetInt("api.port"); v != 0 {
		cfg.API.Port = v
	}
	if v := viper.GetString("logging.level"); v != "" {
		cfg.Logging.Level = logging.LogLevel(v)
	}
	if v := viper.GetString("logging.format"); v != "" {
		cfg.Logging.Format = logging.LogFormat(v)
	}
	if v := viper.GetString("scanning.dns_server"); v != "" {
		cfg.Scanning.DNSServer = v
	}
	if v := viper.GetString("scanning.output_dir"); v != "" {
		cfg.Scanning.OutputDir = v
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
}

// initLogging initializes structured logging based on configuration.
func initLogging() {
	cfg, err := config.Load(getConfigFilePath())
	if err != nil {
		logging.SetDefault(logging.NewDefault())
		return
	}
	applyEnvOverrides(cfg)

	logConfig := cfg.Logging
	if verbose {
		logConfig.Level = logging.LevelDebug
	}

	logger, err := logging.New(logConfig)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)

	if verbose {
		logging.Debug("Structured logging initialized", "level", logConfig.Level, "format", logConfig.Format)
	}
}
