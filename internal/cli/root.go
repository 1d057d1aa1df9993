package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/insight/internal/config"
	"github.com/harun/insight/internal/daemon"
	"github.com/harun/insight/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "insight",
	Short: "Insight - business analytics agent",
	Long: `Insight answers business questions with a reasoning agent that queries
the sales database, searches product documents and customer conversations,
and runs Python for calculations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.insight/insight.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

// loadConfig loads the config file and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Console output goes to stderr so
// command output on stdout stays clean.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	log, err := logger.New(logger.FromSettings(cfg.Logging))
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, nil
}

// daemonOptions lets tests swap capabilities built from configuration.
var daemonOptions []daemon.Option

// bootstrap loads and validates configuration, then wires every component.
func bootstrap(ctx context.Context) (*daemon.Daemon, *logger.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	d, err := daemon.New(ctx, cfg, log, daemonOptions...)
	if err != nil {
		log.Close()
		return nil, nil, err
	}
	return d, log, nil
}
