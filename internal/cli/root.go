// Package cli implements the relayq command line interface.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/relayq/relayq/internal/config"
)

const version = "0.1.0-dev"

var (
	cfgFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "relayq",
	Short: "A webhook event delivery service",
	Long: `RelayQ captures application events and delivers them to subscriber
webhooks with HMAC-signed requests, automatic retries with exponential
backoff, per-webhook rate limiting, and full delivery history.

Start the service:
  relayq serve

Initialize a starter config:
  relayq init`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(nil)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./relayq.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

// setupLogging configures the global logger. Called once with nil config
// before flags are parsed, and again with the loaded config.
func setupLogging(cfg *config.LoggingConfig) {
	level := zerolog.InfoLevel
	format := config.DefaultLogFormat
	withTimestamp := true

	if cfg != nil {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
		format = cfg.Format
		withTimestamp = cfg.Timestamp
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if format == "json" {
		logger = zerolog.New(os.Stderr)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	ctx := logger.With()
	if withTimestamp {
		ctx = ctx.Timestamp()
	}
	if cfg != nil && cfg.Caller {
		ctx = ctx.Caller()
	}
	log.Logger = ctx.Logger()
}

// Version returns the version string.
func Version() string {
	return fmt.Sprintf("relayq version %s", version)
}
