package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/relayq/relayq/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Write a starter relayq.yaml",
	Long: `Write a relayq.yaml populated with the default configuration into
the given directory (default: current directory). Edit it, then start
the service with:

  relayq serve`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite an existing config file")

	rootCmd.AddCommand(initCmd)
}

// starterConfig mirrors the config file layout with yaml tags, since
// the runtime Config carries mapstructure tags only.
type starterConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Delivery struct {
		Timeout       string  `yaml:"timeout"`
		MaxAttempts   int     `yaml:"max_attempts"`
		Workers       int     `yaml:"workers"`
		BackoffBase   string  `yaml:"backoff_base"`
		BackoffFactor float64 `yaml:"backoff_factor"`
		BackoffCap    string  `yaml:"backoff_cap"`
		BackoffJitter float64 `yaml:"backoff_jitter"`
	} `yaml:"delivery"`
	Retention struct {
		Enabled  bool   `yaml:"enabled"`
		Schedule string `yaml:"schedule"`
		MaxAge   string `yaml:"max_age"`
	} `yaml:"retention"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating directory: %w", err)
		}
	}

	path := filepath.Join(dir, "relayq.yaml")
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	defaults := config.Default()

	var starter starterConfig
	starter.Server.Host = defaults.Server.Host
	starter.Server.Port = defaults.Server.Port
	starter.Database.Path = defaults.Database.Path
	starter.Delivery.Timeout = defaults.Delivery.Timeout.String()
	starter.Delivery.MaxAttempts = defaults.Delivery.MaxAttempts
	starter.Delivery.Workers = defaults.Delivery.Workers
	starter.Delivery.BackoffBase = defaults.Delivery.BackoffBase.String()
	starter.Delivery.BackoffFactor = defaults.Delivery.BackoffFactor
	starter.Delivery.BackoffCap = defaults.Delivery.BackoffCap.String()
	starter.Delivery.BackoffJitter = defaults.Delivery.BackoffJitter
	starter.Retention.Enabled = defaults.Retention.Enabled
	starter.Retention.Schedule = defaults.Retention.Schedule
	starter.Retention.MaxAge = defaults.Retention.MaxAge.String()
	starter.Logging.Level = defaults.Logging.Level
	starter.Logging.Format = defaults.Logging.Format

	data, err := yaml.Marshal(&starter)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	header := []byte("# RelayQ configuration. Values omitted here use built-in defaults.\n")
	if err := os.WriteFile(path, append(header, data...), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	log.Info().Str("path", path).Msg("Wrote starter configuration")
	fmt.Printf("Created %s\n\nNext steps:\n  relayq serve\n", path)

	return nil
}
