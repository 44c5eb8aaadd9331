package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-changepoint/internal/config"
	"github.com/miradorstack/mirador-changepoint/internal/utils"
)

type rootOptions struct {
	configPath string
	logLevel   string
	envFile    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "changepoint",
		Short: "Bayesian change-point detection for price series",
		Long: `changepoint fits a multiple change-point model to a univariate series with
MCMC and reports the detected regimes together with credible intervals and
convergence diagnostics.

Examples:
  changepoint detect --input data/processed/cleaned_oil_prices.csv --k 3
  changepoint serve --config config/changepoint.yaml`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", opts.envFile, err)
			}
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration file (defaults to $MIRADOR_CP_CONFIG)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug|info|warn|error)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "Environment file loaded before the configuration")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newDetectCmd(opts))
	return root
}

// load reads the configuration and builds a logger that writes to stderr.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	return cfg, utils.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.JSON), nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
