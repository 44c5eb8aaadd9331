package main

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-changepoint/internal/models"
)

type detectOptions struct {
	input       string
	dateColumn  string
	valueColumn string
	format      string
	transform   string
	outliers    float64
	k           int
	draws       int
	tune        int
	chains      int
	seed        int64
	persist     bool
	partial     bool
}

func newDetectCmd(root *rootOptions) *cobra.Command {
	opts := &detectOptions{}

	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect change points in a CSV price series",
		Long: `Fit the change-point model to a Date,Price CSV and print the regime table,
the change-point estimates with their credible intervals, and the convergence
diagnostics of the run.

Examples:
  changepoint detect --input prices.csv
  changepoint detect --input prices.csv --k 2 --draws 2000 --tune 2000 --chains 4
  changepoint detect --input prices.csv --transform log --format json --persist`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}

			series, dropped, err := seriesCSV{DateColumn: opts.dateColumn, ValueColumn: opts.valueColumn}.readFile(opts.input)
			if err != nil {
				return err
			}
			if dropped > 0 {
				logger.Warn("dropped rows without a usable value", slog.Int("rows", dropped))
			}

			modelCfg := cfg.Sampler
			flags := cmd.Flags()
			modelCfg.NumChangePoints = opts.k
			if flags.Changed("draws") {
				modelCfg.Draws = opts.draws
			}
			if flags.Changed("tune") {
				modelCfg.TuningIterations = opts.tune
			}
			if flags.Changed("chains") {
				modelCfg.Chains = opts.chains
			}
			if flags.Changed("seed") {
				modelCfg.Seed = opts.seed
			}
			if flags.Changed("allow-partial") {
				modelCfg.AllowPartial = opts.partial
			}
			if flags.Changed("outlier-threshold") {
				cfg.Preprocess.OutlierThreshold = opts.outliers
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			service, cleanup, err := buildService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			logger.Info("running detection",
				slog.Int("observations", series.Len()),
				slog.Int("change_points", modelCfg.NumChangePoints),
				slog.Int("chains", modelCfg.Chains),
				slog.Int("draws", modelCfg.Draws))

			result, err := service.DetectSeries(ctx, models.DetectRequest{
				Series:    series.Observations,
				Config:    modelCfg,
				Transform: opts.transform,
				Persist:   opts.persist,
			})
			if err != nil {
				return fmt.Errorf("detect: %w", err)
			}
			return render(cmd.OutOrStdout(), opts.format, result)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "-", "CSV file with a header row (\"-\" reads stdin)")
	f.StringVar(&opts.dateColumn, "date-column", "Date", "Name of the timestamp column")
	f.StringVar(&opts.valueColumn, "value-column", "Price", "Name of the value column")
	f.StringVar(&opts.format, "format", "table", "Output format: table, json, csv")
	f.StringVar(&opts.transform, "transform", "none", "Analyse none (raw values), log (log prices) or returns")
	f.Float64Var(&opts.outliers, "outlier-threshold", 0, "Robust z-score for spike warnings, 0 disables (default from config)")
	f.IntVarP(&opts.k, "k", "k", 5, "Number of change points")
	f.IntVar(&opts.draws, "draws", 0, "Retained draws per chain (default from config)")
	f.IntVar(&opts.tune, "tune", 0, "Tuning iterations per chain (default from config)")
	f.IntVar(&opts.chains, "chains", 0, "Number of chains (default from config)")
	f.Int64Var(&opts.seed, "seed", 0, "Base random seed (default from config)")
	f.BoolVar(&opts.persist, "persist", false, "Store the run in the configured Postgres store")
	f.BoolVar(&opts.partial, "allow-partial", false, "Keep draws from chains interrupted during sampling")
	return cmd
}
