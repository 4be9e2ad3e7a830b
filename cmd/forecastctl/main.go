package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Kubendra2004/HealthForesight/app"
	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/history"
	"github.com/Kubendra2004/HealthForesight/services"
)

var (
	// Global flags
	historyPath string
	modelDir    string
	jsonOutput  bool
	verbose     bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "forecastctl",
		Short: "Train and inspect hospital resource forecast models",
		Long: `Operator tool for the resource forecasting pipeline.
Reads the same environment as the API and trainer; flags override the history file and
model directory for local runs.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "History CSV (overrides FORECAST_HISTORY_PATH and forces the csv source)")
	rootCmd.PersistentFlags().StringVar(&modelDir, "model-dir", "", "Model directory (overrides FORECAST_MODEL_DIR and forces the file store)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print machine-readable JSON")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Verbose logging")

	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(predictCmd())
	rootCmd.AddCommand(metricsCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(importCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig applies the local overrides on top of the environment.
func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if historyPath != "" {
		cfg.Forecast.HistorySource = "csv"
		cfg.Forecast.HistoryPath = historyPath
	}
	if modelDir != "" {
		cfg.Forecast.Store = "file"
		cfg.Forecast.ModelDir = modelDir
	}
	level := "warn"
	if verbose {
		level = "debug"
	}
	cfg.Log.Level = level
	cfg.Log.Pretty = true
	return cfg, app.Logger(cfg, "forecastctl"), nil
}

func trainCmd() *cobra.Command {
	var metricNames []string
	var publish bool

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit, backtest and persist models",
		Long: `Fits one model per metric on the full history, runs the rolling backtest and
persists artifacts and metrics. Only the selected metrics are replaced.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			only, err := forecast.ParseMetrics(metricNames)
			if err != nil {
				return err
			}

			store, err := app.OpenStore(cfg.Forecast)
			if err != nil {
				return err
			}
			defer store.Close()
			hist, err := app.OpenHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer hist.Close()

			var opts []forecast.TrainerOption
			if publish {
				cache, err := services.NewCacheService(cfg.Redis, 1, logger)
				if err != nil {
					return fmt.Errorf("--publish needs redis: %w", err)
				}
				defer cache.Close()
				opts = append(opts, forecast.WithInvalidator(services.NewInvalidationPublisher(cache, logger)))
			}
			trainer := forecast.NewTrainer(store.ModelStore, app.TrainerConfig(cfg.Trainer), logger, opts...)

			records, err := hist.Load(ctx)
			if err != nil {
				return err
			}
			report, err := trainer.Train(ctx, records, only...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, report)
			}
			renderTrainReport(out, report, len(records))
			if failed := report.Failed(); len(failed) > 0 {
				return fmt.Errorf("%d metric(s) failed: %v", len(failed), failed)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&metricNames, "metric", "m", nil, "Metric to train (repeatable; default all)")
	cmd.Flags().BoolVar(&publish, "publish", false, "Announce replaced models on Redis so running APIs reload them")
	return cmd
}

func predictCmd() *cobra.Command {
	var (
		days        int
		start       string
		metricNames []string
		chart       bool
	)

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Forecast resource demand from the stored models",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			req := forecast.ForecastRequest{Days: days}
			if start != "" {
				t, err := time.Parse("2006-01-02", start)
				if err != nil {
					return fmt.Errorf("invalid --start %q, expected YYYY-MM-DD", start)
				}
				req.Start = t
			}
			if req.Metrics, err = forecast.ParseMetrics(metricNames); err != nil {
				return err
			}

			store, err := app.OpenStore(cfg.Forecast)
			if err != nil {
				return err
			}
			defer store.Close()
			hist, err := app.OpenHistory(ctx, cfg)
			if err != nil {
				return err
			}
			defer hist.Close()

			engine := forecast.NewEngine(hist, forecast.StoreSource{Store: store}, app.EngineConfig(cfg.Forecast), logger,
				forecast.WithMetricsSource(store))
			res, err := engine.Forecast(ctx, req)
			if err != nil {
				return err
			}
			if len(res.Series) == 0 {
				return fmt.Errorf("no trained models found, run 'forecastctl train' first")
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, res)
			}
			renderForecastReport(out, res, cfg.Alerter.Threshold)
			if chart {
				for _, m := range forecast.AllMetrics {
					if _, ok := res.Series[m]; ok {
						fmt.Fprintln(out, renderChart(res, m))
						fmt.Fprintln(out)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&days, "days", "n", 7, "Forecast horizon in days")
	cmd.Flags().StringVar(&start, "start", "", "First forecast day, YYYY-MM-DD (default today)")
	cmd.Flags().StringSliceVarP(&metricNames, "metric", "m", nil, "Metric to forecast (repeatable; default all)")
	cmd.Flags().BoolVar(&chart, "chart", false, "Plot yhat with its interval as an ASCII chart")
	return cmd
}

func metricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show the stored backtest metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			store, err := app.OpenStore(cfg.Forecast)
			if err != nil {
				return err
			}
			defer store.Close()
			all, err := store.LoadMetrics(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, all)
			}
			renderMetrics(out, all)
			return nil
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		role   string
		email  string
		userID uint
		hours  int
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a service JWT signed with JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			switch role {
			case services.RoleAdmin, services.RoleOperator, services.RoleService:
			default:
				return fmt.Errorf("unknown role %q", role)
			}
			jwtCfg := cfg.JWT
			if hours > 0 {
				jwtCfg.ExpiryHours = hours
			}
			token, err := services.NewAuthService(jwtCfg).GenerateToken(userID, email, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&role, "role", services.RoleService, "Token role: admin, operator or service")
	cmd.Flags().StringVar(&email, "email", "forecastctl@hospitalops.local", "Subject email")
	cmd.Flags().UintVar(&userID, "user-id", 0, "Subject user id")
	cmd.Flags().IntVar(&hours, "hours", 0, "Expiry in hours (default JWT_EXPIRY_HOURS)")
	return cmd
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv>",
		Short: "Load a history CSV into the resource_history table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			records, err := history.CSVFile{Path: args[0]}.Load(ctx)
			if err != nil {
				return err
			}

			pool, err := app.OpenPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			pg := history.NewPostgres(pool)
			if err := pg.EnsureSchema(ctx); err != nil {
				return err
			}
			n, err := pg.Import(ctx, records)
			if err != nil {
				return fmt.Errorf("imported %d of %d rows: %w", n, len(records), err)
			}
			logger.Info().Int("rows", n).Str("file", args[0]).Msg("history imported")
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d rows into resource_history\n", n)
			return nil
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
