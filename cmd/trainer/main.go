package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/app"
	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/services"
	"github.com/Kubendra2004/HealthForesight/telemetry"
)

var (
	runsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_trainer_runs_completed_total",
		Help: "Total number of scheduled training runs that finished.",
	})
	runsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_trainer_runs_failed_total",
		Help: "Total number of scheduled training runs that could not start or load data.",
	})
	lastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hospitalops_trainer_last_success_timestamp_seconds",
		Help: "Unix time of the last training run with no failed metric.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hospitalops_trainer_cycle_duration_seconds",
		Help:    "Duration of a full training run.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type modelTrainer interface {
	Train(ctx context.Context, records []forecast.Record, only ...forecast.Metric) (*forecast.TrainReport, error)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger(cfg, "hospitalops-trainer")

	tp, err := telemetry.InitTracer(ctx, app.Telemetry(cfg, "hospitalops-trainer"))
	if err != nil {
		logger.Warn().Err(err).Msg("tracing disabled")
	}
	defer func() { _ = telemetry.Shutdown(context.Background(), tp) }()

	store, err := app.OpenStore(cfg.Forecast)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open model store")
	}
	defer store.Close()

	hist, err := app.OpenHistory(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open history source")
	}
	defer hist.Close()

	cache, err := services.NewCacheService(cfg.Redis, 10, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, API replicas rely on version checks or the file watcher")
	}
	defer cache.Close()

	trainer := forecast.NewTrainer(store.ModelStore, app.TrainerConfig(cfg.Trainer), logger,
		forecast.WithInvalidator(services.NewInvalidationPublisher(cache, logger)))

	job := func() {
		jobCtx, cancel := context.WithTimeout(ctx, cfg.Trainer.JobTimeout)
		defer cancel()
		_ = runTraining(jobCtx, hist, trainer, logger)
	}

	if oneShot(cfg.Trainer.Schedule) {
		logger.Info().Msg("no schedule configured, running once")
		job()
		return
	}
	if _, err := scheduleParser.Parse(cfg.Trainer.Schedule); err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.Trainer.Schedule).Msg("invalid TRAINER_SCHEDULE")
	}

	go serveHTTP(cfg.Server.MetricsAddr, logger)

	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(scheduleParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(cfg.Trainer.Schedule, job); err != nil {
		logger.Fatal().Err(err).Msg("failed to schedule training")
	}

	logger.Info().Str("schedule", cfg.Trainer.Schedule).Bool("run_on_start", cfg.Trainer.RunOnStart).
		Msg("trainer running")
	if cfg.Trainer.RunOnStart {
		go job()
	}
	c.Start()

	<-ctx.Done()
	logger.Info().Msg("trainer shutting down")
	<-c.Stop().Done()
}

func oneShot(schedule string) bool {
	s := strings.ToLower(strings.TrimSpace(schedule))
	return s == "" || s == "off" || s == "once"
}

// runTraining loads the full history and retrains every metric.
func runTraining(ctx context.Context, history forecast.HistorySource, trainer modelTrainer, logger zerolog.Logger) error {
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := history.Load(ctx)
	if err != nil {
		runsFailed.Inc()
		logger.Error().Err(err).Msg("history unavailable, training skipped")
		return err
	}
	report, err := trainer.Train(ctx, records)
	if err != nil {
		runsFailed.Inc()
		logger.Error().Err(err).Msg("training run failed")
		return err
	}

	runsCompleted.Inc()
	failed := report.Failed()
	if len(failed) == 0 {
		lastSuccess.SetToCurrentTime()
	}
	ev := logger.Info()
	if len(failed) > 0 {
		ev = logger.Warn().Interface("failed", failed)
	}
	ev.Str("run_id", report.RunID).
		Int("observations", len(records)).
		Dur("took", time.Since(start)).
		Msg("training run completed")
	return nil
}

// cronLogger routes scheduler messages through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

func serveHTTP(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("metrics server failed")
	}
}
