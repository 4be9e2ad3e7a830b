package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/app"
	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/models"
	"github.com/Kubendra2004/HealthForesight/services"
)

// forecastRow is the most recent logged forecast for one metric and day.
type forecastRow struct {
	Metric       string
	ForecastDate time.Time
	Yhat         float64
	ProbIncrease float64
	Current      float64
}

var (
	alertsGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hospitalops_alerter_alerts_generated_total",
		Help: "Total number of capacity alerts generated.",
	}, []string{"metric", "direction"})
	alertsStored = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_alerter_alerts_stored_total",
		Help: "Total number of new alerts stored in DB.",
	})
	alertsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_alerter_alerts_failed_total",
		Help: "Total number of alerter failures.",
	})
	alertsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_alerter_alerts_published_total",
		Help: "Total number of alerts published to Redis.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hospitalops_alerter_cycle_duration_seconds",
		Help:    "Duration of a full alert cycle.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0},
	})
)

type alertDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := app.Logger(cfg, "hospitalops-alerter")

	dbPool, err := app.OpenPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("database unavailable")
	}
	defer dbPool.Close()
	logger.Info().Msg("db connected")

	cache, err := services.NewCacheService(cfg.Redis, 10, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, alerts will not be pushed")
	}
	defer cache.Close()

	go serveHTTP(cfg.Server.MetricsAddr, logger)

	threshold := cfg.Alerter.Threshold
	logger.Info().Dur("interval", cfg.Alerter.Interval).Float64("threshold", threshold).Msg("alerter running")

	runCycle(ctx, dbPool, cache, threshold, logger)

	ticker := time.NewTicker(cfg.Alerter.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			runCycle(ctx, dbPool, cache, threshold, logger)
		case <-ctx.Done():
			logger.Info().Msg("alerter shutting down")
			return
		}
	}
}

func runCycle(ctx context.Context, db alertDB, pub publisher, threshold float64, logger zerolog.Logger) {
	start := time.Now()
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UTC().Truncate(time.Second)
	rows, err := latestForecasts(ctx, db, forecast.Day(now))
	if err != nil {
		alertsFailed.Inc()
		logger.Error().Err(err).Msg("query resource_forecasts failed")
		return
	}
	if len(rows) == 0 {
		logger.Debug().Msg("no upcoming forecasts logged, skipping")
		return
	}

	alerts := buildAlerts(rows, threshold, now)
	stored := storeAlerts(ctx, db, alerts, logger)
	published := publishAlerts(ctx, pub, stored, logger)

	logger.Info().
		Int("forecasts", len(rows)).
		Int("alerts", len(alerts)).
		Int("new", len(stored)).
		Int("published", published).
		Dur("took", time.Since(start)).
		Msg("alert cycle completed")
}

func latestForecasts(ctx context.Context, db alertDB, from time.Time) ([]forecastRow, error) {
	rows, err := db.Query(ctx, `
		SELECT DISTINCT ON (metric, forecast_date) metric, forecast_date, yhat, prob_increase, current_value
		FROM resource_forecasts
		WHERE forecast_date >= $1
		ORDER BY metric, forecast_date, ts DESC
	`, from)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []forecastRow
	for rows.Next() {
		var r forecastRow
		if err := rows.Scan(&r.Metric, &r.ForecastDate, &r.Yhat, &r.ProbIncrease, &r.Current); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// classify flags days whose probability of increase is at least threshold, or at
// most 1 - threshold.
func classify(prob, threshold float64) (string, bool) {
	switch {
	case prob >= threshold:
		return models.AlertIncrease, true
	case prob <= 1-threshold:
		return models.AlertDecrease, true
	}
	return "", false
}

func buildAlerts(rows []forecastRow, threshold float64, now time.Time) []models.CapacityAlert {
	var alerts []models.CapacityAlert
	for _, r := range rows {
		direction, ok := classify(r.ProbIncrease, threshold)
		if !ok {
			continue
		}
		alerts = append(alerts, models.CapacityAlert{
			TS:           now,
			Metric:       r.Metric,
			ForecastDate: r.ForecastDate,
			Direction:    direction,
			ProbIncrease: r.ProbIncrease,
			Yhat:         r.Yhat,
			Current:      r.Current,
			Message:      alertMessage(r, direction),
		})
		alertsGenerated.WithLabelValues(r.Metric, direction).Inc()
	}
	return alerts
}

func alertMessage(r forecastRow, direction string) string {
	return fmt.Sprintf("%s likely to %s on %s: forecast %.1f vs current %.1f (%.0f%% chance of increase)",
		r.Metric, direction, r.ForecastDate.Format("2006-01-02"), r.Yhat, r.Current, r.ProbIncrease*100)
}

// storeAlerts inserts alerts not already raised for the same metric, day and direction
// within the last day, and returns those that were new.
func storeAlerts(ctx context.Context, db alertDB, alerts []models.CapacityAlert, logger zerolog.Logger) []models.CapacityAlert {
	var stored []models.CapacityAlert
	for _, a := range alerts {
		tag, err := db.Exec(ctx, `
			INSERT INTO capacity_alerts (ts, metric, forecast_date, direction, prob_increase, yhat, current_value, message)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8
			WHERE NOT EXISTS (
				SELECT 1 FROM capacity_alerts
				WHERE metric = $2 AND forecast_date = $3 AND direction = $4
				  AND ts > $1 - INTERVAL '1 day'
			)
			ON CONFLICT (ts, metric, forecast_date) DO NOTHING
		`, a.TS, a.Metric, a.ForecastDate, a.Direction, a.ProbIncrease, a.Yhat, a.Current, a.Message)
		if err != nil {
			alertsFailed.Inc()
			logger.Error().Err(err).Str("metric", a.Metric).Msg("db insert failed")
			continue
		}
		if tag.RowsAffected() == 0 {
			continue
		}
		alertsStored.Inc()
		stored = append(stored, a)
	}
	return stored
}

func publishAlerts(ctx context.Context, pub publisher, alerts []models.CapacityAlert, logger zerolog.Logger) int {
	published := 0
	for _, a := range alerts {
		if err := pub.Publish(ctx, services.ChannelAlerts, a); err != nil {
			logger.Warn().Err(err).Str("metric", a.Metric).Msg("redis publish failed")
			continue
		}
		alertsPublished.Inc()
		published++
	}
	return published
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
