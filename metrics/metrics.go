// Package metrics holds the Prometheus collectors shared by the API and the trainer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hospitalops_forecast_training_runs_total",
		Help: "Per-metric training attempts by outcome.",
	}, []string{"metric", "status"})
	TrainingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hospitalops_forecast_training_duration_seconds",
		Help:    "Duration of fit plus cross-validation for one metric.",
		Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
	}, []string{"metric"})
	CrossValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hospitalops_forecast_cv_failures_total",
		Help: "Cross-validation runs that fell back to zeroed metrics.",
	}, []string{"metric", "reason"})
	ModelAccuracy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hospitalops_forecast_model_accuracy_score",
		Help: "Latest backtest accuracy score (1 - MAPE) per metric.",
	}, []string{"metric"})

	ForecastsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_forecast_requests_total",
		Help: "Total number of forecasts computed.",
	})
	ForecastsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_forecast_failures_total",
		Help: "Total number of forecast requests that failed.",
	})
	ForecastDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hospitalops_forecast_duration_seconds",
		Help:    "Duration of a full inference call.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})
	MetricsOmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hospitalops_forecast_metrics_omitted_total",
		Help: "Metrics left out of a forecast because no usable model was available.",
	}, []string{"metric"})

	ModelCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_model_cache_hits_total",
		Help: "Model registry lookups served from memory.",
	})
	ModelCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hospitalops_model_cache_misses_total",
		Help: "Model registry lookups that loaded from the store.",
	})
	ModelInvalidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hospitalops_model_cache_invalidations_total",
		Help: "Model registry invalidations by source.",
	}, []string{"source"})
)
