package forecast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Kubendra2004/HealthForesight/metrics"
	"github.com/Kubendra2004/HealthForesight/telemetry"
)

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

type TrainerConfig struct {
	Model    ModelConfig
	Backtest BacktestConfig
	// CVTimeout bounds cross-validation per metric; zero disables the bound.
	CVTimeout time.Duration
	// Concurrency caps how many metrics train at once.
	Concurrency int
}

func DefaultTrainerConfig() TrainerConfig {
	return TrainerConfig{
		Model:       DefaultModelConfig(),
		Backtest:    DefaultBacktestConfig(),
		CVTimeout:   5 * time.Minute,
		Concurrency: 2,
	}
}

// MetricResult is the outcome of training one metric.
type MetricResult struct {
	Metric       Metric            `json:"metric"`
	Status       string            `json:"status"`
	Error        string            `json:"error,omitempty"`
	CVError      string            `json:"cv_error,omitempty"`
	Folds        int               `json:"folds"`
	Observations int               `json:"observations"`
	Metrics      ValidationMetrics `json:"metrics"`
	DurationMS   int64             `json:"duration_ms"`
}

// TrainReport summarizes one training run.
type TrainReport struct {
	RunID      string                       `json:"run_id"`
	StartedAt  time.Time                    `json:"started_at"`
	FinishedAt time.Time                    `json:"finished_at"`
	Results    map[Metric]MetricResult      `json:"results"`
	Metrics    map[Metric]ValidationMetrics `json:"metrics"`
}

// Failed lists the metrics whose model could not be produced.
func (r *TrainReport) Failed() []Metric {
	var out []Metric
	for _, m := range AllMetrics {
		if res, ok := r.Results[m]; ok && res.Status != StatusOK {
			out = append(out, m)
		}
	}
	return out
}

// Trainer fits, validates and persists one model per metric.
//
// Concurrent Train calls that include the same metric train it one after another,
// each on its own series, so the store never sees interleaved writes for it.
type Trainer struct {
	store       ModelStore
	cfg         TrainerConfig
	invalidator Invalidator
	logger      zerolog.Logger
	now         func() time.Time

	locksMu   sync.Mutex
	locks     map[Metric]*sync.Mutex
	metricsMu sync.Mutex
}

type TrainerOption func(*Trainer)

// WithInvalidator registers the receiver notified after each model is replaced.
func WithInvalidator(inv Invalidator) TrainerOption {
	return func(t *Trainer) { t.invalidator = inv }
}

func WithTrainerClock(now func() time.Time) TrainerOption {
	return func(t *Trainer) { t.now = now }
}

func NewTrainer(store ModelStore, cfg TrainerConfig, logger zerolog.Logger, opts ...TrainerOption) *Trainer {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	t := &Trainer{
		store:  store,
		cfg:    cfg,
		logger: logger.With().Str("component", "trainer").Logger(),
		now:    time.Now,
		locks:  make(map[Metric]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Train fits the requested metrics (all of them when none are given) on records.
// Only a missing series aborts the run; per-metric failures are reported in the result.
func (t *Trainer) Train(ctx context.Context, records []Record, only ...Metric) (*TrainReport, error) {
	if len(records) == 0 {
		return nil, ErrDataUnavailable
	}
	targets := only
	if len(targets) == 0 {
		targets = AllMetrics
	}
	series := sortedCopy(records)

	ctx, span := telemetry.StartSpan(ctx, "forecast.train",
		attribute.Int("records", len(series)), attribute.Int("metrics", len(targets)))
	defer span.End()

	report := &TrainReport{
		RunID:     uuid.NewString(),
		StartedAt: t.now().UTC(),
		Results:   make(map[Metric]MetricResult, len(targets)),
	}
	t.logger.Info().Str("run_id", report.RunID).Int("records", len(series)).
		Int("metrics", len(targets)).Msg("training run started")

	var (
		mu        sync.Mutex
		mergeErrs []error
	)
	var g errgroup.Group
	g.SetLimit(t.cfg.Concurrency)
	for _, m := range targets {
		g.Go(func() error {
			res, err := t.retrain(ctx, report.RunID, m, series)
			mu.Lock()
			report.Results[m] = res
			if err != nil {
				mergeErrs = append(mergeErrs, err)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.FinishedAt = t.now().UTC()

	if err := errors.Join(mergeErrs...); err != nil {
		telemetry.RecordError(span, err)
		return report, err
	}
	all, err := t.store.LoadMetrics(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return report, fmt.Errorf("load metrics: %w", err)
	}
	report.Metrics = all

	t.logger.Info().Str("run_id", report.RunID).Int("failed", len(report.Failed())).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).Msg("training run finished")
	return report, nil
}

// retrain runs one metric end to end while holding that metric's lock, so concurrent
// runs for the same metric execute one after another, each on its own series. A
// saved model is always announced to the invalidator, even when recording its
// metrics fails.
func (t *Trainer) retrain(ctx context.Context, runID string, m Metric, series []Record) (MetricResult, error) {
	unlock := t.lockMetric(m)
	defer unlock()

	res := t.trainMetric(ctx, runID, m, series)
	if res.Status != StatusOK {
		return res, nil
	}
	_, err := t.mergeMetrics(ctx, map[Metric]MetricResult{m: res})
	if err != nil {
		t.logger.Error().Err(err).Str("run_id", runID).Str("metric", string(m)).
			Msg("model saved but metrics document not updated")
	}
	if t.invalidator != nil {
		t.invalidator.Invalidate(m)
	}
	return res, err
}

func (t *Trainer) lockMetric(m Metric) func() {
	t.locksMu.Lock()
	l, ok := t.locks[m]
	if !ok {
		l = &sync.Mutex{}
		t.locks[m] = l
	}
	t.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (t *Trainer) trainMetric(ctx context.Context, runID string, m Metric, series []Record) MetricResult {
	start := time.Now()
	log := t.logger.With().Str("run_id", runID).Str("metric", string(m)).Logger()
	res := MetricResult{Metric: m, Observations: len(series)}

	ctx, span := telemetry.StartSpan(ctx, "forecast.train_metric", attribute.String("metric", string(m)))
	defer span.End()
	defer func() {
		res.DurationMS = time.Since(start).Milliseconds()
		metrics.TrainingRuns.WithLabelValues(string(m), res.Status).Inc()
		metrics.TrainingDuration.WithLabelValues(string(m)).Observe(time.Since(start).Seconds())
	}()

	fail := func(err error) MetricResult {
		telemetry.RecordError(span, err)
		log.Error().Err(err).Msg("training failed")
		res.Status = StatusFailed
		res.Error = err.Error()
		return res
	}

	model, err := Fit(m, series, t.cfg.Model)
	if err != nil {
		return fail(fmt.Errorf("fit: %w", err))
	}
	model.RunID = runID
	model.TrainedAt = t.now().UTC()

	vm, folds, cvErr := t.crossValidate(ctx, m, series)
	if cvErr != nil {
		reason := "error"
		switch {
		case errors.Is(cvErr, ErrInsufficientHistory):
			reason = "insufficient_history"
		case errors.Is(cvErr, context.DeadlineExceeded):
			reason = "timeout"
		}
		metrics.CrossValidationFailures.WithLabelValues(string(m), reason).Inc()
		log.Warn().Err(cvErr).Str("reason", reason).Msg("cross-validation unavailable, recording zeroed metrics")
		vm = ValidationMetrics{}
		res.CVError = cvErr.Error()
	}
	res.Metrics = vm
	res.Folds = folds

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	if err := t.store.Save(ctx, m, model); err != nil {
		return fail(fmt.Errorf("save model: %w", err))
	}

	metrics.ModelAccuracy.WithLabelValues(string(m)).Set(vm.AccuracyScore)
	log.Info().Int("folds", folds).Float64("mae", vm.MAE).Float64("mape", vm.MAPE).
		Float64("accuracy", vm.AccuracyScore).Msg("model trained")
	res.Status = StatusOK
	return res
}

func (t *Trainer) crossValidate(ctx context.Context, m Metric, series []Record) (ValidationMetrics, int, error) {
	if t.cfg.CVTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.CVTimeout)
		defer cancel()
	}
	return CrossValidate(ctx, m, series, t.cfg.Model, t.cfg.Backtest)
}

// mergeMetrics folds the new per-metric results into the stored document, leaving
// entries for metrics that were not retrained untouched. Stores implementing
// MetricsMerger do the merge atomically; otherwise the read-modify-write is only
// serialized within this process.
func (t *Trainer) mergeMetrics(ctx context.Context, results map[Metric]MetricResult) (map[Metric]ValidationMetrics, error) {
	t.metricsMu.Lock()
	defer t.metricsMu.Unlock()

	if merger, ok := t.store.(MetricsMerger); ok {
		updates := make(map[Metric]ValidationMetrics, len(results))
		for m, res := range results {
			if res.Status == StatusOK {
				updates[m] = res.Metrics
			}
		}
		if len(updates) == 0 {
			return t.store.LoadMetrics(ctx)
		}
		all, err := merger.MergeMetrics(ctx, updates)
		if err != nil {
			return nil, fmt.Errorf("save metrics: %w", err)
		}
		return all, nil
	}

	all, err := t.store.LoadMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load metrics: %w", err)
	}
	if all == nil {
		all = make(map[Metric]ValidationMetrics)
	}
	changed := false
	for m, res := range results {
		if res.Status != StatusOK {
			continue
		}
		all[m] = res.Metrics
		changed = true
	}
	if !changed {
		return all, nil
	}
	if err := t.store.SaveMetrics(ctx, all); err != nil {
		return nil, fmt.Errorf("save metrics: %w", err)
	}
	return all, nil
}

func sortedCopy(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
