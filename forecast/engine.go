package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Kubendra2004/HealthForesight/metrics"
	"github.com/Kubendra2004/HealthForesight/telemetry"
)

type EngineConfig struct {
	// RegressorWindow is how many trailing days feed the future temp/humidity mean.
	RegressorWindow int
	DefaultDays     int
	MaxDays         int
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{RegressorWindow: 7, DefaultDays: 7, MaxDays: 90}
}

// ForecastRequest selects the horizon. Zero Days means the default horizon, a zero
// Start means today and an empty Metrics means all of them.
type ForecastRequest struct {
	Days    int
	Start   time.Time
	Metrics []Metric
}

// ForecastPoint is one forecast day.
type ForecastPoint struct {
	Date         time.Time
	Yhat         float64
	YhatLower    float64
	YhatUpper    float64
	ProbIncrease float64
}

type forecastPointJSON struct {
	Date         string  `json:"date"`
	Yhat         float64 `json:"yhat"`
	YhatLower    float64 `json:"yhat_lower"`
	YhatUpper    float64 `json:"yhat_upper"`
	ProbIncrease float64 `json:"prob_increase"`
}

func (p ForecastPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastPointJSON{
		Date:         p.Date.Format(dateLayout),
		Yhat:         p.Yhat,
		YhatLower:    p.YhatLower,
		YhatUpper:    p.YhatUpper,
		ProbIncrease: p.ProbIncrease,
	})
}

func (p *ForecastPoint) UnmarshalJSON(data []byte) error {
	var raw forecastPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d, err := time.Parse(dateLayout, raw.Date)
	if err != nil {
		return fmt.Errorf("forecast point date: %w", err)
	}
	*p = ForecastPoint{
		Date:         d,
		Yhat:         raw.Yhat,
		YhatLower:    raw.YhatLower,
		YhatUpper:    raw.YhatUpper,
		ProbIncrease: raw.ProbIncrease,
	}
	return nil
}

// ForecastResult holds the per-metric series. Metrics without a usable model are
// absent from Series.
type ForecastResult struct {
	GeneratedAt time.Time                    `json:"generated_at"`
	Start       string                       `json:"start"`
	Days        int                          `json:"days"`
	Series      map[Metric][]ForecastPoint   `json:"forecasts"`
	Current     map[Metric]float64           `json:"current"`
	Metrics     map[Metric]ValidationMetrics `json:"model_metrics,omitempty"`
}

// Engine produces forecasts from stored models and the historical series.
type Engine struct {
	history HistorySource
	models  ModelSource
	scores  MetricsSource
	cfg     EngineConfig
	logger  zerolog.Logger
	now     func() time.Time
}

type EngineOption func(*Engine)

// WithMetricsSource attaches the stored validation metrics to every result.
func WithMetricsSource(s MetricsSource) EngineOption {
	return func(e *Engine) { e.scores = s }
}

func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(history HistorySource, models ModelSource, cfg EngineConfig, logger zerolog.Logger, opts ...EngineOption) *Engine {
	if cfg.RegressorWindow < 1 {
		cfg.RegressorWindow = 7
	}
	if cfg.DefaultDays < 1 {
		cfg.DefaultDays = 7
	}
	e := &Engine{
		history: history,
		models:  models,
		cfg:     cfg,
		logger:  logger.With().Str("component", "engine").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Forecast runs inference for the requested horizon.
func (e *Engine) Forecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	start := time.Now()
	res, err := e.forecast(ctx, req)
	if err != nil {
		metrics.ForecastsFailed.Inc()
		return nil, err
	}
	metrics.ForecastsServed.Inc()
	metrics.ForecastDuration.Observe(time.Since(start).Seconds())
	return res, nil
}

func (e *Engine) forecast(ctx context.Context, req ForecastRequest) (*ForecastResult, error) {
	days := req.Days
	if days == 0 {
		days = e.cfg.DefaultDays
	}
	if days < 1 || (e.cfg.MaxDays > 0 && days > e.cfg.MaxDays) {
		return nil, fmt.Errorf("%w: %d days", ErrInvalidHorizon, req.Days)
	}
	targets := req.Metrics
	if len(targets) == 0 {
		targets = AllMetrics
	}
	from := Day(req.Start)
	if req.Start.IsZero() {
		from = Day(e.now())
	}

	ctx, span := telemetry.StartSpan(ctx, "forecast.inference",
		attribute.Int("days", days), attribute.String("start", from.Format(dateLayout)))
	defer span.End()

	records, err := e.history.Load(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("load history: %w", err)
	}
	if len(records) == 0 {
		return nil, ErrDataUnavailable
	}
	last := records[len(records)-1]
	cov := e.futureCovariates(records)

	result := &ForecastResult{
		GeneratedAt: e.now().UTC(),
		Start:       from.Format(dateLayout),
		Days:        days,
		Series:      make(map[Metric][]ForecastPoint, len(targets)),
		Current:     make(map[Metric]float64, len(targets)),
	}

	for _, m := range targets {
		model, err := e.models.Get(ctx, m)
		if err != nil {
			metrics.MetricsOmitted.WithLabelValues(string(m)).Inc()
			ev := e.logger.Warn()
			if errors.Is(err, ErrModelNotFound) {
				ev = e.logger.Debug()
			}
			ev.Err(err).Str("metric", string(m)).Msg("no usable model, metric omitted")
			continue
		}
		current := last.Value(m)
		points := make([]ForecastPoint, days)
		for i := range points {
			d := from.AddDate(0, 0, i)
			p := model.Predict(d, cov)
			points[i] = ForecastPoint{
				Date:         d,
				Yhat:         p.Yhat,
				YhatLower:    p.Lower,
				YhatUpper:    p.Upper,
				ProbIncrease: ProbabilityOfIncrease(current, p.Yhat, p.Lower, p.Upper),
			}
		}
		result.Series[m] = points
		result.Current[m] = current
	}

	if e.scores != nil {
		all, err := e.scores.LoadMetrics(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("validation metrics unavailable")
		} else {
			result.Metrics = make(map[Metric]ValidationMetrics, len(result.Series))
			for m := range result.Series {
				if vm, ok := all[m]; ok {
					result.Metrics[m] = vm
				}
			}
		}
	}
	return result, nil
}

// futureCovariates averages temp and humidity over the trailing window. No holiday
// calendar is modelled, so future days are never holidays.
func (e *Engine) futureCovariates(records []Record) Covariates {
	from := len(records) - e.cfg.RegressorWindow
	if from < 0 {
		from = 0
	}
	tail := records[from:]
	var temp, hum float64
	for _, r := range tail {
		temp += r.Temp
		hum += r.Humidity
	}
	n := float64(len(tail))
	return Covariates{Temp: temp / n, Humidity: hum / n}
}
