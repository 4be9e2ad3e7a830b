package forecast

import (
	"context"
	"fmt"
	"math"
	"time"
)

// BacktestConfig defines the rolling-origin cross-validation windows, in days.
type BacktestConfig struct {
	InitialDays int `json:"initial_days"`
	PeriodDays  int `json:"period_days"`
	HorizonDays int `json:"horizon_days"`
}

// DefaultBacktestConfig trains on a year, steps a month and scores a week.
func DefaultBacktestConfig() BacktestConfig {
	return BacktestConfig{InitialDays: 365, PeriodDays: 30, HorizonDays: 7}
}

// ValidationMetrics is the persisted accuracy summary for one metric.
type ValidationMetrics struct {
	MAE           float64 `json:"mae"`
	RMSE          float64 `json:"rmse"`
	MAPE          float64 `json:"mape"`
	AccuracyScore float64 `json:"accuracy_score"`
}

// newValidationMetrics derives the accuracy score. It is deliberately not clamped:
// a MAPE above 1 produces a negative score.
func newValidationMetrics(mae, rmse, mape float64) ValidationMetrics {
	return ValidationMetrics{MAE: mae, RMSE: rmse, MAPE: mape, AccuracyScore: 1.0 - mape}
}

// Cutoffs returns the fold cutoffs in ascending order. Each cutoff leaves at least
// InitialDays of training history and a full horizon of actuals after it.
func (c BacktestConfig) Cutoffs(first, last time.Time) ([]time.Time, error) {
	if c.InitialDays < 1 || c.PeriodDays < 1 || c.HorizonDays < 1 {
		return nil, fmt.Errorf("invalid backtest windows %d/%d/%d", c.InitialDays, c.PeriodDays, c.HorizonDays)
	}
	first, last = Day(first), Day(last)
	earliest := first.AddDate(0, 0, c.InitialDays-1)

	var desc []time.Time
	for cutoff := last.AddDate(0, 0, -c.HorizonDays); !cutoff.Before(earliest); cutoff = cutoff.AddDate(0, 0, -c.PeriodDays) {
		desc = append(desc, cutoff)
	}
	if len(desc) == 0 {
		return nil, fmt.Errorf("%w: %d days of history, need %d", ErrInsufficientHistory,
			int(dayNumber(last)-dayNumber(first))+1, c.InitialDays+c.HorizonDays)
	}

	out := make([]time.Time, len(desc))
	for i, t := range desc {
		out[len(desc)-1-i] = t
	}
	return out, nil
}

// CrossValidate refits the model at each cutoff and scores the following horizon.
// Errors are pooled across every fold and horizon day. Rows with a zero actual are
// left out of MAPE. The context is checked between folds so callers can bound the run.
func CrossValidate(ctx context.Context, m Metric, records []Record, mc ModelConfig, bc BacktestConfig) (ValidationMetrics, int, error) {
	if len(records) == 0 {
		return ValidationMetrics{}, 0, ErrDataUnavailable
	}
	cutoffs, err := bc.Cutoffs(records[0].Date, records[len(records)-1].Date)
	if err != nil {
		return ValidationMetrics{}, 0, err
	}

	var sumAbs, sumSq, sumAPE float64
	var count, apeCount int
	for _, cutoff := range cutoffs {
		if err := ctx.Err(); err != nil {
			return ValidationMetrics{}, 0, err
		}

		split := 0
		for split < len(records) && !Day(records[split].Date).After(cutoff) {
			split++
		}
		model, err := Fit(m, records[:split], mc)
		if err != nil {
			return ValidationMetrics{}, 0, fmt.Errorf("fold %s: %w", cutoff.Format(dateLayout), err)
		}

		end := cutoff.AddDate(0, 0, bc.HorizonDays)
		for _, r := range records[split:] {
			if Day(r.Date).After(end) {
				break
			}
			pred := model.Predict(r.Date, Covariates{Temp: r.Temp, Humidity: r.Humidity, Holiday: r.Holiday})
			actual := r.Value(m)
			e := actual - pred.Yhat
			sumAbs += math.Abs(e)
			sumSq += e * e
			count++
			if actual != 0 {
				sumAPE += math.Abs(e / actual)
				apeCount++
			}
		}
	}
	if count == 0 {
		return ValidationMetrics{}, 0, fmt.Errorf("%w: no actuals inside any horizon", ErrInsufficientHistory)
	}

	mae := sumAbs / float64(count)
	rmse := math.Sqrt(sumSq / float64(count))
	var mape float64
	if apeCount > 0 {
		mape = sumAPE / float64(apeCount)
	}
	return newValidationMetrics(mae, rmse, mape), len(cutoffs), nil
}
