// Package forecast implements the resource-demand forecasting pipeline: per-metric
// seasonal regression models with exogenous regressors, rolling-origin backtesting,
// and inference with a normal-approximation probability of increase.
package forecast

import (
	"errors"
	"fmt"
	"time"
)

// Metric names one forecast target.
type Metric string

const (
	Beds          Metric = "beds"
	ICU           Metric = "icu"
	Oxygen        Metric = "oxygen"
	ERVisits      Metric = "er_visits"
	OccupancyRate Metric = "occupancy_rate"
)

// AllMetrics lists every target in the order they are trained and reported.
var AllMetrics = []Metric{Beds, ICU, Oxygen, ERVisits, OccupancyRate}

var (
	ErrDataUnavailable     = errors.New("historical data unavailable")
	ErrInsufficientHistory = errors.New("insufficient history for backtest")
	ErrModelNotFound       = errors.New("model not found")
	ErrInvalidHorizon      = errors.New("invalid forecast horizon")
	ErrUnknownMetric       = errors.New("unknown metric")
)

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range AllMetrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
}

// ParseMetrics validates a list of names; an empty list selects AllMetrics.
func ParseMetrics(names []string) ([]Metric, error) {
	if len(names) == 0 {
		return AllMetrics, nil
	}
	out := make([]Metric, 0, len(names))
	seen := make(map[Metric]bool, len(names))
	for _, n := range names {
		m, err := ParseMetric(n)
		if err != nil {
			return nil, err
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out, nil
}

// Record is one day of hospital resource observations plus covariates.
type Record struct {
	Date          time.Time `json:"date"`
	Beds          float64   `json:"beds"`
	ICU           float64   `json:"icu"`
	Oxygen        float64   `json:"oxygen"`
	ERVisits      float64   `json:"er_visits"`
	OccupancyRate float64   `json:"occupancy_rate"`
	Temp          float64   `json:"temp"`
	Humidity      float64   `json:"humidity"`
	Holiday       bool      `json:"holiday"`
}

// Value returns the observation for metric m.
func (r Record) Value(m Metric) float64 {
	switch m {
	case Beds:
		return r.Beds
	case ICU:
		return r.ICU
	case Oxygen:
		return r.Oxygen
	case ERVisits:
		return r.ERVisits
	case OccupancyRate:
		return r.OccupancyRate
	}
	return 0
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	y, mo, d := t.UTC().Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
}

const dateLayout = "2006-01-02"
