package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	weekPeriod = 7.0
	yearPeriod = 365.25
	secsPerDay = 86400
)

// ModelConfig controls the regression design and its uncertainty.
type ModelConfig struct {
	WeeklyOrder   int     `json:"weekly_order"`
	YearlyOrder   int     `json:"yearly_order"`
	WeeklyMinDays int     `json:"weekly_min_days"`
	YearlyMinDays int     `json:"yearly_min_days"`
	IntervalWidth float64 `json:"interval_width"`
	Ridge         float64 `json:"ridge"`
	// MinSigmaRatio floors the residual sigma at this fraction of the mean absolute
	// target, so a perfectly fitted series still yields a non-degenerate interval.
	MinSigmaRatio float64 `json:"min_sigma_ratio"`
}

// DefaultModelConfig uses 95% intervals, weekly seasonality
// always, yearly seasonality once two years of history are available.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		WeeklyOrder:   3,
		YearlyOrder:   4,
		WeeklyMinDays: 14,
		YearlyMinDays: 730,
		IntervalWidth: 0.95,
		Ridge:         1e-4,
		MinSigmaRatio: 1e-3,
	}
}

// Covariates are the exogenous regressors for one day.
type Covariates struct {
	Temp     float64
	Humidity float64
	Holiday  bool
}

// Scale standardizes one regressor column. A zero Std marks a constant column.
type Scale struct {
	Name string  `json:"name"`
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Prediction is a point estimate with its interval.
type Prediction struct {
	Yhat  float64
	Lower float64
	Upper float64
}

// Model is a fitted seasonal regression for one metric. It is immutable after Fit and
// serializes to JSON as the persisted artifact.
type Model struct {
	Metric       Metric      `json:"metric"`
	RunID        string      `json:"run_id,omitempty"`
	TrainedAt    time.Time   `json:"trained_at"`
	Config       ModelConfig `json:"config"`
	Origin       time.Time   `json:"origin"`
	LastDate     time.Time   `json:"last_date"`
	TrendScale   float64     `json:"trend_scale"`
	WeeklyOrder  int         `json:"weekly_order"`
	YearlyOrder  int         `json:"yearly_order"`
	Regressors   []Scale     `json:"regressors"`
	Coefficients []float64   `json:"coefficients"`
	Covariance   []float64   `json:"covariance"`
	Sigma        float64     `json:"sigma"`
	Observations int         `json:"observations"`
}

// Fit estimates a model for metric m on the full series. Records must be sorted by date.
func Fit(m Metric, records []Record, cfg ModelConfig) (*Model, error) {
	n := len(records)
	if n == 0 {
		return nil, ErrDataUnavailable
	}
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 observations, got %d", ErrInsufficientHistory, n)
	}

	origin := Day(records[0].Date)
	last := Day(records[n-1].Date)
	span := dayNumber(last) - dayNumber(origin)

	model := &Model{
		Metric:       m,
		Config:       cfg,
		Origin:       origin,
		LastDate:     last,
		TrendScale:   math.Max(span, 1),
		Observations: n,
	}
	if span+1 >= float64(cfg.WeeklyMinDays) {
		model.WeeklyOrder = cfg.WeeklyOrder
	}
	if span+1 >= float64(cfg.YearlyMinDays) {
		model.YearlyOrder = cfg.YearlyOrder
	}

	temps := make([]float64, n)
	hums := make([]float64, n)
	hols := make([]float64, n)
	y := make([]float64, n)
	for i, r := range records {
		temps[i] = r.Temp
		hums[i] = r.Humidity
		if r.Holiday {
			hols[i] = 1
		}
		y[i] = r.Value(m)
	}
	model.Regressors = []Scale{
		newScale("temp", temps),
		newScale("humidity", hums),
		newScale("holiday", hols),
	}

	p := model.numFeatures()
	x := mat.NewDense(n, p, nil)
	for i, r := range records {
		x.SetRow(i, model.features(r.Date, Covariates{Temp: r.Temp, Humidity: r.Humidity, Holiday: r.Holiday}))
	}
	yv := mat.NewVecDense(n, y)

	var gram mat.SymDense
	gram.SymOuterK(1, x.T())
	lambda := cfg.Ridge * float64(n)
	for j := 1; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+lambda)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, errors.New("design matrix is not positive definite")
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), yv)
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &xty); err != nil {
		return nil, fmt.Errorf("solve normal equations: %w", err)
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("invert gram matrix: %w", err)
	}

	var fitted mat.VecDense
	fitted.MulVec(x, &beta)
	var sse, sumAbs float64
	for i := 0; i < n; i++ {
		r := y[i] - fitted.AtVec(i)
		sse += r * r
		sumAbs += math.Abs(y[i])
	}
	df := float64(n - p)
	if df < 1 {
		df = 1
	}
	floor := cfg.MinSigmaRatio * math.Max(sumAbs/float64(n), 1)
	model.Sigma = math.Max(math.Sqrt(sse/df), floor)

	model.Coefficients = make([]float64, p)
	for j := 0; j < p; j++ {
		model.Coefficients[j] = beta.AtVec(j)
	}
	model.Covariance = make([]float64, p*p)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			model.Covariance[i*p+j] = cov.At(i, j)
		}
	}
	return model, nil
}

// Predict returns the point estimate and interval for one day.
func (m *Model) Predict(date time.Time, cov Covariates) Prediction {
	x := m.features(date, cov)
	p := len(x)

	var yhat float64
	for j, v := range x {
		yhat += m.Coefficients[j] * v
	}

	xv := mat.NewVecDense(p, x)
	c := mat.NewSymDense(p, m.Covariance)
	leverage := mat.Inner(xv, c, xv)
	if leverage < 0 {
		leverage = 0
	}
	z := distuv.UnitNormal.Quantile(0.5 + m.Config.IntervalWidth/2)
	half := z * m.Sigma * math.Sqrt(1+leverage)

	return Prediction{Yhat: yhat, Lower: yhat - half, Upper: yhat + half}
}

// Validate checks that a decoded artifact is internally consistent.
func (m *Model) Validate() error {
	if _, err := ParseMetric(string(m.Metric)); err != nil {
		return err
	}
	p := m.numFeatures()
	if len(m.Coefficients) != p {
		return fmt.Errorf("model %s: expected %d coefficients, got %d", m.Metric, p, len(m.Coefficients))
	}
	if len(m.Covariance) != p*p {
		return fmt.Errorf("model %s: expected %d covariance entries, got %d", m.Metric, p*p, len(m.Covariance))
	}
	if len(m.Regressors) != 3 {
		return fmt.Errorf("model %s: expected 3 regressors, got %d", m.Metric, len(m.Regressors))
	}
	if m.TrendScale <= 0 || math.IsNaN(m.Sigma) || m.Sigma < 0 {
		return fmt.Errorf("model %s: invalid scale parameters", m.Metric)
	}
	return nil
}

// numFeatures counts intercept, trend, Fourier pairs and the three regressors.
func (m *Model) numFeatures() int {
	return 2 + 2*m.WeeklyOrder + 2*m.YearlyOrder + 3
}

func (m *Model) features(date time.Time, cov Covariates) []float64 {
	d := dayNumber(Day(date))
	row := make([]float64, 0, m.numFeatures())
	row = append(row, 1, (d-dayNumber(m.Origin))/m.TrendScale)
	row = appendFourier(row, d, weekPeriod, m.WeeklyOrder)
	row = appendFourier(row, d, yearPeriod, m.YearlyOrder)

	holiday := 0.0
	if cov.Holiday {
		holiday = 1
	}
	for i, v := range []float64{cov.Temp, cov.Humidity, holiday} {
		row = append(row, m.Regressors[i].apply(v))
	}
	return row
}

func appendFourier(row []float64, day, period float64, order int) []float64 {
	for k := 1; k <= order; k++ {
		angle := 2 * math.Pi * float64(k) * day / period
		row = append(row, math.Sin(angle), math.Cos(angle))
	}
	return row
}

func newScale(name string, xs []float64) Scale {
	mean, std := stat.MeanStdDev(xs, nil)
	if math.IsNaN(std) || std < 1e-9*math.Max(1, math.Abs(mean)) {
		std = 0
	}
	return Scale{Name: name, Mean: mean, Std: std}
}

func (s Scale) apply(v float64) float64 {
	if s.Std == 0 {
		return 0
	}
	return (v - s.Mean) / s.Std
}

// dayNumber is the count of days since the Unix epoch for a UTC midnight.
func dayNumber(t time.Time) float64 {
	return math.Floor(float64(t.Unix()) / secsPerDay)
}
