package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// trainedEngine trains every metric on records and returns an engine whose clock sits
// on the day after the last record.
func trainedEngine(t *testing.T, records []Record, drop ...Metric) (*Engine, *memStore) {
	t.Helper()
	store := newMemStore()
	if _, err := newTestTrainer(store).Train(context.Background(), records); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	for _, m := range drop {
		delete(store.models, m)
	}
	today := records[len(records)-1].Date.AddDate(0, 0, 1)
	engine := NewEngine(staticHistory(records), StoreSource{Store: store}, DefaultEngineConfig(), zerolog.Nop(),
		WithMetricsSource(store),
		WithClock(func() time.Time { return today.Add(9 * time.Hour) }),
	)
	return engine, store
}

func TestForecastFlatSeries(t *testing.T) {
	engine, _ := trainedEngine(t, flatSeries(400))
	res, err := engine.Forecast(context.Background(), ForecastRequest{})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if res.Days != 7 {
		t.Errorf("Days = %d, want default 7", res.Days)
	}
	beds := res.Series[Beds]
	if len(beds) != 7 {
		t.Fatalf("got %d beds points, want 7", len(beds))
	}
	for i, p := range beds {
		if math.Abs(p.Yhat-100) > 0.01 {
			t.Errorf("day %d: yhat = %v, want ~100", i, p.Yhat)
		}
		if math.Abs(p.ProbIncrease-0.5) > 0.01 {
			t.Errorf("day %d: prob_increase = %v, want ~0.5", i, p.ProbIncrease)
		}
		if i > 0 && !p.Date.After(beds[i-1].Date) {
			t.Errorf("dates not ascending at %d", i)
		}
	}
	if res.Current[Beds] != 100 {
		t.Errorf("current beds = %v, want 100", res.Current[Beds])
	}
}

func TestForecastOmitsMissingModel(t *testing.T) {
	engine, _ := trainedEngine(t, seasonalSeries(90), Oxygen)
	res, err := engine.Forecast(context.Background(), ForecastRequest{Days: 5})
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}
	if _, ok := res.Series[Oxygen]; ok {
		t.Error("oxygen has no model and should be omitted")
	}
	if _, ok := res.Metrics[Oxygen]; ok {
		t.Error("oxygen metrics should not be reported without a forecast")
	}
	for _, m := range []Metric{Beds, ICU, ERVisits, OccupancyRate} {
		points, ok := res.Series[m]
		if !ok {
			t.Errorf("%s missing from result", m)
			continue
		}
		if len(points) != 5 {
			t.Errorf("%s: got %d points, want 5", m, len(points))
		}
		for _, p := range points {
			if p.YhatUpper < p.YhatLower || p.ProbIncrease < 0 || p.ProbIncrease > 1 || math.IsNaN(p.ProbIncrease) {
				t.Errorf("%s: malformed point %+v", m, p)
			}
		}
	}
}

func TestForecastIsDeterministic(t *testing.T) {
	engine, _ := trainedEngine(t, seasonalSeries(200))
	req := ForecastRequest{Days: 10, Start: seriesStart.AddDate(0, 0, 200)}
	a, err := engine.Forecast(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	b, err := engine.Forecast(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a.Series, b.Series) {
		t.Error("repeated inference produced different points")
	}
}

func TestForecastRequestValidation(t *testing.T) {
	engine, _ := trainedEngine(t, seasonalSeries(60))
	tests := []struct {
		name string
		days int
	}{
		{"negative", -1},
		{"beyond max", 91},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Forecast(context.Background(), ForecastRequest{Days: tt.days})
			if !errors.Is(err, ErrInvalidHorizon) {
				t.Errorf("got %v, want ErrInvalidHorizon", err)
			}
		})
	}
}

func TestForecastWithoutHistory(t *testing.T) {
	engine := NewEngine(staticHistory(nil), StoreSource{Store: newMemStore()}, DefaultEngineConfig(), zerolog.Nop())
	if _, err := engine.Forecast(context.Background(), ForecastRequest{}); !errors.Is(err, ErrDataUnavailable) {
		t.Errorf("got %v, want ErrDataUnavailable", err)
	}
}

func TestForecastSelectedMetrics(t *testing.T) {
	engine, _ := trainedEngine(t, seasonalSeries(60))
	res, err := engine.Forecast(context.Background(), ForecastRequest{Days: 3, Metrics: []Metric{ICU}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Series) != 1 || res.Series[ICU] == nil {
		t.Errorf("expected only icu, got %v", res.Series)
	}
}

func TestFutureCovariatesUsesTrailingWeek(t *testing.T) {
	records := makeSeries(10, func(int, *Record) {})
	for i := range records {
		records[i].Temp = float64(i)
		records[i].Humidity = 50
		records[i].Holiday = true
	}
	e := NewEngine(staticHistory(records), nil, DefaultEngineConfig(), zerolog.Nop())
	cov := e.futureCovariates(records)
	if cov.Temp != 6 {
		t.Errorf("temp = %v, want mean of days 3..9 = 6", cov.Temp)
	}
	if cov.Humidity != 50 || cov.Holiday {
		t.Errorf("unexpected covariates %+v", cov)
	}

	short := e.futureCovariates(records[:2])
	if short.Temp != 0.5 {
		t.Errorf("short history temp = %v, want 0.5", short.Temp)
	}
}

func TestForecastPointJSON(t *testing.T) {
	p := ForecastPoint{
		Date:         time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC),
		Yhat:         120.5,
		YhatLower:    110,
		YhatUpper:    131,
		ProbIncrease: 0.75,
	}
	data, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"date":"2024-03-05"`, `"yhat":120.5`, `"yhat_lower":110`, `"yhat_upper":131`, `"prob_increase":0.75`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %s", data, want)
		}
	}
	var back ForecastPoint
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if !back.Date.Equal(p.Date) || back.Yhat != p.Yhat || back.ProbIncrease != p.ProbIncrease {
		t.Errorf("decoded %+v, want %+v", back, p)
	}
}
