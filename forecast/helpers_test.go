package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"sync"
	"time"
)

var seriesStart = time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)

// makeSeries builds n consecutive days starting at seriesStart. fill sets the metric
// values for day i; covariates follow a smooth deterministic pattern.
func makeSeries(n int, fill func(i int, r *Record)) []Record {
	out := make([]Record, n)
	for i := range out {
		r := Record{
			Date:     seriesStart.AddDate(0, 0, i),
			Temp:     20 + 8*math.Sin(2*math.Pi*float64(i)/365.25),
			Humidity: 60 + 5*math.Cos(2*math.Pi*float64(i)/30),
			Holiday:  i%45 == 0,
		}
		fill(i, &r)
		out[i] = r
	}
	return out
}

// seasonalSeries has a trend, a weekly cycle and a bounded wobble on every metric.
func seasonalSeries(n int) []Record {
	return makeSeries(n, func(i int, r *Record) {
		week := math.Sin(2 * math.Pi * float64(i) / 7)
		wobble := math.Sin(float64(i) * 1.7)
		r.Beds = 180 + 0.05*float64(i) + 12*week + 3*wobble
		r.ICU = 25 + 3*week + wobble
		r.Oxygen = 300 + 20*week + 5*wobble
		r.ERVisits = 90 + 15*week + 4*wobble
		r.OccupancyRate = 0.75 + 0.05*week + 0.01*wobble
	})
}

func flatSeries(n int) []Record {
	out := makeSeries(n, func(i int, r *Record) {
		r.Beds = 100
		r.ICU = 20
		r.Oxygen = 250
		r.ERVisits = 80
		r.OccupancyRate = 0.8
	})
	for i := range out {
		out[i].Temp = 22
		out[i].Humidity = 55
		out[i].Holiday = false
	}
	return out
}

type staticHistory []Record

func (h staticHistory) Load(context.Context) ([]Record, error) {
	if len(h) == 0 {
		return nil, ErrDataUnavailable
	}
	return h, nil
}

// memStore keeps serialized artifacts so tests can compare bytes across retrains.
type memStore struct {
	mu       sync.Mutex
	models   map[Metric][]byte
	versions map[Metric]int
	metrics  []byte
	failSave map[Metric]bool
	// failMetrics makes every SaveMetrics call fail.
	failMetrics bool
}

func newMemStore() *memStore {
	return &memStore{
		models:   make(map[Metric][]byte),
		versions: make(map[Metric]int),
		failSave: make(map[Metric]bool),
	}
}

func (s *memStore) Save(_ context.Context, m Metric, model *Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave[m] {
		return errors.New("disk full")
	}
	b, err := json.Marshal(model)
	if err != nil {
		return err
	}
	s.models[m] = b
	s.versions[m]++
	return nil
}

func (s *memStore) Load(_ context.Context, m Metric) (*Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.models[m]
	if !ok {
		return nil, ErrModelNotFound
	}
	var model Model
	if err := json.Unmarshal(b, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *memStore) SaveMetrics(_ context.Context, all map[Metric]ValidationMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failMetrics {
		return errors.New("metrics disk full")
	}
	b, err := json.Marshal(all)
	if err != nil {
		return err
	}
	s.metrics = b
	return nil
}

func (s *memStore) LoadMetrics(context.Context) (map[Metric]ValidationMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Metric]ValidationMetrics)
	if s.metrics == nil {
		return out, nil
	}
	if err := json.Unmarshal(s.metrics, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *memStore) Version(_ context.Context, m Metric) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.models[m]; !ok {
		return "", ErrModelNotFound
	}
	return strconv.Itoa(s.versions[m]), nil
}
