package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/models"
)

// ── Classification tests ──

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		prob      float64
		direction string
		ok        bool
	}{
		{"strong increase", 0.92, models.AlertIncrease, true},
		{"at threshold", 0.7, models.AlertIncrease, true},
		{"just below", 0.69, "", false},
		{"even odds", 0.5, "", false},
		{"at lower threshold", 0.3, models.AlertDecrease, true},
		{"strong decrease", 0.05, models.AlertDecrease, true},
		{"certain increase", 1, models.AlertIncrease, true},
		{"certain decrease", 0, models.AlertDecrease, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			direction, ok := classify(tt.prob, 0.7)
			if direction != tt.direction || ok != tt.ok {
				t.Errorf("classify(%v) = %q, %v; want %q, %v", tt.prob, direction, ok, tt.direction, tt.ok)
			}
		})
	}
}

func TestBuildAlerts(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	day := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)
	rows := []forecastRow{
		{Metric: "beds", ForecastDate: day, Yhat: 131.2, ProbIncrease: 0.85, Current: 120},
		{Metric: "icu", ForecastDate: day, Yhat: 20, ProbIncrease: 0.5, Current: 20},
		{Metric: "oxygen", ForecastDate: day, Yhat: 250, ProbIncrease: 0.1, Current: 300},
	}
	alerts := buildAlerts(rows, 0.7, now)
	if len(alerts) != 2 {
		t.Fatalf("got %d alerts, want 2", len(alerts))
	}
	if alerts[0].Metric != "beds" || alerts[0].Direction != models.AlertIncrease || !alerts[0].TS.Equal(now) {
		t.Errorf("unexpected first alert %+v", alerts[0])
	}
	if alerts[1].Metric != "oxygen" || alerts[1].Direction != models.AlertDecrease {
		t.Errorf("unexpected second alert %+v", alerts[1])
	}
	want := "beds likely to increase on 2024-05-02: forecast 131.2 vs current 120.0 (85% chance of increase)"
	if alerts[0].Message != want {
		t.Errorf("message = %q, want %q", alerts[0].Message, want)
	}
}

// ── Storage and publish tests ──

type fakeDB struct {
	affected []int64
	err      error
	calls    int
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	defer func() { f.calls++ }()
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	n := f.affected[f.calls]
	if n == 0 {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

type fakePublisher struct {
	channels []string
	fail     bool
}

func (f *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) error {
	if f.fail {
		return errors.New("redis down")
	}
	f.channels = append(f.channels, channel)
	return nil
}

func TestStoreAlertsSkipsDuplicates(t *testing.T) {
	alerts := []models.CapacityAlert{{Metric: "beds"}, {Metric: "icu"}, {Metric: "oxygen"}}
	db := &fakeDB{affected: []int64{1, 0, 1}}

	stored := storeAlerts(context.Background(), db, alerts, zerolog.Nop())
	if len(stored) != 2 || stored[0].Metric != "beds" || stored[1].Metric != "oxygen" {
		t.Errorf("stored %v", stored)
	}

	failing := &fakeDB{err: errors.New("db down")}
	if got := storeAlerts(context.Background(), failing, alerts, zerolog.Nop()); len(got) != 0 {
		t.Errorf("stored %d alerts on failure", len(got))
	}
}

func TestPublishAlerts(t *testing.T) {
	alerts := []models.CapacityAlert{{Metric: "beds"}, {Metric: "icu"}}
	pub := &fakePublisher{}
	if n := publishAlerts(context.Background(), pub, alerts, zerolog.Nop()); n != 2 {
		t.Errorf("published %d, want 2", n)
	}
	for _, ch := range pub.channels {
		if !strings.HasSuffix(ch, ":alerts") {
			t.Errorf("published on %q", ch)
		}
	}
	if n := publishAlerts(context.Background(), &fakePublisher{fail: true}, alerts, zerolog.Nop()); n != 0 {
		t.Errorf("published %d on failure", n)
	}
}

func TestRunCycleQueryFailure(t *testing.T) {
	db := &fakeDB{}
	pub := &fakePublisher{}
	runCycle(context.Background(), db, pub, 0.7, zerolog.Nop())
	if db.calls != 0 || len(pub.channels) != 0 {
		t.Error("a failed query must not store or publish anything")
	}
}
