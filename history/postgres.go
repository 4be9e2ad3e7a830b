package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

const schema = `
CREATE TABLE IF NOT EXISTS resource_history (
	date            DATE PRIMARY KEY,
	beds            DOUBLE PRECISION NOT NULL,
	icu             DOUBLE PRECISION NOT NULL,
	oxygen          DOUBLE PRECISION NOT NULL,
	er_visits       DOUBLE PRECISION NOT NULL,
	occupancy_rate  DOUBLE PRECISION NOT NULL,
	temp            DOUBLE PRECISION NOT NULL,
	humidity        DOUBLE PRECISION NOT NULL,
	holiday         BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// DB is the subset of *pgxpool.Pool the history table needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Postgres serves the series from the resource_history table.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create resource_history: %w", err)
	}
	return nil
}

func (p *Postgres) Load(ctx context.Context) ([]forecast.Record, error) {
	rows, err := p.db.Query(ctx, `
		SELECT date, beds, icu, oxygen, er_visits, occupancy_rate, temp, humidity, holiday
		FROM resource_history
		ORDER BY date ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query resource_history: %w", err)
	}
	defer rows.Close()

	var records []forecast.Record
	for rows.Next() {
		var r forecast.Record
		var date time.Time
		if err := rows.Scan(&date, &r.Beds, &r.ICU, &r.Oxygen, &r.ERVisits, &r.OccupancyRate,
			&r.Temp, &r.Humidity, &r.Holiday); err != nil {
			return nil, fmt.Errorf("scan resource_history: %w", err)
		}
		r.Date = forecast.Day(date)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate resource_history: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: resource_history is empty", forecast.ErrDataUnavailable)
	}
	return records, nil
}

// Append upserts one day. A second observation for the same date replaces the first.
func (p *Postgres) Append(ctx context.Context, r forecast.Record) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO resource_history (date, beds, icu, oxygen, er_visits, occupancy_rate, temp, humidity, holiday)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (date) DO UPDATE SET
			beds = EXCLUDED.beds,
			icu = EXCLUDED.icu,
			oxygen = EXCLUDED.oxygen,
			er_visits = EXCLUDED.er_visits,
			occupancy_rate = EXCLUDED.occupancy_rate,
			temp = EXCLUDED.temp,
			humidity = EXCLUDED.humidity,
			holiday = EXCLUDED.holiday,
			updated_at = NOW()
	`, forecast.Day(r.Date), r.Beds, r.ICU, r.Oxygen, r.ERVisits, r.OccupancyRate, r.Temp, r.Humidity, r.Holiday)
	if err != nil {
		return fmt.Errorf("upsert resource_history %s: %w", forecast.Day(r.Date).Format("2006-01-02"), err)
	}
	return nil
}

// Import upserts records in order and reports how many were written.
func (p *Postgres) Import(ctx context.Context, records []forecast.Record) (int, error) {
	for i, r := range records {
		if err := p.Append(ctx, r); err != nil {
			return i, err
		}
	}
	return len(records), nil
}
