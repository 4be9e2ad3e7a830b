package modelstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	// Registers the pure-Go "sqlite" driver.
	_ "modernc.org/sqlite"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

// SQLiteStore keeps artifacts as rows, one per metric, for deployments that share a
// single database file instead of a model directory.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

func OpenSQLite(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &SQLiteStore{db: db, path: path}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(context.Background(), pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLiteStore) createSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS forecast_models (
		metric TEXT PRIMARY KEY,
		payload BLOB NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		run_id TEXT,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS forecast_metrics (
		metric TEXT PRIMARY KEY,
		mae REAL NOT NULL,
		rmse REAL NOT NULL,
		mape REAL NOT NULL,
		accuracy_score REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteStore) Save(ctx context.Context, m forecast.Metric, model *forecast.Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", m, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO forecast_models (metric, payload, version, run_id, updated_at)
		VALUES (?, ?, 1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(metric) DO UPDATE SET
			payload = excluded.payload,
			version = forecast_models.version + 1,
			run_id = excluded.run_id,
			updated_at = CURRENT_TIMESTAMP
	`, string(m), data, model.RunID)
	if err != nil {
		return fmt.Errorf("save model %s: %w", m, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, m forecast.Metric) (*forecast.Model, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM forecast_models WHERE metric = ?`, string(m)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", forecast.ErrModelNotFound, m)
	}
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", m, err)
	}
	var model forecast.Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", m, err)
	}
	if model.Metric != m {
		return nil, fmt.Errorf("row %s holds a %s model", m, model.Metric)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &model, nil
}

// SaveMetrics replaces the metrics document. Rows for metrics absent from all are
// removed, so the table always mirrors the map the caller passed.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, all map[forecast.Metric]forecast.ValidationMetrics) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM forecast_metrics`); err != nil {
		return fmt.Errorf("clear metrics: %w", err)
	}
	for m, vm := range all {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forecast_metrics (metric, mae, rmse, mape, accuracy_score)
			VALUES (?, ?, ?, ?, ?)
		`, string(m), vm.MAE, vm.RMSE, vm.MAPE, vm.AccuracyScore); err != nil {
			return fmt.Errorf("save metrics %s: %w", m, err)
		}
	}
	return tx.Commit()
}

// MergeMetrics upserts the given entries in one transaction and returns the resulting
// document. Entries for other metrics are left as they are, so trainers in different
// processes sharing the database do not overwrite each other.
func (s *SQLiteStore) MergeMetrics(ctx context.Context, updates map[forecast.Metric]forecast.ValidationMetrics) (map[forecast.Metric]forecast.ValidationMetrics, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin metrics tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for m, vm := range updates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO forecast_metrics (metric, mae, rmse, mape, accuracy_score, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(metric) DO UPDATE SET
				mae = excluded.mae,
				rmse = excluded.rmse,
				mape = excluded.mape,
				accuracy_score = excluded.accuracy_score,
				updated_at = CURRENT_TIMESTAMP
		`, string(m), vm.MAE, vm.RMSE, vm.MAPE, vm.AccuracyScore); err != nil {
			return nil, fmt.Errorf("merge metrics %s: %w", m, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit metrics: %w", err)
	}
	return s.LoadMetrics(ctx)
}

func (s *SQLiteStore) LoadMetrics(ctx context.Context) (map[forecast.Metric]forecast.ValidationMetrics, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric, mae, rmse, mape, accuracy_score FROM forecast_metrics`)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	out := make(map[forecast.Metric]forecast.ValidationMetrics)
	for rows.Next() {
		var name string
		var vm forecast.ValidationMetrics
		if err := rows.Scan(&name, &vm.MAE, &vm.RMSE, &vm.MAPE, &vm.AccuracyScore); err != nil {
			return nil, fmt.Errorf("scan metrics: %w", err)
		}
		out[forecast.Metric(name)] = vm
	}
	return out, rows.Err()
}

// Version is the row's save counter.
func (s *SQLiteStore) Version(ctx context.Context, m forecast.Metric) (string, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM forecast_models WHERE metric = ?`, string(m)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", forecast.ErrModelNotFound, m)
	}
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(v, 10), nil
}
