// Package app turns configuration into the concrete stores, sources and settings the
// binaries share.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/config"
	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/history"
	"github.com/Kubendra2004/HealthForesight/logging"
	"github.com/Kubendra2004/HealthForesight/modelstore"
	"github.com/Kubendra2004/HealthForesight/telemetry"
)

func Logger(cfg *config.Config, service string) zerolog.Logger {
	return logging.New(logging.Config{
		Level:   cfg.Log.Level,
		Pretty:  cfg.Log.Pretty,
		Service: service,
	})
}

func Telemetry(cfg *config.Config, service string) telemetry.Config {
	return telemetry.Config{
		ServiceName:       service,
		ServiceVersion:    Version,
		Environment:       cfg.Env(),
		CollectorEndpoint: cfg.Tracing.Endpoint,
		SamplingRate:      cfg.Tracing.SamplingRate,
	}
}

// Version is overridden at build time with -ldflags.
var Version = "dev"

func EngineConfig(cfg config.ForecastConfig) forecast.EngineConfig {
	return forecast.EngineConfig{
		RegressorWindow: cfg.RegressorWindow,
		DefaultDays:     cfg.DefaultDays,
		MaxDays:         cfg.MaxDays,
	}
}

func TrainerConfig(cfg config.TrainerConfig) forecast.TrainerConfig {
	tc := forecast.DefaultTrainerConfig()
	tc.CVTimeout = cfg.CVTimeout
	if cfg.Concurrency > 0 {
		tc.Concurrency = cfg.Concurrency
	}
	if cfg.InitialDays > 0 {
		tc.Backtest.InitialDays = cfg.InitialDays
	}
	if cfg.PeriodDays > 0 {
		tc.Backtest.PeriodDays = cfg.PeriodDays
	}
	if cfg.HorizonDays > 0 {
		tc.Backtest.HorizonDays = cfg.HorizonDays
	}
	return tc
}

// Store is a model store that may hold resources.
type Store struct {
	forecast.ModelStore
	// File is set for the file backend so callers can watch the directory.
	File  *modelstore.FileStore
	close func() error
}

func (s *Store) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

func OpenStore(cfg config.ForecastConfig) (*Store, error) {
	switch cfg.Store {
	case "sqlite":
		ss, err := modelstore.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Store{ModelStore: ss, close: ss.Close}, nil
	case "file", "":
		fs, err := modelstore.NewFileStore(cfg.ModelDir)
		if err != nil {
			return nil, err
		}
		return &Store{ModelStore: fs, File: fs}, nil
	}
	return nil, fmt.Errorf("unknown model store %q", cfg.Store)
}

// History is a history source plus the pool backing it, if any.
type History struct {
	forecast.HistorySource
	Postgres *history.Postgres
	pool     *pgxpool.Pool
}

func (h *History) Close() {
	if h.pool != nil {
		h.pool.Close()
	}
}

// OpenHistory opens the configured series. The postgres source ensures its table.
func OpenHistory(ctx context.Context, cfg *config.Config) (*History, error) {
	switch cfg.Forecast.HistorySource {
	case "postgres":
		pool, err := OpenPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		pg := history.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return &History{HistorySource: pg, Postgres: pg, pool: pool}, nil
	case "csv", "":
		return &History{HistorySource: history.CSVFile{Path: cfg.Forecast.HistoryPath}}, nil
	}
	return nil, fmt.Errorf("unknown history source %q", cfg.Forecast.HistorySource)
}

func OpenPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("db pool init failed: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping failed: %w", err)
	}
	return pool, nil
}
