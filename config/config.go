package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
	Forecast  ForecastConfig
	Trainer   TrainerConfig
	MQTT      MQTTConfig
	Alerter   AlerterConfig
	Tracing   TracingConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port        int
	Env         string
	MetricsAddr string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// URL renders the connection string in the form pgxpool.New expects.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(d.User, d.Password),
		Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:     "/" + d.Name,
		RawQuery: "sslmode=" + url.QueryEscape(d.SSLMode),
	}
	return u.String()
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (r RedisConfig) Addr() string {
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

type JWTConfig struct {
	Secret      string
	ExpiryHours int
}

type CORSConfig struct {
	AllowedOrigins string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
}

type ForecastConfig struct {
	// HistorySource is "csv" or "postgres".
	HistorySource string
	HistoryPath   string
	// Store is "file" or "sqlite".
	Store           string
	ModelDir        string
	SQLitePath      string
	DefaultDays     int
	MaxDays         int
	RegressorWindow int
	// AlignShiftBounds moves the interval bounds along with yhat when the live offset
	// is applied.
	AlignShiftBounds bool
	VersionCheck     bool
	WatchModels      bool
	CacheTTL         time.Duration
}

type TrainerConfig struct {
	Schedule    string
	RunOnStart  bool
	CVTimeout   time.Duration
	JobTimeout  time.Duration
	Concurrency int
	InitialDays int
	PeriodDays  int
	HorizonDays int
}

type MQTTConfig struct {
	URL   string
	Topic string
}

type AlerterConfig struct {
	Threshold float64
	Interval  time.Duration
}

type TracingConfig struct {
	Endpoint     string
	SamplingRate float64
}

type LogConfig struct {
	Level  string
	Pretty bool
}

// LoadConfig reads a .env file when present and then the process environment.
// Variables already set in the environment win over the file.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	e := newEnv()
	var errs []string
	intVar := func(key string, fallback int) int {
		v, err := e.integer(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	floatVar := func(key string, fallback float64) float64 {
		v, err := e.float(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	boolVar := func(key string, fallback bool) bool {
		v, err := e.boolean(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}
	durVar := func(key string, fallback time.Duration) time.Duration {
		v, err := e.duration(key, fallback)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
		}
		return v
	}

	env := e.str("ENV", "development")
	cfg := &Config{
		Server: ServerConfig{
			Port:        intVar("SERVER_PORT", 8080),
			Env:         env,
			MetricsAddr: e.str("METRICS_ADDR", ":9090"),
		},
		Database: DatabaseConfig{
			Host:     e.str("DB_HOST", "localhost"),
			Port:     intVar("DB_PORT", 5432),
			User:     e.str("DB_USER", "hospitalops"),
			Password: e.str("DB_PASSWORD", "hospitalops_dev_password"),
			Name:     e.str("DB_NAME", "hospitalops"),
			SSLMode:  e.str("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     e.str("REDIS_HOST", "localhost"),
			Port:     intVar("REDIS_PORT", 6379),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       intVar("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      e.str("JWT_SECRET", "change-me-in-production"),
			ExpiryHours: intVar("JWT_EXPIRY_HOURS", 24),
		},
		CORS: CORSConfig{
			AllowedOrigins: e.str("CORS_ALLOWED_ORIGINS", "*"),
		},
		RateLimit: RateLimitConfig{
			RPS:   floatVar("RATE_LIMIT_RPS", 20),
			Burst: intVar("RATE_LIMIT_BURST", 40),
		},
		Forecast: ForecastConfig{
			HistorySource:    strings.ToLower(e.str("FORECAST_HISTORY_SOURCE", "csv")),
			HistoryPath:      e.str("FORECAST_HISTORY_PATH", "data/hospital_resources.csv"),
			Store:            strings.ToLower(e.str("FORECAST_STORE", "file")),
			ModelDir:         e.str("FORECAST_MODEL_DIR", "models"),
			SQLitePath:       e.str("FORECAST_SQLITE_PATH", "models/forecast.db"),
			DefaultDays:      intVar("FORECAST_DEFAULT_DAYS", 7),
			MaxDays:          intVar("FORECAST_MAX_DAYS", 90),
			RegressorWindow:  intVar("FORECAST_REGRESSOR_WINDOW", 7),
			AlignShiftBounds: boolVar("FORECAST_ALIGN_SHIFT_BOUNDS", true),
			VersionCheck:     boolVar("FORECAST_MODEL_VERSION_CHECK", false),
			WatchModels:      boolVar("FORECAST_WATCH_MODELS", true),
			CacheTTL:         durVar("FORECAST_CACHE_TTL", 60*time.Second),
		},
		Trainer: TrainerConfig{
			Schedule:    e.str("TRAINER_SCHEDULE", "0 3 * * *"),
			RunOnStart:  boolVar("TRAINER_RUN_ON_START", false),
			CVTimeout:   durVar("TRAINER_CV_TIMEOUT", 5*time.Minute),
			JobTimeout:  durVar("TRAINER_JOB_TIMEOUT", 30*time.Minute),
			Concurrency: intVar("TRAINER_CONCURRENCY", 2),
			InitialDays: intVar("TRAINER_CV_INITIAL_DAYS", 365),
			PeriodDays:  intVar("TRAINER_CV_PERIOD_DAYS", 30),
			HorizonDays: intVar("TRAINER_CV_HORIZON_DAYS", 7),
		},
		MQTT: MQTTConfig{
			URL:   e.str("MQTT_URL", "tcp://localhost:1883"),
			Topic: e.str("MQTT_TOPIC", "hospitalops/resources/+"),
		},
		Alerter: AlerterConfig{
			Threshold: floatVar("ALERT_THRESHOLD", 0.7),
			Interval:  durVar("ALERT_INTERVAL", 5*time.Minute),
		},
		Tracing: TracingConfig{
			Endpoint:     e.str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			SamplingRate: floatVar("OTEL_SAMPLING_RATE", 1.0),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Pretty: boolVar("LOG_PRETTY", env == "development"),
		},
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the services cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d out of range", c.Server.Port)
	}
	switch c.Forecast.HistorySource {
	case "csv", "postgres":
	default:
		return fmt.Errorf("FORECAST_HISTORY_SOURCE must be csv or postgres, got %q", c.Forecast.HistorySource)
	}
	switch c.Forecast.Store {
	case "file", "sqlite":
	default:
		return fmt.Errorf("FORECAST_STORE must be file or sqlite, got %q", c.Forecast.Store)
	}
	if c.Alerter.Threshold <= 0.5 || c.Alerter.Threshold >= 1 {
		return fmt.Errorf("ALERT_THRESHOLD must be in (0.5, 1), got %v", c.Alerter.Threshold)
	}
	if c.Alerter.Interval <= 0 {
		return fmt.Errorf("ALERT_INTERVAL must be positive, got %v", c.Alerter.Interval)
	}
	if c.Trainer.JobTimeout <= 0 {
		return fmt.Errorf("TRAINER_JOB_TIMEOUT must be positive, got %v", c.Trainer.JobTimeout)
	}
	if c.Forecast.DefaultDays < 1 || c.Forecast.DefaultDays > c.Forecast.MaxDays {
		return fmt.Errorf("FORECAST_DEFAULT_DAYS must be between 1 and FORECAST_MAX_DAYS (%d), got %d",
			c.Forecast.MaxDays, c.Forecast.DefaultDays)
	}
	if c.IsProduction() && c.JWT.Secret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env() == "production"
}

func (c *Config) Env() string {
	return c.Server.Env
}

// env reads values from the process environment through viper, with cast doing the
// type conversion so malformed values surface as errors instead of zero values.
type env struct {
	v *viper.Viper
}

func newEnv() env {
	v := viper.New()
	v.AutomaticEnv()
	return env{v: v}
}

func (e env) raw(key string) string {
	return strings.TrimSpace(e.v.GetString(key))
}

func (e env) str(key, fallback string) string {
	if value := e.raw(key); value != "" {
		return value
	}
	return fallback
}

func (e env) integer(key string, fallback int) (int, error) {
	value := e.raw(key)
	if value == "" {
		return fallback, nil
	}
	return cast.ToIntE(value)
}

func (e env) float(key string, fallback float64) (float64, error) {
	value := e.raw(key)
	if value == "" {
		return fallback, nil
	}
	return cast.ToFloat64E(value)
}

func (e env) boolean(key string, fallback bool) (bool, error) {
	value := e.raw(key)
	if value == "" {
		return fallback, nil
	}
	return cast.ToBoolE(value)
}

func (e env) duration(key string, fallback time.Duration) (time.Duration, error) {
	value := e.raw(key)
	if value == "" {
		return fallback, nil
	}
	return cast.ToDurationE(value)
}

func getEnv(key, fallback string) string {
	return newEnv().str(key, fallback)
}

func getIntEnv(key string, fallback int) (int, error) {
	return newEnv().integer(key, fallback)
}
