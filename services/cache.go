package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Kubendra2004/HealthForesight/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis channels shared by the API, trainer, collector and alerter.
const (
	ChannelForecasts       = "hospitalops:forecasts"
	ChannelAlerts          = "hospitalops:alerts"
	ChannelLive            = "hospitalops:live"
	ChannelInvalidate      = "hospitalops:models:invalidate"
	forecastCacheKeyPrefix = "hospitalops:forecast:"
)

type CacheService struct {
	client *redis.Client
}

// NewCacheService connects to Redis, retrying the ping while the sidecar comes up. On
// failure it still returns a usable service whose operations are no-ops.
func NewCacheService(cfg config.RedisConfig, attempts int, logger zerolog.Logger) (*CacheService, error) {
	if attempts <= 0 {
		attempts = 1
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		lastErr = client.Ping(ctx).Err()
		cancel()
		if lastErr == nil {
			return &CacheService{client: client}, nil
		}
		logger.Warn().Err(lastErr).Int("attempt", i+1).Int("of", attempts).Msg("redis ping failed")
		if i < attempts-1 {
			time.Sleep(2 * time.Second)
		}
	}
	_ = client.Close()

	return &CacheService{client: nil}, fmt.Errorf("redis ping failed after %d attempts: %w", attempts, lastErr)
}

// NewCacheWithClient wraps an existing client. A nil client gives a disabled cache.
func NewCacheWithClient(client *redis.Client) *CacheService {
	return &CacheService{client: client}
}

func (s *CacheService) Client() *redis.Client {
	return s.client
}

func (s *CacheService) Available() bool {
	return s != nil && s.client != nil
}

// Get decodes the cached value into dest and reports whether the key was present.
func (s *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Available() {
		return false, nil
	}
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *CacheService) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *CacheService) Delete(ctx context.Context, keys ...string) error {
	if !s.Available() || len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// DeleteForecasts drops every cached forecast response.
func (s *CacheService) DeleteForecasts(ctx context.Context) error {
	if !s.Available() {
		return nil
	}
	iter := s.client.Scan(ctx, 0, forecastCacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.Delete(ctx, keys...)
}

func (s *CacheService) Publish(ctx context.Context, channel string, message interface{}) error {
	if !s.Available() {
		return nil
	}
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, channel, data).Err()
}

func (s *CacheService) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	if !s.Available() {
		return nil
	}
	return s.client.Subscribe(ctx, channels...)
}

func (s *CacheService) Close() error {
	if !s.Available() {
		return nil
	}
	return s.client.Close()
}

// ForecastCacheKey names the cached response for a request shape.
func ForecastCacheKey(days int, start string, metrics []string) string {
	key := fmt.Sprintf("%sd%d:s%s", forecastCacheKeyPrefix, days, start)
	for _, m := range metrics {
		key += ":" + m
	}
	return key
}
