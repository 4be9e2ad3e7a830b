package services

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

// InvalidationMessage announces that a metric's stored model was replaced.
type InvalidationMessage struct {
	Metric string    `json:"metric"`
	Origin string    `json:"origin"`
	TS     time.Time `json:"ts"`
}

// InvalidationPublisher broadcasts model replacements so every API replica drops its
// cached copy. It implements forecast.Invalidator.
type InvalidationPublisher struct {
	cache  *CacheService
	origin string
	logger zerolog.Logger
}

func NewInvalidationPublisher(cache *CacheService, logger zerolog.Logger) *InvalidationPublisher {
	origin, _ := os.Hostname()
	return &InvalidationPublisher{
		cache:  cache,
		origin: origin,
		logger: logger.With().Str("component", "invalidation").Logger(),
	}
}

func (p *InvalidationPublisher) Invalidate(m forecast.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg := InvalidationMessage{Metric: string(m), Origin: p.origin, TS: time.Now().UTC()}
	if err := p.cache.Publish(ctx, ChannelInvalidate, msg); err != nil {
		p.logger.Warn().Err(err).Str("metric", string(m)).Msg("invalidation publish failed")
		return
	}
	if err := p.cache.DeleteForecasts(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("forecast cache purge failed")
	}
}

// ParseInvalidation decodes a payload from the invalidation channel.
func ParseInvalidation(payload string) (forecast.Metric, error) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return "", err
	}
	return forecast.ParseMetric(msg.Metric)
}

// ListenInvalidations calls fn for every metric announced on the invalidation channel
// until ctx is cancelled. It returns immediately when Redis is unavailable.
func ListenInvalidations(ctx context.Context, cache *CacheService, logger zerolog.Logger, fn func(forecast.Metric)) {
	sub := cache.Subscribe(ctx, ChannelInvalidate)
	if sub == nil {
		logger.Warn().Msg("redis unavailable, cross-replica model invalidation disabled")
		return
	}
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			m, err := ParseInvalidation(msg.Payload)
			if err != nil {
				logger.Warn().Err(err).Str("payload", msg.Payload).Msg("bad invalidation message")
				continue
			}
			logger.Info().Str("metric", string(m)).Msg("model invalidated by peer")
			fn(m)
		}
	}
}
