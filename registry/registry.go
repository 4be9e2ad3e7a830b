// Package registry caches loaded forecast models for the serving path.
//
// Models are loaded on first use and reused until invalidated. A retrain must call
// Invalidate (directly, over the Redis invalidation channel or through the file
// watcher); with version checks enabled a stale entry is also detected on the next
// hit by comparing the store's version stamp.
package registry

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/Kubendra2004/HealthForesight/forecast"
	"github.com/Kubendra2004/HealthForesight/metrics"
)

type Options struct {
	// Size bounds the number of cached models.
	Size int
	// VersionCheck compares the store's version on every hit.
	VersionCheck bool
}

type entry struct {
	model   *forecast.Model
	version string
}

// Registry is a read-through model cache. Cached models are never mutated.
type Registry struct {
	store  forecast.ModelStore
	opts   Options
	logger zerolog.Logger

	mu    sync.RWMutex
	cache *lru.Cache[forecast.Metric, entry]
	// gens counts invalidations per metric. A load only populates the cache when no
	// invalidation happened while it was reading the store.
	gens  map[forecast.Metric]uint64
	group singleflight.Group
}

func New(store forecast.ModelStore, opts Options, logger zerolog.Logger) (*Registry, error) {
	if opts.Size <= 0 {
		opts.Size = len(forecast.AllMetrics)
	}
	cache, err := lru.New[forecast.Metric, entry](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("create model cache: %w", err)
	}
	return &Registry{
		store:  store,
		opts:   opts,
		logger: logger.With().Str("component", "registry").Logger(),
		cache:  cache,
		gens:   make(map[forecast.Metric]uint64),
	}, nil
}

// Get returns the cached model for m, loading it from the store on a miss.
func (r *Registry) Get(ctx context.Context, m forecast.Metric) (*forecast.Model, error) {
	r.mu.RLock()
	e, ok := r.cache.Get(m)
	r.mu.RUnlock()

	if ok {
		if !r.opts.VersionCheck {
			metrics.ModelCacheHits.Inc()
			return e.model, nil
		}
		v, err := r.store.Version(ctx, m)
		if err == nil && v == e.version {
			metrics.ModelCacheHits.Inc()
			return e.model, nil
		}
		r.logger.Info().Str("metric", string(m)).Str("cached", e.version).Str("stored", v).
			Msg("model version changed, reloading")
		r.InvalidateFrom(m, "version")
	}

	metrics.ModelCacheMisses.Inc()
	return r.Reload(ctx, m)
}

// Reload loads m from the store and replaces the cached entry. A model read before a
// concurrent invalidation is returned to the caller but not cached.
func (r *Registry) Reload(ctx context.Context, m forecast.Metric) (*forecast.Model, error) {
	v, err, _ := r.group.Do(string(m), func() (any, error) {
		r.mu.RLock()
		gen := r.gens[m]
		r.mu.RUnlock()

		version, verr := r.store.Version(ctx, m)
		model, err := r.store.Load(ctx, m)
		if err != nil {
			return nil, err
		}
		if verr != nil {
			version = ""
		}
		r.mu.Lock()
		current := r.gens[m] == gen
		if current {
			r.cache.Add(m, entry{model: model, version: version})
		}
		r.mu.Unlock()
		if !current {
			r.logger.Debug().Str("metric", string(m)).Msg("model invalidated during load, not cached")
			return model, nil
		}
		r.logger.Debug().Str("metric", string(m)).Str("version", version).Msg("model loaded")
		return model, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*forecast.Model), nil
}

// Invalidate drops the cached model for m. It implements forecast.Invalidator.
func (r *Registry) Invalidate(m forecast.Metric) {
	r.InvalidateFrom(m, "local")
}

// InvalidateFrom drops m and records which channel requested it.
func (r *Registry) InvalidateFrom(m forecast.Metric, source string) {
	r.mu.Lock()
	r.gens[m]++
	r.cache.Remove(m)
	r.mu.Unlock()
	// Callers arriving after this point must not join a load that started earlier.
	r.group.Forget(string(m))
	metrics.ModelInvalidations.WithLabelValues(source).Inc()
}

// Purge empties the cache.
func (r *Registry) Purge() {
	r.mu.Lock()
	for _, m := range forecast.AllMetrics {
		r.gens[m]++
		r.group.Forget(string(m))
	}
	r.cache.Purge()
	r.mu.Unlock()
}

// Cached lists the metrics currently held in memory.
func (r *Registry) Cached() []forecast.Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cache.Keys()
}

// Warm loads every metric that has a stored model; missing models are skipped.
func (r *Registry) Warm(ctx context.Context) int {
	loaded := 0
	for _, m := range forecast.AllMetrics {
		if _, err := r.Reload(ctx, m); err != nil {
			r.logger.Debug().Err(err).Str("metric", string(m)).Msg("model not warmed")
			continue
		}
		loaded++
	}
	return loaded
}
