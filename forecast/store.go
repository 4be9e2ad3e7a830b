package forecast

import "context"

// ModelStore persists one model artifact per metric plus a single metrics document.
// Saving a metric must not touch the artifacts of any other metric.
type ModelStore interface {
	Save(ctx context.Context, m Metric, model *Model) error
	Load(ctx context.Context, m Metric) (*Model, error)
	SaveMetrics(ctx context.Context, all map[Metric]ValidationMetrics) error
	LoadMetrics(ctx context.Context) (map[Metric]ValidationMetrics, error)
	// Version identifies the currently stored artifact; it changes on every Save.
	Version(ctx context.Context, m Metric) (string, error)
}

// MetricsMerger is implemented by stores that can upsert metrics entries atomically,
// which keeps concurrent training processes from overwriting each other's entries.
type MetricsMerger interface {
	MergeMetrics(ctx context.Context, updates map[Metric]ValidationMetrics) (map[Metric]ValidationMetrics, error)
}

// HistorySource yields the full historical series in ascending date order.
type HistorySource interface {
	Load(ctx context.Context) ([]Record, error)
}

// ModelSource resolves the model used for inference.
type ModelSource interface {
	Get(ctx context.Context, m Metric) (*Model, error)
}

// MetricsSource exposes the stored validation metrics.
type MetricsSource interface {
	LoadMetrics(ctx context.Context) (map[Metric]ValidationMetrics, error)
}

// Invalidator is told when a metric's persisted model has been replaced.
type Invalidator interface {
	Invalidate(m Metric)
}

// InvalidatorFunc adapts a function to Invalidator.
type InvalidatorFunc func(m Metric)

func (f InvalidatorFunc) Invalidate(m Metric) { f(m) }

// Invalidators fans a single invalidation out to several receivers.
type Invalidators []Invalidator

func (is Invalidators) Invalidate(m Metric) {
	for _, i := range is {
		if i != nil {
			i.Invalidate(m)
		}
	}
}

// StoreSource reads models straight from a store with no caching.
type StoreSource struct {
	Store ModelStore
}

func (s StoreSource) Get(ctx context.Context, m Metric) (*Model, error) {
	return s.Store.Load(ctx, m)
}
