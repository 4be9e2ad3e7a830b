// Package modelstore persists fitted forecast models and their validation metrics.
package modelstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

const (
	modelPrefix      = "resource_model_"
	metricsFile      = "resource_model_metrics.json"
	debounceInterval = 250 * time.Millisecond
)

// FileStore keeps one JSON artifact per metric in a directory. Every write lands in a
// temp file that is renamed over the target, so readers never see a partial artifact
// and saving one metric never touches another metric's file.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create model directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) Dir() string { return s.dir }

// ModelPath returns the artifact path for metric m.
func (s *FileStore) ModelPath(m forecast.Metric) string {
	return filepath.Join(s.dir, modelPrefix+string(m)+".json")
}

func (s *FileStore) MetricsPath() string {
	return filepath.Join(s.dir, metricsFile)
}

func (s *FileStore) Save(_ context.Context, m forecast.Metric, model *forecast.Model) error {
	data, err := json.Marshal(model)
	if err != nil {
		return fmt.Errorf("encode model %s: %w", m, err)
	}
	return s.writeAtomic(s.ModelPath(m), data)
}

func (s *FileStore) Load(_ context.Context, m forecast.Metric) (*forecast.Model, error) {
	data, err := os.ReadFile(s.ModelPath(m))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", forecast.ErrModelNotFound, m)
		}
		return nil, fmt.Errorf("read model %s: %w", m, err)
	}
	var model forecast.Model
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("decode model %s: %w", m, err)
	}
	if model.Metric != m {
		return nil, fmt.Errorf("artifact %s holds a %s model", s.ModelPath(m), model.Metric)
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &model, nil
}

func (s *FileStore) SaveMetrics(_ context.Context, all map[forecast.Metric]forecast.ValidationMetrics) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	return s.writeAtomic(s.MetricsPath(), data)
}

// LoadMetrics returns an empty map when no metrics have been saved yet.
func (s *FileStore) LoadMetrics(context.Context) (map[forecast.Metric]forecast.ValidationMetrics, error) {
	out := make(map[forecast.Metric]forecast.ValidationMetrics)
	data, err := os.ReadFile(s.MetricsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("read metrics: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode metrics: %w", err)
	}
	return out, nil
}

// Version is derived from the artifact's modification time and size.
func (s *FileStore) Version(_ context.Context, m forecast.Metric) (string, error) {
	info, err := os.Stat(s.ModelPath(m))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", forecast.ErrModelNotFound, m)
		}
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
}

func (s *FileStore) writeAtomic(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o640); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Watch reports metrics whose artifact changed on disk until ctx is done. Bursts of
// events for the same file are collapsed into one callback.
func (s *FileStore) Watch(ctx context.Context, logger zerolog.Logger, fn func(forecast.Metric)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}

	go func() {
		defer watcher.Close()
		var mu sync.Mutex
		timers := make(map[forecast.Metric]*time.Timer)
		defer func() {
			mu.Lock()
			for _, t := range timers {
				t.Stop()
			}
			mu.Unlock()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				m, ok := metricFromPath(event.Name)
				if !ok {
					continue
				}
				mu.Lock()
				if t, exists := timers[m]; exists {
					t.Stop()
				}
				timers[m] = time.AfterFunc(debounceInterval, func() {
					if ctx.Err() == nil {
						fn(m)
					}
				})
				mu.Unlock()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn().Err(err).Str("dir", s.dir).Msg("model directory watcher error")
			}
		}
	}()
	return nil
}

func metricFromPath(path string) (forecast.Metric, bool) {
	base := filepath.Base(path)
	if !strings.HasPrefix(base, modelPrefix) || !strings.HasSuffix(base, ".json") || base == metricsFile {
		return "", false
	}
	m, err := forecast.ParseMetric(strings.TrimSuffix(strings.TrimPrefix(base, modelPrefix), ".json"))
	if err != nil {
		return "", false
	}
	return m, true
}
