package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/Kubendra2004/HealthForesight/forecast"
)

const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

var ErrJobNotFound = errors.New("training job not found")

// ModelTrainer is the subset of forecast.Trainer the job runner needs.
type ModelTrainer interface {
	Train(ctx context.Context, records []forecast.Record, only ...forecast.Metric) (*forecast.TrainReport, error)
}

type TrainingJob struct {
	ID         string                `json:"id"`
	Status     string                `json:"status"`
	Metrics    []forecast.Metric     `json:"metrics"`
	CreatedAt  time.Time             `json:"created_at"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
	Error      string                `json:"error,omitempty"`
	Report     *forecast.TrainReport `json:"report,omitempty"`
}

// TrainingJobs runs retrains in the background and remembers the most recent jobs.
type TrainingJobs struct {
	trainer ModelTrainer
	history forecast.HistorySource
	timeout time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	jobs *lru.Cache[string, *TrainingJob]
	wg   sync.WaitGroup
}

func NewTrainingJobs(trainer ModelTrainer, history forecast.HistorySource, timeout time.Duration, logger zerolog.Logger) *TrainingJobs {
	jobs, _ := lru.New[string, *TrainingJob](100)
	return &TrainingJobs{
		trainer: trainer,
		history: history,
		timeout: timeout,
		logger:  logger.With().Str("component", "training_jobs").Logger(),
		jobs:    jobs,
	}
}

// Start queues a retrain of the given metrics (all when empty) and returns at once.
func (j *TrainingJobs) Start(only []forecast.Metric) TrainingJob {
	job := &TrainingJob{
		ID:        uuid.NewString(),
		Status:    JobQueued,
		Metrics:   only,
		CreatedAt: time.Now().UTC(),
	}
	j.mu.Lock()
	j.jobs.Add(job.ID, job)
	snapshot := *job
	j.mu.Unlock()

	j.wg.Add(1)
	go j.run(job)
	return snapshot
}

func (j *TrainingJobs) run(job *TrainingJob) {
	defer j.wg.Done()
	ctx := context.Background()
	var cancel context.CancelFunc
	if j.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	j.update(job.ID, func(jb *TrainingJob) { jb.Status = JobRunning })
	log := j.logger.With().Str("job_id", job.ID).Logger()
	log.Info().Interface("metrics", job.Metrics).Msg("training job started")

	report, err := j.execute(ctx, job.Metrics)
	now := time.Now().UTC()
	j.update(job.ID, func(jb *TrainingJob) {
		jb.FinishedAt = &now
		jb.Report = report
		if err != nil {
			jb.Status = JobFailed
			jb.Error = err.Error()
			return
		}
		jb.Status = JobSucceeded
		if failed := report.Failed(); len(failed) > 0 {
			jb.Error = fmt.Sprintf("failed metrics: %v", failed)
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("training job failed")
		return
	}
	log.Info().Str("run_id", report.RunID).Int("failed", len(report.Failed())).Msg("training job finished")
}

func (j *TrainingJobs) execute(ctx context.Context, only []forecast.Metric) (*forecast.TrainReport, error) {
	records, err := j.history.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return j.trainer.Train(ctx, records, only...)
}

func (j *TrainingJobs) update(id string, fn func(*TrainingJob)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if job, ok := j.jobs.Peek(id); ok {
		fn(job)
	}
}

// Get returns a snapshot of the job.
func (j *TrainingJobs) Get(id string) (TrainingJob, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	job, ok := j.jobs.Get(id)
	if !ok {
		return TrainingJob{}, ErrJobNotFound
	}
	return *job, nil
}

// Wait blocks until every started job has finished.
func (j *TrainingJobs) Wait() {
	j.wg.Wait()
}
