package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// ErrQueueFull indicates the grading queue cannot accept more work right now.
var ErrQueueFull = errors.New("grading queue is full")

// ErrDispatcherClosed indicates the dispatcher is shutting down.
var ErrDispatcherClosed = errors.New("grading dispatcher is closed")

const internalGradingError = "internal grading error"

const (
	defaultWorkers   = 4
	defaultQueueSize = 64
)

// JobHandler grades a single job.
type JobHandler interface {
	Grade(ctx context.Context, job dto.GradingJob) (dto.GradingResult, error)
}

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers   int
	QueueSize int
}

// Dispatcher feeds grading jobs to a bounded pool of workers and records their status.
type Dispatcher struct {
	handler   JobHandler
	store     JobStore
	publisher EventPublisher
	logger    zerolog.Logger
	workers   int
	queue     chan dto.GradingJob

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	now     func() time.Time
}

// NewDispatcher constructs a dispatcher. Call Start before submitting work.
func NewDispatcher(handler JobHandler, store JobStore, publisher EventPublisher, cfg DispatcherConfig, logger zerolog.Logger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}

	return &Dispatcher{
		handler:   handler,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "grading_dispatcher").Logger(),
		workers:   cfg.Workers,
		queue:     make(chan dto.GradingJob, cfg.QueueSize),
		now:       time.Now,
	}
}

// Start launches the workers. Jobs keep running after ctx is cancelled; use Shutdown to drain.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true

	jobCtx := context.WithoutCancel(ctx)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work(jobCtx, i)
	}
	d.logger.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("grading workers started")
}

// Submit records the job as queued and hands it to the pool without blocking.
func (d *Dispatcher) Submit(ctx context.Context, job dto.GradingJob) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = d.now().UTC()
	}
	if job.CorrelationID == "" {
		job.CorrelationID = observability.CorrelationID(ctx)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return "", ErrDispatcherClosed
	}

	status := dto.JobStatus{
		JobID:       job.ID,
		UserID:      job.UserID,
		State:       dto.JobStateQueued,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   job.SubmittedAt,
	}
	if err := d.store.Save(ctx, status); err != nil {
		return "", fmt.Errorf("record queued job: %w", err)
	}

	select {
	case d.queue <- job:
		observability.GradingQueueDepth().Set(float64(len(d.queue)))
		return job.ID, nil
	default:
		if err := d.store.Delete(ctx, job.ID); err != nil {
			d.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to discard rejected job status")
		}
		return "", ErrQueueFull
	}
}

// Poll returns the current status of a job without blocking.
func (d *Dispatcher) Poll(ctx context.Context, jobID string) (dto.JobStatus, error) {
	status, err := d.store.Get(ctx, jobID)
	if err != nil {
		return dto.JobStatus{}, err
	}
	status.Ready = status.State.Finished()
	if !status.Ready {
		status.Result = nil
	}
	return status, nil
}

// Shutdown stops accepting jobs and waits for queued work to finish or ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info().Msg("grading workers drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) work(ctx context.Context, worker int) {
	defer d.wg.Done()
	for job := range d.queue {
		observability.GradingQueueDepth().Set(float64(len(d.queue)))
		d.process(ctx, worker, job)
	}
}

func (d *Dispatcher) process(ctx context.Context, worker int, job dto.GradingJob) {
	logContext := d.logger.With().Str("job_id", job.ID).Int("worker", worker).Uint("user_id", job.UserID)
	if job.CorrelationID != "" {
		logContext = logContext.Str("correlation_id", job.CorrelationID)
		ctx = observability.WithCorrelationID(ctx, job.CorrelationID)
	}
	logger := logContext.Logger()
	start := d.now()

	running := dto.JobStatus{
		JobID:       job.ID,
		UserID:      job.UserID,
		State:       dto.JobStateRunning,
		SubmittedAt: job.SubmittedAt,
		UpdatedAt:   start.UTC(),
	}
	if err := d.store.Save(ctx, running); err != nil {
		logger.Warn().Err(err).Msg("failed to record running job")
	}

	result, err := d.grade(ctx, job)

	final := running
	final.UpdatedAt = d.now().UTC()
	final.Ready = true
	if err != nil {
		final.State = dto.JobStateFailed
		final.Error = err.Error()
		if result.Status == "" {
			result = dto.GradingResult{Status: models.SubmissionStatusError, Error: err.Error(), Verdicts: []models.TestVerdict{}}
		}
		logger.Error().Err(err).Msg("grading job failed")
	} else {
		final.State = dto.JobStateCompleted
		logger.Info().Str("status", string(result.Status)).Int("passed", result.Passed).Int("total", result.Total).Msg("grading job completed")
	}
	final.Result = &result

	if err := d.store.Save(ctx, final); err != nil {
		logger.Error().Err(err).Msg("failed to record finished job")
	}

	observability.GradingJobs().WithLabelValues(string(final.State)).Inc()
	observability.GradingJobDuration().WithLabelValues(job.Kind()).Observe(time.Since(start).Seconds())

	event := GradingEvent{
		JobID:         job.ID,
		UserID:        job.UserID,
		Status:        final.State,
		Verdict:       string(result.Status),
		CorrelationID: job.CorrelationID,
		FinishedAt:    final.UpdatedAt,
	}
	if err := d.publisher.Publish(ctx, event); err != nil {
		logger.Warn().Err(err).Msg("grading event not delivered")
	}
}

func (d *Dispatcher) grade(ctx context.Context, job dto.GradingJob) (result dto.GradingResult, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error().Str("job_id", job.ID).Interface("panic", recovered).Msg("grading job panicked")
			result = dto.GradingResult{
				Status:   models.SubmissionStatusError,
				Verdicts: []models.TestVerdict{},
				Error:    internalGradingError,
			}
			err = errors.New(internalGradingError)
		}
	}()
	return d.handler.Grade(ctx, job)
}
