package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/constant"
	"worker-asset-processing/dto"
	"worker-asset-processing/entities"
	"worker-asset-processing/pkg/rabbitmq"
	"worker-asset-processing/repository"
)

type Pool[T any] interface {
	Consume(ctx context.Context, dependencies T) error
}

type pool[T any] struct {
	queue      <-chan entities.Job
	set        *DispatchSet
	locks      *LockRegistry
	repo       repository.JobUpdater
	events     rabbitmq.Publisher
	handler    func(ctx context.Context, job entities.Job, dependencies T) error
	numWorkers int
	pause      time.Duration
	retryOpts  []backoff.RetryOption
}

// Consume runs the workers until ctx is cancelled. Jobs still waiting in the
// queue at that point are left for the stuck check of a later run.
func (p *pool[T]) Consume(ctx context.Context, dependencies T) error {
	var wg sync.WaitGroup
	for i := 1; i <= p.numWorkers; i++ {
		wg.Add(1)
		go func(workerId int) {
			defer wg.Done()
			p.work(ctx, workerId, dependencies)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (p *pool[T]) work(ctx context.Context, workerId int, dependencies T) {
	logger := zerolog.Ctx(ctx).With().Int("worker", workerId).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("worker stopped")
			return
		case job := <-p.queue:
			if err := p.handle(ctx, job, dependencies); err != nil {
				logger.Error().Err(err).Str("job_id", job.ID).Dur("pause", p.pause).Msg("worker loop error")
				select {
				case <-ctx.Done():
				case <-time.After(p.pause):
				}
			}
		}
	}
}

func (p *pool[T]) handle(ctx context.Context, job entities.Job, dependencies T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in worker loop: %v", r)
		}
	}()

	release := p.locks.Acquire(job.ID)
	defer p.set.Remove(job.ID)
	defer release()

	if err := p.runHandler(ctx, job, dependencies); err != nil {
		p.reportFailure(ctx, job, err)
	}
	return nil
}

func (p *pool[T]) runHandler(ctx context.Context, job entities.Job, dependencies T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			zerolog.Ctx(ctx).Error().Str("job_id", job.ID).Bytes("stack", debug.Stack()).Msg("job handler panicked")
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return p.handler(ctx, job, dependencies)
}

// reportFailure records a failure the handler could not record itself.
func (p *pool[T]) reportFailure(ctx context.Context, job entities.Job, cause error) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Logger()
	if ctx.Err() != nil {
		logger.Warn().Err(cause).Msg("job interrupted by shutdown")
		return
	}

	attempts := job.Attempts + 1
	update := dto.NewJobUpdate().
		WithStatus(constant.JobStatusFailed).
		WithErrorMessage(cause.Error()).
		WithAttempts(attempts)
	if err := repository.UpdateJobWithRetry(ctx, p.repo, job.ID, update, p.retryOpts...); err != nil {
		logger.Error().Err(err).AnErr("cause", cause).Msg("failed to report job failure")
		return
	}

	if err := p.events.Publish(ctx, dto.JobEvent{
		JobID:        job.ID,
		AssetID:      job.AssetID,
		Status:       constant.JobStatusFailed,
		Attempts:     attempts,
		ErrorMessage: cause.Error(),
	}); err != nil {
		logger.Warn().Err(err).Msg("failed to publish job event")
	}
}

func NewPool[T any](
	queue <-chan entities.Job,
	set *DispatchSet,
	locks *LockRegistry,
	repo repository.JobUpdater,
	events rabbitmq.Publisher,
	cfg config.Scheduler,
	handler func(ctx context.Context, job entities.Job, dependencies T) error,
) Pool[T] {
	numWorkers := cfg.Workers
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &pool[T]{
		queue:      queue,
		set:        set,
		locks:      locks,
		repo:       repo,
		events:     events,
		handler:    handler,
		numWorkers: numWorkers,
		pause:      cfg.WorkerPause,
	}
}
