package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/constant"
	"worker-asset-processing/dto"
	"worker-asset-processing/entities"
	"worker-asset-processing/pkg/rabbitmq"
)

// JobSource is the part of the job client used by the triage loop.
type JobSource interface {
	FetchJobs(ctx context.Context) []entities.Job
	UpdateJob(ctx context.Context, jobID string, update dto.JobUpdate) error
}

// Fetcher polls the control plane and decides, per job, whether to dispatch
// it, fail it as stuck, give up on it, or leave it alone.
type Fetcher struct {
	repo           JobSource
	set            *DispatchSet
	queue          chan<- entities.Job
	events         rabbitmq.Publisher
	interval       time.Duration
	stuckThreshold time.Duration
	maxAttempts    int
	now            func() time.Time
}

func NewFetcher(repo JobSource, set *DispatchSet, queue chan<- entities.Job, events rabbitmq.Publisher, cfg config.Scheduler) *Fetcher {
	return &Fetcher{
		repo:           repo,
		set:            set,
		queue:          queue,
		events:         events,
		interval:       cfg.PollInterval,
		stuckThreshold: cfg.StuckJobThreshold,
		maxAttempts:    cfg.MaxJobAttempts,
		now:            time.Now,
	}
}

// Run polls at a fixed interval until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context) error {
	zerolog.Ctx(ctx).Info().Dur("interval", f.interval).Msg("job fetcher started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			zerolog.Ctx(ctx).Info().Msg("job fetcher stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := f.cycle(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("fetch cycle failed")
		}
		timer.Reset(f.interval)
	}
}

func (f *Fetcher) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in fetch cycle: %v", r)
		}
	}()

	jobs := f.repo.FetchJobs(ctx)
	zerolog.Ctx(ctx).Debug().Int("jobs", len(jobs)).Msg("fetched jobs")
	f.Triage(ctx, jobs)
	return nil
}

// Triage applies the dispatch rules to one batch of job snapshots, in order.
func (f *Fetcher) Triage(ctx context.Context, jobs []entities.Job) {
	now := f.now()
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Str("status", job.Status.String()).Logger()

		switch job.Status {
		case constant.JobStatusInProgress:
			if age := job.HeartbeatAge(now); age > f.stuckThreshold {
				logger.Warn().Dur("heartbeat_age", age).Msg("job is stuck")
				f.failStuck(logger.WithContext(ctx), job)
			}
		case constant.JobStatusCreated, constant.JobStatusFailed:
			if job.Attempts >= f.maxAttempts {
				logger.Warn().Int("attempts", job.Attempts).Msg("job exceeded max attempts")
				f.giveUp(logger.WithContext(ctx), job)
				continue
			}
			if !f.set.TryAdd(job.ID) {
				continue
			}
			select {
			case f.queue <- job:
				logger.Info().Int("attempts", job.Attempts).Msg("job dispatched")
			default:
				f.set.Remove(job.ID)
				logger.Warn().Msg("job queue is full, will retry next cycle")
			}
		}
	}
}

func (f *Fetcher) failStuck(ctx context.Context, job entities.Job) {
	attempts := job.Attempts + 1
	update := dto.NewJobUpdate().
		WithStatus(constant.JobStatusFailed).
		WithErrorMessage(constant.ErrorMessageStuck).
		WithAttempts(attempts)
	if err := f.repo.UpdateJob(ctx, job.ID, update); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark stuck job as failed")
	} else {
		f.publish(ctx, job, constant.JobStatusFailed, attempts, constant.ErrorMessageStuck)
	}
	f.set.Remove(job.ID)
}

func (f *Fetcher) giveUp(ctx context.Context, job entities.Job) {
	update := dto.NewJobUpdate().WithStatus(constant.JobStatusMaxAttemptsExceeded)
	if err := f.repo.UpdateJob(ctx, job.ID, update); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to mark job as max attempts exceeded")
		return
	}
	f.publish(ctx, job, constant.JobStatusMaxAttemptsExceeded, job.Attempts, constant.ErrorMessageMaxAttempts)
}

func (f *Fetcher) publish(ctx context.Context, job entities.Job, status constant.JobStatus, attempts int, errorMessage string) {
	err := f.events.Publish(ctx, dto.JobEvent{
		JobID:        job.ID,
		AssetID:      job.AssetID,
		Status:       status,
		Attempts:     attempts,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("failed to publish job event")
	}
}
