package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"worker-asset-processing/config"
	"worker-asset-processing/constant"
	"worker-asset-processing/dto"
	"worker-asset-processing/entities"
	"worker-asset-processing/pkg/rabbitmq"
	"worker-asset-processing/repository"
)

var (
	ErrAssetNotFound      = errors.New("asset not found")
	ErrInvalidContentType = errors.New("invalid content type")
	ErrInvalidText        = errors.New("asset is not valid UTF-8 text")
)

type Service interface {
	// Process runs one job to completion. Processing failures are recorded on
	// the job and do not surface; the returned error means the outcome could
	// not be recorded.
	Process(ctx context.Context, job entities.Job) error
}

type service struct {
	repo        repository.JobRepository
	pipeline    MediaPipeline
	transcriber Transcriber
	events      rabbitmq.Publisher
	cfg         *config.Config
	retryOpts   []backoff.RetryOption
}

func NewService(
	repo repository.JobRepository,
	pipeline MediaPipeline,
	transcriber Transcriber,
	events rabbitmq.Publisher,
	cfg *config.Config,
) Service {
	return &service{
		repo:        repo,
		pipeline:    pipeline,
		transcriber: transcriber,
		events:      events,
		cfg:         cfg,
	}
}

func (s *service) Process(ctx context.Context, job entities.Job) (err error) {
	logger := zerolog.Ctx(ctx).With().Str("job_id", job.ID).Str("asset_id", job.AssetID).Logger()
	ctx = logger.WithContext(ctx)
	logger.Info().Int("attempts", job.Attempts).Msg("processing job")

	heartbeat := StartHeartbeat(ctx, s.repo, job.ID, s.cfg.Scheduler.HeartbeatInterval)
	defer heartbeat.Stop()

	defer func() {
		if err == nil {
			return
		}
		// Interrupted jobs stay in_progress; the stuck check picks them up.
		if ctx.Err() != nil {
			logger.Warn().Err(err).Msg("job interrupted by shutdown")
			err = ctx.Err()
			return
		}
		logger.Error().Err(err).Msg("job failed")
		err = s.recordFailure(ctx, job, err)
	}()

	if err = s.repo.UpdateJob(ctx, job.ID, dto.NewJobUpdate().WithStatus(constant.JobStatusInProgress)); err != nil {
		return fmt.Errorf("mark job in progress: %w", err)
	}
	s.publish(ctx, job, constant.JobStatusInProgress, job.Attempts, "")

	asset, err := s.repo.FetchAsset(ctx, job.AssetID)
	if err != nil {
		return err
	}
	if asset == nil {
		return fmt.Errorf("%w: %s", ErrAssetNotFound, job.AssetID)
	}

	logger.Info().Str("file_type", string(asset.FileType)).Str("file_url", asset.FileURL).Msg("downloading asset")
	data, err := s.repo.FetchAssetBytes(ctx, asset.FileURL)
	if err != nil {
		return fmt.Errorf("download asset: %w", err)
	}

	content, err := s.extractContent(ctx, asset, data)
	if err != nil {
		return err
	}

	if err = s.repo.UpdateAssetContent(ctx, asset.ID, content); err != nil {
		return fmt.Errorf("save asset content: %w", err)
	}

	completed := dto.NewJobUpdate().WithStatus(constant.JobStatusCompleted)
	if err = repository.UpdateJobWithRetry(ctx, s.repo, job.ID, completed, s.retryOpts...); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	s.publish(ctx, job, constant.JobStatusCompleted, job.Attempts, "")

	logger.Info().Int("content_length", len(content)).Msg("job completed")
	return nil
}

func (s *service) extractContent(ctx context.Context, asset *entities.Asset, data []byte) (string, error) {
	maxChunk := s.cfg.Media.MaxChunkSizeBytes

	switch asset.FileType {
	case constant.FileTypeText, constant.FileTypeMarkdown:
		if !utf8.Valid(data) {
			return "", ErrInvalidText
		}
		return string(data), nil
	case constant.FileTypeAudio:
		chunks, err := s.pipeline.SplitAudio(ctx, data, maxChunk, asset.FileName)
		if err != nil {
			return "", fmt.Errorf("split audio: %w", err)
		}
		return s.transcribe(ctx, chunks)
	case constant.FileTypeVideo:
		chunks, err := s.pipeline.ExtractAudioAndSplit(ctx, data, maxChunk, asset.FileName)
		if err != nil {
			return "", fmt.Errorf("extract audio: %w", err)
		}
		return s.transcribe(ctx, chunks)
	default:
		return "", fmt.Errorf("%w: %s", ErrInvalidContentType, asset.FileType)
	}
}

func (s *service) transcribe(ctx context.Context, chunks []entities.Chunk) (string, error) {
	texts, err := s.transcriber.TranscribeChunks(ctx, chunks)
	if err != nil {
		return "", err
	}
	return strings.Join(texts, "\n"), nil
}

// recordFailure marks the job failed with attempts counted from the snapshot
// the job was dispatched with.
func (s *service) recordFailure(ctx context.Context, job entities.Job, cause error) error {
	attempts := job.Attempts + 1
	update := dto.NewJobUpdate().
		WithStatus(constant.JobStatusFailed).
		WithErrorMessage(cause.Error()).
		WithAttempts(attempts)

	if err := repository.UpdateJobWithRetry(ctx, s.repo, job.ID, update, s.retryOpts...); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("failed to record job failure")
		return fmt.Errorf("record failure of job %s: %w", job.ID, errors.Join(err, cause))
	}
	s.publish(ctx, job, constant.JobStatusFailed, attempts, cause.Error())
	return nil
}

func (s *service) publish(ctx context.Context, job entities.Job, status constant.JobStatus, attempts int, errorMessage string) {
	err := s.events.Publish(ctx, dto.JobEvent{
		JobID:        job.ID,
		AssetID:      job.AssetID,
		Status:       status,
		Attempts:     attempts,
		ErrorMessage: errorMessage,
	})
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("status", status.String()).Msg("failed to publish job event")
	}
}
