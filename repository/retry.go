package repository

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"worker-asset-processing/dto"
)

const statusWriteTries = 3

// JobUpdater is the write side of JobRepository.
type JobUpdater interface {
	UpdateJob(ctx context.Context, jobID string, update dto.JobUpdate) error
}

// UpdateJobWithRetry sends a status write with exponential backoff. Client
// errors other than 408 and 429 are returned without retrying. Extra options
// are applied after the defaults.
func UpdateJobWithRetry(ctx context.Context, repo JobUpdater, jobID string, update dto.JobUpdate, opts ...backoff.RetryOption) error {
	operation := func() (struct{}, error) {
		err := repo.UpdateJob(ctx, jobID, update)
		if err == nil {
			return struct{}{}, nil
		}
		if !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		zerolog.Ctx(ctx).Warn().Err(err).Str("job_id", jobID).Str("status", update.StatusOrEmpty().String()).Msg("job update failed, retrying")
		return struct{}{}, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 5 * time.Second
	options := append([]backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(statusWriteTries),
	}, opts...)

	_, err := backoff.Retry(ctx, operation, options...)
	return err
}

func retryable(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	switch {
	case apiErr.StatusCode == http.StatusRequestTimeout, apiErr.StatusCode == http.StatusTooManyRequests:
		return true
	case apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return false
	default:
		return true
	}
}
