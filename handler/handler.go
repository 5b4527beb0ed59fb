package handler

import (
	"context"

	"github.com/rs/zerolog"
	"worker-asset-processing/entities"
	"worker-asset-processing/service"
)

type ServiceDependencies struct {
	AssetService service.Service
}

// JobHandler runs one dispatched job. A returned error means the failure was
// not recorded on the job and the pool has to report it.
func JobHandler(ctx context.Context, job entities.Job, deps ServiceDependencies) error {
	zerolog.Ctx(ctx).Debug().
		Str("job_id", job.ID).
		Str("status", job.Status.String()).
		Int("attempts", job.Attempts).
		Msg("received job")

	err := deps.AssetService.Process(ctx, job)
	if err != nil {
		return err
	}

	return nil
}
