package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// HeartbeatUpdater is the part of the job client the reporter needs.
type HeartbeatUpdater interface {
	UpdateHeartbeat(ctx context.Context, jobID string) error
}

// Heartbeat periodically refreshes the heartbeat timestamp of a single job
// until it is stopped or fails.
type Heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartHeartbeat sends the first heartbeat immediately and then one per
// interval in a background goroutine.
func StartHeartbeat(ctx context.Context, repo HeartbeatUpdater, jobID string, interval time.Duration) *Heartbeat {
	ctx, cancel := context.WithCancel(ctx)
	h := &Heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		logger := zerolog.Ctx(ctx).With().Str("job_id", jobID).Logger()

		timer := time.NewTimer(0)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			if err := repo.UpdateHeartbeat(ctx, jobID); err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				logger.Error().Err(err).Msg("heartbeat failed, stopping reporter")
				return
			}
			logger.Debug().Msg("heartbeat sent")
			timer.Reset(interval)
		}
	}()

	return h
}

// Stop cancels the reporter and waits for it to exit. No heartbeat is sent
// after Stop returns. Safe to call more than once.
func (h *Heartbeat) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the reporter goroutine has exited.
func (h *Heartbeat) Done() <-chan struct{} {
	return h.done
}
