package entities

import (
	"time"
	"worker-asset-processing/constant"
)

// Job is a snapshot of an asset processing job as returned by the control plane.
// It is never written back implicitly; every change goes through an explicit update.
type Job struct {
	ID            string             `json:"id"`
	AssetID       string             `json:"assetId"`
	Status        constant.JobStatus `json:"status"`
	Attempts      int                `json:"attempts"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	LastHeartbeat time.Time          `json:"lastHeartBeat"`
	ErrorMessage  *string            `json:"errorMessage,omitempty"`
}

// HeartbeatAge returns how long ago the job last signalled liveness.
// Jobs that never sent a heartbeat fall back to their last update time.
func (j Job) HeartbeatAge(now time.Time) time.Duration {
	last := j.LastHeartbeat
	if last.IsZero() {
		last = j.UpdatedAt
	}
	if last.IsZero() {
		last = j.CreatedAt
	}
	return now.Sub(last)
}
