package dto

import (
	"time"
	"worker-asset-processing/constant"
)

// JobUpdate is a partial update for an asset processing job. Only the fields
// that were set are sent; the control plane merges them into the stored job.
type JobUpdate struct {
	Status        *constant.JobStatus `json:"status,omitempty"`
	ErrorMessage  *string             `json:"errorMessage,omitempty"`
	Attempts      *int                `json:"attempts,omitempty"`
	LastHeartbeat *time.Time          `json:"lastHeartBeat,omitempty"`
}

func NewJobUpdate() JobUpdate {
	return JobUpdate{}
}

func (u JobUpdate) WithStatus(status constant.JobStatus) JobUpdate {
	u.Status = &status
	return u
}

func (u JobUpdate) WithErrorMessage(msg string) JobUpdate {
	u.ErrorMessage = &msg
	return u
}

func (u JobUpdate) WithAttempts(attempts int) JobUpdate {
	u.Attempts = &attempts
	return u
}

func (u JobUpdate) WithHeartbeat(at time.Time) JobUpdate {
	at = at.UTC()
	u.LastHeartbeat = &at
	return u
}

// StatusOrEmpty is used for logging and event routing.
func (u JobUpdate) StatusOrEmpty() constant.JobStatus {
	if u.Status == nil {
		return ""
	}
	return *u.Status
}

type AssetContentUpdate struct {
	Content    string `json:"content"`
	TokenCount int    `json:"tokenCount"`
}

// JobEvent is published on the message broker whenever a job changes status.
type JobEvent struct {
	JobID        string             `json:"jobId"`
	AssetID      string             `json:"assetId,omitempty"`
	Status       constant.JobStatus `json:"status"`
	Attempts     int                `json:"attempts"`
	ErrorMessage string             `json:"errorMessage,omitempty"`
	WorkerID     string             `json:"workerId,omitempty"`
	OccurredAt   time.Time          `json:"occurredAt"`
}
