package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessExpiryScan sweeps access controls whose time window is
	// closing or already closed.
	TaskAccessExpiryScan = "access:expiry-scan"
)

// AccessExpiryScanPayload carries scheduling metadata.
type AccessExpiryScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAccessExpiryScanTask constructs an Asynq task for the expiry scan.
func NewAccessExpiryScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(AccessExpiryScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAccessExpiryScan, body, asynq.Queue(QueueDefault)), nil
}
