package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"

	"github.com/synod-schools/portal/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueAudit carries session audit records.
	QueueAudit = "audit"
	// TaskSessionEvent persists one session lifecycle event.
	TaskSessionEvent = "session:event"
	// TaskSessionEventPrune deletes events past retention.
	TaskSessionEventPrune = "session:prune"
)

// SessionEventPayload wraps a session event on the queue.
type SessionEventPayload struct {
	Event shared.SessionEvent `json:"event"`
}

// SessionEventPrunePayload sets the retention window of a prune run.
type SessionEventPrunePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewSessionEventTask constructs an Asynq task for ev.
func NewSessionEventTask(ev shared.SessionEvent) (*asynq.Task, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(SessionEventPayload{Event: ev})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionEvent, data, asynq.Queue(QueueAudit), asynq.MaxRetry(5), asynq.Timeout(30*time.Second)), nil
}

// NewSessionEventPruneTask constructs the retention task.
func NewSessionEventPruneTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(SessionEventPrunePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionEventPrune, data, asynq.Queue(QueueDefault)), nil
}
