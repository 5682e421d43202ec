package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/synod-schools/portal/internal/jobs"
	"github.com/synod-schools/portal/internal/shared"
)

// DefaultRetentionDays applies when a prune payload carries no window.
const DefaultRetentionDays = 90

// EventStore is the persistence the session event jobs need.
type EventStore interface {
	RecordSessionEvent(ctx context.Context, ev shared.SessionEvent) error
	PruneSessionEvents(ctx context.Context, before time.Time) (int64, error)
}

// SessionEventJob writes queued session events to the audit log.
type SessionEventJob struct {
	Store   EventStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionEventJob wires dependencies for the session event handlers.
func NewSessionEventJob(store EventStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionEventJob {
	return &SessionEventJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle persists one TaskSessionEvent.
func (j *SessionEventJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("session event: handler not configured")
	}
	var payload SessionEventPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("session event: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if err := payload.Event.Validate(); err != nil {
		return fmt.Errorf("session event: %v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskSessionEvent)
	defer func() {
		err = tracker.End(err)
	}()

	if err := j.Store.RecordSessionEvent(ctx, payload.Event); err != nil {
		j.logger().Error("record session event",
			slog.String("kind", string(payload.Event.Kind)),
			slog.String("session", payload.Event.SessionID),
			slog.Any("error", err))
		return err
	}
	j.metrics().AddRecorded(string(payload.Event.Kind))
	return nil
}

// HandlePrune deletes events older than the payload retention window.
func (j *SessionEventJob) HandlePrune(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("session prune: handler not configured")
	}
	var payload SessionEventPrunePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("session prune: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	days := payload.RetentionDays
	if days <= 0 {
		days = DefaultRetentionDays
	}

	tracker := j.metrics().Track(TaskSessionEventPrune)
	defer func() {
		err = tracker.End(err)
	}()

	cutoff := j.now().AddDate(0, 0, -days)
	deleted, err := j.Store.PruneSessionEvents(ctx, cutoff)
	if err != nil {
		j.logger().Error("prune session events", slog.Time("before", cutoff), slog.Any("error", err))
		return err
	}
	j.metrics().AddPruned(deleted)
	j.logger().Info("pruned session events", slog.Int64("deleted", deleted), slog.Int("retention_days", days))
	return nil
}

func (j *SessionEventJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionEventJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *SessionEventJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

var defaultJobMetrics = jobmetrics.NewMetrics(nil)
