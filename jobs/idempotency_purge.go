package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
)

// DefaultIdempotencyRetention is how long a processed request key blocks repeats.
const DefaultIdempotencyRetention = 7 * 24 * time.Hour

// PurgePayload sets the retention of a purge run.
type PurgePayload struct {
	Retention time.Duration `json:"retention"`
}

// NewIdempotencyPurgeTask builds the cron task.
func NewIdempotencyPurgeTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(PurgePayload{Retention: retention})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyPurge, data, asynq.MaxRetry(2)), nil
}

// KeyCleaner drops request keys older than a retention window.
type KeyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyPurgeJob forgets old Idempotency-Key values.
type IdempotencyPurgeJob struct {
	Keys    KeyCleaner
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskIdempotencyPurge tasks.
func (j *IdempotencyPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Keys == nil {
		return errors.New("idempotency purge: handler not configured")
	}
	payload := PurgePayload{Retention: DefaultIdempotencyRetention}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.Retention <= 0 {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskIdempotencyPurge)
	defer func() { err = tracker.End(err) }()

	n, err := j.Keys.Cleanup(ctx, payload.Retention)
	if err != nil {
		j.logger().Error("purge idempotency keys", slog.Any("error", err))
		return err
	}
	j.logger().Info("idempotency keys purged", slog.Int64("removed", n), slog.Duration("retention", payload.Retention))
	return nil
}

func (j *IdempotencyPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskIdempotencyPurge))
	}
	return slog.Default().With(slog.String("job", TaskIdempotencyPurge))
}

func (j *IdempotencyPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
