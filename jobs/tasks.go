package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/pricing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueMaintenance carries the periodic scans.
	QueueMaintenance = "maintenance"
	// TaskPriceHistory records a last-price observation.
	TaskPriceHistory = "pricing:record"
	// TaskReservationSweep expires lapsed reservations.
	TaskReservationSweep = "stock:reservations:sweep"
	// TaskLedgerIntegrity scans balances and postings for drift.
	TaskLedgerIntegrity = "stock:integrity"
	// TaskIdempotencyPurge removes expired request keys.
	TaskIdempotencyPurge = "idempotency:purge"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// NewPriceHistoryTask wraps entry as an Asynq task.
func NewPriceHistoryTask(entry pricing.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPriceHistory, data, asynq.MaxRetry(5)), nil
}

// PriceStore persists price observations.
type PriceStore interface {
	Save(ctx context.Context, entry pricing.Entry) error
}

// PriceHistoryJob stores entries queued by posted documents.
type PriceHistoryJob struct {
	Store   PriceStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// Handle processes TaskPriceHistory tasks.
func (j *PriceHistoryJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("price history: handler not configured")
	}
	var entry pricing.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		return asynq.SkipRetry
	}
	if err := entry.Validate(); err != nil {
		j.logger().Warn("price entry rejected", slog.Any("error", err))
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskPriceHistory)
	defer func() { err = tracker.End(err) }()
	if err := j.Store.Save(ctx, entry); err != nil {
		j.logger().Error("save price history", slog.Any("error", err), slog.Int64("item_id", entry.ItemID))
		return err
	}
	return nil
}

func (j *PriceHistoryJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPriceHistory))
	}
	return slog.Default().With(slog.String("job", TaskPriceHistory))
}

func (j *PriceHistoryJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
