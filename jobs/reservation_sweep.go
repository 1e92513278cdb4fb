package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const sweepLockTTL = 2 * time.Minute

// ReservationSweeper expires lapsed reservations.
type ReservationSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int, error)
}

// ReservationSweepJob runs the expiry sweep. A redis lock keeps concurrent
// workers from sweeping at the same time; a worker that loses the race skips
// the run.
type ReservationSweepJob struct {
	Sweeper ReservationSweeper
	Locker  *redislock.Client
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewReservationSweepJob builds the sweep handler.
func NewReservationSweepJob(sweeper ReservationSweeper, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReservationSweepJob {
	return &ReservationSweepJob{
		Sweeper: sweeper,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

// NewReservationSweepTask builds the cron task.
func NewReservationSweepTask() *asynq.Task {
	return asynq.NewTask(TaskReservationSweep, nil, asynq.MaxRetry(0), asynq.Unique(time.Minute))
}

// Handle processes TaskReservationSweep tasks.
func (j *ReservationSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run sweeps once and reports how many reservations expired.
func (j *ReservationSweepJob) Run(ctx context.Context) (n int, err error) {
	if j == nil || j.Sweeper == nil {
		return 0, errors.New("reservation sweep: handler not configured")
	}
	logger := j.logger()
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.ReservationSweepLockKey(), sweepLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("sweep already running elsewhere")
			return 0, nil
		}
		if err != nil {
			return 0, err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}
	tracker := j.metrics().Track(TaskReservationSweep)
	defer func() { err = tracker.End(err) }()

	start := j.clock()
	n, err = j.Sweeper.SweepExpired(ctx, start)
	if err != nil {
		logger.Error("sweep failed", slog.Any("error", err), slog.Int("expired", n))
		return n, err
	}
	j.metrics().AddSwept(n)
	logger.Info("sweep completed", slog.Int("expired", n), slog.Duration("duration", time.Since(start)))
	return n, nil
}

func (j *ReservationSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReservationSweep))
	}
	return slog.Default().With(slog.String("job", TaskReservationSweep))
}

func (j *ReservationSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
