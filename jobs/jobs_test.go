package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stubSweeper struct {
	calls int
	n     int
	err   error
}

func (s *stubSweeper) SweepExpired(context.Context, time.Time) (int, error) {
	s.calls++
	return s.n, s.err
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redislock.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestReservationSweepRuns(t *testing.T) {
	sweeper := &stubSweeper{n: 3}
	job := NewReservationSweepJob(sweeper, newLocker(t), nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	n, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 1, sweeper.calls)

	// the lock is released after a run
	_, err = job.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, sweeper.calls)
}

func TestReservationSweepSkipsWhenLocked(t *testing.T) {
	locker := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.ReservationSweepLockKey(), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	sweeper := &stubSweeper{n: 3}
	job := NewReservationSweepJob(sweeper, locker, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	n, err := job.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, sweeper.calls)
}

func TestReservationSweepPropagatesFailure(t *testing.T) {
	boom := errors.New("db down")
	job := NewReservationSweepJob(&stubSweeper{err: boom}, nil, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.ErrorIs(t, job.Handle(context.Background(), NewReservationSweepTask()), boom)
}

type stubScanner struct {
	tolerance decimal.Decimal
	drifts    []inventory.ValuationDrift
	imbalance []journals.Imbalance
}

func (s *stubScanner) ScanValuationDrift(_ context.Context, tolerance decimal.Decimal) ([]inventory.ValuationDrift, error) {
	s.tolerance = tolerance
	return s.drifts, nil
}

func (s *stubScanner) ScanImbalanced(context.Context) ([]journals.Imbalance, error) {
	return s.imbalance, nil
}

func TestLedgerIntegrityReportsFindings(t *testing.T) {
	scanner := &stubScanner{
		drifts:    []inventory.ValuationDrift{{Key: inventory.BalanceKey{CompanyID: 1, ItemID: 2, WarehouseID: 3}, Drift: decimal.RequireFromString("0.5")}},
		imbalance: []journals.Imbalance{{PostingID: 9, CompanyID: 1, Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(9)}},
	}
	job := &LedgerIntegrityJob{Balances: scanner, Postings: scanner, Locker: newLocker(t), Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewLedgerIntegrityTask(IntegrityPayload{Tolerance: "0.1"})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.True(t, scanner.tolerance.Equal(decimal.RequireFromString("0.1")))

	report, err := job.Run(context.Background(), DefaultDriftTolerance)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	require.Len(t, report.Imbalances, 1)

	bad, err := NewLedgerIntegrityTask(IntegrityPayload{Tolerance: "-1"})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubPrices struct{ saved []pricing.Entry }

func (s *stubPrices) Save(_ context.Context, e pricing.Entry) error {
	s.saved = append(s.saved, e)
	return nil
}

func TestPriceHistoryJob(t *testing.T) {
	store := &stubPrices{}
	job := &PriceHistoryJob{Store: store, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}
	entry := pricing.Entry{
		CompanyID: 1,
		ItemID:    5,
		Kind:      pricing.KindSale,
		UnitPrice: decimal.RequireFromString("12.50"),
		Quantity:  decimal.NewFromInt(2),
		Date:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	task, err := NewPriceHistoryTask(entry)
	require.NoError(t, err)
	require.Equal(t, TaskPriceHistory, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, store.saved, 1)
	require.True(t, store.saved[0].UnitPrice.Equal(entry.UnitPrice))

	entry.Kind = ""
	data, _ := json.Marshal(entry)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskPriceHistory, data)), asynq.SkipRetry)
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(TaskPriceHistory, []byte("{"))), asynq.SkipRetry)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queues":[
		{"queue":"default","pending":0,"active":0,"retry":0,"archived":0},
		{"queue":"maintenance","pending":0,"active":0,"retry":0,"archived":0}]}`, rr.Body.String())
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	return s.infos[queue], s.err
}

func TestJobsHealthReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueDefault:     {Queue: QueueDefault, Pending: 4, Retry: 1},
		QueueMaintenance: {Queue: QueueMaintenance, Archived: 2},
	}}, nil).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueDefault, Pending: 4, Retry: 1},
		{Queue: QueueMaintenance, Archived: 2},
	}, body.Queues)

	r = chi.NewRouter()
	NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes(r)
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type stubKeys struct {
	retention time.Duration
	err       error
}

func (s *stubKeys) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retention = olderThan
	return 4, s.err
}

func TestIdempotencyPurgeJob(t *testing.T) {
	keys := &stubKeys{}
	job := &IdempotencyPurgeJob{Keys: keys, Metrics: jobmetrics.NewMetrics(prometheus.NewRegistry())}

	task, err := NewIdempotencyPurgeTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 48*time.Hour, keys.retention)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyPurge, nil)))
	require.Equal(t, DefaultIdempotencyRetention, keys.retention)

	bad, err := NewIdempotencyPurgeTask(0)
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	keys.err = errors.New("db down")
	require.EqualError(t, job.Handle(context.Background(), task), "db down")
}
