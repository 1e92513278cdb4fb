package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockledger/internal/jobs"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const integrityLockTTL = 10 * time.Minute

// DefaultDriftTolerance is the fixed part of the accepted |value -
// quantity*avg_cost|. The scan adds |quantity| times the rounding step of the
// four-decimal average on top.
var DefaultDriftTolerance = decimal.RequireFromString("0.01")

// IntegrityPayload narrows a scan.
type IntegrityPayload struct {
	Tolerance string `json:"tolerance,omitempty"`
}

// NewLedgerIntegrityTask builds the cron task.
func NewLedgerIntegrityTask(payload IntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data, asynq.MaxRetry(1)), nil
}

// DriftScanner lists balances whose value strayed from quantity x average cost.
type DriftScanner interface {
	ScanValuationDrift(ctx context.Context, tolerance decimal.Decimal) ([]inventory.ValuationDrift, error)
}

// ImbalanceScanner lists postings whose sides differ.
type ImbalanceScanner interface {
	ScanImbalanced(ctx context.Context) ([]journals.Imbalance, error)
}

// IntegrityReport summarises one scan.
type IntegrityReport struct {
	Drifts     []inventory.ValuationDrift
	Imbalances []journals.Imbalance
}

// LedgerIntegrityJob reports valuation drift and unbalanced postings. It only
// reads; repairs are a manual decision.
type LedgerIntegrityJob struct {
	Balances DriftScanner
	Postings ImbalanceScanner
	Locker   *redislock.Client
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload IntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tolerance := DefaultDriftTolerance
	if payload.Tolerance != "" {
		v, err := decimal.NewFromString(payload.Tolerance)
		if err != nil || v.IsNegative() {
			return asynq.SkipRetry
		}
		tolerance = v
	}
	_, err := j.Run(ctx, tolerance)
	return err
}

// Run performs one scan.
func (j *LedgerIntegrityJob) Run(ctx context.Context, tolerance decimal.Decimal) (report IntegrityReport, err error) {
	if j == nil || j.Balances == nil || j.Postings == nil {
		return IntegrityReport{}, errors.New("ledger integrity: handler not configured")
	}
	logger := j.logger()
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.IntegrityScanLockKey(0), integrityLockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("integrity scan already running elsewhere")
			return IntegrityReport{}, nil
		}
		if err != nil {
			return IntegrityReport{}, err
		}
		defer func() { _ = lock.Release(context.WithoutCancel(ctx)) }()
	}
	tracker := j.metrics().Track(TaskLedgerIntegrity)
	defer func() { err = tracker.End(err) }()

	report.Drifts, err = j.Balances.ScanValuationDrift(ctx, tolerance)
	if err != nil {
		return IntegrityReport{}, err
	}
	report.Imbalances, err = j.Postings.ScanImbalanced(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}
	for _, d := range report.Drifts {
		logger.Warn("valuation drift",
			slog.String("balance", d.Key.String()),
			slog.String("quantity", d.Quantity.String()),
			slog.String("value", d.Value.String()),
			slog.String("drift", d.Drift.String()),
		)
		j.metrics().AddFindings("valuation_drift", d.Key.CompanyID, 1)
	}
	for _, p := range report.Imbalances {
		logger.Error("unbalanced posting",
			slog.Int64("posting_id", p.PostingID),
			slog.String("document", p.DocumentType),
			slog.Int64("document_id", p.DocumentID),
			slog.String("debit", p.Debit.String()),
			slog.String("credit", p.Credit.String()),
		)
		j.metrics().AddFindings("unbalanced_posting", p.CompanyID, 1)
	}
	logger.Info("integrity scan completed",
		slog.Int("drifts", len(report.Drifts)),
		slog.Int("imbalances", len(report.Imbalances)),
	)
	return report, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
