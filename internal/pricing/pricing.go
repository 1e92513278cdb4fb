// Package pricing keeps the last price an item changed hands at per
// counterparty, fed by posted receipts and issues.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Kind tells sale prices from purchase prices.
type Kind string

const (
	KindSale     Kind = "sale"
	KindPurchase Kind = "purchase"
)

// Entry is one observed price.
type Entry struct {
	CompanyID      int64           `json:"company_id"`
	CounterpartyID int64           `json:"counterparty_id"`
	ItemID         int64           `json:"item_id"`
	VariantID      int64           `json:"variant_id"`
	Kind           Kind            `json:"kind"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Date           time.Time       `json:"date"`
	DocumentType   string          `json:"document_type"`
	DocumentID     int64           `json:"document_id"`
}

// ErrInvalidEntry indicates an entry without item or kind.
var ErrInvalidEntry = errors.New("pricing: entry requires company, item and kind")

// Validate checks the identifying fields.
func (e Entry) Validate() error {
	if e.CompanyID <= 0 || e.ItemID <= 0 || (e.Kind != KindSale && e.Kind != KindPurchase) {
		return ErrInvalidEntry
	}
	if e.UnitPrice.IsNegative() || !e.Quantity.IsPositive() {
		return ErrInvalidEntry
	}
	return nil
}

// Enqueuer hands entries to the background queue.
type Enqueuer interface {
	EnqueuePriceHistory(ctx context.Context, entry Entry) error
}

// QueueRecorder records prices asynchronously. Failures are logged and never
// returned: price history must not hold up a stock document.
type QueueRecorder struct {
	enqueuer Enqueuer
	logger   *slog.Logger
}

// NewQueueRecorder constructs QueueRecorder.
func NewQueueRecorder(enqueuer Enqueuer, logger *slog.Logger) *QueueRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueRecorder{enqueuer: enqueuer, logger: logger}
}

// RecordPrice enqueues entry.
func (r *QueueRecorder) RecordPrice(ctx context.Context, entry Entry) {
	if r == nil || r.enqueuer == nil {
		return
	}
	if err := entry.Validate(); err != nil {
		r.logger.Warn("price entry dropped", slog.Any("error", err), slog.Int64("item_id", entry.ItemID))
		return
	}
	if err := r.enqueuer.EnqueuePriceHistory(ctx, entry); err != nil {
		r.logger.Error("enqueue price history",
			slog.Any("error", err),
			slog.Int64("item_id", entry.ItemID),
			slog.String("document", entry.DocumentType),
			slog.Int64("document_id", entry.DocumentID),
		)
	}
}
