package documents

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Store opens one all-or-nothing unit of work per document operation.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, Tx) error) error
	// NextNumber draws a document number in its own short commit. It must
	// never be called from inside WithTx. A post that fails after drawing
	// leaves a gap in the series.
	NextNumber(ctx context.Context, companyID int64, series numbering.Series, year int) (string, error)
}

// Tx groups the repositories that share one transaction.
type Tx interface {
	Inventory() inventory.TxRepository
	Journals() journals.TxRepository
	Documents() Repository
}

// Repository persists stock documents.
type Repository interface {
	GetReceipt(ctx context.Context, companyID, id int64) (Receipt, error)
	GetIssue(ctx context.Context, companyID, id int64) (Issue, error)
	GetTransfer(ctx context.Context, companyID, id int64) (Transfer, error)
	GetCount(ctx context.Context, companyID, id int64) (Count, error)

	InsertReceipt(ctx context.Context, r Receipt) (Receipt, error)
	InsertIssue(ctx context.Context, i Issue) (Issue, error)
	InsertTransfer(ctx context.Context, t Transfer) (Transfer, error)
	InsertCount(ctx context.Context, c Count) (Count, error)

	// UpdateStatus moves a document from one status to another, failing with
	// inventory.ErrConcurrentModification when it is no longer in from.
	UpdateStatus(ctx context.Context, ref Ref, from, to Status, stamp Stamp) error
	SaveTransferLines(ctx context.Context, transferID int64, lines []TransferLine) error
	SaveCountLines(ctx context.Context, countID int64, lines []CountLine) error

	// CountDependents returns payments and allocations recorded against a document.
	CountDependents(ctx context.Context, companyID int64, ref Ref) (int, error)
}

// LedgerPort is what invoice and order modules call into. It is the only
// surface they depend on.
type LedgerPort interface {
	PostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) (Result, error)
	UnpostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) error
	GetAvailableQuantity(ctx context.Context, tenant shared.TenantContext, key inventory.BalanceKey) (decimal.Decimal, error)
	Reserve(ctx context.Context, tenant shared.TenantContext, req inventory.ReserveRequest) (inventory.Reservation, error)
}

// AccountingPort generates and removes document postings.
type AccountingPort interface {
	Generate(ctx context.Context, tx journals.TxRepository, tenant shared.TenantContext, doc journals.Document, entries []journals.Entry) (*journals.Posting, error)
	Remove(ctx context.Context, tx journals.TxRepository, tenant shared.TenantContext, docType string, docID int64) (bool, error)
}

// PricingPort receives last-price observations. It never fails the caller.
type PricingPort interface {
	RecordPrice(ctx context.Context, entry pricing.Entry)
}

// AuditPort records document transitions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval decisions.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// Observer receives document events for instrumentation.
type Observer interface {
	DocumentTransition(docType Type, action string)
	JournalSkipped(docType Type)
}

type nopObserver struct{}

func (nopObserver) DocumentTransition(Type, string) {}
func (nopObserver) JournalSkipped(Type)             {}

type nopPricing struct{}

func (nopPricing) RecordPrice(context.Context, pricing.Entry) {}
