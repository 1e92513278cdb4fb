package documents

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/inventory"
)

// Type names a stock document kind.
type Type string

const (
	TypeReceipt  Type = "receipt"
	TypeIssue    Type = "issue"
	TypeTransfer Type = "transfer"
	TypeCount    Type = "count"
)

// ParseType maps a path segment onto a document type.
func ParseType(v string) (Type, error) {
	switch t := Type(v); t {
	case TypeReceipt, TypeIssue, TypeTransfer, TypeCount:
		return t, nil
	}
	return "", ErrUnsupportedDocument
}

// Status is the lifecycle state of a document.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPosted     Status = "posted"
	StatusApproved   Status = "approved"
	StatusInTransit  Status = "in_transit"
	StatusReceived   Status = "received"
	StatusCancelled  Status = "cancelled"
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusProcessed  Status = "processed"
)

// Ref identifies a document.
type Ref struct {
	Type Type
	ID   int64
}

// Stamp carries what a transition writes next to the new status.
type Stamp struct {
	Number  string
	At      time.Time
	ActorID int64
}

// Receipt brings stock into one warehouse.
type Receipt struct {
	ID             int64
	CompanyID      int64
	BranchID       int64
	Number         string
	WarehouseID    int64
	Source         accounts.Reason
	CounterpartyID int64
	Date           time.Time
	Status         Status
	Note           string
	Lines          []ReceiptLine
	PostedAt       *time.Time
	PostedBy       int64
}

// ReceiptLine is one item received.
type ReceiptLine struct {
	LineNo         int
	ItemID         int64
	VariantID      int64
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	BatchNumber    string
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
}

// Issue takes stock out of one warehouse.
type Issue struct {
	ID             int64
	CompanyID      int64
	BranchID       int64
	Number         string
	WarehouseID    int64
	Destination    accounts.Reason
	CounterpartyID int64
	Date           time.Time
	Status         Status
	Note           string
	Lines          []IssueLine
	PostedAt       *time.Time
	PostedBy       int64
}

// IssueLine is one item issued. ReservationID, when set, names the hold the
// line fulfils.
type IssueLine struct {
	LineNo        int
	ItemID        int64
	VariantID     int64
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	BatchNumber   string
	ReservationID int64
}

// Transfer moves stock between two warehouses of one company.
type Transfer struct {
	ID                     int64
	CompanyID              int64
	BranchID               int64
	Number                 string
	SourceWarehouseID      int64
	DestinationWarehouseID int64
	Date                   time.Time
	Status                 Status
	Note                   string
	Lines                  []TransferLine
	ApprovedBy             int64
	SentAt                 *time.Time
	ReceivedAt             *time.Time
}

// TransferLine carries the cost and batches captured when the goods left.
type TransferLine struct {
	LineNo           int
	ItemID           int64
	VariantID        int64
	Quantity         decimal.Decimal
	ReceivedQuantity decimal.Decimal
	UnitCost         decimal.Decimal
	BatchNumber      string
	Batches          []inventory.BatchConsumption
}

// Count is a physical stock take of one warehouse.
type Count struct {
	ID          int64
	CompanyID   int64
	BranchID    int64
	Number      string
	WarehouseID int64
	Date        time.Time
	Status      Status
	Note        string
	Lines       []CountLine
	ProcessedAt *time.Time
}

// CountLine pairs the system quantity snapshot with what was counted.
type CountLine struct {
	LineNo          int
	ItemID          int64
	VariantID       int64
	SystemQuantity  decimal.Decimal
	CountedQuantity decimal.Decimal
	Counted         bool
	UnitCost        decimal.Decimal
}

// Difference is counted minus system quantity.
func (l CountLine) Difference() decimal.Decimal {
	return l.CountedQuantity.Sub(l.SystemQuantity)
}

// Immutable reports whether the count only accepts the processing transition.
func (c Count) Immutable() bool {
	return c.Status == StatusApproved || c.Status == StatusProcessed
}

// Result is what posting a document produced.
type Result struct {
	Number    string               `json:"number"`
	Movements []inventory.Movement `json:"movements"`
	JournalID *int64               `json:"journal_entry_id"`
}

var (
	// ErrAlreadyPosted indicates a post of a posted document.
	ErrAlreadyPosted = errors.New("documents: already posted")
	// ErrNotPosted indicates an unpost of a document that is not posted.
	ErrNotPosted = errors.New("documents: not posted")
	// ErrEmptyDocument indicates a document without lines.
	ErrEmptyDocument = errors.New("documents: document has no lines")
	// ErrInvalidTransition indicates a transition the current status does not allow.
	ErrInvalidTransition = errors.New("documents: invalid status transition")
	// ErrHasDependents indicates payments or allocations still reference the document.
	ErrHasDependents = errors.New("documents: document has dependent payments or allocations")
	// ErrUnsupportedDocument indicates a type the operation does not handle.
	ErrUnsupportedDocument = errors.New("documents: unsupported document type")
	// ErrDocumentNotFound indicates an unknown document.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrSameWarehouse indicates a transfer into its own source.
	ErrSameWarehouse = errors.New("documents: transfer source and destination must differ")
	// ErrReservationMismatch indicates a line fulfilling a hold on another balance.
	ErrReservationMismatch = errors.New("documents: reservation does not match line")
	// ErrInvalidLine indicates a line with bad figures.
	ErrInvalidLine = errors.New("documents: invalid line")
)
