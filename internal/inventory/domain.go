package inventory

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/costing"
)

// MovementKind enumerates ledger movement directions.
type MovementKind string

const (
	// MovementIn is a receipt into a warehouse.
	MovementIn MovementKind = "IN"
	// MovementOut is an issue out of a warehouse.
	MovementOut MovementKind = "OUT"
	// MovementTransferIn is the destination leg of a transfer.
	MovementTransferIn MovementKind = "TRANSFER_IN"
	// MovementTransferOut is the source leg of a transfer.
	MovementTransferOut MovementKind = "TRANSFER_OUT"
	// MovementCountAdjust sets a balance to counted figures.
	MovementCountAdjust MovementKind = "COUNT_ADJUST"
)

// BalanceKey identifies one stock balance. VariantID is zero for items
// without variants.
type BalanceKey struct {
	CompanyID   int64
	ItemID      int64
	VariantID   int64
	WarehouseID int64
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%d:%d:%d:%d", k.CompanyID, k.ItemID, k.VariantID, k.WarehouseID)
}

// Balance is the on-hand position of one item (variant) in one warehouse.
type Balance struct {
	ID              int64
	Key             BalanceKey
	Quantity        decimal.Decimal
	Reserved        decimal.Decimal
	AvgCost         decimal.Decimal
	Value           decimal.Decimal
	OpeningQuantity decimal.Decimal
	OpeningValue    decimal.Decimal
	ReorderLevel    decimal.Decimal
	ReorderQuantity decimal.Decimal
	LastMovementAt  time.Time
	Version         int64
}

// Available returns on-hand quantity minus held reservations.
func (b Balance) Available() decimal.Decimal {
	return b.Quantity.Sub(b.Reserved)
}

// NeedsReorder reports whether quantity dropped to or below the reorder level.
func (b Balance) NeedsReorder() bool {
	return b.ReorderLevel.IsPositive() && b.Quantity.LessThanOrEqual(b.ReorderLevel)
}

func (b Balance) snapshot() costing.Snapshot {
	return costing.Snapshot{Quantity: b.Quantity, Value: b.Value, AvgCost: b.AvgCost}
}

func (b Balance) withSnapshot(s costing.Snapshot) Balance {
	b.Quantity = s.Quantity
	b.Value = s.Value
	b.AvgCost = s.AvgCost
	return b
}

// DocumentRef points a movement back to the document line that caused it.
type DocumentRef struct {
	Type   string
	ID     int64
	Number string
	LineNo int
}

// BatchConsumption records how much of a batch a movement touched.
// An empty Number denotes quantity taken from the implicit non-batch pool.
type BatchConsumption struct {
	Number    string          `json:"number"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
}

// Movement is an immutable stock card entry.
type Movement struct {
	ID             int64
	Key            BalanceKey
	Kind           MovementKind
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	TotalCost      decimal.Decimal
	BeforeQuantity decimal.Decimal
	BeforeValue    decimal.Decimal
	BeforeAvgCost  decimal.Decimal
	AfterQuantity  decimal.Decimal
	AfterValue     decimal.Decimal
	AfterAvgCost   decimal.Decimal
	Document       DocumentRef
	Batches        []BatchConsumption
	ReversalOfID   int64
	Note           string
	PostedAt       time.Time
}

// Inbound reports whether the movement increased quantity.
func (m Movement) Inbound() bool {
	return m.Quantity.IsPositive()
}

func (m Movement) applied() costing.Applied {
	return costing.Applied{
		Quantity:  m.Quantity,
		TotalCost: m.TotalCost,
		Before:    costing.Snapshot{Quantity: m.BeforeQuantity, Value: m.BeforeValue, AvgCost: m.BeforeAvgCost},
		After:     costing.Snapshot{Quantity: m.AfterQuantity, Value: m.AfterValue, AvgCost: m.AfterAvgCost},
	}
}

// Batch is a lot-level sub-balance.
type Batch struct {
	ID             int64
	Key            BalanceKey
	Number         string
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
	Quantity       decimal.Decimal
	Reserved       decimal.Decimal
	UnitCost       decimal.Decimal
	ReceivedAt     time.Time
}

// Open returns the unreserved quantity of the batch.
func (b Batch) Open() decimal.Decimal {
	return b.Quantity.Sub(b.Reserved)
}

// BatchPolicy orders batch consumption.
type BatchPolicy string

const (
	// BatchFIFO consumes by received date.
	BatchFIFO BatchPolicy = "fifo"
	// BatchFEFO consumes by expiry date, undated batches last.
	BatchFEFO BatchPolicy = "fefo"
)

// ParseBatchPolicy maps configuration values onto a policy.
func ParseBatchPolicy(v string) (BatchPolicy, error) {
	switch BatchPolicy(v) {
	case "", BatchFIFO:
		return BatchFIFO, nil
	case BatchFEFO:
		return BatchFEFO, nil
	}
	return "", fmt.Errorf("inventory: unknown batch policy %q", v)
}

// ReservationStatus enumerates reservation lifecycle values.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
	ReservationExpired   ReservationStatus = "expired"
)

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationReleased || s == ReservationExpired
}

// Holding reports whether the reservation still counts against availability.
func (s ReservationStatus) Holding() bool {
	return s == ReservationActive || s == ReservationConfirmed
}

// Reservation holds quantity for an external order.
type Reservation struct {
	ID          int64
	Key         BalanceKey
	Quantity    decimal.Decimal
	BatchNumber string
	RefType     string
	RefID       string
	Status      ReservationStatus
	ExpiresAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Warehouse carries the stock policy of one location.
type Warehouse struct {
	ID                 int64
	CompanyID          int64
	Code               string
	AllowNegativeStock bool
}

// Item is the subset of the item master the ledger needs.
type Item struct {
	ID             int64
	CompanyID      int64
	Code           string
	TracksVariants bool
	TracksBatches  bool
	VariantIDs     []int64
}

// CheckVariant validates the variant a line refers to against the item.
func (i Item) CheckVariant(variantID int64) error {
	if !i.TracksVariants {
		if variantID != 0 {
			return ErrVariantMismatch
		}
		return nil
	}
	if variantID == 0 {
		return ErrVariantRequired
	}
	if !slices.Contains(i.VariantIDs, variantID) {
		return ErrVariantMismatch
	}
	return nil
}

// StockCardFilter narrows the movement listing.
type StockCardFilter struct {
	Key   BalanceKey
	From  time.Time
	To    time.Time
	Limit int
}

// ReserveRequest asks the reservation manager to hold stock.
type ReserveRequest struct {
	Key         BalanceKey
	Quantity    decimal.Decimal
	BatchNumber string
	RefType     string
	RefID       string
	TTL         time.Duration
}

var (
	// ErrInsufficientQuantity indicates an issue exceeds what is available.
	ErrInsufficientQuantity = errors.New("inventory: insufficient quantity")
	// ErrInsufficientAvailable indicates a reservation exceeds available-to-promise.
	ErrInsufficientAvailable = errors.New("inventory: insufficient available quantity")
	// ErrConcurrentModification indicates the balance version changed since it was read.
	ErrConcurrentModification = errors.New("inventory: balance changed concurrently")
	// ErrVariantRequired indicates a variant-tracked item without a variant.
	ErrVariantRequired = errors.New("inventory: variant required")
	// ErrVariantMismatch indicates a variant that does not belong to the item.
	ErrVariantMismatch = errors.New("inventory: variant does not match item")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative cost value.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrBalanceNotFound indicates a missing balance row.
	ErrBalanceNotFound = errors.New("inventory: balance not found")
	// ErrBatchNotFound indicates a missing batch row.
	ErrBatchNotFound = errors.New("inventory: batch not found")
	// ErrReservationNotFound indicates a missing reservation.
	ErrReservationNotFound = errors.New("inventory: reservation not found")
	// ErrItemNotFound indicates an unknown item.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrWarehouseNotFound indicates an unknown warehouse.
	ErrWarehouseNotFound = errors.New("inventory: warehouse not found")
	// ErrMovementNotFound indicates a missing movement row.
	ErrMovementNotFound = errors.New("inventory: movement not found")
)
