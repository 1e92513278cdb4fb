package inventory

import (
	"context"
	"time"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the transactional storage boundary of the ledger.
type TxRepository interface {
	GetItem(ctx context.Context, companyID, itemID int64) (Item, error)
	GetWarehouse(ctx context.Context, companyID, warehouseID int64) (Warehouse, error)

	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
	ListBalances(ctx context.Context, companyID, warehouseID int64) ([]Balance, error)
	// InsertBalance creates the row for a key, returning
	// ErrConcurrentModification when another transaction created it first.
	InsertBalance(ctx context.Context, balance Balance) (Balance, error)
	// CompareAndSwapBalance stores balance only if the stored version still
	// equals expectedVersion, returning ErrConcurrentModification otherwise.
	CompareAndSwapBalance(ctx context.Context, balance Balance, expectedVersion int64) (Balance, error)

	InsertMovement(ctx context.Context, m Movement) (Movement, error)
	DeleteMovement(ctx context.Context, id int64) error
	// ListDocumentMovements returns movements of a document that are neither
	// reversals nor already reversed, in posting order.
	ListDocumentMovements(ctx context.Context, companyID int64, docType string, docID int64) ([]Movement, error)
	ListMovements(ctx context.Context, filter StockCardFilter) ([]Movement, error)

	GetBatch(ctx context.Context, key BalanceKey, number string) (Batch, error)
	SaveBatch(ctx context.Context, batch Batch) (Batch, error)
	ListOpenBatches(ctx context.Context, key BalanceKey) ([]Batch, error)

	InsertReservation(ctx context.Context, r Reservation) (Reservation, error)
	GetReservation(ctx context.Context, companyID, id int64) (Reservation, error)
	// UpdateReservationStatus moves a reservation from one status to another,
	// failing with ErrConcurrentModification when it is no longer in from.
	UpdateReservationStatus(ctx context.Context, id int64, from, to ReservationStatus, at time.Time) error
	ListExpiredReservations(ctx context.Context, filter ExpiryFilter) ([]Reservation, error)
}

// ExpiryFilter selects active reservations past their deadline.
type ExpiryFilter struct {
	Key    *BalanceKey
	Before time.Time
	Limit  int
}

// Observer receives ledger events for instrumentation.
type Observer interface {
	MovementRecorded(kind MovementKind)
	ConcurrentModification()
	NegativeStock()
}

type nopObserver struct{}

func (nopObserver) MovementRecorded(MovementKind) {}
func (nopObserver) ConcurrentModification()       {}
func (nopObserver) NegativeStock()                {}
