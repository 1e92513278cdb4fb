package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultReservationTTL applies when a request carries no TTL.
const DefaultReservationTTL = 24 * time.Hour

// Reservations holds stock for external orders against balances.
// Every change to a reservation updates the balance's reserved quantity in
// the same transaction.
type Reservations struct {
	ledger     *Ledger
	batches    *Batches
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewReservations builds the reservation manager.
func NewReservations(ledger *Ledger, batches *Batches, defaultTTL time.Duration, logger *slog.Logger, clock func() time.Time) *Reservations {
	if defaultTTL <= 0 {
		defaultTTL = DefaultReservationTTL
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reservations{ledger: ledger, batches: batches, defaultTTL: defaultTTL, logger: logger, now: clock}
}

// Reserve holds req.Quantity, failing with ErrInsufficientAvailable when it
// exceeds on-hand minus existing holds.
func (m *Reservations) Reserve(ctx context.Context, tx TxRepository, req ReserveRequest) (Reservation, error) {
	if !req.Quantity.IsPositive() {
		return Reservation{}, ErrInvalidQuantity
	}
	if req.RefType == "" || req.RefID == "" {
		return Reservation{}, errors.New("inventory: reservation reference required")
	}
	now := m.now()
	if _, err := m.SweepExpired(ctx, tx, ExpiryFilter{Key: &req.Key, Before: now}); err != nil {
		return Reservation{}, err
	}
	bal, err := tx.GetBalance(ctx, req.Key)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return Reservation{}, ErrInsufficientAvailable
		}
		return Reservation{}, err
	}
	if req.Quantity.GreaterThan(bal.Available()) {
		return Reservation{}, ErrInsufficientAvailable
	}
	if _, err := m.ledger.AdjustReserved(ctx, tx, bal, req.Quantity); err != nil {
		return Reservation{}, err
	}
	if req.BatchNumber != "" {
		if err := m.batches.Reserve(ctx, tx, req.Key, req.BatchNumber, req.Quantity); err != nil {
			return Reservation{}, err
		}
	}
	ttl := req.TTL
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	return tx.InsertReservation(ctx, Reservation{
		Key:         req.Key,
		Quantity:    req.Quantity,
		BatchNumber: req.BatchNumber,
		RefType:     req.RefType,
		RefID:       req.RefID,
		Status:      ReservationActive,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Confirm marks an active reservation confirmed. The hold stays in place.
// Any other status is returned unchanged.
func (m *Reservations) Confirm(ctx context.Context, tx TxRepository, companyID, id int64) (Reservation, error) {
	r, err := tx.GetReservation(ctx, companyID, id)
	if err != nil {
		return Reservation{}, err
	}
	if r.Status != ReservationActive {
		return r, nil
	}
	now := m.now()
	if err := tx.UpdateReservationStatus(ctx, r.ID, ReservationActive, ReservationConfirmed, now); err != nil {
		return Reservation{}, err
	}
	r.Status = ReservationConfirmed
	r.UpdatedAt = now
	return r, nil
}

// Release ends a reservation and returns its quantity to availability.
// Releasing a terminal reservation is a no-op.
func (m *Reservations) Release(ctx context.Context, tx TxRepository, companyID, id int64) (Reservation, error) {
	r, err := tx.GetReservation(ctx, companyID, id)
	if err != nil {
		return Reservation{}, err
	}
	if r.Status.Terminal() {
		return r, nil
	}
	return m.end(ctx, tx, r, ReservationReleased)
}

// SweepExpired expires every active reservation matched by filter whose
// deadline passed, returning the reservations it expired.
func (m *Reservations) SweepExpired(ctx context.Context, tx TxRepository, filter ExpiryFilter) ([]Reservation, error) {
	if filter.Before.IsZero() {
		filter.Before = m.now()
	}
	due, err := tx.ListExpiredReservations(ctx, filter)
	if err != nil {
		return nil, err
	}
	expired := make([]Reservation, 0, len(due))
	for _, r := range due {
		if r.Status != ReservationActive || !r.ExpiresAt.Before(filter.Before) {
			continue
		}
		done, err := m.end(ctx, tx, r, ReservationExpired)
		if err != nil {
			return nil, err
		}
		expired = append(expired, done)
	}
	return expired, nil
}

func (m *Reservations) end(ctx context.Context, tx TxRepository, r Reservation, to ReservationStatus) (Reservation, error) {
	now := m.now()
	if err := tx.UpdateReservationStatus(ctx, r.ID, r.Status, to, now); err != nil {
		return Reservation{}, err
	}
	bal, err := tx.GetBalance(ctx, r.Key)
	if err != nil {
		return Reservation{}, err
	}
	if _, err := m.ledger.AdjustReserved(ctx, tx, bal, r.Quantity.Neg()); err != nil {
		return Reservation{}, err
	}
	if r.BatchNumber != "" {
		if err := m.batches.Release(ctx, tx, r.Key, r.BatchNumber, r.Quantity); err != nil {
			return Reservation{}, err
		}
	}
	m.logger.Debug("reservation ended",
		slog.Int64("reservation_id", r.ID),
		slog.String("status", string(to)),
		slog.String("balance", r.Key.String()),
	)
	r.Status = to
	r.UpdatedAt = now
	return r, nil
}
