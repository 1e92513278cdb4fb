package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	sweepBatchSize    = 100
	sharedReadTimeout = 5 * time.Second
)

// Service exposes balance reads and reservations to callers outside a
// document posting.
type Service struct {
	repo         RepositoryPort
	ledger       *Ledger
	reservations *Reservations
	logger       *slog.Logger
	reads        singleflight.Group
	now          func() time.Time
}

// NewService builds Service. It reads the clock of the reservation manager.
func NewService(repo RepositoryPort, ledger *Ledger, reservations *Reservations, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		ledger:       ledger,
		reservations: reservations,
		logger:       logger,
		now:          reservations.now,
	}
}

// GetAvailableQuantity returns on-hand minus held quantity for key. Expired
// reservations on the key are swept first so the figure never counts a
// lapsed hold. Concurrent calls for one key share a single read.
func (s *Service) GetAvailableQuantity(ctx context.Context, tenant shared.TenantContext, key BalanceKey) (decimal.Decimal, error) {
	if err := tenant.Validate(); err != nil {
		return decimal.Zero, err
	}
	key.CompanyID = tenant.CompanyID
	ch := s.reads.DoChan(key.String(), func() (any, error) {
		// Shared by every waiter, so no single caller's cancellation applies.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()
		var available decimal.Decimal
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := s.reservations.SweepExpired(ctx, tx, ExpiryFilter{Key: &key, Before: s.now()}); err != nil {
				return err
			}
			bal, err := tx.GetBalance(ctx, key)
			if errors.Is(err, ErrBalanceNotFound) {
				available = decimal.Zero
				return nil
			}
			if err != nil {
				return err
			}
			available = bal.Available()
			return nil
		})
		return available, err
	})
	select {
	case <-ctx.Done():
		return decimal.Zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return decimal.Zero, res.Err
		}
		return res.Val.(decimal.Decimal), nil
	}
}

// GetBalance returns the balance for key.
func (s *Service) GetBalance(ctx context.Context, tenant shared.TenantContext, key BalanceKey) (Balance, error) {
	if err := tenant.Validate(); err != nil {
		return Balance{}, err
	}
	key.CompanyID = tenant.CompanyID
	var bal Balance
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		bal, err = tx.GetBalance(ctx, key)
		return err
	})
	return bal, err
}

// Reserve holds stock for an external reference.
func (s *Service) Reserve(ctx context.Context, tenant shared.TenantContext, req ReserveRequest) (Reservation, error) {
	if err := tenant.Validate(); err != nil {
		return Reservation{}, err
	}
	req.Key.CompanyID = tenant.CompanyID
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetItem(ctx, tenant.CompanyID, req.Key.ItemID)
		if err != nil {
			return err
		}
		if err := item.CheckVariant(req.Key.VariantID); err != nil {
			return err
		}
		res, err = s.reservations.Reserve(ctx, tx, req)
		return err
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

// ConfirmReservation confirms a reservation.
func (s *Service) ConfirmReservation(ctx context.Context, tenant shared.TenantContext, id int64) (Reservation, error) {
	if err := tenant.Validate(); err != nil {
		return Reservation{}, err
	}
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.reservations.Confirm(ctx, tx, tenant.CompanyID, id)
		return err
	})
	return res, err
}

// ReleaseReservation releases a reservation.
func (s *Service) ReleaseReservation(ctx context.Context, tenant shared.TenantContext, id int64) (Reservation, error) {
	if err := tenant.Validate(); err != nil {
		return Reservation{}, err
	}
	var res Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		res, err = s.reservations.Release(ctx, tx, tenant.CompanyID, id)
		return err
	})
	return res, err
}

// SweepExpired expires lapsed reservations across all companies in batches.
// A reservation whose balance changed concurrently is left for the next run.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		var due []Reservation
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			due, err = tx.ListExpiredReservations(ctx, ExpiryFilter{Before: now, Limit: sweepBatchSize})
			return err
		})
		if err != nil {
			return total, err
		}
		progressed := 0
		for _, r := range due {
			key := r.Key
			n := 0
			err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
				expired, err := s.reservations.SweepExpired(ctx, tx, ExpiryFilter{Key: &key, Before: now})
				n = len(expired)
				return err
			})
			if errors.Is(err, ErrConcurrentModification) {
				s.logger.Warn("reservation sweep conflict", slog.String("balance", key.String()))
				continue
			}
			if err != nil {
				return total, err
			}
			progressed += n
		}
		total += progressed
		if len(due) < sweepBatchSize || progressed == 0 {
			return total, nil
		}
	}
}

// StockCard lists the movements of one balance in posting order.
func (s *Service) StockCard(ctx context.Context, tenant shared.TenantContext, filter StockCardFilter) ([]Movement, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	filter.Key.CompanyID = tenant.CompanyID
	if filter.Key.ItemID == 0 || filter.Key.WarehouseID == 0 {
		return nil, errors.New("inventory: warehouse and item required")
	}
	if filter.Limit <= 0 {
		filter.Limit = 200
	}
	var out []Movement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListMovements(ctx, filter)
		return err
	})
	return out, err
}
