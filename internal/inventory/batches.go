package inventory

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// Lot carries the identifying data of a batch on receipt.
type Lot struct {
	Number         string
	ManufacturedAt *time.Time
	ExpiresAt      *time.Time
	ReceivedAt     time.Time
}

// Batches tracks lot-level sub-balances under a stock balance.
type Batches struct {
	policy BatchPolicy
	now    func() time.Time
}

// NewBatches builds a tracker consuming with policy by default.
func NewBatches(policy BatchPolicy, clock func() time.Time) *Batches {
	if policy == "" {
		policy = BatchFIFO
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Batches{policy: policy, now: clock}
}

// Policy returns the default consumption order.
func (b *Batches) Policy() BatchPolicy {
	return b.policy
}

// Allocate creates the batch or adds qty to it. Unit cost of an existing
// batch becomes the weighted cost of old and new quantity.
func (b *Batches) Allocate(ctx context.Context, tx TxRepository, key BalanceKey, lot Lot, qty, unitCost decimal.Decimal) (BatchConsumption, error) {
	if lot.Number == "" {
		return BatchConsumption{}, errors.New("inventory: batch number required")
	}
	if !qty.IsPositive() {
		return BatchConsumption{}, ErrInvalidQuantity
	}
	batch, err := tx.GetBatch(ctx, key, lot.Number)
	switch {
	case errors.Is(err, ErrBatchNotFound):
		received := lot.ReceivedAt
		if received.IsZero() {
			received = b.now()
		}
		batch = Batch{
			Key:            key,
			Number:         lot.Number,
			ManufacturedAt: lot.ManufacturedAt,
			ExpiresAt:      lot.ExpiresAt,
			Quantity:       qty,
			UnitCost:       unitCost,
			ReceivedAt:     received,
		}
	case err != nil:
		return BatchConsumption{}, err
	default:
		total := batch.Quantity.Mul(batch.UnitCost).Add(qty.Mul(unitCost))
		batch.Quantity = batch.Quantity.Add(qty)
		if batch.Quantity.IsPositive() {
			batch.UnitCost = total.DivRound(batch.Quantity, 4)
		}
		if batch.ExpiresAt == nil {
			batch.ExpiresAt = lot.ExpiresAt
		}
	}
	saved, err := tx.SaveBatch(ctx, batch)
	if err != nil {
		return BatchConsumption{}, err
	}
	return BatchConsumption{Number: saved.Number, Quantity: qty, UnitCost: unitCost, ExpiresAt: saved.ExpiresAt}, nil
}

// Deallocate takes back quantity a receipt put into a batch.
func (b *Batches) Deallocate(ctx context.Context, tx TxRepository, key BalanceKey, c BatchConsumption) error {
	if c.Number == "" {
		return nil
	}
	batch, err := tx.GetBatch(ctx, key, c.Number)
	if err != nil {
		return err
	}
	if c.Quantity.GreaterThan(batch.Open()) {
		return ErrInsufficientQuantity
	}
	batch.Quantity = batch.Quantity.Sub(c.Quantity)
	_, err = tx.SaveBatch(ctx, batch)
	return err
}

// Consume takes qty from open batches in the default policy order.
func (b *Batches) Consume(ctx context.Context, tx TxRepository, key BalanceKey, qty decimal.Decimal, allowShortfall bool) ([]BatchConsumption, error) {
	return b.ConsumeWith(ctx, tx, key, qty, b.policy, allowShortfall)
}

// ConsumeWith takes qty from open batches ordered by policy. A shortfall
// fails with ErrInsufficientQuantity unless allowShortfall is set, in which
// case the remainder is charged to the non-batch pool.
func (b *Batches) ConsumeWith(ctx context.Context, tx TxRepository, key BalanceKey, qty decimal.Decimal, policy BatchPolicy, allowShortfall bool) ([]BatchConsumption, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	open, err := tx.ListOpenBatches(ctx, key)
	if err != nil {
		return nil, err
	}
	SortBatches(open, policy)
	remaining := qty
	var used []BatchConsumption
	for _, batch := range open {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(batch.Open(), remaining)
		if !take.IsPositive() {
			continue
		}
		batch.Quantity = batch.Quantity.Sub(take)
		if _, err := tx.SaveBatch(ctx, batch); err != nil {
			return nil, err
		}
		used = append(used, BatchConsumption{Number: batch.Number, Quantity: take, UnitCost: batch.UnitCost, ExpiresAt: batch.ExpiresAt})
		remaining = remaining.Sub(take)
	}
	if remaining.IsPositive() {
		if !allowShortfall {
			return nil, ErrInsufficientQuantity
		}
		used = append(used, BatchConsumption{Quantity: remaining})
	}
	return used, nil
}

// ConsumeNamed takes qty from one specific batch.
func (b *Batches) ConsumeNamed(ctx context.Context, tx TxRepository, key BalanceKey, number string, qty decimal.Decimal, allowShortfall bool) ([]BatchConsumption, error) {
	if !qty.IsPositive() {
		return nil, ErrInvalidQuantity
	}
	batch, err := tx.GetBatch(ctx, key, number)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) && allowShortfall {
			return []BatchConsumption{{Quantity: qty}}, nil
		}
		return nil, err
	}
	take := decimal.Min(batch.Open(), qty)
	if take.LessThan(qty) && !allowShortfall {
		return nil, ErrInsufficientQuantity
	}
	var used []BatchConsumption
	if take.IsPositive() {
		batch.Quantity = batch.Quantity.Sub(take)
		if _, err := tx.SaveBatch(ctx, batch); err != nil {
			return nil, err
		}
		used = append(used, BatchConsumption{Number: batch.Number, Quantity: take, UnitCost: batch.UnitCost, ExpiresAt: batch.ExpiresAt})
	}
	if rest := qty.Sub(take); rest.IsPositive() {
		used = append(used, BatchConsumption{Quantity: rest})
	}
	return used, nil
}

// Restore returns consumed quantity to its batches, recreating any that
// were removed in the meantime.
func (b *Batches) Restore(ctx context.Context, tx TxRepository, key BalanceKey, used []BatchConsumption) error {
	for _, c := range used {
		if c.Number == "" || !c.Quantity.IsPositive() {
			continue
		}
		if _, err := b.Allocate(ctx, tx, key, Lot{Number: c.Number, ExpiresAt: c.ExpiresAt}, c.Quantity, c.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

// Reserve holds qty of one batch.
func (b *Batches) Reserve(ctx context.Context, tx TxRepository, key BalanceKey, number string, qty decimal.Decimal) error {
	batch, err := tx.GetBatch(ctx, key, number)
	if err != nil {
		return err
	}
	if qty.GreaterThan(batch.Open()) {
		return ErrInsufficientQuantity
	}
	batch.Reserved = batch.Reserved.Add(qty)
	_, err = tx.SaveBatch(ctx, batch)
	return err
}

// Release drops a hold on one batch. Releasing more than is held clears it.
func (b *Batches) Release(ctx context.Context, tx TxRepository, key BalanceKey, number string, qty decimal.Decimal) error {
	batch, err := tx.GetBatch(ctx, key, number)
	if err != nil {
		if errors.Is(err, ErrBatchNotFound) {
			return nil
		}
		return err
	}
	batch.Reserved = decimal.Max(batch.Reserved.Sub(qty), decimal.Zero)
	_, err = tx.SaveBatch(ctx, batch)
	return err
}

// SortBatches orders batches for consumption under policy.
func SortBatches(batches []Batch, policy BatchPolicy) {
	slices.SortStableFunc(batches, func(a, b Batch) int {
		if policy == BatchFEFO {
			if c := compareExpiry(a.ExpiresAt, b.ExpiresAt); c != 0 {
				return c
			}
		}
		if c := a.ReceivedAt.Compare(b.ReceivedAt); c != 0 {
			return c
		}
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
}

func compareExpiry(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	return a.Compare(*b)
}
