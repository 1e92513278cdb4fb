package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// UnpostMode selects how an unpost treats the movements it reverses.
type UnpostMode string

const (
	// UnpostCompensate appends a signed-reverse movement and keeps the original.
	UnpostCompensate UnpostMode = "compensate"
	// UnpostDelete removes the original movement row.
	UnpostDelete UnpostMode = "delete"
)

// ParseUnpostMode maps configuration values onto a mode.
func ParseUnpostMode(v string) (UnpostMode, error) {
	switch UnpostMode(v) {
	case "", UnpostCompensate:
		return UnpostCompensate, nil
	case UnpostDelete:
		return UnpostDelete, nil
	}
	return "", fmt.Errorf("inventory: unknown unpost mode %q", v)
}

// Recorder appends the stock card trail for every ledger mutation.
type Recorder struct {
	mode UnpostMode
	now  func() time.Time
}

// NewRecorder builds a Recorder.
func NewRecorder(mode UnpostMode, clock func() time.Time) *Recorder {
	if mode == "" {
		mode = UnpostCompensate
	}
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{mode: mode, now: clock}
}

// Mode returns the configured unpost mode.
func (r *Recorder) Mode() UnpostMode {
	return r.mode
}

// Append stores a movement describing the change from before to after.
func (r *Recorder) Append(ctx context.Context, tx TxRepository, before, after Balance, qty, unitCost, total decimal.Decimal, entry Entry) (Movement, error) {
	at := entry.At
	if at.IsZero() {
		at = r.now()
	}
	m := Movement{
		Key:            before.Key,
		Kind:           entry.Kind,
		Quantity:       qty,
		UnitCost:       unitCost,
		TotalCost:      total,
		BeforeQuantity: before.Quantity,
		BeforeValue:    before.Value,
		BeforeAvgCost:  before.AvgCost,
		AfterQuantity:  after.Quantity,
		AfterValue:     after.Value,
		AfterAvgCost:   after.AvgCost,
		Document:       entry.Document,
		Batches:        entry.Batches,
		Note:           entry.Note,
		PostedAt:       at,
	}
	return tx.InsertMovement(ctx, m)
}

// Revoke retires original after its effect was reversed from before to after.
func (r *Recorder) Revoke(ctx context.Context, tx TxRepository, original Movement, before, after Balance) error {
	if r.mode == UnpostDelete {
		return tx.DeleteMovement(ctx, original.ID)
	}
	_, err := tx.InsertMovement(ctx, Movement{
		Key:            original.Key,
		Kind:           original.Kind,
		Quantity:       original.Quantity.Neg(),
		UnitCost:       original.UnitCost,
		TotalCost:      original.TotalCost,
		BeforeQuantity: before.Quantity,
		BeforeValue:    before.Value,
		BeforeAvgCost:  before.AvgCost,
		AfterQuantity:  after.Quantity,
		AfterValue:     after.Value,
		AfterAvgCost:   after.AvgCost,
		Document:       original.Document,
		Batches:        original.Batches,
		ReversalOfID:   original.ID,
		Note:           fmt.Sprintf("reversal of movement %d", original.ID),
		PostedAt:       r.now(),
	})
	return err
}
