package inventory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/costing"
)

// Entry describes the document side of a ledger mutation.
type Entry struct {
	Kind     MovementKind
	Document DocumentRef
	At       time.Time
	Batches  []BatchConsumption
	Note     string
}

// LedgerConfig groups Ledger dependencies.
type LedgerConfig struct {
	Policy   costing.Policy
	Recorder *Recorder
	Observer Observer
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Ledger owns every mutation of a stock balance. Writes go through the
// repository's compare-and-swap; the ledger never overwrites a row it did not
// read at the presented version.
type Ledger struct {
	policy   costing.Policy
	recorder *Recorder
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewLedger builds a Ledger, defaulting to weighted-average costing.
func NewLedger(cfg LedgerConfig) *Ledger {
	l := &Ledger{
		policy:   cfg.Policy,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if l.policy == nil {
		l.policy = costing.WeightedAverage{}
	}
	if l.now == nil {
		l.now = func() time.Time { return time.Now().UTC() }
	}
	if l.recorder == nil {
		l.recorder = NewRecorder(UnpostCompensate, l.now)
	}
	if l.observer == nil {
		l.observer = nopObserver{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Policy returns the costing policy in use.
func (l *Ledger) Policy() costing.Policy {
	return l.policy
}

// GetOrCreateBalance reads the balance for key, inserting an empty one first
// if the key has never been used.
func (l *Ledger) GetOrCreateBalance(ctx context.Context, tx TxRepository, key BalanceKey) (Balance, error) {
	bal, err := tx.GetBalance(ctx, key)
	if err == nil {
		return bal, nil
	}
	if !errors.Is(err, ErrBalanceNotFound) {
		return Balance{}, err
	}
	return tx.InsertBalance(ctx, Balance{Key: key, Version: 1})
}

// ApplyReceipt adds qty at unitCost to bal.
func (l *Ledger) ApplyReceipt(ctx context.Context, tx TxRepository, bal Balance, qty, unitCost decimal.Decimal, entry Entry) (Balance, Movement, error) {
	if !qty.IsPositive() {
		return Balance{}, Movement{}, ErrInvalidQuantity
	}
	if unitCost.IsNegative() {
		return Balance{}, Movement{}, ErrInvalidUnitCost
	}
	if entry.Kind == "" {
		entry.Kind = MovementIn
	}
	res := l.policy.Receive(bal.snapshot(), qty, unitCost)
	after, err := l.commit(ctx, tx, bal, bal.withSnapshot(res.After), entry.At)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	mv, err := l.recorder.Append(ctx, tx, bal, after, qty, res.UnitCost, res.TotalCost, entry)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	l.observer.MovementRecorded(entry.Kind)
	return after, mv, nil
}

// ApplyIssue removes qty from bal at its current average cost. Unless
// allowNegative is set the quantity must not exceed on-hand minus reserved.
func (l *Ledger) ApplyIssue(ctx context.Context, tx TxRepository, bal Balance, qty decimal.Decimal, allowNegative bool, entry Entry) (Balance, Movement, error) {
	if !qty.IsPositive() {
		return Balance{}, Movement{}, ErrInvalidQuantity
	}
	if entry.Kind == "" {
		entry.Kind = MovementOut
	}
	if !allowNegative && qty.GreaterThan(bal.Available()) {
		return Balance{}, Movement{}, ErrInsufficientQuantity
	}
	res := l.policy.Issue(bal.snapshot(), qty)
	after, err := l.commit(ctx, tx, bal, bal.withSnapshot(res.After), entry.At)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	if after.Quantity.IsNegative() {
		l.observer.NegativeStock()
		l.logger.Warn("stock driven negative",
			slog.String("balance", bal.Key.String()),
			slog.String("quantity", after.Quantity.String()),
			slog.String("document", entry.Document.Type),
			slog.Int64("document_id", entry.Document.ID),
		)
	}
	mv, err := l.recorder.Append(ctx, tx, bal, after, qty.Neg(), res.UnitCost, res.TotalCost, entry)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	l.observer.MovementRecorded(entry.Kind)
	return after, mv, nil
}

// Reverse undoes movement m against bal as if it never happened and revokes
// the movement entry. Reversing a receipt fails with ErrInsufficientQuantity
// when the stock it brought in is no longer there to take back.
func (l *Ledger) Reverse(ctx context.Context, tx TxRepository, bal Balance, m Movement, allowNegative bool) (Balance, error) {
	if bal.Key != m.Key {
		return Balance{}, errors.New("inventory: movement does not belong to balance")
	}
	snap := l.policy.Reverse(bal.snapshot(), m.applied())
	if m.Inbound() && !allowNegative && snap.Quantity.LessThan(bal.Reserved) {
		return Balance{}, ErrInsufficientQuantity
	}
	after, err := l.commit(ctx, tx, bal, bal.withSnapshot(snap), time.Time{})
	if err != nil {
		return Balance{}, err
	}
	if err := l.recorder.Revoke(ctx, tx, m, bal, after); err != nil {
		return Balance{}, err
	}
	return after, nil
}

// Restate sets bal to qty valued at unitCost. It is the one path that writes
// absolute figures instead of a delta, and is still version checked.
func (l *Ledger) Restate(ctx context.Context, tx TxRepository, bal Balance, qty, unitCost decimal.Decimal, entry Entry) (Balance, Movement, error) {
	if qty.IsNegative() {
		return Balance{}, Movement{}, ErrInvalidQuantity
	}
	if unitCost.IsNegative() {
		return Balance{}, Movement{}, ErrInvalidUnitCost
	}
	entry.Kind = MovementCountAdjust
	snap := l.policy.Restate(bal.snapshot(), qty, unitCost)
	after, err := l.commit(ctx, tx, bal, bal.withSnapshot(snap), entry.At)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	if after.Quantity.LessThan(after.Reserved) {
		l.logger.Warn("counted quantity below reservations",
			slog.String("balance", bal.Key.String()),
			slog.String("quantity", after.Quantity.String()),
			slog.String("reserved", after.Reserved.String()),
		)
	}
	delta := after.Quantity.Sub(bal.Quantity)
	total := after.Value.Sub(bal.Value).Abs()
	mv, err := l.recorder.Append(ctx, tx, bal, after, delta, unitCost, total, entry)
	if err != nil {
		return Balance{}, Movement{}, err
	}
	l.observer.MovementRecorded(entry.Kind)
	return after, mv, nil
}

// AdjustReserved changes the reserved quantity of bal by delta. Reserved never
// drops below zero.
func (l *Ledger) AdjustReserved(ctx context.Context, tx TxRepository, bal Balance, delta decimal.Decimal) (Balance, error) {
	next := bal
	next.Reserved = bal.Reserved.Add(delta)
	if next.Reserved.IsNegative() {
		next.Reserved = decimal.Zero
	}
	return l.commit(ctx, tx, bal, next, bal.LastMovementAt)
}

func (l *Ledger) commit(ctx context.Context, tx TxRepository, before, after Balance, at time.Time) (Balance, error) {
	if at.IsZero() {
		at = l.now()
	}
	after.LastMovementAt = at
	saved, err := tx.CompareAndSwapBalance(ctx, after, before.Version)
	if err != nil {
		if errors.Is(err, ErrConcurrentModification) {
			l.observer.ConcurrentModification()
		}
		return Balance{}, err
	}
	return saved, nil
}
