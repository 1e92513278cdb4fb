package documents

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/inventory/costing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// StartCount opens a planned count for counting.
func (s *Service) StartCount(ctx context.Context, tenant shared.TenantContext, id, actorID int64) (Count, error) {
	if err := tenant.Validate(); err != nil {
		return Count{}, err
	}
	number, err := s.drawNumber(ctx, tenant, Ref{Type: TypeCount, ID: id}, StatusPlanned)
	if err != nil {
		return Count{}, err
	}
	return s.moveCount(ctx, tenant, id, actorID, "start", StatusPlanned, StatusInProgress, func(_ context.Context, _ Repository, c *Count) error {
		var err error
		c.Number, err = assignNumber(c.Number, number)
		return err
	})
}

// CompleteCount closes counting.
func (s *Service) CompleteCount(ctx context.Context, tenant shared.TenantContext, id, actorID int64) (Count, error) {
	return s.moveCount(ctx, tenant, id, actorID, "complete", StatusInProgress, StatusCompleted, nil)
}

// ApproveCount freezes a completed count. Only processing may follow.
func (s *Service) ApproveCount(ctx context.Context, tenant shared.TenantContext, id, actorID int64, note string) (Count, error) {
	c, err := s.moveCount(ctx, tenant, id, actorID, "approve", StatusCompleted, StatusApproved, nil)
	if err != nil {
		return Count{}, err
	}
	s.approval(ctx, tenant, Ref{Type: TypeCount, ID: id}, shared.ApprovalApprove, actorID, note)
	return c, nil
}

func (s *Service) moveCount(ctx context.Context, tenant shared.TenantContext, id, actorID int64, action string, from, to Status, prepare func(context.Context, Repository, *Count) error) (Count, error) {
	if err := tenant.Validate(); err != nil {
		return Count{}, err
	}
	ref := Ref{Type: TypeCount, ID: id}
	var out Count
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs := tx.Documents()
		c, err := docs.GetCount(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if c.Status != from {
			return ErrInvalidTransition
		}
		if prepare != nil {
			if err := prepare(ctx, docs, &c); err != nil {
				return err
			}
		}
		if err := docs.UpdateStatus(ctx, ref, from, to, Stamp{Number: c.Number, At: s.now(), ActorID: actorID}); err != nil {
			return err
		}
		c.Status = to
		out = c
		return nil
	})
	if err != nil {
		return Count{}, err
	}
	s.record(ctx, tenant, ref, action, actorID, nil)
	return out, nil
}

// PopulateCount snapshots the system quantity and average cost of every
// balance in the count's warehouse into its lines. Counted figures already
// entered are kept. Nothing in the ledger changes.
func (s *Service) PopulateCount(ctx context.Context, tenant shared.TenantContext, id int64) (Count, error) {
	if err := tenant.Validate(); err != nil {
		return Count{}, err
	}
	var out Count
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		c, err := docs.GetCount(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if c.Immutable() {
			return fmt.Errorf("%w: count %s is %s", ErrInvalidTransition, c.Number, c.Status)
		}
		if c.Status != StatusPlanned && c.Status != StatusInProgress {
			return ErrInvalidTransition
		}
		balances, err := inv.ListBalances(ctx, tenant.CompanyID, c.WarehouseID)
		if err != nil {
			return err
		}
		type itemKey struct{ item, variant int64 }
		existing := make(map[itemKey]CountLine, len(c.Lines))
		for _, l := range c.Lines {
			existing[itemKey{l.ItemID, l.VariantID}] = l
		}
		lines := make([]CountLine, 0, len(balances))
		for i, b := range balances {
			line := existing[itemKey{b.Key.ItemID, b.Key.VariantID}]
			line.LineNo = i + 1
			line.ItemID = b.Key.ItemID
			line.VariantID = b.Key.VariantID
			line.SystemQuantity = b.Quantity
			line.UnitCost = b.AvgCost
			lines = append(lines, line)
		}
		if err := docs.SaveCountLines(ctx, id, lines); err != nil {
			return err
		}
		c.Lines = lines
		out = c
		return nil
	})
	return out, err
}

// RecordCount enters the counted quantity of one line.
func (s *Service) RecordCount(ctx context.Context, tenant shared.TenantContext, id int64, lineNo int, counted decimal.Decimal) (CountLine, error) {
	if err := tenant.Validate(); err != nil {
		return CountLine{}, err
	}
	if counted.IsNegative() {
		return CountLine{}, fmt.Errorf("line %d: %w", lineNo, inventory.ErrInvalidQuantity)
	}
	var out CountLine
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs := tx.Documents()
		c, err := docs.GetCount(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if c.Status != StatusInProgress {
			return ErrInvalidTransition
		}
		for i := range c.Lines {
			if c.Lines[i].LineNo != lineNo {
				continue
			}
			c.Lines[i].CountedQuantity = counted.Round(costing.QuantityScale)
			c.Lines[i].Counted = true
			out = c.Lines[i]
			return docs.SaveCountLines(ctx, id, c.Lines)
		}
		return fmt.Errorf("line %d: %w", lineNo, ErrInvalidLine)
	})
	return out, err
}

// ProcessCount books an approved count. Every counted line that differs from
// its snapshot sets its balance outright to the counted quantity valued at
// the snapshot cost, and one posting nets all differences: surplus debits
// inventory, shortage credits it.
func (s *Service) ProcessCount(ctx context.Context, tenant shared.TenantContext, id, actorID int64) (Result, error) {
	if err := tenant.Validate(); err != nil {
		return Result{}, err
	}
	ref := Ref{Type: TypeCount, ID: id}
	var res Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		c, err := docs.GetCount(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if c.Status == StatusProcessed {
			return ErrAlreadyPosted
		}
		if c.Status != StatusApproved {
			return ErrInvalidTransition
		}
		now := s.now()
		var entries []journals.Entry
		for _, line := range c.Lines {
			if !line.Counted || line.Difference().IsZero() {
				continue
			}
			key := inventory.BalanceKey{CompanyID: tenant.CompanyID, ItemID: line.ItemID, VariantID: line.VariantID, WarehouseID: c.WarehouseID}
			bal, err := s.ledger.GetOrCreateBalance(ctx, inv, key)
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			after, mv, err := s.ledger.Restate(ctx, inv, bal, line.CountedQuantity, line.UnitCost, inventory.Entry{
				Document: inventory.DocumentRef{Type: string(TypeCount), ID: id, Number: c.Number, LineNo: line.LineNo},
				At:       now,
				Note:     fmt.Sprintf("counted %s, system %s", line.CountedQuantity, line.SystemQuantity),
			})
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			res.Movements = append(res.Movements, mv)
			// Journal what the balance value actually moved by. It includes
			// any averaging residue the stored value carried.
			delta := after.Value.Sub(bal.Value)
			reason := accounts.ReasonCountSurplus
			if delta.IsNegative() {
				reason = accounts.ReasonCountShortage
			}
			entries = append(entries, journals.Entry{
				ItemID:      line.ItemID,
				Reason:      reason,
				Inbound:     delta.IsPositive(),
				Amount:      delta.Abs(),
				Description: fmt.Sprintf("%s line %d", c.Number, line.LineNo),
			})
		}
		res.JournalID, err = s.journal(ctx, tx, tenant, TypeCount, journals.Document{Type: string(TypeCount), ID: id, Number: c.Number, Date: c.Date}, entries)
		if err != nil {
			return err
		}
		res.Number = c.Number
		return docs.UpdateStatus(ctx, ref, StatusApproved, StatusProcessed, Stamp{Number: c.Number, At: now, ActorID: actorID})
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, tenant, ref, "process", actorID, map[string]any{"adjusted_lines": len(res.Movements), "journal_entry_id": res.JournalID})
	return res, nil
}
