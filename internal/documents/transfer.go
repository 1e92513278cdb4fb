package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ApproveTransfer authorises a draft transfer. It touches no stock.
func (s *Service) ApproveTransfer(ctx context.Context, tenant shared.TenantContext, id, actorID int64, note string) (Transfer, error) {
	if err := tenant.Validate(); err != nil {
		return Transfer{}, err
	}
	ref := Ref{Type: TypeTransfer, ID: id}
	var out Transfer
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs := tx.Documents()
		t, err := docs.GetTransfer(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if t.Status != StatusDraft {
			return ErrInvalidTransition
		}
		if len(t.Lines) == 0 {
			return ErrEmptyDocument
		}
		if t.SourceWarehouseID == t.DestinationWarehouseID {
			return ErrSameWarehouse
		}
		if err := docs.UpdateStatus(ctx, ref, StatusDraft, StatusApproved, Stamp{Number: t.Number, At: s.now(), ActorID: actorID}); err != nil {
			return err
		}
		t.Status = StatusApproved
		t.ApprovedBy = actorID
		out = t
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}
	s.approval(ctx, tenant, ref, shared.ApprovalApprove, actorID, note)
	s.record(ctx, tenant, ref, "approve", actorID, nil)
	return out, nil
}

// SendTransfer issues the approved lines from the source warehouse. Each line
// keeps the source average cost it left at, and the batches it drew, for the
// matching receipt at the destination. No posting is generated.
func (s *Service) SendTransfer(ctx context.Context, tenant shared.TenantContext, id, actorID int64) (Result, error) {
	if err := tenant.Validate(); err != nil {
		return Result{}, err
	}
	ref := Ref{Type: TypeTransfer, ID: id}
	number, err := s.drawNumber(ctx, tenant, ref, StatusApproved)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		t, err := docs.GetTransfer(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if t.Status != StatusApproved {
			return ErrInvalidTransition
		}
		wh, err := inv.GetWarehouse(ctx, tenant.CompanyID, t.SourceWarehouseID)
		if err != nil {
			return err
		}
		if t.Number, err = assignNumber(t.Number, number); err != nil {
			return err
		}
		now := s.now()
		for i := range t.Lines {
			line := &t.Lines[i]
			mv, err := s.sendLine(ctx, inv, t, wh, *line, now)
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			line.UnitCost = mv.UnitCost
			line.Batches = mv.Batches
			res.Movements = append(res.Movements, mv)
		}
		if err := docs.SaveTransferLines(ctx, id, t.Lines); err != nil {
			return err
		}
		res.Number = t.Number
		return docs.UpdateStatus(ctx, ref, StatusApproved, StatusInTransit, Stamp{Number: t.Number, At: now, ActorID: actorID})
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, tenant, ref, "send", actorID, map[string]any{"number": res.Number})
	return res, nil
}

func (s *Service) sendLine(ctx context.Context, inv inventory.TxRepository, t Transfer, wh inventory.Warehouse, line TransferLine, now time.Time) (inventory.Movement, error) {
	item, err := checkItem(ctx, inv, t.CompanyID, line.ItemID, line.VariantID)
	if err != nil {
		return inventory.Movement{}, err
	}
	key := inventory.BalanceKey{CompanyID: t.CompanyID, ItemID: line.ItemID, VariantID: line.VariantID, WarehouseID: t.SourceWarehouseID}
	bal, err := s.ledger.GetOrCreateBalance(ctx, inv, key)
	if err != nil {
		return inventory.Movement{}, err
	}
	allow := wh.AllowNegativeStock
	if !allow && line.Quantity.GreaterThan(bal.Available()) {
		return inventory.Movement{}, inventory.ErrInsufficientQuantity
	}
	used, err := s.consume(ctx, inv, key, item, line.BatchNumber, line.Quantity, allow)
	if err != nil {
		return inventory.Movement{}, err
	}
	_, mv, err := s.ledger.ApplyIssue(ctx, inv, bal, line.Quantity, allow, inventory.Entry{
		Kind:     inventory.MovementTransferOut,
		Document: inventory.DocumentRef{Type: string(TypeTransfer), ID: t.ID, Number: t.Number, LineNo: line.LineNo},
		At:       now,
		Batches:  used,
	})
	return mv, err
}

// ReceiveTransfer books an in-transit transfer into the destination at the
// cost captured on send, whatever the destination's own average cost is.
// received maps line numbers to the quantity that arrived; lines it omits
// arrive in full. A short arrival is recorded as such and the rest stays
// unposted.
func (s *Service) ReceiveTransfer(ctx context.Context, tenant shared.TenantContext, id, actorID int64, received map[int]decimal.Decimal) (Result, error) {
	if err := tenant.Validate(); err != nil {
		return Result{}, err
	}
	ref := Ref{Type: TypeTransfer, ID: id}
	var res Result
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		t, err := docs.GetTransfer(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if t.Status != StatusInTransit {
			return ErrInvalidTransition
		}
		now := s.now()
		for i := range t.Lines {
			line := &t.Lines[i]
			qty := line.Quantity
			if q, ok := received[line.LineNo]; ok {
				qty = q
			}
			if qty.IsNegative() || qty.GreaterThan(line.Quantity) {
				return fmt.Errorf("line %d: %w: received quantity must be between 0 and %s", line.LineNo, ErrInvalidLine, line.Quantity)
			}
			line.ReceivedQuantity = qty
			if qty.IsZero() {
				continue
			}
			mv, err := s.receiveTransferLine(ctx, inv, t, *line, qty, now)
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			res.Movements = append(res.Movements, mv)
		}
		if err := docs.SaveTransferLines(ctx, id, t.Lines); err != nil {
			return err
		}
		res.Number = t.Number
		return docs.UpdateStatus(ctx, ref, StatusInTransit, StatusReceived, Stamp{Number: t.Number, At: now, ActorID: actorID})
	})
	if err != nil {
		return Result{}, err
	}
	s.record(ctx, tenant, ref, "receive", actorID, nil)
	return res, nil
}

func (s *Service) receiveTransferLine(ctx context.Context, inv inventory.TxRepository, t Transfer, line TransferLine, qty decimal.Decimal, now time.Time) (inventory.Movement, error) {
	key := inventory.BalanceKey{CompanyID: t.CompanyID, ItemID: line.ItemID, VariantID: line.VariantID, WarehouseID: t.DestinationWarehouseID}
	bal, err := s.ledger.GetOrCreateBalance(ctx, inv, key)
	if err != nil {
		return inventory.Movement{}, err
	}
	var allocated []inventory.BatchConsumption
	remaining := qty
	for _, c := range line.Batches {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(c.Quantity, remaining)
		remaining = remaining.Sub(take)
		if c.Number == "" {
			continue
		}
		got, err := s.batches.Allocate(ctx, inv, key, inventory.Lot{Number: c.Number, ExpiresAt: c.ExpiresAt, ReceivedAt: now}, take, c.UnitCost)
		if err != nil {
			return inventory.Movement{}, err
		}
		allocated = append(allocated, got)
	}
	_, mv, err := s.ledger.ApplyReceipt(ctx, inv, bal, qty, line.UnitCost, inventory.Entry{
		Kind:     inventory.MovementTransferIn,
		Document: inventory.DocumentRef{Type: string(TypeTransfer), ID: t.ID, Number: t.Number, LineNo: line.LineNo},
		At:       now,
		Batches:  allocated,
	})
	return mv, err
}

// CancelTransfer abandons a transfer. Cancelling an in-transit transfer puts
// the sent stock back into the source warehouse; a received transfer cannot
// be cancelled.
func (s *Service) CancelTransfer(ctx context.Context, tenant shared.TenantContext, id, actorID int64, note string) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	ref := Ref{Type: TypeTransfer, ID: id}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		t, err := docs.GetTransfer(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		switch t.Status {
		case StatusDraft, StatusApproved:
		case StatusInTransit:
			movements, err := inv.ListDocumentMovements(ctx, tenant.CompanyID, string(TypeTransfer), id)
			if err != nil {
				return err
			}
			var sent []inventory.Movement
			for _, m := range movements {
				if m.Kind == inventory.MovementTransferOut {
					sent = append(sent, m)
				}
			}
			if err := s.reverseMovements(ctx, inv, sent); err != nil {
				return err
			}
		default:
			return ErrInvalidTransition
		}
		return docs.UpdateStatus(ctx, ref, t.Status, StatusCancelled, Stamp{Number: t.Number, At: s.now(), ActorID: actorID})
	})
	if err != nil {
		return err
	}
	s.approval(ctx, tenant, ref, shared.ApprovalCancel, actorID, note)
	s.record(ctx, tenant, ref, "cancel", actorID, map[string]any{"note": note})
	return nil
}
