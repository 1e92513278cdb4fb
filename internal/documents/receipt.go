package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// PostReceipt books every line of a draft receipt into stock and generates
// its posting: inventory is debited, the account picked by the receipt's
// source reason is credited.
func (s *Service) PostReceipt(ctx context.Context, tenant shared.TenantContext, id int64, actorID int64) (Result, error) {
	if err := tenant.Validate(); err != nil {
		return Result{}, err
	}
	ref := Ref{Type: TypeReceipt, ID: id}
	number, err := s.drawNumber(ctx, tenant, ref, StatusDraft)
	if err != nil {
		return Result{}, err
	}
	var (
		res Result
		doc Receipt
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		r, err := docs.GetReceipt(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		switch {
		case r.Status == StatusPosted:
			return ErrAlreadyPosted
		case r.Status != StatusDraft:
			return ErrInvalidTransition
		case len(r.Lines) == 0:
			return ErrEmptyDocument
		}
		if _, err := accounts.RuleFor(r.Source); err != nil {
			return err
		}
		if r.Number, err = assignNumber(r.Number, number); err != nil {
			return err
		}
		now := s.now()
		entries := make([]journals.Entry, 0, len(r.Lines))
		for _, line := range r.Lines {
			mv, err := s.receiveLine(ctx, inv, r, line, now)
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			res.Movements = append(res.Movements, mv)
			entries = append(entries, journals.Entry{
				ItemID:      line.ItemID,
				Reason:      r.Source,
				Inbound:     true,
				Amount:      mv.TotalCost,
				Description: fmt.Sprintf("%s line %d", r.Number, line.LineNo),
			})
		}
		if err := docs.UpdateStatus(ctx, ref, StatusDraft, StatusPosted, Stamp{Number: r.Number, At: now, ActorID: actorID}); err != nil {
			return err
		}
		res.JournalID, err = s.journal(ctx, tx, tenant, TypeReceipt, journals.Document{Type: string(TypeReceipt), ID: id, Number: r.Number, Date: r.Date}, entries)
		if err != nil {
			return err
		}
		res.Number = r.Number
		doc = r
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if doc.Source == accounts.ReasonPurchase {
		for _, line := range doc.Lines {
			s.pricing.RecordPrice(ctx, pricing.Entry{
				CompanyID:      tenant.CompanyID,
				CounterpartyID: doc.CounterpartyID,
				ItemID:         line.ItemID,
				VariantID:      line.VariantID,
				Kind:           pricing.KindPurchase,
				UnitPrice:      line.UnitCost,
				Quantity:       line.Quantity,
				Date:           doc.Date,
				DocumentType:   string(TypeReceipt),
				DocumentID:     id,
			})
		}
	}
	s.record(ctx, tenant, ref, "post", actorID, map[string]any{"number": res.Number, "journal_entry_id": res.JournalID})
	return res, nil
}

func (s *Service) receiveLine(ctx context.Context, inv inventory.TxRepository, r Receipt, line ReceiptLine, now time.Time) (inventory.Movement, error) {
	if _, err := checkItem(ctx, inv, r.CompanyID, line.ItemID, line.VariantID); err != nil {
		return inventory.Movement{}, err
	}
	key := inventory.BalanceKey{CompanyID: r.CompanyID, ItemID: line.ItemID, VariantID: line.VariantID, WarehouseID: r.WarehouseID}
	bal, err := s.ledger.GetOrCreateBalance(ctx, inv, key)
	if err != nil {
		return inventory.Movement{}, err
	}
	var batches []inventory.BatchConsumption
	if line.BatchNumber != "" {
		c, err := s.batches.Allocate(ctx, inv, key, inventory.Lot{
			Number:         line.BatchNumber,
			ManufacturedAt: line.ManufacturedAt,
			ExpiresAt:      line.ExpiresAt,
			ReceivedAt:     r.Date,
		}, line.Quantity, line.UnitCost)
		if err != nil {
			return inventory.Movement{}, err
		}
		batches = append(batches, c)
	}
	_, mv, err := s.ledger.ApplyReceipt(ctx, inv, bal, line.Quantity, line.UnitCost, inventory.Entry{
		Kind:     inventory.MovementIn,
		Document: inventory.DocumentRef{Type: string(TypeReceipt), ID: r.ID, Number: r.Number, LineNo: line.LineNo},
		At:       now,
		Batches:  batches,
	})
	return mv, err
}

// UnpostReceipt takes a posted receipt's stock back out and deletes its
// posting. It fails with inventory.ErrInsufficientQuantity when the received
// stock has since been issued.
func (s *Service) UnpostReceipt(ctx context.Context, tenant shared.TenantContext, id int64, actorID int64) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	ref := Ref{Type: TypeReceipt, ID: id}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		r, err := docs.GetReceipt(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if r.Status != StatusPosted {
			return ErrNotPosted
		}
		if err := s.checkDependents(ctx, docs, tenant.CompanyID, ref); err != nil {
			return err
		}
		movements, err := inv.ListDocumentMovements(ctx, tenant.CompanyID, string(TypeReceipt), id)
		if err != nil {
			return err
		}
		if err := s.reverseMovements(ctx, inv, movements); err != nil {
			return err
		}
		if err := s.unjournal(ctx, tx, tenant, ref); err != nil {
			return err
		}
		return docs.UpdateStatus(ctx, ref, StatusPosted, StatusDraft, Stamp{Number: r.Number, At: s.now(), ActorID: actorID})
	})
	if err != nil {
		return err
	}
	s.record(ctx, tenant, ref, "unpost", actorID, nil)
	return nil
}
