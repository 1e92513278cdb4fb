package documents

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// PostIssue takes every line of a draft issue out of stock at the balance's
// average cost and generates its posting: the account picked by the issue's
// destination reason is debited, inventory is credited.
func (s *Service) PostIssue(ctx context.Context, tenant shared.TenantContext, id int64, actorID int64) (Result, error) {
	if err := tenant.Validate(); err != nil {
		return Result{}, err
	}
	ref := Ref{Type: TypeIssue, ID: id}
	number, err := s.drawNumber(ctx, tenant, ref, StatusDraft)
	if err != nil {
		return Result{}, err
	}
	var (
		res Result
		doc Issue
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		is, err := docs.GetIssue(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		switch {
		case is.Status == StatusPosted:
			return ErrAlreadyPosted
		case is.Status != StatusDraft:
			return ErrInvalidTransition
		case len(is.Lines) == 0:
			return ErrEmptyDocument
		}
		if _, err := accounts.RuleFor(is.Destination); err != nil {
			return err
		}
		wh, err := inv.GetWarehouse(ctx, tenant.CompanyID, is.WarehouseID)
		if err != nil {
			return err
		}
		if is.Number, err = assignNumber(is.Number, number); err != nil {
			return err
		}
		now := s.now()
		entries := make([]journals.Entry, 0, len(is.Lines))
		for _, line := range is.Lines {
			mv, err := s.issueLine(ctx, inv, is, wh, line, now)
			if err != nil {
				return fmt.Errorf("line %d: %w", line.LineNo, err)
			}
			res.Movements = append(res.Movements, mv)
			entries = append(entries, journals.Entry{
				ItemID:      line.ItemID,
				Reason:      is.Destination,
				Inbound:     false,
				Amount:      mv.TotalCost,
				Description: fmt.Sprintf("%s line %d", is.Number, line.LineNo),
			})
		}
		if err := docs.UpdateStatus(ctx, ref, StatusDraft, StatusPosted, Stamp{Number: is.Number, At: now, ActorID: actorID}); err != nil {
			return err
		}
		res.JournalID, err = s.journal(ctx, tx, tenant, TypeIssue, journals.Document{Type: string(TypeIssue), ID: id, Number: is.Number, Date: is.Date}, entries)
		if err != nil {
			return err
		}
		res.Number = is.Number
		doc = is
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if doc.Destination == accounts.ReasonSales {
		for _, line := range doc.Lines {
			s.pricing.RecordPrice(ctx, pricing.Entry{
				CompanyID:      tenant.CompanyID,
				CounterpartyID: doc.CounterpartyID,
				ItemID:         line.ItemID,
				VariantID:      line.VariantID,
				Kind:           pricing.KindSale,
				UnitPrice:      line.UnitPrice,
				Quantity:       line.Quantity,
				Date:           doc.Date,
				DocumentType:   string(TypeIssue),
				DocumentID:     id,
			})
		}
	}
	s.record(ctx, tenant, ref, "post", actorID, map[string]any{"number": res.Number, "journal_entry_id": res.JournalID})
	return res, nil
}

func (s *Service) issueLine(ctx context.Context, inv inventory.TxRepository, is Issue, wh inventory.Warehouse, line IssueLine, now time.Time) (inventory.Movement, error) {
	item, err := checkItem(ctx, inv, is.CompanyID, line.ItemID, line.VariantID)
	if err != nil {
		return inventory.Movement{}, err
	}
	key := inventory.BalanceKey{CompanyID: is.CompanyID, ItemID: line.ItemID, VariantID: line.VariantID, WarehouseID: is.WarehouseID}
	if line.ReservationID != 0 {
		if err := s.fulfil(ctx, inv, key, line.ReservationID); err != nil {
			return inventory.Movement{}, err
		}
	}
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
		Kind:     inventory.MovementOut,
		Document: inventory.DocumentRef{Type: string(TypeIssue), ID: is.ID, Number: is.Number, LineNo: line.LineNo},
		At:       now,
		Batches:  used,
	})
	return mv, err
}

// fulfil releases the reservation an issue line ships against, before the
// availability check so the line may draw on the quantity it held.
func (s *Service) fulfil(ctx context.Context, inv inventory.TxRepository, key inventory.BalanceKey, reservationID int64) error {
	r, err := inv.GetReservation(ctx, key.CompanyID, reservationID)
	if err != nil {
		return err
	}
	if r.Key != key {
		return ErrReservationMismatch
	}
	_, err = s.reservations.Release(ctx, inv, key.CompanyID, reservationID)
	return err
}

// consume draws batch quantity for an outbound line: the named batch when the
// line names one, otherwise open batches in policy order for batch-tracked
// items.
func (s *Service) consume(ctx context.Context, inv inventory.TxRepository, key inventory.BalanceKey, item inventory.Item, batch string, qty decimal.Decimal, allowShortfall bool) ([]inventory.BatchConsumption, error) {
	switch {
	case batch != "":
		return s.batches.ConsumeNamed(ctx, inv, key, batch, qty, allowShortfall)
	case item.TracksBatches:
		return s.batches.Consume(ctx, inv, key, qty, allowShortfall)
	}
	return nil, nil
}

// UnpostIssue returns a posted issue's stock and deletes its posting.
// Reservations fulfilled by the issue stay released.
func (s *Service) UnpostIssue(ctx context.Context, tenant shared.TenantContext, id int64, actorID int64) error {
	if err := tenant.Validate(); err != nil {
		return err
	}
	ref := Ref{Type: TypeIssue, ID: id}
	err := s.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		docs, inv := tx.Documents(), tx.Inventory()
		is, err := docs.GetIssue(ctx, tenant.CompanyID, id)
		if err != nil {
			return err
		}
		if is.Status != StatusPosted {
			return ErrNotPosted
		}
		if err := s.checkDependents(ctx, docs, tenant.CompanyID, ref); err != nil {
			return err
		}
		movements, err := inv.ListDocumentMovements(ctx, tenant.CompanyID, string(TypeIssue), id)
		if err != nil {
			return err
		}
		if err := s.reverseMovements(ctx, inv, movements); err != nil {
			return err
		}
		if err := s.unjournal(ctx, tx, tenant, ref); err != nil {
			return err
		}
		return docs.UpdateStatus(ctx, ref, StatusPosted, StatusDraft, Stamp{Number: is.Number, At: s.now(), ActorID: actorID})
	})
	if err != nil {
		return err
	}
	s.record(ctx, tenant, ref, "unpost", actorID, nil)
	return nil
}
