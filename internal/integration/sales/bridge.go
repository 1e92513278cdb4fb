// Package sales connects invoice and order use cases to the stock ledger.
// Calls are synchronous: the invoice use case gets the posting result or the
// error back and decides what to do with it.
package sales

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// IssueCreator stores draft issues.
type IssueCreator interface {
	CreateIssue(ctx context.Context, tenant shared.TenantContext, issue documents.Issue) (documents.Issue, error)
}

// ReservationReleaser ends reservations.
type ReservationReleaser interface {
	ReleaseReservation(ctx context.Context, tenant shared.TenantContext, id int64) (inventory.Reservation, error)
}

// Line is one invoiced or ordered item.
type Line struct {
	ItemID        int64
	VariantID     int64
	Quantity      decimal.Decimal
	UnitPrice     decimal.Decimal
	BatchNumber   string
	ReservationID int64
}

// Invoice is the part of a sales invoice the ledger needs.
type Invoice struct {
	ID          int64
	Number      string
	CustomerID  int64
	WarehouseID int64
	Date        time.Time
	Lines       []Line
}

// Order is a sales order whose lines should be held.
type Order struct {
	ID          int64
	Number      string
	WarehouseID int64
	TTL         time.Duration
	Lines       []Line
}

// Shipment is what shipping an invoice produced.
type Shipment struct {
	IssueID int64
	documents.Result
}

// ErrEmptyInvoice indicates an invoice without stock lines.
var ErrEmptyInvoice = errors.New("sales: invoice has no stock lines")

// Bridge drives stock documents on behalf of sales.
type Bridge struct {
	ledger   documents.LedgerPort
	issues   IssueCreator
	releaser ReservationReleaser
	logger   *slog.Logger
}

// NewBridge constructs Bridge.
func NewBridge(ledger documents.LedgerPort, issues IssueCreator, releaser ReservationReleaser, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{ledger: ledger, issues: issues, releaser: releaser, logger: logger}
}

// ShipInvoice creates an issue to the sales destination for the invoice and
// posts it. The draft issue stays behind when posting fails, so the caller
// can retry it once stock arrives.
func (b *Bridge) ShipInvoice(ctx context.Context, tenant shared.TenantContext, inv Invoice, actorID int64) (Shipment, error) {
	if err := tenant.Validate(); err != nil {
		return Shipment{}, err
	}
	if len(inv.Lines) == 0 {
		return Shipment{}, ErrEmptyInvoice
	}
	issue := documents.Issue{
		WarehouseID:    inv.WarehouseID,
		Destination:    accounts.ReasonSales,
		CounterpartyID: inv.CustomerID,
		Date:           inv.Date,
		Note:           fmt.Sprintf("invoice %s", inv.Number),
	}
	for _, l := range inv.Lines {
		issue.Lines = append(issue.Lines, documents.IssueLine{
			ItemID:        l.ItemID,
			VariantID:     l.VariantID,
			Quantity:      l.Quantity,
			UnitPrice:     l.UnitPrice,
			BatchNumber:   l.BatchNumber,
			ReservationID: l.ReservationID,
		})
	}
	created, err := b.issues.CreateIssue(ctx, tenant, issue)
	if err != nil {
		return Shipment{}, fmt.Errorf("create issue for invoice %s: %w", inv.Number, err)
	}
	res, err := b.ledger.PostDocument(ctx, tenant, documents.Ref{Type: documents.TypeIssue, ID: created.ID}, actorID)
	if err != nil {
		b.logger.Warn("invoice shipment not posted",
			slog.String("invoice", inv.Number),
			slog.Int64("issue_id", created.ID),
			slog.Any("error", err),
		)
		return Shipment{IssueID: created.ID}, err
	}
	return Shipment{IssueID: created.ID, Result: res}, nil
}

// VoidShipment unposts the issue an invoice shipped with.
func (b *Bridge) VoidShipment(ctx context.Context, tenant shared.TenantContext, issueID, actorID int64) error {
	return b.ledger.UnpostDocument(ctx, tenant, documents.Ref{Type: documents.TypeIssue, ID: issueID}, actorID)
}

// HoldOrder reserves every line of order. Either all lines are held or none:
// holds taken before a failing line are released again.
func (b *Bridge) HoldOrder(ctx context.Context, tenant shared.TenantContext, order Order) ([]inventory.Reservation, error) {
	if err := tenant.Validate(); err != nil {
		return nil, err
	}
	held := make([]inventory.Reservation, 0, len(order.Lines))
	for i, l := range order.Lines {
		r, err := b.ledger.Reserve(ctx, tenant, inventory.ReserveRequest{
			Key:         inventory.BalanceKey{CompanyID: tenant.CompanyID, ItemID: l.ItemID, VariantID: l.VariantID, WarehouseID: order.WarehouseID},
			Quantity:    l.Quantity,
			BatchNumber: l.BatchNumber,
			RefType:     "sales_order",
			RefID:       order.Number,
			TTL:         order.TTL,
		})
		if err != nil {
			if rerr := b.ReleaseOrder(ctx, tenant, held); rerr != nil {
				b.logger.Error("release partial order hold", slog.String("order", order.Number), slog.Any("error", rerr))
			}
			return nil, fmt.Errorf("order %s line %d: %w", order.Number, i+1, err)
		}
		held = append(held, r)
	}
	return held, nil
}

// ReleaseOrder releases the given holds. Releasing an ended hold is a no-op.
func (b *Bridge) ReleaseOrder(ctx context.Context, tenant shared.TenantContext, holds []inventory.Reservation) error {
	var errs []error
	for _, r := range holds {
		if _, err := b.releaser.ReleaseReservation(ctx, tenant, r.ID); err != nil {
			errs = append(errs, fmt.Errorf("reservation %d: %w", r.ID, err))
		}
	}
	return errors.Join(errs...)
}
