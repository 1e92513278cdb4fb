package documents

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type ledgerPort struct {
	docs  *Service
	stock *inventory.Service
}

// NewLedgerPort composes the document engine and the stock service into the
// port invoice and order modules consume.
func NewLedgerPort(docs *Service, stock *inventory.Service) LedgerPort {
	return &ledgerPort{docs: docs, stock: stock}
}

func (p *ledgerPort) PostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) (Result, error) {
	return p.docs.PostDocument(ctx, tenant, ref, actorID)
}

func (p *ledgerPort) UnpostDocument(ctx context.Context, tenant shared.TenantContext, ref Ref, actorID int64) error {
	return p.docs.UnpostDocument(ctx, tenant, ref, actorID)
}

func (p *ledgerPort) GetAvailableQuantity(ctx context.Context, tenant shared.TenantContext, key inventory.BalanceKey) (decimal.Decimal, error) {
	return p.stock.GetAvailableQuantity(ctx, tenant, key)
}

func (p *ledgerPort) Reserve(ctx context.Context, tenant shared.TenantContext, req inventory.ReserveRequest) (inventory.Reservation, error) {
	return p.stock.Reserve(ctx, tenant, req)
}
