package sales_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/integration/sales"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/testing/memstore"
)

var (
	dec    = memstore.Dec
	tenant = shared.TenantContext{CompanyID: 1, BranchID: 1}
	epoch  = time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
)

func setup(t *testing.T) (*sales.Bridge, *memstore.Store, *documents.Service) {
	t.Helper()
	clock := func() time.Time { return epoch }
	store := memstore.New()
	store.Seed(func(tx *memstore.Tx) {
		tx.AddItem(inventory.Item{ID: 10, CompanyID: 1, Code: "A"})
		tx.AddItem(inventory.Item{ID: 11, CompanyID: 1, Code: "B"})
		tx.AddWarehouse(inventory.Warehouse{ID: 100, CompanyID: 1, Code: "MAIN"})
	})
	ledger := inventory.NewLedger(inventory.LedgerConfig{Clock: clock})
	batches := inventory.NewBatches(inventory.BatchFIFO, clock)
	reservations := inventory.NewReservations(ledger, batches, time.Hour, nil, clock)
	docs := documents.NewService(documents.Config{
		Store: store.Documents(), Ledger: ledger, Batches: batches, Reservations: reservations, Clock: clock,
	})
	stock := inventory.NewService(store.Inventory(), ledger, reservations, nil)

	for _, item := range []int64{10, 11} {
		r, err := docs.CreateReceipt(context.Background(), tenant, documents.Receipt{
			WarehouseID: 100,
			Source:      accounts.ReasonOpening,
			Lines:       []documents.ReceiptLine{{ItemID: item, Quantity: dec("20"), UnitCost: dec("5")}},
		})
		require.NoError(t, err)
		_, err = docs.PostReceipt(context.Background(), tenant, r.ID, 1)
		require.NoError(t, err)
	}
	return sales.NewBridge(documents.NewLedgerPort(docs, stock), docs, stock, nil), store, docs
}

func key(item int64) inventory.BalanceKey {
	return inventory.BalanceKey{CompanyID: 1, ItemID: item, WarehouseID: 100}
}

func TestShipInvoicePostsIssue(t *testing.T) {
	bridge, store, docs := setup(t)
	ctx := context.Background()

	ship, err := bridge.ShipInvoice(ctx, tenant, sales.Invoice{
		ID: 1, Number: "INV-1", CustomerID: 42, WarehouseID: 100, Date: epoch,
		Lines: []sales.Line{{ItemID: 10, Quantity: dec("8"), UnitPrice: dec("9")}},
	}, 3)
	require.NoError(t, err)
	require.Len(t, ship.Movements, 1)
	require.True(t, store.Balance(key(10)).Quantity.Equal(dec("12")))

	issue, err := docs.Issue(ctx, tenant, ship.IssueID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusPosted, issue.Status)
	require.Equal(t, accounts.ReasonSales, issue.Destination)

	require.NoError(t, bridge.VoidShipment(ctx, tenant, ship.IssueID, 3))
	require.True(t, store.Balance(key(10)).Quantity.Equal(dec("20")))
}

func TestShipInvoiceReturnsPostingError(t *testing.T) {
	bridge, store, docs := setup(t)
	ship, err := bridge.ShipInvoice(context.Background(), tenant, sales.Invoice{
		Number: "INV-2", WarehouseID: 100, Date: epoch,
		Lines: []sales.Line{{ItemID: 10, Quantity: dec("21")}},
	}, 3)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)
	require.NotZero(t, ship.IssueID)
	require.True(t, store.Balance(key(10)).Quantity.Equal(dec("20")))

	issue, err := docs.Issue(context.Background(), tenant, ship.IssueID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, issue.Status)

	_, err = bridge.ShipInvoice(context.Background(), tenant, sales.Invoice{Number: "INV-3"}, 3)
	require.ErrorIs(t, err, sales.ErrEmptyInvoice)
}

func TestHoldOrderIsAllOrNothing(t *testing.T) {
	bridge, store, _ := setup(t)
	ctx := context.Background()

	_, err := bridge.HoldOrder(ctx, tenant, sales.Order{
		Number: "SO-1", WarehouseID: 100,
		Lines: []sales.Line{{ItemID: 10, Quantity: dec("5")}, {ItemID: 11, Quantity: dec("25")}},
	})
	require.ErrorIs(t, err, inventory.ErrInsufficientAvailable)
	require.True(t, store.Balance(key(10)).Reserved.IsZero())

	holds, err := bridge.HoldOrder(ctx, tenant, sales.Order{
		Number: "SO-2", WarehouseID: 100,
		Lines: []sales.Line{{ItemID: 10, Quantity: dec("5")}, {ItemID: 11, Quantity: dec("6")}},
	})
	require.NoError(t, err)
	require.Len(t, holds, 2)
	require.True(t, store.Balance(key(11)).Reserved.Equal(dec("6")))

	require.NoError(t, bridge.ReleaseOrder(ctx, tenant, holds))
	require.True(t, store.Balance(key(10)).Reserved.IsZero())
	require.True(t, store.Balance(key(11)).Reserved.IsZero())
}
