package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/testing/memstore"
)

func seedLots(t *testing.T, store *memstore.Store, batches *inventory.Batches) {
	t.Helper()
	soon := epoch.AddDate(0, 1, 0)
	later := epoch.AddDate(0, 6, 0)
	lots := []struct {
		lot  inventory.Lot
		qty  string
		cost string
	}{
		{lot: inventory.Lot{Number: "A", ExpiresAt: &later, ReceivedAt: epoch}, qty: "5", cost: "10"},
		{lot: inventory.Lot{Number: "B", ExpiresAt: &soon, ReceivedAt: epoch.Add(time.Hour)}, qty: "5", cost: "12"},
		{lot: inventory.Lot{Number: "C", ReceivedAt: epoch.Add(-time.Hour)}, qty: "5", cost: "8"},
	}
	require.NoError(t, store.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		for _, l := range lots {
			if _, err := batches.Allocate(ctx, tx, key, l.lot, dec(l.qty), dec(l.cost)); err != nil {
				return err
			}
		}
		return nil
	}))
}

func consume(t *testing.T, store *memstore.Store, batches *inventory.Batches, policy inventory.BatchPolicy, qty string, shortfall bool) ([]inventory.BatchConsumption, error) {
	t.Helper()
	var used []inventory.BatchConsumption
	err := store.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		used, err = batches.ConsumeWith(ctx, tx, key, dec(qty), policy, shortfall)
		return err
	})
	return used, err
}

func numbers(used []inventory.BatchConsumption) []string {
	out := make([]string, 0, len(used))
	for _, u := range used {
		out = append(out, u.Number)
	}
	return out
}

func TestBatchConsumptionOrder(t *testing.T) {
	cases := []struct {
		name   string
		policy inventory.BatchPolicy
		want   []string
	}{
		{name: "fifo follows receipt date", policy: inventory.BatchFIFO, want: []string{"C", "A"}},
		{name: "fefo follows expiry, undated last", policy: inventory.BatchFEFO, want: []string{"B", "A"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := memstore.New()
			batches := inventory.NewBatches(tc.policy, func() time.Time { return epoch })
			seedLots(t, store, batches)

			used, err := consume(t, store, batches, tc.policy, "7", false)
			require.NoError(t, err)
			require.Equal(t, tc.want, numbers(used))
			require.True(t, used[1].Quantity.Equal(dec("2")))

			first, ok := store.Batch(key, tc.want[0])
			require.True(t, ok)
			require.True(t, first.Quantity.IsZero())
		})
	}
}

func TestBatchShortfall(t *testing.T) {
	store := memstore.New()
	batches := inventory.NewBatches(inventory.BatchFIFO, nil)
	seedLots(t, store, batches)

	_, err := consume(t, store, batches, inventory.BatchFIFO, "16", false)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)
	c, _ := store.Batch(key, "C")
	require.True(t, c.Quantity.Equal(dec("5")), "failed consumption must roll back")

	used, err := consume(t, store, batches, inventory.BatchFIFO, "16", true)
	require.NoError(t, err)
	require.Len(t, used, 4)
	require.Empty(t, used[3].Number)
	require.True(t, used[3].Quantity.Equal(dec("1")))
}

func TestBatchReservedQuantityIsNotConsumed(t *testing.T) {
	store := memstore.New()
	batches := inventory.NewBatches(inventory.BatchFIFO, nil)
	seedLots(t, store, batches)

	require.NoError(t, store.Inventory().WithTx(context.Background(), func(ctx context.Context, tx inventory.TxRepository) error {
		return batches.Reserve(ctx, tx, key, "C", dec("4"))
	}))
	used, err := consume(t, store, batches, inventory.BatchFIFO, "3", false)
	require.NoError(t, err)
	require.Equal(t, []string{"C", "A"}, numbers(used))
	require.True(t, used[0].Quantity.Equal(dec("1")))
}

func TestBatchAllocateAveragesCostAndRestore(t *testing.T) {
	store := memstore.New()
	batches := inventory.NewBatches(inventory.BatchFIFO, nil)
	ctx := context.Background()

	require.NoError(t, store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		if _, err := batches.Allocate(ctx, tx, key, inventory.Lot{Number: "L1"}, dec("10"), dec("4")); err != nil {
			return err
		}
		_, err := batches.Allocate(ctx, tx, key, inventory.Lot{Number: "L1"}, dec("10"), dec("6"))
		return err
	}))
	lot, ok := store.Batch(key, "L1")
	require.True(t, ok)
	require.True(t, lot.Quantity.Equal(dec("20")))
	require.True(t, lot.UnitCost.Equal(dec("5")))

	var used []inventory.BatchConsumption
	require.NoError(t, store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		var err error
		used, err = batches.ConsumeNamed(ctx, tx, key, "L1", dec("20"), false)
		return err
	}))
	require.NoError(t, store.Inventory().WithTx(ctx, func(ctx context.Context, tx inventory.TxRepository) error {
		return batches.Restore(ctx, tx, key, used)
	}))
	lot, _ = store.Batch(key, "L1")
	require.True(t, lot.Quantity.Equal(dec("20")))
}
