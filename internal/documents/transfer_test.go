package documents_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

func (f *fixture) transfer(t *testing.T, lines ...documents.TransferLine) documents.Transfer {
	t.Helper()
	tr, err := f.docs.CreateTransfer(context.Background(), tenant, documents.Transfer{
		SourceWarehouseID:      mainWH,
		DestinationWarehouseID: branchWH,
		Date:                   epoch,
		Lines:                  lines,
	})
	require.NoError(t, err)
	return tr
}

func (f *fixture) sendTransfer(t *testing.T, id int64) {
	t.Helper()
	_, err := f.docs.ApproveTransfer(context.Background(), tenant, id, actor, "ok")
	require.NoError(t, err)
	_, err = f.docs.SendTransfer(context.Background(), tenant, id, actor)
	require.NoError(t, err)
}

func TestTransferCarriesSourceCost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "100", "10")
	f.receive(t, branchWH, itemA, "10", "20")

	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("30")})
	f.sendTransfer(t, tr.ID)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "70", "10", "700")

	sent, err := f.docs.Transfer(ctx, tenant, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusInTransit, sent.Status)
	require.Equal(t, "TRF/2026/000001", sent.Number)
	require.True(t, sent.Lines[0].UnitCost.Equal(dec("10")))
	require.NotNil(t, sent.SentAt)

	res, err := f.docs.ReceiveTransfer(ctx, tenant, tr.ID, actor, nil)
	require.NoError(t, err)
	require.Equal(t, inventory.MovementTransferIn, res.Movements[0].Kind)
	require.True(t, res.Movements[0].UnitCost.Equal(dec("10")))
	requireBalance(t, f.store.Balance(keyOf(itemA, branchWH)), "40", "12.5", "500")

	require.Len(t, f.store.Postings(), 2, "transfers generate no posting")
	require.Len(t, f.recorder.okays, 1)
	require.Equal(t, shared.ApprovalApprove, f.recorder.okays[0].Action)
}

func TestTransferPartialReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "50", "4")
	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("20")})
	f.sendTransfer(t, tr.ID)

	_, err := f.docs.ReceiveTransfer(ctx, tenant, tr.ID, actor, map[int]decimal.Decimal{1: dec("25")})
	require.ErrorIs(t, err, documents.ErrInvalidLine)

	_, err = f.docs.ReceiveTransfer(ctx, tenant, tr.ID, actor, map[int]decimal.Decimal{1: dec("18")})
	require.NoError(t, err)
	requireBalance(t, f.store.Balance(keyOf(itemA, branchWH)), "18", "4", "72")

	got, err := f.docs.Transfer(ctx, tenant, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusReceived, got.Status)
	require.True(t, got.Lines[0].ReceivedQuantity.Equal(dec("18")))

	err = f.docs.CancelTransfer(ctx, tenant, tr.ID, actor, "too late")
	require.ErrorIs(t, err, documents.ErrInvalidTransition)
}

func TestTransferBatchesFollowTheStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemB, Quantity: dec("8"), UnitCost: dec("3"), BatchNumber: "LOT-9"})
	_, err := f.docs.PostReceipt(ctx, tenant, rec.ID, actor)
	require.NoError(t, err)

	tr := f.transfer(t, documents.TransferLine{ItemID: itemB, Quantity: dec("6")})
	f.sendTransfer(t, tr.ID)
	_, err = f.docs.ReceiveTransfer(ctx, tenant, tr.ID, actor, nil)
	require.NoError(t, err)

	src, _ := f.store.Batch(keyOf(itemB, mainWH), "LOT-9")
	dst, ok := f.store.Batch(keyOf(itemB, branchWH), "LOT-9")
	require.True(t, ok)
	require.True(t, src.Quantity.Equal(dec("2")))
	require.True(t, dst.Quantity.Equal(dec("6")))
	require.True(t, dst.UnitCost.Equal(dec("3")))
}

func TestTransferStateMachine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "10", "1")

	_, err := f.docs.CreateTransfer(ctx, tenant, documents.Transfer{
		SourceWarehouseID:      mainWH,
		DestinationWarehouseID: mainWH,
		Lines:                  []documents.TransferLine{{ItemID: itemA, Quantity: dec("1")}},
	})
	require.ErrorIs(t, err, documents.ErrSameWarehouse)

	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("4")})
	_, err = f.docs.SendTransfer(ctx, tenant, tr.ID, actor)
	require.ErrorIs(t, err, documents.ErrInvalidTransition)
	_, err = f.docs.ReceiveTransfer(ctx, tenant, tr.ID, actor, nil)
	require.ErrorIs(t, err, documents.ErrInvalidTransition)

	require.NoError(t, f.docs.CancelTransfer(ctx, tenant, tr.ID, actor, "not needed"))
	_, err = f.docs.ApproveTransfer(ctx, tenant, tr.ID, actor, "")
	require.ErrorIs(t, err, documents.ErrInvalidTransition)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "10", "1", "10")
}

func TestCancelInTransitReturnsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "100", "10")
	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("30")})
	f.sendTransfer(t, tr.ID)

	require.NoError(t, f.docs.CancelTransfer(ctx, tenant, tr.ID, actor, "truck broke down"))
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "100", "10", "1000")
	require.True(t, f.store.Balance(keyOf(itemA, branchWH)).Quantity.IsZero())

	got, err := f.docs.Transfer(ctx, tenant, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusCancelled, got.Status)
	require.Equal(t, shared.ApprovalCancel, f.recorder.okays[len(f.recorder.okays)-1].Action)
}

func TestSendRejectsShortStock(t *testing.T) {
	f := newFixture(t)
	f.receive(t, mainWH, itemA, "3", "1")
	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("4")})
	_, err := f.docs.ApproveTransfer(context.Background(), tenant, tr.ID, actor, "")
	require.NoError(t, err)
	_, err = f.docs.SendTransfer(context.Background(), tenant, tr.ID, actor)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)

	got, err := f.docs.Transfer(context.Background(), tenant, tr.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusApproved, got.Status)
}
