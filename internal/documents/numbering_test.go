package documents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/numbering"
)

type inTxKey struct{}

var errDrawInTx = errors.New("number drawn inside a document transaction")

// txGuard refuses number draws made from inside an open document transaction.
type txGuard struct {
	documents.Store
}

func (g txGuard) WithTx(ctx context.Context, fn func(context.Context, documents.Tx) error) error {
	return g.Store.WithTx(ctx, func(ctx context.Context, tx documents.Tx) error {
		return fn(context.WithValue(ctx, inTxKey{}, true), tx)
	})
}

func (g txGuard) NextNumber(ctx context.Context, companyID int64, series numbering.Series, year int) (string, error) {
	if ctx.Value(inTxKey{}) != nil {
		return "", errDrawInTx
	}
	return g.Store.NextNumber(ctx, companyID, series, year)
}

func guarded(o *options) {
	o.wrap = func(s documents.Store) documents.Store { return txGuard{Store: s} }
}

func TestNumbersAreDrawnOutsideThePostingTransaction(t *testing.T) {
	f := newFixture(t, guarded)
	ctx := context.Background()

	rec := f.receive(t, mainWH, itemA, "10", "1")
	require.Equal(t, "RCV/2026/000001", rec.Number)

	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("2")})
	res, err := f.docs.PostIssue(ctx, tenant, is.ID, actor)
	require.NoError(t, err)
	require.Equal(t, "ISS/2026/000001", res.Number)

	tr := f.transfer(t, documents.TransferLine{ItemID: itemA, Quantity: dec("3")})
	f.sendTransfer(t, tr.ID)
	got, err := f.docs.Transfer(ctx, tenant, tr.ID)
	require.NoError(t, err)
	require.Equal(t, "TRF/2026/000001", got.Number)
}

func TestConcurrentPostsInDifferentWarehousesBothCommit(t *testing.T) {
	f := newFixture(t, guarded)
	ctx := context.Background()
	refs := []documents.Ref{
		{Type: documents.TypeReceipt, ID: f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemA, Quantity: dec("4"), UnitCost: dec("2")}).ID},
		{Type: documents.TypeReceipt, ID: f.receipt(t, branchWH, documents.ReceiptLine{ItemID: itemA, Quantity: dec("6"), UnitCost: dec("3")}).ID},
	}

	numbers := make([]string, len(refs))
	var g errgroup.Group
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			res, err := f.port.PostDocument(ctx, tenant, ref, actor)
			numbers[i] = res.Number
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.NotEqual(t, numbers[0], numbers[1])
	require.ElementsMatch(t, []string{"RCV/2026/000001", "RCV/2026/000002"}, numbers)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "4", "2", "8")
	requireBalance(t, f.store.Balance(keyOf(itemA, branchWH)), "6", "3", "18")
}

func TestFailedPostLeavesAGap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "1", "1")

	short := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("5")})
	_, err := f.docs.PostIssue(ctx, tenant, short.ID, actor)
	require.Error(t, err)

	ok := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("1")})
	res, err := f.docs.PostIssue(ctx, tenant, ok.ID, actor)
	require.NoError(t, err)
	require.Equal(t, "ISS/2026/000002", res.Number)
}
