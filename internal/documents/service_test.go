package documents_test

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/documents"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/pricing"
	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/testing/memstore"
)

const (
	company  = int64(1)
	itemA    = int64(10)
	itemB    = int64(11)
	mainWH   = int64(100)
	branchWH = int64(200)
	actor    = int64(7)

	accInventory = int64(14)
	accPayable   = int64(21)
	accCOGS      = int64(51)
	accAdjust    = int64(59)
)

var (
	dec    = memstore.Dec
	epoch  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	tenant = shared.TenantContext{CompanyID: company, BranchID: 1}
)

// codeAccounts resolves every fallback code to its leading two digits.
type codeAccounts struct{}

func (codeAccounts) ItemAccounts(context.Context, int64, int64) (accounts.ItemAccounts, error) {
	return accounts.ItemAccounts{}, nil
}

func (codeAccounts) AccountIDByCode(_ context.Context, _ int64, code string) (int64, error) {
	n, err := strconv.ParseInt(code, 10, 64)
	return n / 100, err
}

type calendar struct{ closed bool }

func (c calendar) FindOpenPeriod(context.Context, shared.TenantContext, time.Time) (periods.Period, error) {
	if c.closed {
		return periods.Period{}, periods.ErrNoOpenPeriod
	}
	return periods.Period{ID: 3, CompanyID: company, Status: periods.PeriodStatusOpen}, nil
}

type recorder struct {
	mu     sync.Mutex
	audits []shared.AuditLog
	prices []pricing.Entry
	okays  []shared.ApprovalLog
}

func (r *recorder) Record(_ context.Context, log shared.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits = append(r.audits, log)
	return nil
}

func (r *recorder) RecordPrice(_ context.Context, e pricing.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices = append(r.prices, e)
}

type approvals struct{ r *recorder }

func (a approvals) Record(_ context.Context, log shared.ApprovalLog) error {
	a.r.mu.Lock()
	defer a.r.mu.Unlock()
	a.r.okays = append(a.r.okays, log)
	return nil
}

type fixture struct {
	store    *memstore.Store
	docs     *documents.Service
	stock    *inventory.Service
	port     documents.LedgerPort
	recorder *recorder
}

type option func(*options)

type options struct {
	mode   inventory.UnpostMode
	closed bool
	wrap   func(documents.Store) documents.Store
}

func deleteMode(o *options)   { o.mode = inventory.UnpostDelete }
func closedPeriod(o *options) { o.closed = true }

func newFixture(t *testing.T, opts ...option) *fixture {
	t.Helper()
	o := options{mode: inventory.UnpostCompensate}
	for _, fn := range opts {
		fn(&o)
	}
	clock := func() time.Time { return epoch }
	store := memstore.New()
	store.Seed(func(tx *memstore.Tx) {
		tx.AddItem(inventory.Item{ID: itemA, CompanyID: company, Code: "A"})
		tx.AddItem(inventory.Item{ID: itemB, CompanyID: company, Code: "B", TracksBatches: true})
		tx.AddWarehouse(inventory.Warehouse{ID: mainWH, CompanyID: company, Code: "MAIN"})
		tx.AddWarehouse(inventory.Warehouse{ID: branchWH, CompanyID: company, Code: "BRANCH"})
	})
	ledger := inventory.NewLedger(inventory.LedgerConfig{Recorder: inventory.NewRecorder(o.mode, clock), Clock: clock})
	batches := inventory.NewBatches(inventory.BatchFIFO, clock)
	reservations := inventory.NewReservations(ledger, batches, time.Hour, nil, clock)
	rec := &recorder{}
	unit := store.Documents()
	if o.wrap != nil {
		unit = o.wrap(unit)
	}
	docs := documents.NewService(documents.Config{
		Store:        unit,
		Ledger:       ledger,
		Batches:      batches,
		Reservations: reservations,
		Accounting:   journals.NewGenerator(accounts.NewResolver(codeAccounts{}, nil), calendar{closed: o.closed}, nil),
		Pricing:      rec,
		Audit:        rec,
		Approvals:    approvals{r: rec},
		Clock:        clock,
	})
	stock := inventory.NewService(store.Inventory(), ledger, reservations, nil)
	return &fixture{store: store, docs: docs, stock: stock, port: documents.NewLedgerPort(docs, stock), recorder: rec}
}

func keyOf(item, wh int64) inventory.BalanceKey {
	return inventory.BalanceKey{CompanyID: company, ItemID: item, WarehouseID: wh}
}

func requireBalance(t *testing.T, bal inventory.Balance, qty, avg, value string) {
	t.Helper()
	require.True(t, bal.Quantity.Equal(dec(qty)), "quantity %s want %s", bal.Quantity, qty)
	require.True(t, bal.AvgCost.Equal(dec(avg)), "avg cost %s want %s", bal.AvgCost, avg)
	require.True(t, bal.Value.Equal(dec(value)), "value %s want %s", bal.Value, value)
}

func (f *fixture) receipt(t *testing.T, wh int64, lines ...documents.ReceiptLine) documents.Receipt {
	t.Helper()
	r, err := f.docs.CreateReceipt(context.Background(), tenant, documents.Receipt{
		WarehouseID:    wh,
		Source:         accounts.ReasonPurchase,
		CounterpartyID: 500,
		Date:           epoch,
		Lines:          lines,
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) receive(t *testing.T, wh, item int64, qty, cost string) documents.Result {
	t.Helper()
	r := f.receipt(t, wh, documents.ReceiptLine{ItemID: item, Quantity: dec(qty), UnitCost: dec(cost)})
	res, err := f.port.PostDocument(context.Background(), tenant, documents.Ref{Type: documents.TypeReceipt, ID: r.ID}, actor)
	require.NoError(t, err)
	return res
}

func (f *fixture) issue(t *testing.T, lines ...documents.IssueLine) documents.Issue {
	t.Helper()
	is, err := f.docs.CreateIssue(context.Background(), tenant, documents.Issue{
		WarehouseID: mainWH,
		Destination: accounts.ReasonSales,
		Date:        epoch,
		Lines:       lines,
	})
	require.NoError(t, err)
	return is
}

func requirePosting(t *testing.T, p journals.Posting, debit, credit int64, amount string) {
	t.Helper()
	require.NoError(t, journals.Validate(p.Lines))
	require.Len(t, p.Lines, 2)
	for _, l := range p.Lines {
		switch l.AccountID {
		case debit:
			require.True(t, l.Debit.Equal(dec(amount)), "debit %s want %s", l.Debit, amount)
		case credit:
			require.True(t, l.Credit.Equal(dec(amount)), "credit %s want %s", l.Credit, amount)
		default:
			t.Fatalf("unexpected account %d", l.AccountID)
		}
	}
}

func TestReceiptIssueUnpostRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := keyOf(itemA, mainWH)

	rec := f.receive(t, mainWH, itemA, "100", "10.000")
	require.Equal(t, "RCV/2026/000001", rec.Number)
	require.NotNil(t, rec.JournalID)
	requireBalance(t, f.store.Balance(key), "100", "10", "1000")

	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("40"), UnitPrice: dec("15")})
	res, err := f.port.PostDocument(ctx, tenant, documents.Ref{Type: documents.TypeIssue, ID: is.ID}, actor)
	require.NoError(t, err)
	require.Len(t, res.Movements, 1)
	require.True(t, res.Movements[0].UnitCost.Equal(dec("10")))
	requireBalance(t, f.store.Balance(key), "60", "10", "600")

	postings := f.store.Postings()
	require.Len(t, postings, 2)
	requirePosting(t, postings[0], accInventory, accPayable, "1000")
	requirePosting(t, postings[1], accCOGS, accInventory, "400")

	require.NoError(t, f.port.UnpostDocument(ctx, tenant, documents.Ref{Type: documents.TypeIssue, ID: is.ID}, actor))
	requireBalance(t, f.store.Balance(key), "100", "10", "1000")
	require.Len(t, f.store.Postings(), 1)

	got, err := f.docs.Issue(ctx, tenant, is.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, got.Status)
	require.Nil(t, got.PostedAt)

	movements := f.store.Movements()
	require.Len(t, movements, 3)
	require.Equal(t, movements[1].ID, movements[2].ReversalOfID)

	require.Len(t, f.recorder.prices, 2)
	require.Equal(t, pricing.KindPurchase, f.recorder.prices[0].Kind)
	require.Equal(t, pricing.KindSale, f.recorder.prices[1].Kind)
	require.Equal(t, "receipt.post", f.recorder.audits[0].Action)
}

func TestRepostAfterUnpostKeepsNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "10", "1")
	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("4")})
	ref := documents.Ref{Type: documents.TypeIssue, ID: is.ID}

	first, err := f.docs.PostDocument(ctx, tenant, ref, actor)
	require.NoError(t, err)
	require.NoError(t, f.docs.UnpostDocument(ctx, tenant, ref, actor))
	second, err := f.docs.PostDocument(ctx, tenant, ref, actor)
	require.NoError(t, err)
	require.Equal(t, first.Number, second.Number)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "6", "1", "6")
}

func TestDoublePostIsRejected(t *testing.T) {
	f := newFixture(t)
	r := f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemA, Quantity: dec("5"), UnitCost: dec("2")})
	ref := documents.Ref{Type: documents.TypeReceipt, ID: r.ID}

	_, err := f.docs.PostDocument(context.Background(), tenant, ref, actor)
	require.NoError(t, err)
	_, err = f.docs.PostDocument(context.Background(), tenant, ref, actor)
	require.ErrorIs(t, err, documents.ErrAlreadyPosted)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "5", "2", "10")
	require.Len(t, f.store.Movements(), 1)
}

func TestPostFailureRollsBackEveryLine(t *testing.T) {
	f := newFixture(t)
	f.receive(t, mainWH, itemA, "5", "2")
	is := f.issue(t,
		documents.IssueLine{ItemID: itemA, Quantity: dec("3")},
		documents.IssueLine{ItemID: itemA, Quantity: dec("3")},
	)
	_, err := f.docs.PostIssue(context.Background(), tenant, is.ID, actor)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)
	require.ErrorContains(t, err, "line 2")
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "5", "2", "10")
	require.Len(t, f.store.Postings(), 1)

	got, err := f.docs.Issue(context.Background(), tenant, is.ID)
	require.NoError(t, err)
	require.Equal(t, documents.StatusDraft, got.Status)
	require.Empty(t, got.Number)
}

func TestUnpostReceiptAfterIssueFails(t *testing.T) {
	f := newFixture(t)
	rec := f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemA, Quantity: dec("100"), UnitCost: dec("10")})
	ref := documents.Ref{Type: documents.TypeReceipt, ID: rec.ID}
	_, err := f.docs.PostDocument(context.Background(), tenant, ref, actor)
	require.NoError(t, err)

	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("40")})
	_, err = f.docs.PostIssue(context.Background(), tenant, is.ID, actor)
	require.NoError(t, err)

	err = f.docs.UnpostDocument(context.Background(), tenant, ref, actor)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "60", "10", "600")
}

func TestUnpostBlockedByDependents(t *testing.T) {
	f := newFixture(t)
	r := f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemA, Quantity: dec("10"), UnitCost: dec("1")})
	ref := documents.Ref{Type: documents.TypeReceipt, ID: r.ID}
	_, err := f.docs.PostDocument(context.Background(), tenant, ref, actor)
	require.NoError(t, err)
	f.store.Seed(func(tx *memstore.Tx) { tx.SetDependents(ref, 1) })

	err = f.docs.UnpostDocument(context.Background(), tenant, ref, actor)
	require.ErrorIs(t, err, documents.ErrHasDependents)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "10", "1", "10")
}

func TestUnpostInDeleteMode(t *testing.T) {
	f := newFixture(t, deleteMode)
	f.receive(t, mainWH, itemA, "100", "10")
	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("40")})
	_, err := f.docs.PostIssue(context.Background(), tenant, is.ID, actor)
	require.NoError(t, err)

	require.NoError(t, f.docs.UnpostIssue(context.Background(), tenant, is.ID, actor))
	require.Len(t, f.store.Movements(), 1)
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "100", "10", "1000")
}

func TestJournalSkippedWithoutOpenPeriod(t *testing.T) {
	f := newFixture(t, closedPeriod)
	res := f.receive(t, mainWH, itemA, "10", "1")
	require.Nil(t, res.JournalID)
	require.Empty(t, f.store.Postings())
	requireBalance(t, f.store.Balance(keyOf(itemA, mainWH)), "10", "1", "10")
}

func TestIssueFulfilsReservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.receive(t, mainWH, itemA, "50", "2")
	key := keyOf(itemA, mainWH)

	r, err := f.port.Reserve(ctx, tenant, inventory.ReserveRequest{Key: key, Quantity: dec("30"), RefType: "sales_order", RefID: "SO-9"})
	require.NoError(t, err)
	avail, err := f.port.GetAvailableQuantity(ctx, tenant, key)
	require.NoError(t, err)
	require.True(t, avail.Equal(dec("20")))

	plain := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("25")})
	_, err = f.docs.PostIssue(ctx, tenant, plain.ID, actor)
	require.ErrorIs(t, err, inventory.ErrInsufficientQuantity)

	is := f.issue(t, documents.IssueLine{ItemID: itemA, Quantity: dec("30"), ReservationID: r.ID})
	_, err = f.docs.PostIssue(ctx, tenant, is.ID, actor)
	require.NoError(t, err)

	bal := f.store.Balance(key)
	require.True(t, bal.Quantity.Equal(dec("20")))
	require.True(t, bal.Reserved.IsZero())
	got, _ := f.store.Reservation(r.ID)
	require.Equal(t, inventory.ReservationReleased, got.Status)
}

func TestBatchTrackedIssueAndUnpost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := keyOf(itemB, mainWH)
	rec := f.receipt(t, mainWH,
		documents.ReceiptLine{ItemID: itemB, Quantity: dec("5"), UnitCost: dec("4"), BatchNumber: "LOT-1"},
		documents.ReceiptLine{ItemID: itemB, Quantity: dec("5"), UnitCost: dec("6"), BatchNumber: "LOT-2"},
	)
	_, err := f.docs.PostReceipt(ctx, tenant, rec.ID, actor)
	require.NoError(t, err)
	requireBalance(t, f.store.Balance(key), "10", "5", "50")

	is := f.issue(t, documents.IssueLine{ItemID: itemB, Quantity: dec("7")})
	res, err := f.docs.PostIssue(ctx, tenant, is.ID, actor)
	require.NoError(t, err)
	require.Len(t, res.Movements[0].Batches, 2)

	lot1, _ := f.store.Batch(key, "LOT-1")
	lot2, _ := f.store.Batch(key, "LOT-2")
	require.True(t, lot1.Quantity.IsZero())
	require.True(t, lot2.Quantity.Equal(dec("3")))

	require.NoError(t, f.docs.UnpostIssue(ctx, tenant, is.ID, actor))
	lot1, _ = f.store.Batch(key, "LOT-1")
	lot2, _ = f.store.Batch(key, "LOT-2")
	require.True(t, lot1.Quantity.Equal(dec("5")))
	require.True(t, lot2.Quantity.Equal(dec("5")))
}

func TestTenantIsRequired(t *testing.T) {
	f := newFixture(t)
	_, err := f.port.PostDocument(context.Background(), shared.TenantContext{}, documents.Ref{Type: documents.TypeReceipt, ID: 1}, actor)
	require.ErrorIs(t, err, shared.ErrTenantRequired)
	_, err = f.port.PostDocument(context.Background(), tenant, documents.Ref{Type: documents.TypeTransfer, ID: 1}, actor)
	require.ErrorIs(t, err, documents.ErrUnsupportedDocument)
}

func TestCreateRejectsBadLines(t *testing.T) {
	f := newFixture(t)
	_, err := f.docs.CreateReceipt(context.Background(), tenant, documents.Receipt{
		WarehouseID: mainWH,
		Source:      accounts.ReasonPurchase,
		Lines:       []documents.ReceiptLine{{ItemID: itemA, Quantity: decimal.Zero, UnitCost: dec("1")}},
	})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = f.docs.CreateIssue(context.Background(), tenant, documents.Issue{
		WarehouseID: mainWH,
		Destination: accounts.ReasonSales,
		Lines:       []documents.IssueLine{{ItemID: itemA, Quantity: dec("1"), UnitPrice: dec("-1")}},
	})
	require.ErrorIs(t, err, inventory.ErrInvalidUnitCost)
}

const (
	itemSized = int64(12)
	sizeS     = int64(31)
	sizeM     = int64(32)
	foreignSz = int64(99)
)

func withSizedItem(f *fixture) {
	f.store.Seed(func(tx *memstore.Tx) {
		tx.AddItem(inventory.Item{ID: itemSized, CompanyID: company, Code: "SIZED", TracksVariants: true, VariantIDs: []int64{sizeS, sizeM}})
	})
}

func variantKey(variant int64) inventory.BalanceKey {
	return inventory.BalanceKey{CompanyID: company, ItemID: itemSized, VariantID: variant, WarehouseID: mainWH}
}

func TestReceiptWithoutVariantIsRejected(t *testing.T) {
	f := newFixture(t)
	withSizedItem(f)
	r := f.receipt(t, mainWH,
		documents.ReceiptLine{ItemID: itemSized, VariantID: sizeS, Quantity: dec("4"), UnitCost: dec("5")},
		documents.ReceiptLine{ItemID: itemSized, Quantity: dec("2"), UnitCost: dec("5")},
	)

	_, err := f.docs.PostReceipt(context.Background(), tenant, r.ID, actor)
	require.ErrorIs(t, err, inventory.ErrVariantRequired)
	require.ErrorContains(t, err, "line 2")
	requireBalance(t, f.store.Balance(variantKey(sizeS)), "0", "0", "0")
	requireBalance(t, f.store.Balance(variantKey(0)), "0", "0", "0")
	require.Empty(t, f.store.Movements())
	require.Empty(t, f.store.Postings())
}

func TestIssueWithForeignVariantIsRejected(t *testing.T) {
	f := newFixture(t)
	withSizedItem(f)
	rec := f.receipt(t, mainWH, documents.ReceiptLine{ItemID: itemSized, VariantID: sizeM, Quantity: dec("10"), UnitCost: dec("3")})
	_, err := f.docs.PostReceipt(context.Background(), tenant, rec.ID, actor)
	require.NoError(t, err)

	is := f.issue(t,
		documents.IssueLine{ItemID: itemSized, VariantID: sizeM, Quantity: dec("1")},
		documents.IssueLine{ItemID: itemSized, VariantID: foreignSz, Quantity: dec("1")},
	)
	_, err = f.docs.PostIssue(context.Background(), tenant, is.ID, actor)
	require.ErrorIs(t, err, inventory.ErrVariantMismatch)
	requireBalance(t, f.store.Balance(variantKey(sizeM)), "10", "3", "30")
	requireBalance(t, f.store.Balance(variantKey(foreignSz)), "0", "0", "0")
	require.Len(t, f.store.Movements(), 1)

	plain := f.issue(t, documents.IssueLine{ItemID: itemA, VariantID: sizeM, Quantity: dec("1")})
	_, err = f.docs.PostIssue(context.Background(), tenant, plain.ID, actor)
	require.ErrorIs(t, err, inventory.ErrVariantMismatch)
}
