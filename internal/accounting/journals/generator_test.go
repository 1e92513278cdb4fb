package journals

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

type stubResolver map[accounts.Reason]accounts.Pair

func (s stubResolver) Resolve(_ context.Context, _ shared.TenantContext, _ int64, reason accounts.Reason) (accounts.Pair, error) {
	p, ok := s[reason]
	if !ok {
		return accounts.Pair{}, accounts.ErrAccountNotConfigured
	}
	return p, nil
}

type stubCalendar struct{ open bool }

func (s stubCalendar) FindOpenPeriod(context.Context, shared.TenantContext, time.Time) (periods.Period, error) {
	if !s.open {
		return periods.Period{}, periods.ErrNoOpenPeriod
	}
	return periods.Period{ID: 9, Status: periods.PeriodStatusOpen}, nil
}

type memTx struct {
	postings map[int64]Posting
	next     int64
}

func (m *memTx) InsertPosting(_ context.Context, p Posting) (Posting, error) {
	m.next++
	p.ID = m.next
	m.postings[p.ID] = p
	return p, nil
}

func (m *memTx) GetPostingByDocument(_ context.Context, companyID int64, docType string, docID int64) (Posting, error) {
	for _, p := range m.postings {
		if p.CompanyID == companyID && p.DocumentType == docType && p.DocumentID == docID {
			return p, nil
		}
	}
	return Posting{}, ErrPostingNotFound
}

func (m *memTx) DeletePosting(_ context.Context, id int64) error {
	delete(m.postings, id)
	return nil
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var tenant = shared.TenantContext{CompanyID: 1, BranchID: 2}

func resolver() stubResolver {
	return stubResolver{
		accounts.ReasonPurchase:      {Inventory: 1400, Counter: 2100},
		accounts.ReasonSales:         {Inventory: 1400, Counter: 5100},
		accounts.ReasonCountSurplus:  {Inventory: 1400, Counter: 5900},
		accounts.ReasonCountShortage: {Inventory: 1400, Counter: 5900},
	}
}

func requireBalanced(t *testing.T, p Posting) {
	t.Helper()
	debit, credit := p.Totals()
	require.True(t, debit.Equal(credit), "debit %s credit %s", debit, credit)
}

func TestGenerateReceiptPosting(t *testing.T) {
	tx := &memTx{postings: map[int64]Posting{}}
	g := NewGenerator(resolver(), stubCalendar{open: true}, nil)
	doc := Document{Type: "receipt", ID: 5, Number: "RCV/2026/000001", Date: time.Now()}

	p, err := g.Generate(context.Background(), tx, tenant, doc, []Entry{
		{ItemID: 1, Reason: accounts.ReasonPurchase, Inbound: true, Amount: dec("1000.004")},
		{ItemID: 2, Reason: accounts.ReasonPurchase, Inbound: true, Amount: dec("250.5")},
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	require.Len(t, p.Lines, 2)
	require.Equal(t, int64(1400), p.Lines[0].AccountID)
	require.True(t, p.Lines[0].Debit.Equal(dec("1250.50")))
	require.True(t, p.Lines[1].Credit.Equal(dec("1250.50")))
	require.Equal(t, SourceID("receipt", 5), p.SourceID)
	requireBalanced(t, *p)

	removed, err := g.Remove(context.Background(), tx, tenant, "receipt", 5)
	require.NoError(t, err)
	require.True(t, removed)
	require.Empty(t, tx.postings)
}

func TestGenerateNetsCountDifferences(t *testing.T) {
	tx := &memTx{postings: map[int64]Posting{}}
	g := NewGenerator(resolver(), stubCalendar{open: true}, nil)
	p, err := g.Generate(context.Background(), tx, tenant, Document{Type: "count", ID: 1}, []Entry{
		{ItemID: 1, Reason: accounts.ReasonCountSurplus, Inbound: true, Amount: dec("30")},
		{ItemID: 2, Reason: accounts.ReasonCountShortage, Inbound: false, Amount: dec("50")},
	})
	require.NoError(t, err)
	require.Len(t, p.Lines, 2)
	require.Equal(t, int64(1400), p.Lines[0].AccountID)
	require.True(t, p.Lines[0].Credit.Equal(dec("20")))
	require.Equal(t, int64(5900), p.Lines[1].AccountID)
	require.True(t, p.Lines[1].Debit.Equal(dec("20")))
	requireBalanced(t, *p)
}

func TestGenerateSkipsWithoutConfiguration(t *testing.T) {
	tx := &memTx{postings: map[int64]Posting{}}
	entries := []Entry{{ItemID: 1, Reason: accounts.ReasonScrap, Amount: dec("10")}}

	p, err := NewGenerator(resolver(), stubCalendar{open: true}, nil).Generate(context.Background(), tx, tenant, Document{Type: "issue", ID: 1}, entries)
	require.NoError(t, err)
	require.Nil(t, p)

	entries[0].Reason = accounts.ReasonSales
	p, err = NewGenerator(resolver(), stubCalendar{open: false}, nil).Generate(context.Background(), tx, tenant, Document{Type: "issue", ID: 1}, entries)
	require.NoError(t, err)
	require.Nil(t, p)
	require.Empty(t, tx.postings)
}

func TestCreateRejectsUnbalanced(t *testing.T) {
	tx := &memTx{postings: map[int64]Posting{}}
	g := NewGenerator(resolver(), stubCalendar{open: true}, nil)
	_, err := g.Create(context.Background(), tx, tenant, 1, Document{Type: "receipt", ID: 1}, []Line{
		{AccountID: 1, Debit: dec("10")},
		{AccountID: 2, Credit: dec("9.99")},
	})
	require.ErrorIs(t, err, ErrUnbalancedPosting)
	require.Empty(t, tx.postings)

	_, err = g.Create(context.Background(), tx, tenant, 1, Document{Type: "receipt", ID: 1}, []Line{{AccountID: 1, Debit: dec("10")}})
	require.ErrorIs(t, err, ErrTooFewLines)
}

func TestGenerateEveryReasonBalances(t *testing.T) {
	full := stubResolver{}
	for i, r := range accounts.Reasons() {
		full[r] = accounts.Pair{Inventory: 1400, Counter: int64(2000 + i)}
	}
	g := NewGenerator(full, stubCalendar{open: true}, nil)
	for i, r := range accounts.Reasons() {
		tx := &memTx{postings: map[int64]Posting{}}
		p, err := g.Generate(context.Background(), tx, tenant, Document{Type: "any", ID: int64(i + 1)}, []Entry{
			{ItemID: 1, Reason: r, Inbound: i%2 == 0, Amount: dec("33.333")},
			{ItemID: 2, Reason: r, Inbound: i%2 == 0, Amount: dec("0.337")},
		})
		require.NoError(t, err)
		require.NotNil(t, p)
		requireBalanced(t, *p)
	}
}
