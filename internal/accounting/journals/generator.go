package journals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/periods"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

const amountScale int32 = 2

// AccountResolver picks accounts for a movement.
type AccountResolver interface {
	Resolve(ctx context.Context, tenant shared.TenantContext, itemID int64, reason accounts.Reason) (accounts.Pair, error)
}

// PeriodFinder looks up the fiscal calendar.
type PeriodFinder interface {
	FindOpenPeriod(ctx context.Context, tenant shared.TenantContext, date time.Time) (periods.Period, error)
}

// TxRepository persists postings inside the document transaction.
type TxRepository interface {
	InsertPosting(ctx context.Context, p Posting) (Posting, error)
	GetPostingByDocument(ctx context.Context, companyID int64, docType string, docID int64) (Posting, error)
	DeletePosting(ctx context.Context, id int64) error
}

// Document identifies what a posting belongs to.
type Document struct {
	Type   string
	ID     int64
	Number string
	Date   time.Time
}

// Entry is the accounting value of one stock line. Inbound entries debit
// inventory; outbound entries credit it.
type Entry struct {
	ItemID      int64
	Reason      accounts.Reason
	Inbound     bool
	Amount      decimal.Decimal
	Description string
}

// Generator turns stock movements into balanced postings.
type Generator struct {
	resolver AccountResolver
	calendar PeriodFinder
	logger   *slog.Logger
}

// NewGenerator builds a Generator.
func NewGenerator(resolver AccountResolver, calendar PeriodFinder, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{resolver: resolver, calendar: calendar, logger: logger}
}

// Generate builds and stores the posting for doc. Missing account
// configuration or a missing open period yields a nil posting and a nil
// error: the stock side of the document still completes.
func (g *Generator) Generate(ctx context.Context, tx TxRepository, tenant shared.TenantContext, doc Document, entries []Entry) (*Posting, error) {
	logger := g.logger.With(slog.String("document", doc.Type), slog.Int64("document_id", doc.ID))
	period, err := g.calendar.FindOpenPeriod(ctx, tenant, doc.Date)
	if err != nil {
		if errors.Is(err, periods.ErrNoOpenPeriod) {
			logger.Warn("journal skipped: no open period", slog.Time("date", doc.Date))
			return nil, nil
		}
		return nil, err
	}
	lines, err := g.Lines(ctx, tenant, entries)
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotConfigured) {
			logger.Warn("journal skipped: account not configured", slog.Any("error", err))
			return nil, nil
		}
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	posting, err := g.Create(ctx, tx, tenant, period.ID, doc, lines)
	if err != nil {
		return nil, err
	}
	return &posting, nil
}

// Lines resolves accounts for entries and nets them per account, so a
// document produces one line per account regardless of how many stock lines
// it had.
func (g *Generator) Lines(ctx context.Context, tenant shared.TenantContext, entries []Entry) ([]Line, error) {
	net := map[int64]decimal.Decimal{}
	desc := map[int64]string{}
	var order []int64
	add := func(account int64, amount decimal.Decimal, description string) {
		if _, ok := net[account]; !ok {
			order = append(order, account)
			desc[account] = description
		}
		net[account] = net[account].Add(amount)
	}
	for _, e := range entries {
		amount := e.Amount.Abs().Round(amountScale)
		if amount.IsZero() {
			continue
		}
		pair, err := g.resolver.Resolve(ctx, tenant, e.ItemID, e.Reason)
		if err != nil {
			return nil, fmt.Errorf("item %d reason %s: %w", e.ItemID, e.Reason, err)
		}
		if e.Inbound {
			add(pair.Inventory, amount, e.Description)
			add(pair.Counter, amount.Neg(), string(e.Reason))
		} else {
			add(pair.Counter, amount, string(e.Reason))
			add(pair.Inventory, amount.Neg(), e.Description)
		}
	}
	lines := make([]Line, 0, len(order))
	for _, account := range order {
		amount := net[account]
		switch {
		case amount.IsPositive():
			lines = append(lines, Line{AccountID: account, Debit: amount, Credit: decimal.Zero, Description: desc[account]})
		case amount.IsNegative():
			lines = append(lines, Line{AccountID: account, Debit: decimal.Zero, Credit: amount.Neg(), Description: desc[account]})
		}
	}
	return lines, nil
}

// Create validates lines and persists them as the posting of doc. An
// unbalanced line set is rejected with ErrUnbalancedPosting and nothing is stored.
func (g *Generator) Create(ctx context.Context, tx TxRepository, tenant shared.TenantContext, periodID int64, doc Document, lines []Line) (Posting, error) {
	if err := Validate(lines); err != nil {
		return Posting{}, err
	}
	return tx.InsertPosting(ctx, Posting{
		CompanyID:      tenant.CompanyID,
		BranchID:       tenant.BranchID,
		PeriodID:       periodID,
		Date:           doc.Date,
		DocumentType:   doc.Type,
		DocumentID:     doc.ID,
		DocumentNumber: doc.Number,
		SourceID:       SourceID(doc.Type, doc.ID),
		Memo:           fmt.Sprintf("%s %s", doc.Type, doc.Number),
		Lines:          lines,
	})
}

// Remove deletes the posting of a document. It reports whether one existed.
func (g *Generator) Remove(ctx context.Context, tx TxRepository, tenant shared.TenantContext, docType string, docID int64) (bool, error) {
	p, err := tx.GetPostingByDocument(ctx, tenant.CompanyID, docType, docID)
	if errors.Is(err, ErrPostingNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.DeletePosting(ctx, p.ID); err != nil {
		return false, err
	}
	return true, nil
}
