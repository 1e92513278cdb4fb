package journals

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Posting is the double-entry record tied 1:1 to a posted stock document.
type Posting struct {
	ID             int64
	CompanyID      int64
	BranchID       int64
	PeriodID       int64
	Date           time.Time
	DocumentType   string
	DocumentID     int64
	DocumentNumber string
	SourceID       uuid.UUID
	Memo           string
	Lines          []Line
	CreatedAt      time.Time
}

// Line stores a debit or credit amount for an account.
type Line struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Totals sums both sides of the posting.
func (p Posting) Totals() (debit, credit decimal.Decimal) {
	return totals(p.Lines)
}

func totals(lines []Line) (debit, credit decimal.Decimal) {
	for _, l := range lines {
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	return debit, credit
}

// Validate checks a line set before it may be persisted.
func Validate(lines []Line) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	for i, l := range lines {
		if l.AccountID == 0 {
			return fmt.Errorf("%w: line %d has no account", ErrInvalidLine, i+1)
		}
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return fmt.Errorf("%w: line %d is negative", ErrInvalidLine, i+1)
		}
		if l.Debit.IsPositive() == l.Credit.IsPositive() {
			return fmt.Errorf("%w: line %d must carry exactly one side", ErrInvalidLine, i+1)
		}
	}
	debit, credit := totals(lines)
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalancedPosting, debit, credit)
	}
	return nil
}

// SourceID derives a stable identifier for a document's posting.
func SourceID(docType string, docID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("STOCK:%s:%d", docType, docID)))
}

var (
	// ErrUnbalancedPosting indicates debit != credit. It signals a logic or
	// configuration bug and is never persisted.
	ErrUnbalancedPosting = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrInvalidLine indicates a malformed journal line.
	ErrInvalidLine = errors.New("accounting: invalid journal line")
	// ErrPostingNotFound indicates the document has no posting.
	ErrPostingNotFound = errors.New("accounting: posting not found")
)
