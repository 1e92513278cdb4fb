package journals

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository exposes read-only posting queries outside a document transaction.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// Imbalance reports a stored posting whose sides differ.
type Imbalance struct {
	PostingID    int64
	CompanyID    int64
	DocumentType string
	DocumentID   int64
	Debit        decimal.Decimal
	Credit       decimal.Decimal
}

// ScanImbalanced lists postings whose debit and credit totals differ.
func (r *Repository) ScanImbalanced(ctx context.Context) ([]Imbalance, error) {
	rows, err := r.db.Query(ctx, `SELECT p.id, p.company_id, p.document_type, p.document_id, COALESCE(SUM(l.debit), 0), COALESCE(SUM(l.credit), 0)
FROM stock_postings p LEFT JOIN stock_posting_lines l ON l.posting_id = p.id
GROUP BY p.id
HAVING COALESCE(SUM(l.debit), 0) <> COALESCE(SUM(l.credit), 0)
ORDER BY p.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Imbalance
	for rows.Next() {
		var im Imbalance
		if err := rows.Scan(&im.PostingID, &im.CompanyID, &im.DocumentType, &im.DocumentID, &im.Debit, &im.Credit); err != nil {
			return nil, err
		}
		out = append(out, im)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) (Posting, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_postings (company_id, branch_id, period_id, date, document_type, document_id, document_number, source_id, memo, created_at)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, NOW()) RETURNING id, created_at`,
		p.CompanyID, p.BranchID, p.PeriodID, p.Date, p.DocumentType, p.DocumentID, p.DocumentNumber, p.SourceID, p.Memo).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return Posting{}, err
	}
	for i, l := range p.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_posting_lines (posting_id, line_no, account_id, debit, credit, description)
VALUES ($1, $2, $3, $4, $5, $6)`, p.ID, i+1, l.AccountID, l.Debit, l.Credit, l.Description); err != nil {
			return Posting{}, err
		}
	}
	return p, nil
}

func (r *txRepository) GetPostingByDocument(ctx context.Context, companyID int64, docType string, docID int64) (Posting, error) {
	var p Posting
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, COALESCE(branch_id, 0), period_id, date, document_type, document_id, document_number, source_id, memo, created_at
FROM stock_postings WHERE company_id=$1 AND document_type=$2 AND document_id=$3`, companyID, docType, docID).
		Scan(&p.ID, &p.CompanyID, &p.BranchID, &p.PeriodID, &p.Date, &p.DocumentType, &p.DocumentID, &p.DocumentNumber, &p.SourceID, &p.Memo, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Posting{}, ErrPostingNotFound
	}
	if err != nil {
		return Posting{}, err
	}
	rows, err := r.tx.Query(ctx, `SELECT account_id, debit, credit, description FROM stock_posting_lines WHERE posting_id=$1 ORDER BY line_no`, p.ID)
	if err != nil {
		return Posting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.AccountID, &l.Debit, &l.Credit, &l.Description); err != nil {
			return Posting{}, err
		}
		p.Lines = append(p.Lines, l)
	}
	return p, rows.Err()
}

func (r *txRepository) DeletePosting(ctx context.Context, id int64) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_posting_lines WHERE posting_id=$1`, id); err != nil {
		return err
	}
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_postings WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPostingNotFound
	}
	return nil
}
