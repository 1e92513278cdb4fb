package pricing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNoPrice indicates no price was recorded yet.
var ErrNoPrice = errors.New("pricing: no price recorded")

// Repository persists price history in Postgres.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Save appends entry to the history and moves the last price forward unless a
// later price is already stored.
func (r *Repository) Save(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()
	if _, err := tx.Exec(ctx, `INSERT INTO item_price_history (company_id, counterparty_id, item_id, variant_id, kind, unit_price, quantity, date, document_type, document_id)
VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.CompanyID, entry.CounterpartyID, entry.ItemID, entry.VariantID, string(entry.Kind), entry.UnitPrice, entry.Quantity, entry.Date, entry.DocumentType, entry.DocumentID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO item_last_prices (company_id, counterparty_id, item_id, variant_id, kind, unit_price, date)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (company_id, counterparty_id, item_id, variant_id, kind)
DO UPDATE SET unit_price = EXCLUDED.unit_price, date = EXCLUDED.date
WHERE item_last_prices.date <= EXCLUDED.date`,
		entry.CompanyID, entry.CounterpartyID, entry.ItemID, entry.VariantID, string(entry.Kind), entry.UnitPrice, entry.Date); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Last returns the most recent price for an item and counterparty.
func (r *Repository) Last(ctx context.Context, companyID, counterpartyID, itemID, variantID int64, kind Kind) (Entry, error) {
	e := Entry{CompanyID: companyID, CounterpartyID: counterpartyID, ItemID: itemID, VariantID: variantID, Kind: kind}
	err := r.pool.QueryRow(ctx, `SELECT unit_price, date FROM item_last_prices
WHERE company_id=$1 AND counterparty_id=$2 AND item_id=$3 AND variant_id=$4 AND kind=$5`,
		companyID, counterpartyID, itemID, variantID, string(kind)).Scan(&e.UnitPrice, &e.Date)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNoPrice
	}
	return e, err
}
