package accounts

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL account configuration reader.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// ItemAccounts reads the accounts configured on an item.
func (r *repository) ItemAccounts(ctx context.Context, companyID, itemID int64) (ItemAccounts, error) {
	var a ItemAccounts
	err := r.db.QueryRow(ctx, `SELECT COALESCE(inventory_account_id, 0), COALESCE(cogs_account_id, 0), COALESCE(sales_account_id, 0), COALESCE(purchase_account_id, 0)
FROM items WHERE company_id=$1 AND id=$2`, companyID, itemID).Scan(&a.Inventory, &a.COGS, &a.Sales, &a.Purchase)
	if errors.Is(err, pgx.ErrNoRows) {
		return ItemAccounts{}, ErrAccountNotConfigured
	}
	return a, err
}

// AccountIDByCode resolves a company account by its code.
func (r *repository) AccountIDByCode(ctx context.Context, companyID int64, code string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM accounts WHERE company_id=$1 AND code=$2 AND is_active`, companyID, code).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrAccountNotConfigured
	}
	return id, err
}
