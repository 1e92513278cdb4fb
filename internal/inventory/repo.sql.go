package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/inventory/costing"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// Repository persists ledger state in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can share it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", ErrConcurrentModification, err)
	}
	return err
}

// ValuationDrift reports a balance whose value strayed from quantity x average cost.
type ValuationDrift struct {
	Key      BalanceKey
	Quantity decimal.Decimal
	Value    decimal.Decimal
	AvgCost  decimal.Decimal
	Drift    decimal.Decimal
}

// ScanValuationDrift lists balances that fail costing.Snapshot.Consistent:
// |value - quantity*avg_cost| above tolerance plus |quantity| times the
// rounding step of the average.
func (r *Repository) ScanValuationDrift(ctx context.Context, tolerance decimal.Decimal) ([]ValuationDrift, error) {
	rows, err := r.pool.Query(ctx, `SELECT company_id, item_id, variant_id, warehouse_id, quantity, value, avg_cost, value - quantity*avg_cost AS drift
FROM stock_balances
WHERE ABS(value - quantity*avg_cost) > $1 + ABS(quantity)*$2
ORDER BY company_id, warehouse_id, item_id`, tolerance, costing.AverageRoundingStep)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ValuationDrift
	for rows.Next() {
		var d ValuationDrift
		if err := rows.Scan(&d.Key.CompanyID, &d.Key.ItemID, &d.Key.VariantID, &d.Key.WarehouseID, &d.Quantity, &d.Value, &d.AvgCost, &d.Drift); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *txRepository) GetItem(ctx context.Context, companyID, itemID int64) (Item, error) {
	var item Item
	err := r.tx.QueryRow(ctx, `SELECT i.id, i.company_id, i.code, i.tracks_variants, i.tracks_batches,
	COALESCE((SELECT array_agg(v.id ORDER BY v.id) FROM item_variants v WHERE v.item_id = i.id), '{}')
FROM items i WHERE i.company_id=$1 AND i.id=$2`, companyID, itemID).
		Scan(&item.ID, &item.CompanyID, &item.Code, &item.TracksVariants, &item.TracksBatches, &item.VariantIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrItemNotFound
	}
	return item, err
}

func (r *txRepository) GetWarehouse(ctx context.Context, companyID, warehouseID int64) (Warehouse, error) {
	var wh Warehouse
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, code, allow_negative_stock FROM warehouses WHERE company_id=$1 AND id=$2`, companyID, warehouseID).
		Scan(&wh.ID, &wh.CompanyID, &wh.Code, &wh.AllowNegativeStock)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return wh, err
}

const balanceColumns = `id, company_id, item_id, variant_id, warehouse_id, quantity, reserved, avg_cost, value,
	opening_quantity, opening_value, reorder_level, reorder_quantity, COALESCE(last_movement_at, 'epoch'), version`

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	err := row.Scan(&b.ID, &b.Key.CompanyID, &b.Key.ItemID, &b.Key.VariantID, &b.Key.WarehouseID,
		&b.Quantity, &b.Reserved, &b.AvgCost, &b.Value,
		&b.OpeningQuantity, &b.OpeningValue, &b.ReorderLevel, &b.ReorderQuantity, &b.LastMovementAt, &b.Version)
	return b, err
}

func (r *txRepository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	bal, err := scanBalance(r.tx.QueryRow(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE company_id=$1 AND item_id=$2 AND variant_id=$3 AND warehouse_id=$4`, key.CompanyID, key.ItemID, key.VariantID, key.WarehouseID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrBalanceNotFound
	}
	return bal, err
}

func (r *txRepository) ListBalances(ctx context.Context, companyID, warehouseID int64) ([]Balance, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+balanceColumns+` FROM stock_balances
WHERE company_id=$1 AND warehouse_id=$2 ORDER BY item_id, variant_id`, companyID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *txRepository) InsertBalance(ctx context.Context, b Balance) (Balance, error) {
	if b.Version == 0 {
		b.Version = 1
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_balances (company_id, item_id, variant_id, warehouse_id, quantity, reserved, avg_cost, value,
	opening_quantity, opening_value, reorder_level, reorder_quantity, version)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
ON CONFLICT (company_id, item_id, variant_id, warehouse_id) DO NOTHING
RETURNING id`,
		b.Key.CompanyID, b.Key.ItemID, b.Key.VariantID, b.Key.WarehouseID, b.Quantity, b.Reserved, b.AvgCost, b.Value,
		b.OpeningQuantity, b.OpeningValue, b.ReorderLevel, b.ReorderQuantity, b.Version).Scan(&b.ID)
	// Nothing returned: the row already exists outside our snapshot. Under
	// repeatable read PostgreSQL usually aborts with 40001 before we get here.
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, fmt.Errorf("%w: balance %s created concurrently", ErrConcurrentModification, b.Key)
	}
	return b, err
}

func (r *txRepository) CompareAndSwapBalance(ctx context.Context, b Balance, expectedVersion int64) (Balance, error) {
	var version int64
	err := r.tx.QueryRow(ctx, `UPDATE stock_balances
SET quantity=$3, reserved=$4, avg_cost=$5, value=$6, last_movement_at=$7, version=version+1
WHERE id=$1 AND version=$2
RETURNING version`, b.ID, expectedVersion, b.Quantity, b.Reserved, b.AvgCost, b.Value, nullTime(b.LastMovementAt)).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return Balance{}, ErrConcurrentModification
	}
	if err != nil {
		return Balance{}, err
	}
	b.Version = version
	return b, nil
}

const movementColumns = `id, company_id, item_id, variant_id, warehouse_id, kind, quantity, unit_cost, total_cost,
	before_quantity, before_value, before_avg_cost, after_quantity, after_value, after_avg_cost,
	document_type, document_id, document_number, line_no, batches, COALESCE(reversal_of_id, 0), note, posted_at`

func scanMovement(row pgx.Row) (Movement, error) {
	var m Movement
	var kind string
	var batches []byte
	err := row.Scan(&m.ID, &m.Key.CompanyID, &m.Key.ItemID, &m.Key.VariantID, &m.Key.WarehouseID, &kind,
		&m.Quantity, &m.UnitCost, &m.TotalCost,
		&m.BeforeQuantity, &m.BeforeValue, &m.BeforeAvgCost, &m.AfterQuantity, &m.AfterValue, &m.AfterAvgCost,
		&m.Document.Type, &m.Document.ID, &m.Document.Number, &m.Document.LineNo, &batches, &m.ReversalOfID, &m.Note, &m.PostedAt)
	if err != nil {
		return Movement{}, err
	}
	m.Kind = MovementKind(kind)
	if len(batches) > 0 {
		if err := json.Unmarshal(batches, &m.Batches); err != nil {
			return Movement{}, err
		}
	}
	return m, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (Movement, error) {
	batches, err := json.Marshal(m.Batches)
	if err != nil {
		return Movement{}, err
	}
	err = r.tx.QueryRow(ctx, `INSERT INTO stock_movements (company_id, item_id, variant_id, warehouse_id, kind, quantity, unit_cost, total_cost,
	before_quantity, before_value, before_avg_cost, after_quantity, after_value, after_avg_cost,
	document_type, document_id, document_number, line_no, batches, reversal_of_id, note, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22) RETURNING id`,
		m.Key.CompanyID, m.Key.ItemID, m.Key.VariantID, m.Key.WarehouseID, string(m.Kind), m.Quantity, m.UnitCost, m.TotalCost,
		m.BeforeQuantity, m.BeforeValue, m.BeforeAvgCost, m.AfterQuantity, m.AfterValue, m.AfterAvgCost,
		m.Document.Type, m.Document.ID, m.Document.Number, m.Document.LineNo, batches, nullInt(m.ReversalOfID), m.Note, m.PostedAt).Scan(&m.ID)
	return m, err
}

func (r *txRepository) DeleteMovement(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrMovementNotFound
	}
	return nil
}

func (r *txRepository) ListDocumentMovements(ctx context.Context, companyID int64, docType string, docID int64) ([]Movement, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements m
WHERE m.company_id=$1 AND m.document_type=$2 AND m.document_id=$3 AND m.reversal_of_id IS NULL
	AND NOT EXISTS (SELECT 1 FROM stock_movements r WHERE r.reversal_of_id = m.id)
ORDER BY m.id ASC`, companyID, docType, docID)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func (r *txRepository) ListMovements(ctx context.Context, filter StockCardFilter) ([]Movement, error) {
	k := filter.Key
	rows, err := r.tx.Query(ctx, `SELECT `+movementColumns+` FROM stock_movements
WHERE company_id=$1 AND item_id=$2 AND variant_id=$3 AND warehouse_id=$4
	AND posted_at BETWEEN COALESCE($5, '-infinity'::timestamptz) AND COALESCE($6, 'infinity'::timestamptz)
ORDER BY posted_at ASC, id ASC
LIMIT $7`, k.CompanyID, k.ItemID, k.VariantID, k.WarehouseID, nullTime(filter.From), nullTime(filter.To), filter.Limit)
	if err != nil {
		return nil, err
	}
	return collectMovements(rows)
}

func collectMovements(rows pgx.Rows) ([]Movement, error) {
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const batchColumns = `id, company_id, item_id, variant_id, warehouse_id, number, manufactured_at, expires_at, quantity, reserved, unit_cost, received_at`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Key.CompanyID, &b.Key.ItemID, &b.Key.VariantID, &b.Key.WarehouseID, &b.Number,
		&b.ManufacturedAt, &b.ExpiresAt, &b.Quantity, &b.Reserved, &b.UnitCost, &b.ReceivedAt)
	return b, err
}

func (r *txRepository) GetBatch(ctx context.Context, key BalanceKey, number string) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE company_id=$1 AND item_id=$2 AND variant_id=$3 AND warehouse_id=$4 AND number=$5`,
		key.CompanyID, key.ItemID, key.VariantID, key.WarehouseID, number))
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

func (r *txRepository) SaveBatch(ctx context.Context, b Batch) (Batch, error) {
	if b.Quantity.LessThan(b.Reserved) || b.Reserved.IsNegative() {
		return Batch{}, ErrInsufficientQuantity
	}
	k := b.Key
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (company_id, item_id, variant_id, warehouse_id, number, manufactured_at, expires_at, quantity, reserved, unit_cost, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (company_id, item_id, variant_id, warehouse_id, number) DO UPDATE
SET expires_at=EXCLUDED.expires_at, quantity=EXCLUDED.quantity, reserved=EXCLUDED.reserved, unit_cost=EXCLUDED.unit_cost
RETURNING id`, k.CompanyID, k.ItemID, k.VariantID, k.WarehouseID, b.Number, b.ManufacturedAt, b.ExpiresAt,
		b.Quantity, b.Reserved, b.UnitCost, b.ReceivedAt).Scan(&b.ID)
	return b, err
}

func (r *txRepository) ListOpenBatches(ctx context.Context, key BalanceKey) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+batchColumns+` FROM stock_batches
WHERE company_id=$1 AND item_id=$2 AND variant_id=$3 AND warehouse_id=$4 AND quantity > reserved
ORDER BY received_at ASC, id ASC`, key.CompanyID, key.ItemID, key.VariantID, key.WarehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const reservationColumns = `id, company_id, item_id, variant_id, warehouse_id, quantity, batch_number, ref_type, ref_id, status, expires_at, created_at, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	var status string
	err := row.Scan(&res.ID, &res.Key.CompanyID, &res.Key.ItemID, &res.Key.VariantID, &res.Key.WarehouseID,
		&res.Quantity, &res.BatchNumber, &res.RefType, &res.RefID, &status, &res.ExpiresAt, &res.CreatedAt, &res.UpdatedAt)
	res.Status = ReservationStatus(status)
	return res, err
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (Reservation, error) {
	k := res.Key
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reservations (company_id, item_id, variant_id, warehouse_id, quantity, batch_number, ref_type, ref_id, status, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		k.CompanyID, k.ItemID, k.VariantID, k.WarehouseID, res.Quantity, res.BatchNumber, res.RefType, res.RefID,
		string(res.Status), res.ExpiresAt, res.CreatedAt, res.UpdatedAt).Scan(&res.ID)
	return res, err
}

func (r *txRepository) GetReservation(ctx context.Context, companyID, id int64) (Reservation, error) {
	res, err := scanReservation(r.tx.QueryRow(ctx, `SELECT `+reservationColumns+` FROM stock_reservations WHERE company_id=$1 AND id=$2`, companyID, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, id int64, from, to ReservationStatus, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$3, updated_at=$4 WHERE id=$1 AND status=$2`, id, string(from), string(to), at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (r *txRepository) ListExpiredReservations(ctx context.Context, filter ExpiryFilter) ([]Reservation, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	var (
		rows pgx.Rows
		err  error
	)
	if filter.Key != nil {
		k := filter.Key
		rows, err = r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM stock_reservations
WHERE status='active' AND expires_at < $1 AND company_id=$2 AND item_id=$3 AND variant_id=$4 AND warehouse_id=$5
ORDER BY expires_at ASC, id ASC LIMIT $6`, filter.Before, k.CompanyID, k.ItemID, k.VariantID, k.WarehouseID, limit)
	} else {
		rows, err = r.tx.Query(ctx, `SELECT `+reservationColumns+` FROM stock_reservations
WHERE status='active' AND expires_at < $1
ORDER BY expires_at ASC, id ASC LIMIT $2`, filter.Before, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
