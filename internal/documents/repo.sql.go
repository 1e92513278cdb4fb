package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/numbering"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
)

// PostgresStore runs document operations in one PostgreSQL transaction shared
// by the ledger, journal and document repositories.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type pgTx struct {
	inv  inventory.TxRepository
	jr   journals.TxRepository
	docs *txRepository
}

func (t *pgTx) Inventory() inventory.TxRepository { return t.inv }
func (t *pgTx) Journals() journals.TxRepository   { return t.jr }
func (t *pgTx) Documents() Repository             { return t.docs }

// WithTx executes the callback inside a repeatable-read transaction. A
// serialization abort surfaces as inventory.ErrConcurrentModification.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	if s == nil {
		return errors.New("documents store not initialised")
	}
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{
			inv:  inventory.NewTxRepository(tx),
			jr:   journals.NewTxRepository(tx),
			docs: &txRepository{tx: tx},
		})
	})
	if errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: %v", inventory.ErrConcurrentModification, err)
	}
	return err
}

// NextNumber draws from the pool in autocommit mode so the sequence row lock
// is released before the posting transaction starts.
func (s *PostgresStore) NextNumber(ctx context.Context, companyID int64, series numbering.Series, year int) (string, error) {
	if s == nil {
		return "", errors.New("documents store not initialised")
	}
	return numbering.Next(ctx, s.pool, companyID, series, year)
}

type txRepository struct {
	tx pgx.Tx
}

var documentTables = map[Type]string{
	TypeReceipt:  "stock_receipts",
	TypeIssue:    "stock_issues",
	TypeTransfer: "stock_transfers",
	TypeCount:    "stock_counts",
}

func (r *txRepository) GetReceipt(ctx context.Context, companyID, id int64) (Receipt, error) {
	var d Receipt
	var source, status string
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, COALESCE(branch_id, 0), COALESCE(number, ''), warehouse_id, source, COALESCE(counterparty_id, 0), date, status, note, posted_at, COALESCE(posted_by, 0)
FROM stock_receipts WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&d.ID, &d.CompanyID, &d.BranchID, &d.Number, &d.WarehouseID, &source, &d.CounterpartyID, &d.Date, &status, &d.Note, &d.PostedAt, &d.PostedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrDocumentNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	d.Source, d.Status = accounts.Reason(source), Status(status)
	rows, err := r.tx.Query(ctx, `SELECT line_no, item_id, variant_id, quantity, unit_cost, COALESCE(batch_number, ''), manufactured_at, expires_at
FROM stock_receipt_lines WHERE receipt_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.LineNo, &l.ItemID, &l.VariantID, &l.Quantity, &l.UnitCost, &l.BatchNumber, &l.ManufacturedAt, &l.ExpiresAt); err != nil {
			return Receipt{}, err
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

func (r *txRepository) GetIssue(ctx context.Context, companyID, id int64) (Issue, error) {
	var d Issue
	var dest, status string
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, COALESCE(branch_id, 0), COALESCE(number, ''), warehouse_id, destination, COALESCE(counterparty_id, 0), date, status, note, posted_at, COALESCE(posted_by, 0)
FROM stock_issues WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&d.ID, &d.CompanyID, &d.BranchID, &d.Number, &d.WarehouseID, &dest, &d.CounterpartyID, &d.Date, &status, &d.Note, &d.PostedAt, &d.PostedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return Issue{}, ErrDocumentNotFound
	}
	if err != nil {
		return Issue{}, err
	}
	d.Destination, d.Status = accounts.Reason(dest), Status(status)
	rows, err := r.tx.Query(ctx, `SELECT line_no, item_id, variant_id, quantity, unit_price, COALESCE(batch_number, ''), COALESCE(reservation_id, 0)
FROM stock_issue_lines WHERE issue_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Issue{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l IssueLine
		if err := rows.Scan(&l.LineNo, &l.ItemID, &l.VariantID, &l.Quantity, &l.UnitPrice, &l.BatchNumber, &l.ReservationID); err != nil {
			return Issue{}, err
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

func (r *txRepository) GetTransfer(ctx context.Context, companyID, id int64) (Transfer, error) {
	var d Transfer
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, COALESCE(branch_id, 0), COALESCE(number, ''), source_warehouse_id, destination_warehouse_id, date, status, note, COALESCE(approved_by, 0), sent_at, received_at
FROM stock_transfers WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&d.ID, &d.CompanyID, &d.BranchID, &d.Number, &d.SourceWarehouseID, &d.DestinationWarehouseID, &d.Date, &status, &d.Note, &d.ApprovedBy, &d.SentAt, &d.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, ErrDocumentNotFound
	}
	if err != nil {
		return Transfer{}, err
	}
	d.Status = Status(status)
	rows, err := r.tx.Query(ctx, `SELECT line_no, item_id, variant_id, quantity, received_quantity, unit_cost, COALESCE(batch_number, ''), batches
FROM stock_transfer_lines WHERE transfer_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Transfer{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l TransferLine
		var batches []byte
		if err := rows.Scan(&l.LineNo, &l.ItemID, &l.VariantID, &l.Quantity, &l.ReceivedQuantity, &l.UnitCost, &l.BatchNumber, &batches); err != nil {
			return Transfer{}, err
		}
		if len(batches) > 0 {
			if err := json.Unmarshal(batches, &l.Batches); err != nil {
				return Transfer{}, fmt.Errorf("transfer %d line %d batches: %w", id, l.LineNo, err)
			}
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

func (r *txRepository) GetCount(ctx context.Context, companyID, id int64) (Count, error) {
	var d Count
	var status string
	err := r.tx.QueryRow(ctx, `SELECT id, company_id, COALESCE(branch_id, 0), COALESCE(number, ''), warehouse_id, date, status, note, processed_at
FROM stock_counts WHERE company_id=$1 AND id=$2`, companyID, id).
		Scan(&d.ID, &d.CompanyID, &d.BranchID, &d.Number, &d.WarehouseID, &d.Date, &status, &d.Note, &d.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Count{}, ErrDocumentNotFound
	}
	if err != nil {
		return Count{}, err
	}
	d.Status = Status(status)
	rows, err := r.tx.Query(ctx, `SELECT line_no, item_id, variant_id, system_quantity, counted_quantity, counted, unit_cost
FROM stock_count_lines WHERE count_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Count{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l CountLine
		if err := rows.Scan(&l.LineNo, &l.ItemID, &l.VariantID, &l.SystemQuantity, &l.CountedQuantity, &l.Counted, &l.UnitCost); err != nil {
			return Count{}, err
		}
		d.Lines = append(d.Lines, l)
	}
	return d, rows.Err()
}

func (r *txRepository) InsertReceipt(ctx context.Context, d Receipt) (Receipt, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_receipts (company_id, branch_id, number, warehouse_id, source, counterparty_id, date, status, note, created_at, updated_at)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, NULLIF($6, 0), $7, $8, $9, NOW(), NOW()) RETURNING id`,
		d.CompanyID, d.BranchID, d.Number, d.WarehouseID, string(d.Source), d.CounterpartyID, d.Date, string(d.Status), d.Note).Scan(&d.ID)
	if err != nil {
		return Receipt{}, err
	}
	for _, l := range d.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_receipt_lines (receipt_id, line_no, item_id, variant_id, quantity, unit_cost, batch_number, manufactured_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9)`,
			d.ID, l.LineNo, l.ItemID, l.VariantID, l.Quantity, l.UnitCost, l.BatchNumber, l.ManufacturedAt, l.ExpiresAt); err != nil {
			return Receipt{}, err
		}
	}
	return d, nil
}

func (r *txRepository) InsertIssue(ctx context.Context, d Issue) (Issue, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_issues (company_id, branch_id, number, warehouse_id, destination, counterparty_id, date, status, note, created_at, updated_at)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, NULLIF($6, 0), $7, $8, $9, NOW(), NOW()) RETURNING id`,
		d.CompanyID, d.BranchID, d.Number, d.WarehouseID, string(d.Destination), d.CounterpartyID, d.Date, string(d.Status), d.Note).Scan(&d.ID)
	if err != nil {
		return Issue{}, err
	}
	for _, l := range d.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_issue_lines (issue_id, line_no, item_id, variant_id, quantity, unit_price, batch_number, reservation_id)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, 0))`,
			d.ID, l.LineNo, l.ItemID, l.VariantID, l.Quantity, l.UnitPrice, l.BatchNumber, l.ReservationID); err != nil {
			return Issue{}, err
		}
	}
	return d, nil
}

func (r *txRepository) InsertTransfer(ctx context.Context, d Transfer) (Transfer, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transfers (company_id, branch_id, number, source_warehouse_id, destination_warehouse_id, date, status, note, created_at, updated_at)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, $6, $7, $8, NOW(), NOW()) RETURNING id`,
		d.CompanyID, d.BranchID, d.Number, d.SourceWarehouseID, d.DestinationWarehouseID, d.Date, string(d.Status), d.Note).Scan(&d.ID)
	if err != nil {
		return Transfer{}, err
	}
	if err := r.SaveTransferLines(ctx, d.ID, d.Lines); err != nil {
		return Transfer{}, err
	}
	return d, nil
}

func (r *txRepository) InsertCount(ctx context.Context, d Count) (Count, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_counts (company_id, branch_id, number, warehouse_id, date, status, note, created_at, updated_at)
VALUES ($1, NULLIF($2, 0), NULLIF($3, ''), $4, $5, $6, $7, NOW(), NOW()) RETURNING id`,
		d.CompanyID, d.BranchID, d.Number, d.WarehouseID, d.Date, string(d.Status), d.Note).Scan(&d.ID)
	if err != nil {
		return Count{}, err
	}
	if err := r.SaveCountLines(ctx, d.ID, d.Lines); err != nil {
		return Count{}, err
	}
	return d, nil
}

// stampColumn names the column a transition into a status timestamps.
func stampColumn(t Type, to Status) string {
	switch {
	case (t == TypeReceipt || t == TypeIssue) && to == StatusPosted:
		return "posted_at"
	case t == TypeTransfer && to == StatusInTransit:
		return "sent_at"
	case t == TypeTransfer && to == StatusReceived:
		return "received_at"
	case t == TypeCount && to == StatusProcessed:
		return "processed_at"
	}
	return ""
}

func (r *txRepository) UpdateStatus(ctx context.Context, ref Ref, from, to Status, stamp Stamp) error {
	table, ok := documentTables[ref.Type]
	if !ok {
		return ErrUnsupportedDocument
	}
	set := "status=$1, number=COALESCE(NULLIF($2, ''), number), updated_at=$3"
	switch {
	case stampColumn(ref.Type, to) != "":
		set += fmt.Sprintf(", %s=$3", stampColumn(ref.Type, to))
	case (ref.Type == TypeReceipt || ref.Type == TypeIssue) && to == StatusDraft:
		set += ", posted_at=NULL, posted_by=NULL"
	}
	switch {
	case (ref.Type == TypeReceipt || ref.Type == TypeIssue) && to == StatusPosted:
		set += ", posted_by=NULLIF($6, 0)"
	case ref.Type == TypeTransfer && to == StatusApproved:
		set += ", approved_by=NULLIF($6, 0)"
	default:
		set += ", updated_by=NULLIF($6, 0)"
	}
	at := stamp.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	tag, err := r.tx.Exec(ctx, fmt.Sprintf(`UPDATE %s SET %s WHERE id=$4 AND status=$5`, table, set),
		string(to), stamp.Number, at, ref.ID, string(from), stamp.ActorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrConcurrentModification
	}
	return nil
}

func (r *txRepository) SaveTransferLines(ctx context.Context, transferID int64, lines []TransferLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_transfer_lines WHERE transfer_id=$1`, transferID); err != nil {
		return err
	}
	for _, l := range lines {
		batches, err := json.Marshal(l.Batches)
		if err != nil {
			return err
		}
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_transfer_lines (transfer_id, line_no, item_id, variant_id, quantity, received_quantity, unit_cost, batch_number, batches)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9)`,
			transferID, l.LineNo, l.ItemID, l.VariantID, l.Quantity, l.ReceivedQuantity, l.UnitCost, l.BatchNumber, batches); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) SaveCountLines(ctx context.Context, countID int64, lines []CountLine) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_count_lines WHERE count_id=$1`, countID); err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_count_lines (count_id, line_no, item_id, variant_id, system_quantity, counted_quantity, counted, unit_cost)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			countID, l.LineNo, l.ItemID, l.VariantID, l.SystemQuantity, l.CountedQuantity, l.Counted, l.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) CountDependents(ctx context.Context, companyID int64, ref Ref) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM stock_document_links
WHERE company_id=$1 AND document_type=$2 AND document_id=$3 AND link_type IN ('payment', 'allocation')`,
		companyID, string(ref.Type), ref.ID).Scan(&n)
	return n, err
}
