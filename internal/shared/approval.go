package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalCancel marks a cancellation decided by an approver.
	ApprovalCancel ApprovalAction = "CANCEL"
)

// ApprovalLog represents a single approval record against a stock document.
type ApprovalLog struct {
	ID           int64
	Tenant       TenantContext
	DocumentType string
	DocumentID   int64
	ActorID      int64
	Action       ApprovalAction
	Note         string
	At           time.Time
}

// ApprovalRecorder persists approval history.
type ApprovalRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(pool *pgxpool.Pool, logger *slog.Logger) *ApprovalRecorder {
	return &ApprovalRecorder{pool: pool, logger: logger}
}

// Record writes approval entry to database.
func (r *ApprovalRecorder) Record(ctx context.Context, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if err := log.Tenant.Validate(); err != nil {
		return err
	}
	if log.DocumentType == "" || log.DocumentID == 0 {
		return errors.New("approval document required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	var at any
	if !log.At.IsZero() {
		at = log.At
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO stock_approvals (company_id, document_type, document_id, actor_id, action, note, at)
VALUES ($1, $2, $3, NULLIF($4, 0), $5, $6, COALESCE($7, NOW()))`,
		log.Tenant.CompanyID, log.DocumentType, log.DocumentID, log.ActorID, string(log.Action), log.Note, at)
	if err != nil {
		r.logger.Error("record approval", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns approvals recorded for one document, oldest first.
func (r *ApprovalRecorder) List(ctx context.Context, tenant TenantContext, documentType string, documentID int64) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, COALESCE(actor_id, 0), action, note, at
FROM stock_approvals WHERE company_id=$1 AND document_type=$2 AND document_id=$3 ORDER BY at ASC`, tenant.CompanyID, documentType, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		l := ApprovalLog{Tenant: tenant, DocumentType: documentType, DocumentID: documentID}
		var action string
		if err := rows.Scan(&l.ID, &l.ActorID, &action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		l.Action = ApprovalAction(action)
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}
