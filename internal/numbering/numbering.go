// Package numbering issues per-company, per-year document numbers of the form
// PREFIX/YYYY/NNNNNN.
package numbering

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Series identifies a numbering sequence.
type Series string

const (
	SeriesReceipt  Series = "RCV"
	SeriesIssue    Series = "ISS"
	SeriesTransfer Series = "TRF"
	SeriesCount    Series = "CNT"
)

// ErrInvalidSeries indicates an empty series prefix.
var ErrInvalidSeries = errors.New("numbering: series required")

// Querier is satisfied by pgx.Tx and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Format renders a document number.
func Format(series Series, year int, seq int64) string {
	return fmt.Sprintf("%s/%04d/%06d", series, year, seq)
}

// Next advances the company's sequence for series and year and returns the
// formatted number. Callers draw outside the posting transaction; a number
// whose post later fails is not reused.
func Next(ctx context.Context, q Querier, companyID int64, series Series, year int) (string, error) {
	if series == "" {
		return "", ErrInvalidSeries
	}
	var seq int64
	err := q.QueryRow(ctx, `
		INSERT INTO document_sequences (company_id, series, year, seq)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (company_id, series, year)
		DO UPDATE SET seq = document_sequences.seq + 1
		RETURNING seq
	`, companyID, string(series), year).Scan(&seq)
	if err != nil {
		return "", fmt.Errorf("numbering: next %s/%d: %w", series, year, err)
	}
	return Format(series, year, seq), nil
}
