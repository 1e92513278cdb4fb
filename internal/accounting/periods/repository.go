package periods

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository looks up fiscal periods.
type Repository interface {
	FindOpenPeriod(ctx context.Context, companyID int64, date time.Time) (Period, error)
}

type repository struct {
	db *pgxpool.Pool
}

// NewRepository returns the PostgreSQL period reader.
func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

// FindOpenPeriod returns the open period of companyID covering date.
func (r *repository) FindOpenPeriod(ctx context.Context, companyID int64, date time.Time) (Period, error) {
	var period Period
	var status string
	err := r.db.QueryRow(ctx, `SELECT p.id, p.company_id, p.fiscal_year_id, fy.year, p.code, p.start_date, p.end_date, p.status
FROM periods p JOIN fiscal_years fy ON fy.id = p.fiscal_year_id
WHERE p.company_id=$1 AND p.status='OPEN' AND $2::date BETWEEN p.start_date AND p.end_date
ORDER BY p.start_date LIMIT 1`, companyID, date).
		Scan(&period.ID, &period.CompanyID, &period.FiscalYearID, &period.FiscalYear, &period.Code, &period.StartDate, &period.EndDate, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, ErrNoOpenPeriod
		}
		return Period{}, err
	}
	period.Status = PeriodStatus(status)
	return period, nil
}
