package periods

import (
	"context"
	"time"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

// Calendar answers fiscal calendar questions for a tenant.
type Calendar struct {
	repo Repository
}

// NewCalendar builds a Calendar.
func NewCalendar(repo Repository) *Calendar {
	return &Calendar{repo: repo}
}

// FindOpenPeriod returns the open period covering date or ErrNoOpenPeriod.
func (c *Calendar) FindOpenPeriod(ctx context.Context, tenant shared.TenantContext, date time.Time) (Period, error) {
	if err := tenant.Validate(); err != nil {
		return Period{}, err
	}
	return c.repo.FindOpenPeriod(ctx, tenant.CompanyID, date)
}
