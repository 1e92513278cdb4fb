package periods

import (
	"errors"
	"time"
)

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Period represents a fiscal period window inside a fiscal year.
type Period struct {
	ID           int64
	CompanyID    int64
	FiscalYearID int64
	FiscalYear   int
	Code         string
	StartDate    time.Time
	EndDate      time.Time
	Status       PeriodStatus
}

// Contains reports whether date falls inside the period, inclusive of both ends.
func (p Period) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// ErrNoOpenPeriod indicates no open period covers the date.
var ErrNoOpenPeriod = errors.New("accounting: no open period for date")
