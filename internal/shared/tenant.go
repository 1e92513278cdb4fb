package shared

import (
	"errors"
	"fmt"
)

// ErrTenantRequired is returned when a call arrives without a company scope.
var ErrTenantRequired = errors.New("shared: tenant company required")

// TenantContext scopes every ledger and document call to one company/branch.
// It is passed explicitly; nothing in the service layer reads it from ambient state.
type TenantContext struct {
	CompanyID int64
	BranchID  int64
}

// Validate ensures the tenant carries a company.
func (t TenantContext) Validate() error {
	if t.CompanyID <= 0 {
		return ErrTenantRequired
	}
	return nil
}

func (t TenantContext) String() string {
	return fmt.Sprintf("company=%d branch=%d", t.CompanyID, t.BranchID)
}
