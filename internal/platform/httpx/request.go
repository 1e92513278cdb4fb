package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

const (
	HeaderCompanyID      = "X-Company-ID"
	HeaderBranchID       = "X-Branch-ID"
	HeaderActorID        = "X-User-ID"
	HeaderIdempotencyKey = "Idempotency-Key"
)

var validate = validator.New()

// Tenant reads the company and branch a request acts for.
func Tenant(r *http.Request) (shared.TenantContext, error) {
	company, err := strconv.ParseInt(r.Header.Get(HeaderCompanyID), 10, 64)
	if err != nil || company <= 0 {
		return shared.TenantContext{}, fmt.Errorf("%w: %s header required", ErrValidation, HeaderCompanyID)
	}
	tenant := shared.TenantContext{CompanyID: company}
	if v := r.Header.Get(HeaderBranchID); v != "" {
		branch, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return shared.TenantContext{}, fmt.Errorf("%w: invalid %s header", ErrValidation, HeaderBranchID)
		}
		tenant.BranchID = branch
	}
	return tenant, nil
}

// ActorID reads the acting user, zero when absent.
func ActorID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(r.Header.Get(HeaderActorID), 10, 64)
	return id
}

// DecodeValid decodes the JSON body into target and validates its struct tags.
func DecodeValid(r *http.Request, target any) error {
	if err := DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			msgs := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

// PathInt64 parses a positive integer URL parameter value.
func PathInt64(v string) (int64, error) {
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id %q", ErrValidation, v)
	}
	return id, nil
}
