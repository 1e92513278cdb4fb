// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for domain layer.
var (
	ErrNotFound   = errors.New("resource not found")
	ErrDuplicate  = errors.New("duplicate entry")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("this record changed, please retry")
)

// Mapping binds a domain error to the problem response it produces.
type Mapping struct {
	Target error
	Status int
	Title  string
	// Detail replaces the error text when set.
	Detail string
}

// RespondError maps domain errors to HTTP responses using RFC7807. Mappings
// are tried in order before the generic sentinels.
func RespondError(w http.ResponseWriter, err error, mappings ...Mapping) {
	for _, m := range mappings {
		if errors.Is(err, m.Target) {
			detail := m.Detail
			if detail == "" {
				detail = err.Error()
			}
			Problem(w, m.Status, m.Title, detail)
			return
		}
	}
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", ErrConflict.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
