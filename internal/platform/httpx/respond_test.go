package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/require"
)

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetail {
	t.Helper()
	var p ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestRespondErrorUsesMappingsFirst(t *testing.T) {
	errShort := errors.New("stock: short")
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("line 2: %w", errShort), Mapping{Target: errShort, Status: http.StatusUnprocessableEntity, Title: "Insufficient Quantity"})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	p := decodeProblem(t, rec)
	require.Equal(t, "Insufficient Quantity", p.Title)
	require.Equal(t, "line 2: stock: short", p.Detail)
}

func TestRespondErrorConflictMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, fmt.Errorf("balance 1:2:0:3: %w", ErrConflict))

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "this record changed, please retry", decodeProblem(t, rec).Detail)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection reset"))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Empty(t, decodeProblem(t, rec).Detail)
}

func TestProblemContentTypeAndInstance(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-7"))
	ProblemFor(rec, req, http.StatusBadRequest, "Validation Failed", "bad")

	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	p := decodeProblem(t, rec)
	require.Equal(t, "about:blank", p.Type)
	require.Equal(t, "req-7", p.Instance)
}

func TestDecodeJSONRejectsTrailingValue(t *testing.T) {
	var v map[string]any
	err := DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1} {"b":2}`)), &v)
	require.Error(t, err)

	err = DecodeJSON(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"a":1}`)), &v)
	require.NoError(t, err)
	require.EqualValues(t, 1, v["a"])
}
