package documents

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/accounting/accounts"
	"github.com/odyssey-erp/stockledger/internal/accounting/journals"
	"github.com/odyssey-erp/stockledger/internal/inventory"
	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// IdempotencyGuard claims request keys.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

var problemMappings = append([]httpx.Mapping{
	{Target: shared.ErrIdempotencyConflict, Status: http.StatusConflict, Title: "Duplicate Request"},
	{Target: ErrAlreadyPosted, Status: http.StatusConflict, Title: "Already Posted"},
	{Target: ErrNotPosted, Status: http.StatusConflict, Title: "Not Posted"},
	{Target: ErrInvalidTransition, Status: http.StatusConflict, Title: "Invalid Transition"},
	{Target: ErrHasDependents, Status: http.StatusConflict, Title: "Has Dependents"},
	{Target: ErrEmptyDocument, Status: http.StatusUnprocessableEntity, Title: "Empty Document"},
	{Target: ErrSameWarehouse, Status: http.StatusUnprocessableEntity, Title: "Invalid Transfer"},
	{Target: ErrReservationMismatch, Status: http.StatusUnprocessableEntity, Title: "Reservation Mismatch"},
	{Target: ErrInvalidLine, Status: http.StatusBadRequest, Title: "Invalid Line"},
	{Target: ErrUnsupportedDocument, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrDocumentNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: accounts.ErrUnknownReason, Status: http.StatusUnprocessableEntity, Title: "Unknown Reason"},
	{Target: journals.ErrUnbalancedPosting, Status: http.StatusInternalServerError, Title: "Unbalanced Posting"},
}, inventory.ProblemMappings...)

// Handler exposes document transitions over HTTP.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency IdempotencyGuard
}

// NewHandler constructs the documents handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *Service, idempotency IdempotencyGuard) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers document routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/documents/{type}/{id}/post", h.handlePost)
	r.Post("/documents/{type}/{id}/unpost", h.handleUnpost)

	r.Route("/transfers/{id}", func(r chi.Router) {
		r.Post("/approve", h.handleTransferApprove)
		r.Post("/send", h.handleTransferSend)
		r.Post("/receive", h.handleTransferReceive)
		r.Post("/cancel", h.handleTransferCancel)
	})

	r.Route("/counts/{id}", func(r chi.Router) {
		r.Post("/start", h.countStep(h.service.StartCount))
		r.Post("/populate", h.handleCountPopulate)
		r.Put("/lines/{line}", h.handleCountLine)
		r.Post("/complete", h.countStep(h.service.CompleteCount))
		r.Post("/approve", h.handleCountApprove)
		r.Post("/process", h.handleCountProcess)
	})
}

type resultResponse struct {
	Number    string `json:"number"`
	Movements []any  `json:"movements"`
	JournalID *int64 `json:"journal_entry_id"`
}

func toResultResponse(res Result) resultResponse {
	out := resultResponse{Number: res.Number, JournalID: res.JournalID, Movements: make([]any, 0, len(res.Movements))}
	for _, m := range res.Movements {
		out.Movements = append(out.Movements, inventory.MovementResponse(m))
	}
	return out
}

type noteRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type receiveRequest struct {
	Lines []struct {
		LineNo   int             `json:"line_no" validate:"required,gt=0"`
		Quantity decimal.Decimal `json:"quantity"`
	} `json:"lines" validate:"dive"`
}

type countLineRequest struct {
	Counted decimal.Decimal `json:"counted"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, inventory.ErrConcurrentModification) {
		h.logger.Info("document conflict", slog.String("path", r.URL.Path))
	} else {
		h.logger.Debug("document request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, problemMappings...)
}

func (h *Handler) target(r *http.Request) (shared.TenantContext, int64, error) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		return shared.TenantContext{}, 0, err
	}
	id, err := httpx.PathInt64(chi.URLParam(r, "id"))
	if err != nil {
		return shared.TenantContext{}, 0, err
	}
	return tenant, id, nil
}

// guarded runs fn at most once per Idempotency-Key. A failed run frees the key.
func (h *Handler) guarded(r *http.Request, scope string, fn func() error) error {
	key := r.Header.Get(httpx.HeaderIdempotencyKey)
	if key == "" || h.idempotency == nil {
		return fn()
	}
	if err := h.idempotency.CheckAndInsert(r.Context(), key, scope); err != nil {
		return err
	}
	if err := fn(); err != nil {
		if derr := h.idempotency.Delete(r.Context(), key); derr != nil {
			h.logger.Warn("release idempotency key", slog.Any("error", derr))
		}
		return err
	}
	return nil
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	docType, err := ParseType(chi.URLParam(r, "type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var res Result
	err = h.guarded(r, fmt.Sprintf("%d:%s:%d:post", tenant.CompanyID, docType, id), func() error {
		var err error
		res, err = h.service.PostDocument(r.Context(), tenant, Ref{Type: docType, ID: id}, httpx.ActorID(r))
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) handleUnpost(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	docType, err := ParseType(chi.URLParam(r, "type"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	err = h.guarded(r, fmt.Sprintf("%d:%s:%d:unpost", tenant.CompanyID, docType, id), func() error {
		return h.service.UnpostDocument(r.Context(), tenant, Ref{Type: docType, ID: id}, httpx.ActorID(r))
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTransferApprove(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req noteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeValid(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	t, err := h.service.ApproveTransfer(r.Context(), tenant, id, httpx.ActorID(r), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": t.ID, "status": t.Status})
}

func (h *Handler) handleTransferSend(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var res Result
	err = h.guarded(r, fmt.Sprintf("%d:transfer:%d:send", tenant.CompanyID, id), func() error {
		var err error
		res, err = h.service.SendTransfer(r.Context(), tenant, id, httpx.ActorID(r))
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) handleTransferReceive(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	received := map[int]decimal.Decimal{}
	if r.ContentLength > 0 {
		var req receiveRequest
		if err := httpx.DecodeValid(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		for _, l := range req.Lines {
			received[l.LineNo] = l.Quantity
		}
	}
	var res Result
	err = h.guarded(r, fmt.Sprintf("%d:transfer:%d:receive", tenant.CompanyID, id), func() error {
		var err error
		res, err = h.service.ReceiveTransfer(r.Context(), tenant, id, httpx.ActorID(r), received)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}

func (h *Handler) handleTransferCancel(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req noteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeValid(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if err := h.service.CancelTransfer(r.Context(), tenant, id, httpx.ActorID(r), req.Note); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) countStep(fn func(context.Context, shared.TenantContext, int64, int64) (Count, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant, id, err := h.target(r)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		c, err := fn(r.Context(), tenant, id, httpx.ActorID(r))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"id": c.ID, "number": c.Number, "status": c.Status})
	}
}

func (h *Handler) handleCountApprove(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req noteRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeValid(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	c, err := h.service.ApproveCount(r.Context(), tenant, id, httpx.ActorID(r), req.Note)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": c.ID, "number": c.Number, "status": c.Status})
}

func (h *Handler) handleCountPopulate(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.service.PopulateCount(r.Context(), tenant, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]map[string]any, 0, len(c.Lines))
	for _, l := range c.Lines {
		lines = append(lines, map[string]any{
			"line_no":          l.LineNo,
			"item_id":          l.ItemID,
			"variant_id":       l.VariantID,
			"system_quantity":  l.SystemQuantity,
			"counted_quantity": l.CountedQuantity,
			"counted":          l.Counted,
			"unit_cost":        l.UnitCost,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": c.ID, "status": c.Status, "lines": lines})
}

func (h *Handler) handleCountLine(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	lineNo, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil || lineNo <= 0 {
		h.fail(w, r, httpx.ErrValidation)
		return
	}
	var req countLineRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	line, err := h.service.RecordCount(r.Context(), tenant, id, lineNo, req.Counted)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"line_no":          line.LineNo,
		"counted_quantity": line.CountedQuantity,
		"difference":       line.Difference(),
	})
}

func (h *Handler) handleCountProcess(w http.ResponseWriter, r *http.Request) {
	tenant, id, err := h.target(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var res Result
	err = h.guarded(r, fmt.Sprintf("%d:count:%d:process", tenant.CompanyID, id), func() error {
		var err error
		res, err = h.service.ProcessCount(r.Context(), tenant, id, httpx.ActorID(r))
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResultResponse(res))
}
