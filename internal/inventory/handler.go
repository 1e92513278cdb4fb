package inventory

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
	"github.com/odyssey-erp/stockledger/internal/shared"
)

// ProblemMappings translates ledger errors into HTTP problems.
var ProblemMappings = []httpx.Mapping{
	{Target: shared.ErrTenantRequired, Status: http.StatusBadRequest, Title: "Tenant Required"},
	{Target: ErrConcurrentModification, Status: http.StatusConflict, Title: "Conflict", Detail: httpx.ErrConflict.Error()},
	{Target: ErrInsufficientQuantity, Status: http.StatusUnprocessableEntity, Title: "Insufficient Quantity"},
	{Target: ErrInsufficientAvailable, Status: http.StatusUnprocessableEntity, Title: "Insufficient Available"},
	{Target: ErrVariantRequired, Status: http.StatusUnprocessableEntity, Title: "Variant Required"},
	{Target: ErrVariantMismatch, Status: http.StatusUnprocessableEntity, Title: "Variant Mismatch"},
	{Target: ErrInvalidQuantity, Status: http.StatusBadRequest, Title: "Invalid Quantity"},
	{Target: ErrInvalidUnitCost, Status: http.StatusBadRequest, Title: "Invalid Unit Cost"},
	{Target: ErrBalanceNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrReservationNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrItemNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrWarehouseNotFound, Status: http.StatusNotFound, Title: "Not Found"},
	{Target: ErrBatchNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}

// Handler wires HTTP endpoints for stock reads and reservations.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs inventory handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/available", h.handleAvailable)
	r.Get("/stock/balance", h.handleBalance)
	r.Get("/stock/card", h.handleStockCard)
	r.Post("/reservations", h.handleReserve)
	r.Post("/reservations/{id}/confirm", h.handleConfirm)
	r.Post("/reservations/{id}/release", h.handleRelease)
}

type balanceResponse struct {
	ItemID      int64           `json:"item_id"`
	VariantID   int64           `json:"variant_id,omitempty"`
	WarehouseID int64           `json:"warehouse_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reserved    decimal.Decimal `json:"reserved"`
	Available   decimal.Decimal `json:"available"`
	AvgCost     decimal.Decimal `json:"avg_cost"`
	Value       decimal.Decimal `json:"value"`
	Reorder     bool            `json:"needs_reorder"`
	Version     int64           `json:"version"`
}

type movementResponse struct {
	ID           int64              `json:"id"`
	Kind         MovementKind       `json:"kind"`
	Quantity     decimal.Decimal    `json:"quantity"`
	UnitCost     decimal.Decimal    `json:"unit_cost"`
	TotalCost    decimal.Decimal    `json:"total_cost"`
	AfterQty     decimal.Decimal    `json:"balance_quantity"`
	AfterValue   decimal.Decimal    `json:"balance_value"`
	AfterAvg     decimal.Decimal    `json:"balance_avg_cost"`
	DocumentType string             `json:"document_type"`
	DocumentID   int64              `json:"document_id"`
	DocumentNo   string             `json:"document_number,omitempty"`
	LineNo       int                `json:"line_no"`
	Batches      []BatchConsumption `json:"batches,omitempty"`
	ReversalOf   int64              `json:"reversal_of,omitempty"`
	PostedAt     time.Time          `json:"posted_at"`
}

// MovementResponse renders a movement for API output.
func MovementResponse(m Movement) any {
	return movementResponse{
		ID:           m.ID,
		Kind:         m.Kind,
		Quantity:     m.Quantity,
		UnitCost:     m.UnitCost,
		TotalCost:    m.TotalCost,
		AfterQty:     m.AfterQuantity,
		AfterValue:   m.AfterValue,
		AfterAvg:     m.AfterAvgCost,
		DocumentType: m.Document.Type,
		DocumentID:   m.Document.ID,
		DocumentNo:   m.Document.Number,
		LineNo:       m.Document.LineNo,
		Batches:      m.Batches,
		ReversalOf:   m.ReversalOfID,
		PostedAt:     m.PostedAt,
	}
}

type reservationResponse struct {
	ID          int64             `json:"id"`
	ItemID      int64             `json:"item_id"`
	VariantID   int64             `json:"variant_id,omitempty"`
	WarehouseID int64             `json:"warehouse_id"`
	Quantity    decimal.Decimal   `json:"quantity"`
	BatchNumber string            `json:"batch_number,omitempty"`
	RefType     string            `json:"ref_type"`
	RefID       string            `json:"ref_id"`
	Status      ReservationStatus `json:"status"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func toReservationResponse(r Reservation) reservationResponse {
	return reservationResponse{
		ID:          r.ID,
		ItemID:      r.Key.ItemID,
		VariantID:   r.Key.VariantID,
		WarehouseID: r.Key.WarehouseID,
		Quantity:    r.Quantity,
		BatchNumber: r.BatchNumber,
		RefType:     r.RefType,
		RefID:       r.RefID,
		Status:      r.Status,
		ExpiresAt:   r.ExpiresAt,
	}
}

type reserveRequest struct {
	ItemID      int64           `json:"item_id" validate:"required,gt=0"`
	VariantID   int64           `json:"variant_id" validate:"gte=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	BatchNumber string          `json:"batch_number" validate:"max=64"`
	RefType     string          `json:"ref_type" validate:"required,max=32"`
	RefID       string          `json:"ref_id" validate:"required,max=64"`
	TTLSeconds  int64           `json:"ttl_seconds" validate:"gte=0"`
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Debug("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err, ProblemMappings...)
}

func keyFromQuery(r *http.Request) (BalanceKey, error) {
	q := r.URL.Query()
	item, err := httpx.PathInt64(q.Get("item_id"))
	if err != nil {
		return BalanceKey{}, err
	}
	warehouse, err := httpx.PathInt64(q.Get("warehouse_id"))
	if err != nil {
		return BalanceKey{}, err
	}
	key := BalanceKey{ItemID: item, WarehouseID: warehouse}
	if v := q.Get("variant_id"); v != "" {
		if key.VariantID, err = httpx.PathInt64(v); err != nil {
			return BalanceKey{}, err
		}
	}
	return key, nil
}

func (h *Handler) handleAvailable(w http.ResponseWriter, r *http.Request) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := keyFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	available, err := h.service.GetAvailableQuantity(r.Context(), tenant, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"item_id":      key.ItemID,
		"variant_id":   key.VariantID,
		"warehouse_id": key.WarehouseID,
		"available":    available,
	})
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := keyFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	b, err := h.service.GetBalance(r.Context(), tenant, key)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		ItemID:      b.Key.ItemID,
		VariantID:   b.Key.VariantID,
		WarehouseID: b.Key.WarehouseID,
		Quantity:    b.Quantity,
		Reserved:    b.Reserved,
		Available:   b.Available(),
		AvgCost:     b.AvgCost,
		Value:       b.Value,
		Reorder:     b.NeedsReorder(),
		Version:     b.Version,
	})
}

func (h *Handler) handleStockCard(w http.ResponseWriter, r *http.Request) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key, err := keyFromQuery(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	filter := StockCardFilter{Key: key}
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if filter.From, err = time.Parse("2006-01-02", v); err != nil {
			h.fail(w, r, httpx.ErrValidation)
			return
		}
	}
	if v := q.Get("to"); v != "" {
		if filter.To, err = time.Parse("2006-01-02", v); err != nil {
			h.fail(w, r, httpx.ErrValidation)
			return
		}
		filter.To = filter.To.Add(24*time.Hour - time.Nanosecond)
	}
	if v := q.Get("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	movements, err := h.service.StockCard(r.Context(), tenant, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, MovementResponse(m))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req reserveRequest
	if err := httpx.DecodeValid(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.Reserve(r.Context(), tenant, ReserveRequest{
		Key:         BalanceKey{ItemID: req.ItemID, VariantID: req.VariantID, WarehouseID: req.WarehouseID},
		Quantity:    req.Quantity,
		BatchNumber: req.BatchNumber,
		RefType:     req.RefType,
		RefID:       req.RefID,
		TTL:         time.Duration(req.TTLSeconds) * time.Second,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toReservationResponse(res))
}

func (h *Handler) handleConfirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ConfirmReservation)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ReleaseReservation)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, tenant shared.TenantContext, id int64) (Reservation, error)) {
	tenant, err := httpx.Tenant(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id, err := httpx.PathInt64(chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := fn(r.Context(), tenant, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toReservationResponse(res))
}
