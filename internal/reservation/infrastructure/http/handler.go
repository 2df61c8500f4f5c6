package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/application"
	"github.com/sonic7adarsh/bharat-shop-sub005/internal/reservation/domain"
	"github.com/sonic7adarsh/bharat-shop-sub005/pkg/idempotency"
)

// Handler is the thin HTTP surface over the engine and the read side. It maps
// the typed error taxonomy onto status codes and does nothing else.
type Handler struct {
	log     *slog.Logger
	engine  *application.Engine
	queries *application.Queries
	idem    *idempotency.Store
	tracer  trace.Tracer
}

func NewHandler(log *slog.Logger, engine *application.Engine, queries *application.Queries, idem *idempotency.Store) *Handler {
	return &Handler{
		log:     log,
		engine:  engine,
		queries: queries,
		idem:    idem,
		tracer:  otel.Tracer("reservation-http"),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/tenants/{tenantID}", func(r chi.Router) {
		r.Post("/reservations", h.reserve)
		r.Post("/reservations/bulk-release", h.bulkRelease)
		r.Post("/reservations/{reservationID}/release", h.release)
		r.Post("/reservations/{reservationID}/confirm", h.confirm)
		r.Get("/reservations", h.activeReservations)
		r.Get("/reservations/stats", h.stats)
		r.Get("/variants/{variantID}/availability", h.availability)
	})
	r.Get("/admin/reservations/stale", h.staleReservations)
	r.Post("/admin/reservations/cleanup", h.cleanupExpired)
	return r
}

type reserveReq struct {
	VariantID  string `json:"variantId"`
	Quantity   int    `json:"quantity"`
	TTLSeconds int    `json:"ttlSeconds"`
}

type reservationResp struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenantId"`
	VariantID  string     `json:"variantId"`
	Quantity   int        `json:"quantity"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	ReleasedAt *time.Time `json:"releasedAt,omitempty"`
}

func toResp(r domain.Reservation) reservationResp {
	return reservationResp{
		ID:         r.ID,
		TenantID:   r.TenantID,
		VariantID:  r.VariantID,
		Quantity:   r.Quantity,
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		ExpiresAt:  r.ExpiresAt,
		ReleasedAt: r.ReleasedAt,
	}
}

func (h *Handler) reserve(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReserveStock")
	defer span.End()

	tenantID := chi.URLParam(r, "tenantID")

	var req reserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	idemKey := ""
	if raw := r.Header.Get("Idempotency-Key"); raw != "" && h.idem != nil {
		idemKey = h.idem.ReserveKey(tenantID, raw)
		if id, ok, err := h.idem.Lookup(ctx, idemKey); err != nil {
			h.log.Warn("idempotency lookup failed", "err", err)
		} else if ok {
			res, err := h.queries.Reservation(ctx, tenantID, id)
			if err != nil {
				h.writeError(w, err)
				return
			}
			h.writeJSON(w, http.StatusOK, toResp(res))
			return
		}
	}

	res, err := h.engine.Reserve(ctx, tenantID, req.VariantID, req.Quantity, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if idemKey != "" {
		if _, err := h.idem.Remember(ctx, idemKey, res.ID); err != nil {
			h.log.Warn("idempotency remember failed", "err", err)
		}
	}
	h.writeJSON(w, http.StatusCreated, toResp(res))
}

func (h *Handler) release(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ReleaseReservation")
	defer span.End()

	tenantID := chi.URLParam(r, "tenantID")
	reservationID := chi.URLParam(r, "reservationID")
	if err := h.engine.Release(ctx, tenantID, reservationID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ConfirmReservation")
	defer span.End()

	tenantID := chi.URLParam(r, "tenantID")
	reservationID := chi.URLParam(r, "reservationID")
	if err := h.engine.Confirm(ctx, tenantID, reservationID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bulkReleaseReq struct {
	ReservationIDs []string `json:"reservationIds"`
}

func (h *Handler) bulkRelease(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "BulkRelease")
	defer span.End()

	tenantID := chi.URLParam(r, "tenantID")
	var req bulkReleaseReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	released := h.engine.BulkRelease(ctx, tenantID, req.ReservationIDs)
	h.writeJSON(w, http.StatusOK, map[string]int{"released": released})
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	variantID := chi.URLParam(r, "variantID")
	available, err := h.queries.AvailableStock(r.Context(), tenantID, variantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"available": available})
}

func (h *Handler) activeReservations(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	page := queryInt(r, "page", 1)
	size := queryInt(r, "size", 0)

	p, err := h.queries.ActiveReservations(r.Context(), tenantID, page, size)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]reservationResp, 0, len(p.Items))
	for _, res := range p.Items {
		items = append(items, toResp(res))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"items": items,
		"page":  p.Page,
		"size":  p.Size,
		"total": p.Total,
	})
}

func (h *Handler) staleReservations(w http.ResponseWriter, r *http.Request) {
	olderThan := time.Duration(queryInt(r, "olderThanMinutes", 60)) * time.Minute
	stale, err := h.queries.StaleReservations(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]reservationResp, 0, len(stale))
	for _, res := range stale {
		items = append(items, toResp(res))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	stats, err := h.queries.Stats(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{
		"activeCount":    stats.ActiveCount,
		"staleCount":     stats.StaleCount,
		"veryStaleCount": stats.VeryStaleCount,
	})
}

func (h *Handler) cleanupExpired(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CleanupExpired")
	defer span.End()

	n, err := h.engine.CleanupExpired(ctx)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the domain taxonomy to status codes. Tenant mismatches are
// reported as not-found so one tenant cannot probe another's reservations.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrVariantNotFound),
		errors.Is(err, domain.ErrReservationNotFound),
		errors.Is(err, domain.ErrTenantMismatch):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrAlreadyTerminal):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		w.Header().Set("Retry-After", "1")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
