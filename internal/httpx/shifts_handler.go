package httpx

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/shifts"
)

type ShiftsHandler struct {
	Shifts  *shifts.Service
	Timeout time.Duration
}

// shiftView adds the derived variance to a closed shift.
type shiftView struct {
	orders.Shift
	Variance *decimal.Decimal `json:"variance,omitempty"`
}

func viewOf(sh orders.Shift) shiftView {
	v := shiftView{Shift: sh}
	if d, ok := sh.Variance(); ok {
		v.Variance = &d
	}
	return v
}

func (h *ShiftsHandler) Register(r chi.Router) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r.Group(func(r chi.Router) {
		r.Use(Identity, middleware.Timeout(timeout))
		r.Get("/shifts", h.list)
		r.Post("/shifts/open", h.open)
		r.Post("/shifts/close-active", h.closeActive)
		r.Post("/shifts/{id}/cash", h.cash)
		r.Post("/shifts/{id}/close", h.close)
	})
}

func (h *ShiftsHandler) open(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req shifts.OpenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.StoreID == "" {
		req.StoreID = actor.StoreID
	}
	sh, err := h.Shifts.Open(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(*sh))
}

func (h *ShiftsHandler) cash(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req shifts.CashMovementRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ShiftID = chi.URLParam(r, "id")
	sh, err := h.Shifts.RecordCashMovement(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*sh))
}

func (h *ShiftsHandler) close(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req shifts.CloseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.ShiftID = chi.URLParam(r, "id")
	sh, err := h.Shifts.Close(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*sh))
}

func (h *ShiftsHandler) closeActive(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	closed, err := h.Shifts.CloseActive(r.Context(), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]shiftView, 0, len(closed))
	for _, sh := range closed {
		out = append(out, viewOf(sh))
	}
	writeJSON(w, http.StatusOK, map[string]any{"closed": out})
}

func (h *ShiftsHandler) list(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	list, err := h.Shifts.List(r.Context(), actor, r.URL.Query().Get("storeId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]shiftView, 0, len(list))
	for _, sh := range list {
		out = append(out, viewOf(sh))
	}
	writeJSON(w, http.StatusOK, out)
}
