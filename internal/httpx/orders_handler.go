package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/checkout"
	"github.com/ariefcatur/go-realtime-pos/internal/lifecycle"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/realtime"
	"github.com/ariefcatur/go-realtime-pos/internal/redisx"
)

// HeaderReplayed is set on a settlement response that returned an order
// created by an earlier submission with the same idempotency key.
const HeaderReplayed = "X-Idempotent-Replay"

const statusLookupTimeout = 5 * time.Second

// StatusCache is the read-through cache behind GET /orders/{id}/status.
type StatusCache interface {
	Get(ctx context.Context, orderID string) (redisx.StatusEntry, bool, error)
	Put(ctx context.Context, orderID, storeID string, s orders.Status, updatedAt time.Time) error
}

type OrdersHandler struct {
	Store     orders.Store
	Checkout  *checkout.Service
	Lifecycle *lifecycle.Service
	Stream    *realtime.Stream
	Cache     StatusCache // optional
	Timeout   time.Duration

	misses singleflight.Group
}

func (h *OrdersHandler) Register(r chi.Router) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	r.With(StreamIdentity).Get("/orders/events", h.events)

	r.Group(func(r chi.Router) {
		r.Use(Identity, middleware.Timeout(timeout))
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Patch("/orders/{id}/status", h.updateStatus)
		r.Patch("/orders/{id}/payment", h.updatePayment)
		r.Post("/pricing/quote", h.quote)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req checkout.Request
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	req.TraceID = middleware.GetReqID(r.Context())

	res, err := h.Checkout.Settle(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Replayed {
		w.Header().Set(HeaderReplayed, "true")
		writeJSON(w, http.StatusOK, res.Order)
		return
	}
	writeJSON(w, http.StatusCreated, res.Order)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	q := r.URL.Query()

	f := orders.OrderFilter{StoreID: firstOf(q.Get("storeId"), actor.StoreID), Limit: orders.DefaultListLimit}
	if f.StoreID == "" {
		writeError(w, r, apperr.Validation("storeId is required", apperr.FieldError{Field: "storeId", Message: "is required"}))
		return
	}
	if !actor.HasStoreAccess(f.StoreID) {
		writeError(w, r, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store"))
		return
	}
	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.ToUpper(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		st := orders.Status(raw)
		if !st.Valid() {
			writeError(w, r, apperr.Validation("unknown status "+raw, apperr.FieldError{Field: "status", Message: "must be one of NEW IN_PROGRESS READY COMPLETED VOIDED REFUNDED"}))
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > orders.DefaultListLimit {
			writeError(w, r, apperr.Validation("invalid limit", apperr.FieldError{Field: "limit", Message: "must be between 1 and 150"}))
			return
		}
		f.Limit = n
	}

	list, err := h.Store.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	o, err := h.loadOrder(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus serves from the cache when possible. Concurrent misses for
// one order share a single store read, which also refills the cache.
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, _ := ActorFrom(ctx)
	id := chi.URLParam(r, "id")

	if h.Cache != nil {
		e, ok, err := h.Cache.Get(ctx, id)
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("status cache read failed")
		}
		if ok {
			if !actor.HasStoreAccess(e.StoreID) {
				writeError(w, r, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this order"))
				return
			}
			writeJSON(w, http.StatusOK, e)
			return
		}
	}

	// The lookup is shared by every caller waiting on this id, so it must not
	// inherit the cancellation of whichever caller started it.
	v, err, _ := h.misses.Do(id, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusLookupTimeout)
		defer cancel()
		o, err := h.Store.GetOrder(lctx, id)
		if err != nil {
			return nil, err
		}
		e := redisx.StatusEntry{OrderID: o.ID, StoreID: o.StoreID, Status: o.Status, UpdatedAt: o.UpdatedAt}
		if h.Cache != nil {
			if err := h.Cache.Put(lctx, o.ID, o.StoreID, o.Status, o.UpdatedAt); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("order_id", id).Msg("status cache write failed")
			}
		}
		return e, nil
	})
	if errors.Is(err, orders.ErrNotFound) {
		writeError(w, r, apperr.NotFound(apperr.CodeOrderNotFound, "order not found"))
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	e := v.(redisx.StatusEntry)
	if !actor.HasStoreAccess(e.StoreID) {
		writeError(w, r, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this order"))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req lifecycle.TransitionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.OrderID = chi.URLParam(r, "id")
	req.TraceID = middleware.GetReqID(r.Context())

	o, err := h.Lifecycle.Transition(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updatePayment(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req lifecycle.PaymentMethodRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	req.OrderID = chi.URLParam(r, "id")

	o, err := h.Lifecycle.UpdatePaymentMethod(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) quote(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	var req checkout.QuoteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.StoreID == "" {
		req.StoreID = actor.StoreID
	}
	q, err := h.Checkout.Quote(r.Context(), actor, req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (h *OrdersHandler) events(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	h.Stream.Serve(w, r, actor.HasStoreAccess)
}

func (h *OrdersHandler) loadOrder(ctx context.Context, actor orders.Actor, id string) (*orders.Order, error) {
	o, err := h.Store.GetOrder(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	if !actor.HasStoreAccess(o.StoreID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this order")
	}
	return o, nil
}
