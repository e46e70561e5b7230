// Package lifecycle moves a settled order through the kitchen path and the
// void/refund branches.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/validate"
)

type Publisher interface {
	Publish(ev orders.Envelope)
}

// StatusCache mirrors an order's current status for cheap polling reads.
type StatusCache interface {
	Put(ctx context.Context, orderID, storeID string, s orders.Status, updatedAt time.Time) error
}

type TransitionRequest struct {
	OrderID    string            `json:"-" validate:"required"`
	Status     orders.Status     `json:"status" validate:"required,oneof=NEW IN_PROGRESS READY COMPLETED VOIDED REFUNDED"`
	ItemStatus orders.ItemStatus `json:"itemStatus" validate:"omitempty,oneof=QUEUED IN_PROGRESS READY SERVED CANCELLED"`
	// ItemIDs narrows ItemStatus to some items; empty means every item.
	ItemIDs []string         `json:"itemIds" validate:"omitempty,dive,required"`
	Reason  string           `json:"reason" validate:"max=200"`
	Amount  *decimal.Decimal `json:"amount" validate:"omitempty,gte=0"`
	TraceID string           `json:"-"`
}

type PaymentMethodRequest struct {
	OrderID string               `json:"-" validate:"required"`
	Method  orders.PaymentMethod `json:"method" validate:"required,oneof=CASH CARD QRIS EWALLET"`
}

type Service struct {
	store    orders.Store
	pub      Publisher
	cache    StatusCache
	log      zerolog.Logger
	producer string
	now      func() time.Time
}

type Option func(*Service)

func WithStatusCache(c StatusCache) Option { return func(s *Service) { s.cache = c } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(store orders.Store, pub Publisher, log zerolog.Logger, producer string, opts ...Option) *Service {
	s := &Service{
		store:    store,
		pub:      pub,
		log:      log.With().Str("component", "lifecycle").Logger(),
		producer: producer,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Transition applies req to the order under a row lock. The status write is
// a compare-and-swap on the status that was read, so an overlapping update
// fails with CONCURRENT_UPDATE instead of being lost.
func (s *Service) Transition(ctx context.Context, actor orders.Actor, req TransitionRequest) (*orders.Order, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.CanTransitionTo(req.Status) {
		if req.Status.IsReversal() {
			return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "only MANAGER or ADMIN can void or refund")
		}
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot update order status")
	}

	var updated *orders.Order
	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		o, err := s.loadForUpdate(ctx, tx, actor, req.OrderID)
		if err != nil {
			return err
		}
		if err := checkTransition(o, req); err != nil {
			return err
		}

		now := s.now().UTC()
		from := o.Status
		if from != req.Status {
			change := orders.StatusChange{OrderID: o.ID, From: from, To: req.Status, At: now}
			if req.Status == orders.StatusReady && o.ReadyAt == nil {
				change.ReadyAt = &now
				o.ReadyAt = &now
			}
			if req.Status == orders.StatusCompleted && o.CompletedAt == nil {
				change.CompletedAt = &now
				o.CompletedAt = &now
			}
			ok, err := tx.UpdateOrderStatus(ctx, change)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Conflict(apperr.CodeConcurrentUpdate, "order was updated by someone else, refresh and retry")
			}
			o.Status = req.Status
			o.UpdatedAt = now
		}

		if req.ItemStatus != "" {
			if _, err := tx.UpdateItemStatus(ctx, o.ID, req.ItemIDs, req.ItemStatus); err != nil {
				return err
			}
			applyItemStatus(o, req.ItemIDs, req.ItemStatus)
		}

		if req.Status.IsReversal() {
			if err := tx.InsertRefundVoid(ctx, refundVoid(actor, o, req, now)); err != nil {
				return err
			}
		}

		if err := tx.InsertAuditLog(ctx, transitionAudit(actor, o, from, req, now)); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "transition failed", req.OrderID)
	}

	s.afterTransition(ctx, updated, req)
	return updated, nil
}

// UpdatePaymentMethod rewrites the method of every payment on an order.
func (s *Service) UpdatePaymentMethod(ctx context.Context, actor orders.Actor, req PaymentMethodRequest) (*orders.Order, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.CanEditPayments() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "only MANAGER or ADMIN can edit payments")
	}

	var updated *orders.Order
	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		o, err := s.loadForUpdate(ctx, tx, actor, req.OrderID)
		if err != nil {
			return err
		}
		if o.Status.IsReversal() {
			return apperr.Newf(apperr.KindConflict, apperr.CodeOrderTerminal,
				"payments of a %s order cannot be changed", o.Status)
		}
		if len(o.Payments) == 0 {
			return apperr.Validation("order has no payments",
				apperr.FieldError{Field: "payments", Message: "is empty"})
		}

		previous := make([]string, 0, len(o.Payments))
		for _, p := range o.Payments {
			previous = append(previous, string(p.Method))
		}
		if _, err := tx.UpdatePaymentMethod(ctx, o.ID, req.Method); err != nil {
			return err
		}
		for i := range o.Payments {
			o.Payments[i].Method = req.Method
		}

		now := s.now().UTC()
		if err := tx.InsertAuditLog(ctx, &orders.AuditLog{
			ID:        uuid.NewString(),
			StoreID:   o.StoreID,
			UserID:    actor.UserID,
			OrderID:   o.ID,
			Action:    orders.AuditOrderPaymentUpdated,
			Entity:    "Order",
			EntityID:  o.ID,
			Message:   fmt.Sprintf("Payment method changed to %s", req.Method),
			Metadata:  map[string]any{"previous": previous, "method": string(req.Method)},
			CreatedAt: now,
		}); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, s.fail(err, "payment update failed", req.OrderID)
	}
	return updated, nil
}

func (s *Service) loadForUpdate(ctx context.Context, tx orders.Tx, actor orders.Actor, id string) (*orders.Order, error) {
	o, err := tx.GetOrderForUpdate(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, apperr.NotFound(apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	if !actor.HasStoreAccess(o.StoreID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}
	return o, nil
}

func checkTransition(o *orders.Order, req TransitionRequest) error {
	if o.Status.IsTerminal() {
		return apperr.Newf(apperr.KindConflict, apperr.CodeOrderTerminal, "order is already %s", o.Status)
	}
	if o.Status == req.Status {
		// Same status is only an item-level update.
		if req.ItemStatus == "" {
			return apperr.Newf(apperr.KindConflict, apperr.CodeIllegalTransition, "order is already %s", o.Status)
		}
	} else if !orders.CanTransition(o.Status, req.Status) {
		return apperr.Newf(apperr.KindConflict, apperr.CodeIllegalTransition,
			"cannot move order from %s to %s", o.Status, req.Status)
	}

	if len(req.ItemIDs) > 0 {
		known := make(map[string]bool, len(o.Items))
		for _, it := range o.Items {
			known[it.ID] = true
		}
		for i, id := range req.ItemIDs {
			if !known[id] {
				return apperr.Validation("unknown order item",
					apperr.FieldError{Field: fmt.Sprintf("itemIds[%d]", i), Message: "not an item of this order"})
			}
		}
	}
	if req.Amount != nil && req.Amount.GreaterThan(o.TotalAmount) {
		return apperr.Validation("amount exceeds order total",
			apperr.FieldError{Field: "amount", Message: "must not exceed " + o.TotalAmount.String()})
	}
	return nil
}

func applyItemStatus(o *orders.Order, ids []string, st orders.ItemStatus) {
	target := make(map[string]bool, len(ids))
	for _, id := range ids {
		target[id] = true
	}
	for i := range o.Items {
		if len(target) == 0 || target[o.Items[i].ID] {
			o.Items[i].Status = st
		}
	}
}

func refundVoid(actor orders.Actor, o *orders.Order, req TransitionRequest, now time.Time) *orders.RefundVoid {
	typ := orders.RefundVoidRefund
	if req.Status == orders.StatusVoided {
		typ = orders.RefundVoidVoid
	}
	amount := o.TotalAmount
	if req.Amount != nil {
		amount = req.Amount.Round(2)
	}
	reason := req.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s by %s", req.Status, actor.Role)
	}
	return &orders.RefundVoid{
		ID:          uuid.NewString(),
		OrderID:     o.ID,
		Type:        typ,
		Amount:      amount,
		Reason:      reason,
		CreatedByID: actor.UserID,
		CreatedAt:   now,
	}
}

func transitionAudit(actor orders.Actor, o *orders.Order, from orders.Status, req TransitionRequest, now time.Time) *orders.AuditLog {
	action := orders.AuditOrderStatusUpdated
	switch req.Status {
	case orders.StatusVoided:
		action = orders.AuditOrderVoided
	case orders.StatusRefunded:
		action = orders.AuditOrderRefunded
	}
	msg := req.Reason
	if msg == "" {
		msg = fmt.Sprintf("Order status updated to %s", req.Status)
	}
	meta := map[string]any{"from": string(from), "to": string(req.Status)}
	if req.ItemStatus != "" {
		meta["itemStatus"] = string(req.ItemStatus)
	}
	if len(req.ItemIDs) > 0 {
		meta["itemIds"] = req.ItemIDs
	}
	return &orders.AuditLog{
		ID:        uuid.NewString(),
		StoreID:   o.StoreID,
		UserID:    actor.UserID,
		OrderID:   o.ID,
		Action:    action,
		Entity:    "Order",
		EntityID:  o.ID,
		Message:   msg,
		Metadata:  meta,
		CreatedAt: now,
	}
}

func (s *Service) fail(err error, msg, orderID string) error {
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		s.log.Error().Err(err).Str("order_id", orderID).Msg(msg)
	}
	return e
}

func (s *Service) afterTransition(ctx context.Context, o *orders.Order, req TransitionRequest) {
	if s.cache != nil {
		if err := s.cache.Put(ctx, o.ID, o.StoreID, o.Status, o.UpdatedAt); err != nil {
			s.log.Warn().Err(err).Str("order_id", o.ID).Msg("status cache write failed")
		}
	}

	s.log.Info().
		Str("order_id", o.ID).
		Str("status", string(o.Status)).
		Str("item_status", string(req.ItemStatus)).
		Msg("order transitioned")

	if s.pub == nil {
		return
	}
	s.pub.Publish(orders.NewEnvelope(orders.EventOrderUpdated, s.producer, req.TraceID, o.ID, o.StoreID,
		orders.OrderUpdatedPayload{
			OrderID:     o.ID,
			Status:      o.Status,
			ItemStatus:  req.ItemStatus,
			ReadyAt:     o.ReadyAt,
			CompletedAt: o.CompletedAt,
		}))
}
