// Package checkout settles a finalized cart into an immutable order.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/money"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/pricing"
	"github.com/ariefcatur/go-realtime-pos/internal/validate"
)

// IdempotencyCache maps an idempotency key to the order it created. It is a
// fast path only; the store's unique external id is authoritative.
type IdempotencyCache interface {
	Lookup(ctx context.Context, key string) (orderID string, ok bool, err error)
	Remember(ctx context.Context, key, orderID string) error
}

type Publisher interface {
	Publish(ev orders.Envelope)
}

type Config struct {
	Producer      string        // instance name stamped on published events
	Timeout       time.Duration // upper bound for one settlement
	StrictPricing bool          // recompute totals from store rates
}

type Result struct {
	Order    *orders.Order
	Replayed bool // an earlier submission with the same key created Order
}

type Service struct {
	store     orders.Store
	pub       Publisher
	idem      IdempotencyCache
	log       zerolog.Logger
	cfg       Config
	now       func() time.Time
	newNumber func(time.Time) string
}

type Option func(*Service)

func WithIdempotency(c IdempotencyCache) Option { return func(s *Service) { s.idem = c } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithNumberFunc(fn func(time.Time) string) Option {
	return func(s *Service) { s.newNumber = fn }
}

func New(store orders.Store, pub Publisher, log zerolog.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		store:     store,
		pub:       pub,
		log:       log.With().Str("component", "checkout").Logger(),
		cfg:       cfg,
		now:       time.Now,
		newNumber: orders.NewOrderNumber,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Settle validates req and, in one transaction, takes stock and writes the
// order with its payments and audit entries. Either everything is written or
// nothing is.
func (s *Service) Settle(ctx context.Context, actor orders.Actor, req Request) (*Result, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.CanCheckout() {
		return nil, apperr.Forbidden(apperr.CodeRoleForbidden, "your role cannot settle orders")
	}
	if !actor.HasStoreAccess(req.StoreID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}

	if req.IdempotencyKey != "" {
		if o, err := s.replay(ctx, req.StoreID, req.IdempotencyKey); err != nil {
			return nil, err
		} else if o != nil {
			return &Result{Order: o, Replayed: true}, nil
		}
	}

	if err := s.checkReferences(ctx, req); err != nil {
		return nil, err
	}
	if req.hasDiscount() && !actor.CanDiscount() {
		return nil, apperr.Forbidden(apperr.CodeDiscountForbidden, "only MANAGER or ADMIN can apply discounts")
	}
	if paid := req.paymentsTotal(); !money.Reconciles(paid, req.TotalAmount) {
		return nil, apperr.Newf(apperr.KindConflict, apperr.CodePaymentMismatch,
			"payment total %s does not match order total %s", paid.StringFixed(2), req.TotalAmount.StringFixed(2))
	}
	if s.cfg.StrictPricing {
		if err := s.checkPricing(ctx, req); err != nil {
			return nil, err
		}
	}

	order := s.buildOrder(actor, req)
	usage := req.stockUsage()

	err := s.store.InTx(ctx, func(tx orders.Tx) error {
		if err := lockOpenShift(ctx, tx, req.ShiftID); err != nil {
			return err
		}
		for _, u := range usage {
			ok, err := tx.DecrementStock(ctx, req.StoreID, u.ProductID, u.Quantity)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Newf(apperr.KindConflict, apperr.CodeInsufficientStock,
					"stock not enough for %s", u.ProductName).
					WithFields(apperr.FieldError{Field: "items", Message: u.ProductName})
			}
		}
		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		for _, a := range s.auditEntries(actor, req, order) {
			if err := tx.InsertAuditLog(ctx, a); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return s.settleFailed(ctx, req, err)
	}

	s.afterCommit(ctx, req, order)
	return &Result{Order: order}, nil
}

// replay finds the order an idempotency key already produced in storeID.
// Keys are scoped per store, so a key reused by another store never
// returns that store's order.
func (s *Service) replay(ctx context.Context, storeID, key string) (*orders.Order, error) {
	if s.idem != nil {
		id, ok, err := s.idem.Lookup(ctx, idemKey(storeID, key))
		if err != nil {
			s.log.Warn().Err(err).Str("idempotency_key", key).Msg("idempotency cache lookup failed")
		} else if ok {
			o, err := s.store.GetOrder(ctx, id)
			if err == nil && o.StoreID == storeID {
				return o, nil
			}
			if err != nil && !errors.Is(err, orders.ErrNotFound) {
				return nil, apperr.From(err)
			}
		}
	}
	o, err := s.store.FindOrderByExternalID(ctx, storeID, key)
	if errors.Is(err, orders.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.From(err)
	}
	return o, nil
}

// lockOpenShift holds the shift row until commit so a concurrent close cannot
// freeze expected cash before this order's payments land.
func lockOpenShift(ctx context.Context, tx orders.Tx, shiftID string) error {
	if shiftID == "" {
		return nil
	}
	sh, err := tx.GetShiftForUpdate(ctx, shiftID)
	if errors.Is(err, orders.ErrNotFound) {
		return apperr.Reference(apperr.CodeShiftInvalid, "shift is invalid or has changed, open a shift and resubmit")
	}
	if err != nil {
		return err
	}
	if sh.Status != orders.ShiftOpen {
		return apperr.Conflict(apperr.CodeShiftClosed, "shift is already closed")
	}
	return nil
}

func idemKey(storeID, key string) string { return storeID + ":" + key }

func (s *Service) checkReferences(ctx context.Context, req Request) error {
	reg, err := s.store.FindRegister(ctx, req.RegisterID)
	if err != nil && !errors.Is(err, orders.ErrNotFound) {
		return apperr.From(err)
	}
	if reg == nil || reg.StoreID != req.StoreID || !reg.IsActive {
		return apperr.Reference(apperr.CodeRegisterInvalid, "register is invalid or inactive, reselect the register and resubmit")
	}

	if req.ShiftID != "" {
		sh, err := s.store.FindShift(ctx, req.ShiftID)
		if err != nil && !errors.Is(err, orders.ErrNotFound) {
			return apperr.From(err)
		}
		if sh == nil || sh.StoreID != req.StoreID || sh.RegisterID != req.RegisterID {
			return apperr.Reference(apperr.CodeShiftInvalid, "shift is invalid or has changed, open a shift and resubmit")
		}
		if sh.Status != orders.ShiftOpen {
			return apperr.Conflict(apperr.CodeShiftClosed, "shift is already closed")
		}
	}

	if req.CustomerID != "" {
		c, err := s.store.FindCustomer(ctx, req.CustomerID)
		if err != nil && !errors.Is(err, orders.ErrNotFound) {
			return apperr.From(err)
		}
		if c == nil || c.StoreID != req.StoreID {
			return apperr.Reference(apperr.CodeCustomerInvalid, "customer does not belong to this store, reselect the customer")
		}
	}
	return nil
}

func (s *Service) checkPricing(ctx context.Context, req Request) error {
	rates, err := s.rates(ctx, req.StoreID)
	if err != nil {
		return err
	}
	totals := pricing.PriceCart(req.cartLines(), req.OrderDiscount, req.TipAmount, rates)
	if !money.Reconciles(totals.TotalAmount, req.TotalAmount) {
		return apperr.Newf(apperr.KindConflict, apperr.CodePricingMismatch,
			"declared total %s differs from computed total %s", req.TotalAmount.StringFixed(2), totals.TotalAmount.StringFixed(2))
	}
	return nil
}

// rates loads the store's pricing configuration. A store without settings
// prices with no tax, no service charge and no rounding.
func (s *Service) rates(ctx context.Context, storeID string) (pricing.Rates, error) {
	st, err := s.store.GetStoreSettings(ctx, storeID)
	if errors.Is(err, orders.ErrNotFound) {
		return pricing.Rates{}, nil
	}
	if err != nil {
		return pricing.Rates{}, apperr.From(err)
	}
	return pricing.Rates{TaxRate: st.TaxRate, ServiceRate: st.ServiceRate, RoundingUnit: st.RoundingUnit}, nil
}

func (s *Service) buildOrder(actor orders.Actor, req Request) *orders.Order {
	now := s.now().UTC()
	id := uuid.NewString()

	o := &orders.Order{
		ID:          id,
		OrderNumber: s.newNumber(now),
		ExternalID:  req.IdempotencyKey,
		StoreID:     req.StoreID,
		RegisterID:  req.RegisterID,
		ShiftID:     req.ShiftID,
		CashierID:   actor.UserID,
		CustomerID:  req.CustomerID,
		Notes:       req.Notes,
		Status:      orders.StatusNew,

		Subtotal:            money.Freeze(req.Subtotal),
		ItemDiscount:        money.Freeze(req.ItemDiscount),
		OrderDiscount:       money.Freeze(req.OrderDiscount),
		TaxAmount:           money.Freeze(req.TaxAmount),
		ServiceChargeAmount: money.Freeze(req.ServiceChargeAmount),
		TipAmount:           money.Freeze(req.TipAmount),
		RoundingAmount:      money.Freeze(req.RoundingAmount),
		TotalAmount:         money.Freeze(req.TotalAmount),

		PlacedAt:  now,
		UpdatedAt: now,
	}

	for _, it := range req.Items {
		item := orders.OrderItem{
			ID:          uuid.NewString(),
			OrderID:     id,
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   money.Freeze(it.UnitPrice),
			Quantity:    it.Quantity,
			Discount:    money.Freeze(it.Discount),
			LineTotal:   money.Freeze(it.LineTotal),
			Note:        it.Note,
			Status:      orders.ItemQueued,
			Modifiers:   make([]orders.OrderItemModifier, 0, len(it.Modifiers)),
		}
		for _, m := range it.Modifiers {
			item.Modifiers = append(item.Modifiers, orders.OrderItemModifier{
				ID:         uuid.NewString(),
				OptionID:   m.OptionID,
				GroupName:  m.GroupName,
				OptionName: m.OptionName,
				PriceDelta: money.Freeze(m.PriceDelta),
			})
		}
		o.Items = append(o.Items, item)
	}

	for _, p := range req.Payments {
		o.Payments = append(o.Payments, orders.Payment{
			ID:        uuid.NewString(),
			OrderID:   id,
			ShiftID:   req.ShiftID,
			Method:    p.Method,
			Amount:    money.Freeze(p.Amount),
			Reference: p.Reference,
			CreatedAt: now,
		})
	}
	return o
}

func (s *Service) auditEntries(actor orders.Actor, req Request, o *orders.Order) []*orders.AuditLog {
	out := []*orders.AuditLog{{
		ID:        uuid.NewString(),
		StoreID:   o.StoreID,
		UserID:    actor.UserID,
		OrderID:   o.ID,
		Action:    orders.AuditOrderCreated,
		Entity:    "Order",
		EntityID:  o.ID,
		Message:   fmt.Sprintf("Order %s created", o.OrderNumber),
		Metadata:  map[string]any{"totalAmount": o.TotalAmount.String(), "payments": len(o.Payments)},
		CreatedAt: o.PlacedAt,
	}}
	if req.hasDiscount() {
		out = append(out, &orders.AuditLog{
			ID:       uuid.NewString(),
			StoreID:  o.StoreID,
			UserID:   actor.UserID,
			OrderID:  o.ID,
			Action:   orders.AuditDiscountApplied,
			Entity:   "Order",
			EntityID: o.ID,
			Message:  "Discount applied during checkout",
			Metadata: map[string]any{
				"itemDiscount":  o.ItemDiscount.String(),
				"orderDiscount": o.OrderDiscount.String(),
			},
			CreatedAt: o.PlacedAt,
		})
	}
	return out
}

// settleFailed maps a rolled-back transaction onto the caller-facing error.
func (s *Service) settleFailed(ctx context.Context, req Request, err error) (*Result, error) {
	switch {
	case errors.Is(err, orders.ErrDuplicateOrderNumber):
		return nil, apperr.Wrap(apperr.KindConflict, apperr.CodeOrderNumberCollision, err,
			"order number collided, submit again").AsRetryable()
	case errors.Is(err, orders.ErrDuplicateExternalID):
		// A concurrent submission with the same key won the race.
		o, ferr := s.store.FindOrderByExternalID(ctx, req.StoreID, req.IdempotencyKey)
		if ferr != nil {
			return nil, apperr.From(ferr)
		}
		return &Result{Order: o, Replayed: true}, nil
	}
	e := apperr.From(err)
	if e.Kind == apperr.KindInternal {
		s.log.Error().Err(err).Str("store_id", req.StoreID).Msg("settlement failed")
	}
	return nil, e
}

func (s *Service) afterCommit(ctx context.Context, req Request, o *orders.Order) {
	if s.idem != nil && req.IdempotencyKey != "" {
		if err := s.idem.Remember(ctx, idemKey(req.StoreID, req.IdempotencyKey), o.ID); err != nil {
			s.log.Warn().Err(err).Str("order_id", o.ID).Msg("idempotency cache write failed")
		}
	}

	s.log.Info().
		Str("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Str("store_id", o.StoreID).
		Str("total", o.TotalAmount.String()).
		Msg("order settled")

	if s.pub == nil {
		return
	}
	ev := orders.NewEnvelope(orders.EventOrderCreated, s.cfg.Producer, req.TraceID, o.ID, o.StoreID,
		orders.OrderCreatedPayload{Order: *o})
	s.pub.Publish(ev)
}

func sortUsage(u []orders.StockUsage) {
	sort.Slice(u, func(i, j int) bool { return u[i].ProductID < u[j].ProductID })
}
