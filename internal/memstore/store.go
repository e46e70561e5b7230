// Package memstore is an in-memory orders.Store. Transactions are serialised
// behind one mutex and rolled back through an undo log.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

type Store struct {
	mu sync.Mutex

	products  map[string]*orders.Product
	registers map[string]orders.Register
	customers map[string]orders.Customer
	settings  map[string]orders.StoreSettings

	orders     map[string]*orders.Order
	orderSeq   []string
	byNumber   map[string]string
	byExternal map[string]string

	shifts    map[string]*orders.Shift
	shiftSeq  []string
	movements []orders.CashMovement

	refundVoids []orders.RefundVoid
	audit       []orders.AuditLog
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		products:   map[string]*orders.Product{},
		registers:  map[string]orders.Register{},
		customers:  map[string]orders.Customer{},
		settings:   map[string]orders.StoreSettings{},
		orders:     map[string]*orders.Order{},
		byNumber:   map[string]string{},
		byExternal: map[string]string{},
		shifts:     map[string]*orders.Shift{},
	}
}

// ---- seeding ----

func (s *Store) PutProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

func (s *Store) PutRegister(r orders.Register) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registers[r.ID] = r
}

func (s *Store) PutCustomer(c orders.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = c
}

func (s *Store) PutStoreSettings(st orders.StoreSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[st.StoreID] = st
}

func (s *Store) PutShift(sh orders.Shift) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.shifts[sh.ID]; !ok {
		s.shiftSeq = append(s.shiftSeq, sh.ID)
	}
	s.shifts[sh.ID] = cloneShift(&sh)
}

// ---- inspection ----

func (s *Store) Product(id string) (orders.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.Product{}, false
	}
	return *p, true
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) AuditLogs() []orders.AuditLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.AuditLog(nil), s.audit...)
}

func (s *Store) RefundVoids() []orders.RefundVoid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.RefundVoid(nil), s.refundVoids...)
}

func (s *Store) CashMovements() []orders.CashMovement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]orders.CashMovement(nil), s.movements...)
}

// ---- orders.Store ----

func (s *Store) InTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (s *Store) FindRegister(ctx context.Context, id string) (*orders.Register, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.registers[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &r, nil
}

func (s *Store) FindShift(ctx context.Context, id string) (*orders.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shifts[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneShift(sh), nil
}

func (s *Store) FindCustomer(ctx context.Context, id string) (*orders.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.customers[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &c, nil
}

func (s *Store) GetStoreSettings(ctx context.Context, storeID string) (*orders.StoreSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[storeID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return &st, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *Store) FindOrderByExternalID(ctx context.Context, storeID, externalID string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[externalKey(storeID, externalID)]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(s.orders[id]), nil
}

func (s *Store) ListOrders(ctx context.Context, f orders.OrderFilter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	want := map[orders.Status]bool{}
	for _, st := range f.Statuses {
		want[st] = true
	}
	limit := f.Limit
	if limit <= 0 {
		limit = orders.DefaultListLimit
	}

	var out []orders.Order
	for _, id := range s.orderSeq {
		o := s.orders[id]
		if f.StoreID != "" && o.StoreID != f.StoreID {
			continue
		}
		if len(want) > 0 && !want[o.Status] {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PlacedAt.Before(out[j].PlacedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ListShifts(ctx context.Context, f orders.ShiftFilter) ([]orders.Shift, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := f.Limit
	if limit <= 0 {
		limit = 30
	}
	var out []orders.Shift
	for _, id := range s.shiftSeq {
		sh := s.shifts[id]
		if f.StoreID != "" && sh.StoreID != f.StoreID {
			continue
		}
		out = append(out, *cloneShift(sh))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OpenedAt.After(out[j].OpenedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) StockLevels(ctx context.Context, productIDs []string) ([]orders.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.StockLevel, 0, len(productIDs))
	for _, id := range productIDs {
		if p, ok := s.products[id]; ok {
			out = append(out, orders.StockLevel{ProductID: p.ID, Name: p.Name, Stock: p.Stock})
		}
	}
	return out, nil
}

// ---- tx ----

// memTx runs with Store.mu held. Every write pushes its inverse onto undo.
type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error) {
	p, ok := t.s.products[productID]
	if !ok || p.StoreID != storeID || !p.IsAvailable || p.Stock < qty {
		return false, nil
	}
	p.Stock -= qty
	t.undo = append(t.undo, func() { p.Stock += qty })
	return true, nil
}

func (t *memTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	if _, ok := t.s.byNumber[o.OrderNumber]; ok {
		return orders.ErrDuplicateOrderNumber
	}
	if o.ExternalID != "" {
		if _, ok := t.s.byExternal[externalKey(o.StoreID, o.ExternalID)]; ok {
			return orders.ErrDuplicateExternalID
		}
	}
	c := cloneOrder(o)
	t.s.orders[c.ID] = c
	t.s.orderSeq = append(t.s.orderSeq, c.ID)
	t.s.byNumber[c.OrderNumber] = c.ID
	if c.ExternalID != "" {
		t.s.byExternal[externalKey(c.StoreID, c.ExternalID)] = c.ID
	}
	t.undo = append(t.undo, func() {
		delete(t.s.orders, c.ID)
		t.s.orderSeq = t.s.orderSeq[:len(t.s.orderSeq)-1]
		delete(t.s.byNumber, c.OrderNumber)
		if c.ExternalID != "" {
			delete(t.s.byExternal, externalKey(c.StoreID, c.ExternalID))
		}
	})
	return nil
}

func (t *memTx) GetOrderForUpdate(ctx context.Context, id string) (*orders.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, c orders.StatusChange) (bool, error) {
	o, ok := t.s.orders[c.OrderID]
	if !ok || o.Status != c.From {
		return false, nil
	}
	prev := *o
	o.Status = c.To
	o.UpdatedAt = c.At
	if o.ReadyAt == nil && c.ReadyAt != nil {
		o.ReadyAt = timePtr(*c.ReadyAt)
	}
	if o.CompletedAt == nil && c.CompletedAt != nil {
		o.CompletedAt = timePtr(*c.CompletedAt)
	}
	t.undo = append(t.undo, func() {
		o.Status, o.UpdatedAt = prev.Status, prev.UpdatedAt
		o.ReadyAt, o.CompletedAt = prev.ReadyAt, prev.CompletedAt
	})
	return true, nil
}

func (t *memTx) UpdateItemStatus(ctx context.Context, orderID string, itemIDs []string, st orders.ItemStatus) (int, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return 0, orders.ErrNotFound
	}
	target := map[string]bool{}
	for _, id := range itemIDs {
		target[id] = true
	}
	n := 0
	for i := range o.Items {
		it := &o.Items[i]
		if len(target) > 0 && !target[it.ID] {
			continue
		}
		prev := it.Status
		it.Status = st
		t.undo = append(t.undo, func() { it.Status = prev })
		n++
	}
	return n, nil
}

func (t *memTx) UpdatePaymentMethod(ctx context.Context, orderID string, m orders.PaymentMethod) (int, error) {
	o, ok := t.s.orders[orderID]
	if !ok {
		return 0, orders.ErrNotFound
	}
	for i := range o.Payments {
		p := &o.Payments[i]
		prev := p.Method
		p.Method = m
		t.undo = append(t.undo, func() { p.Method = prev })
	}
	return len(o.Payments), nil
}

func (t *memTx) InsertRefundVoid(ctx context.Context, rv *orders.RefundVoid) error {
	t.s.refundVoids = append(t.s.refundVoids, *rv)
	t.undo = append(t.undo, func() { t.s.refundVoids = t.s.refundVoids[:len(t.s.refundVoids)-1] })
	return nil
}

func (t *memTx) InsertAuditLog(ctx context.Context, a *orders.AuditLog) error {
	t.s.audit = append(t.s.audit, *a)
	t.undo = append(t.undo, func() { t.s.audit = t.s.audit[:len(t.s.audit)-1] })
	return nil
}

func (t *memTx) FindOpenShift(ctx context.Context, registerID string) (*orders.Shift, error) {
	for _, id := range t.s.shiftSeq {
		sh := t.s.shifts[id]
		if sh.RegisterID == registerID && sh.Status == orders.ShiftOpen {
			return cloneShift(sh), nil
		}
	}
	return nil, orders.ErrNotFound
}

func (t *memTx) GetShiftForUpdate(ctx context.Context, id string) (*orders.Shift, error) {
	sh, ok := t.s.shifts[id]
	if !ok {
		return nil, orders.ErrNotFound
	}
	return cloneShift(sh), nil
}

func (t *memTx) ListOpenShiftsByUser(ctx context.Context, userID string) ([]orders.Shift, error) {
	var out []orders.Shift
	for _, id := range t.s.shiftSeq {
		sh := t.s.shifts[id]
		if sh.UserID == userID && sh.Status == orders.ShiftOpen {
			out = append(out, *cloneShift(sh))
		}
	}
	return out, nil
}

func (t *memTx) InsertShift(ctx context.Context, sh *orders.Shift) error {
	c := cloneShift(sh)
	t.s.shifts[c.ID] = c
	t.s.shiftSeq = append(t.s.shiftSeq, c.ID)
	t.undo = append(t.undo, func() {
		delete(t.s.shifts, c.ID)
		t.s.shiftSeq = t.s.shiftSeq[:len(t.s.shiftSeq)-1]
	})
	return nil
}

func (t *memTx) UpdateShift(ctx context.Context, sh *orders.Shift) error {
	cur, ok := t.s.shifts[sh.ID]
	if !ok {
		return orders.ErrNotFound
	}
	t.s.shifts[sh.ID] = cloneShift(sh)
	t.undo = append(t.undo, func() { t.s.shifts[sh.ID] = cur })
	return nil
}

func (t *memTx) InsertCashMovement(ctx context.Context, m *orders.CashMovement) error {
	t.s.movements = append(t.s.movements, *m)
	t.undo = append(t.undo, func() { t.s.movements = t.s.movements[:len(t.s.movements)-1] })
	return nil
}

func (t *memTx) CashPaymentsTotal(ctx context.Context, shiftID string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, o := range t.s.orders {
		for _, p := range o.Payments {
			if p.ShiftID == shiftID && p.Method == orders.PaymentCash {
				total = total.Add(p.Amount)
			}
		}
	}
	return total, nil
}

// ---- copies ----

func cloneOrder(o *orders.Order) *orders.Order {
	c := *o
	c.Items = make([]orders.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.Modifiers = append([]orders.OrderItemModifier(nil), it.Modifiers...)
		c.Items[i] = it
	}
	c.Payments = append([]orders.Payment(nil), o.Payments...)
	if o.ReadyAt != nil {
		c.ReadyAt = timePtr(*o.ReadyAt)
	}
	if o.CompletedAt != nil {
		c.CompletedAt = timePtr(*o.CompletedAt)
	}
	return &c
}

func cloneShift(sh *orders.Shift) *orders.Shift {
	c := *sh
	if sh.ExpectedCash != nil {
		v := *sh.ExpectedCash
		c.ExpectedCash = &v
	}
	if sh.ActualCash != nil {
		v := *sh.ActualCash
		c.ActualCash = &v
	}
	if sh.ClosedAt != nil {
		c.ClosedAt = timePtr(*sh.ClosedAt)
	}
	return &c
}

func timePtr(t time.Time) *time.Time { return &t }

// externalKey mirrors the (store_id, external_id) unique index.
func externalKey(storeID, externalID string) string { return storeID + "\x00" + externalID }
