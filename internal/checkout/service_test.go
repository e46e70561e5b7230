package checkout

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/memstore"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ev orders.Envelope) { m.Called(ev) }

type mockIdem struct{ mock.Mock }

func (m *mockIdem) Lookup(ctx context.Context, key string) (string, bool, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *mockIdem) Remember(ctx context.Context, key, orderID string) error {
	return m.Called(ctx, key, orderID).Error(0)
}

var (
	cashier = orders.Actor{UserID: "u-cashier", Role: orders.RoleCashier, StoreID: "s1"}
	manager = orders.Actor{UserID: "u-manager", Role: orders.RoleManager, StoreID: "s1"}
	barista = orders.Actor{UserID: "u-barista", Role: orders.RoleBarista, StoreID: "s1"}
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newStore() *memstore.Store {
	s := memstore.New()
	s.PutRegister(orders.Register{ID: "r1", StoreID: "s1", Name: "Front", IsActive: true})
	s.PutRegister(orders.Register{ID: "r-off", StoreID: "s1", Name: "Back", IsActive: false})
	s.PutShift(orders.Shift{ID: "sh1", StoreID: "s1", RegisterID: "r1", UserID: "u-cashier", Status: orders.ShiftOpen})
	s.PutShift(orders.Shift{ID: "sh-other", StoreID: "s1", RegisterID: "r2", Status: orders.ShiftOpen})
	s.PutCustomer(orders.Customer{ID: "c1", StoreID: "s1", Name: "Ani"})
	s.PutCustomer(orders.Customer{ID: "c-far", StoreID: "s9", Name: "Budi"})
	s.PutProduct(orders.Product{ID: "p-latte", StoreID: "s1", Name: "Latte", Stock: 10, IsAvailable: true})
	s.PutProduct(orders.Product{ID: "p-croissant", StoreID: "s1", Name: "Croissant", Stock: 2, IsAvailable: true})
	s.PutStoreSettings(orders.StoreSettings{StoreID: "s1", TaxRate: d(11), ServiceRate: d(5), RoundingUnit: 100})
	return s
}

// request for two lattes at 36000 paid as CASH 40000 + QRIS 32000.
func baseRequest() Request {
	return Request{
		StoreID:     "s1",
		RegisterID:  "r1",
		ShiftID:     "sh1",
		Subtotal:    d(72000),
		TotalAmount: d(72000),
		Items: []ItemInput{{
			ProductID: "p-latte", ProductName: "Latte", UnitPrice: d(36000), Quantity: 2, LineTotal: d(72000),
		}},
		Payments: []PaymentInput{
			{Method: orders.PaymentCash, Amount: d(40000)},
			{Method: orders.PaymentQRIS, Amount: d(32000)},
		},
	}
}

func newService(store orders.Store, pub Publisher, opts ...Option) *Service {
	return New(store, pub, zerolog.Nop(), Config{Producer: "test"}, opts...)
}

func stockOf(t *testing.T, s *memstore.Store, id string) int {
	t.Helper()
	p, ok := s.Product(id)
	require.True(t, ok)
	return p.Stock
}

func TestSettle_SplitPaymentExactMatch(t *testing.T) {
	store := newStore()
	pub := new(mockPublisher)
	pub.On("Publish", mock.MatchedBy(func(ev orders.Envelope) bool {
		return ev.EventType == orders.EventOrderCreated && ev.StoreID == "s1"
	})).Once()

	res, err := newService(store, pub).Settle(context.Background(), cashier, baseRequest())
	require.NoError(t, err)
	assert.False(t, res.Replayed)

	o := res.Order
	assert.Equal(t, orders.StatusNew, o.Status)
	assert.Regexp(t, `^SVX-\d{6}-[0-9A-F]{4}$`, o.OrderNumber)
	assert.Equal(t, "u-cashier", o.CashierID)
	assert.True(t, o.TotalAmount.Equal(d(72000)))
	require.Len(t, o.Payments, 2)
	assert.Equal(t, "sh1", o.Payments[0].ShiftID)
	require.Len(t, o.Items, 1)
	assert.Equal(t, orders.ItemQueued, o.Items[0].Status)

	assert.Equal(t, 8, stockOf(t, store, "p-latte"))

	stored, err := store.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, stored.OrderNumber)

	logs := store.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, orders.AuditOrderCreated, logs[0].Action)
	pub.AssertExpectations(t)
}

func TestSettle_InsufficientStockNamesProduct(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.Items = []ItemInput{
		{ProductID: "p-latte", ProductName: "Latte", UnitPrice: d(24000), Quantity: 1, LineTotal: d(24000)},
		{ProductID: "p-croissant", ProductName: "Croissant", UnitPrice: d(16000), Quantity: 3, LineTotal: d(48000)},
	}

	_, err := newService(store, nil).Settle(context.Background(), cashier, req)
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock))
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.False(t, apperr.IsRetryable(err))
	assert.Contains(t, err.Error(), "Croissant")

	assert.Equal(t, 10, stockOf(t, store, "p-latte"))
	assert.Equal(t, 2, stockOf(t, store, "p-croissant"))
	assert.Zero(t, store.OrderCount())
	assert.Empty(t, store.AuditLogs())
}

func TestSettle_AtomicAcrossProducts(t *testing.T) {
	store := newStore()
	store.PutProduct(orders.Product{ID: "p-zz-sold-out", StoreID: "s1", Name: "Cheesecake", Stock: 0, IsAvailable: true})
	req := baseRequest()
	req.Items = []ItemInput{
		{ProductID: "p-latte", ProductName: "Latte", UnitPrice: d(24000), Quantity: 1, LineTotal: d(24000)},
		{ProductID: "p-croissant", ProductName: "Croissant", UnitPrice: d(16000), Quantity: 2, LineTotal: d(32000)},
		{ProductID: "p-zz-sold-out", ProductName: "Cheesecake", UnitPrice: d(16000), Quantity: 1, LineTotal: d(16000)},
	}

	_, err := newService(store, nil).Settle(context.Background(), cashier, req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cheesecake")

	assert.Equal(t, 10, stockOf(t, store, "p-latte"))
	assert.Equal(t, 2, stockOf(t, store, "p-croissant"))
	assert.Zero(t, store.OrderCount())
}

func TestSettle_SumsQuantityPerProduct(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.Items = []ItemInput{
		{ProductID: "p-croissant", ProductName: "Croissant", UnitPrice: d(36000), Quantity: 1, LineTotal: d(36000)},
		{ProductID: "p-croissant", ProductName: "Croissant", UnitPrice: d(36000), Quantity: 2, LineTotal: d(36000), Note: "warm"},
	}
	_, err := newService(store, nil).Settle(context.Background(), cashier, req)
	assert.True(t, apperr.HasCode(err, apperr.CodeInsufficientStock))
	assert.Equal(t, 2, stockOf(t, store, "p-croissant"))
}

func TestSettle_CashierDiscountForbidden(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.OrderDiscount = d(5000)
	req.TotalAmount = d(67000)
	req.Payments = []PaymentInput{{Method: orders.PaymentCash, Amount: d(67000)}}

	_, err := newService(store, nil).Settle(context.Background(), cashier, req)
	require.Error(t, err)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.True(t, apperr.HasCode(err, apperr.CodeDiscountForbidden))
	assert.Zero(t, store.OrderCount())
	assert.Equal(t, 10, stockOf(t, store, "p-latte"))
}

func TestSettle_ItemDiscountForbiddenForBarista(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.Items[0].Discount = d(1000)

	_, err := newService(store, nil).Settle(context.Background(), barista, req)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestSettle_ManagerDiscountAudited(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.OrderDiscount = d(5000)
	req.TotalAmount = d(67000)
	req.Payments = []PaymentInput{{Method: orders.PaymentCard, Amount: d(67000)}}

	res, err := newService(store, nil).Settle(context.Background(), manager, req)
	require.NoError(t, err)
	assert.True(t, res.Order.HasDiscount())

	logs := store.AuditLogs()
	require.Len(t, logs, 2)
	assert.Equal(t, orders.AuditDiscountApplied, logs[1].Action)
	assert.Equal(t, "5000", logs[1].Metadata["orderDiscount"])
}

func TestSettle_PaymentReconciliation(t *testing.T) {
	cases := []struct {
		name string
		paid decimal.Decimal
		ok   bool
	}{
		{"exact", d(72000), true},
		{"one unit short", d(71999), true},
		{"one unit over", d(72001), true},
		{"just past epsilon", decimal.RequireFromString("71998.99"), false},
		{"far off", d(70000), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore()
			req := baseRequest()
			req.Payments = []PaymentInput{{Method: orders.PaymentCash, Amount: tc.paid}}

			_, err := newService(store, nil).Settle(context.Background(), cashier, req)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			assert.True(t, apperr.HasCode(err, apperr.CodePaymentMismatch))
			assert.Zero(t, store.OrderCount())
		})
	}
}

func TestSettle_References(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Request)
		code   string
	}{
		{"unknown register", func(r *Request) { r.RegisterID = "nope" }, apperr.CodeRegisterInvalid},
		{"inactive register", func(r *Request) { r.RegisterID = "r-off"; r.ShiftID = "" }, apperr.CodeRegisterInvalid},
		{"shift of another register", func(r *Request) { r.ShiftID = "sh-other" }, apperr.CodeShiftInvalid},
		{"unknown shift", func(r *Request) { r.ShiftID = "missing" }, apperr.CodeShiftInvalid},
		{"customer of another store", func(r *Request) { r.CustomerID = "c-far" }, apperr.CodeCustomerInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newStore()
			req := baseRequest()
			tc.mutate(&req)
			_, err := newService(store, nil).Settle(context.Background(), cashier, req)
			assert.Equal(t, apperr.KindReference, apperr.KindOf(err))
			assert.True(t, apperr.HasCode(err, tc.code))
		})
	}
}

func TestSettle_ClosedShift(t *testing.T) {
	store := newStore()
	store.PutShift(orders.Shift{ID: "sh1", StoreID: "s1", RegisterID: "r1", Status: orders.ShiftClosed})
	_, err := newService(store, nil).Settle(context.Background(), cashier, baseRequest())
	assert.True(t, apperr.HasCode(err, apperr.CodeShiftClosed))
}

func TestSettle_RoleAndStoreGate(t *testing.T) {
	store := newStore()
	svc := newService(store, nil)

	_, err := svc.Settle(context.Background(), barista, baseRequest())
	assert.True(t, apperr.HasCode(err, apperr.CodeRoleForbidden))

	otherStore := orders.Actor{UserID: "u2", Role: orders.RoleCashier, StoreID: "s2"}
	_, err = svc.Settle(context.Background(), otherStore, baseRequest())
	assert.True(t, apperr.HasCode(err, apperr.CodeStoreAccessDenied))

	admin := orders.Actor{UserID: "root", Role: orders.RoleAdmin}
	_, err = svc.Settle(context.Background(), admin, baseRequest())
	assert.NoError(t, err)
}

func TestSettle_ValidationBeforeSideEffects(t *testing.T) {
	store := newStore()
	req := baseRequest()
	req.Items[0].Quantity = 0
	req.Payments = nil

	_, err := newService(store, nil).Settle(context.Background(), cashier, req)
	e := apperr.From(err)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.NotEmpty(t, e.Fields)
	assert.Zero(t, store.OrderCount())
}

func TestSettle_IdempotentReplay(t *testing.T) {
	store := newStore()
	idem := new(mockIdem)
	idem.On("Lookup", mock.Anything, "s1:key-1").Return("", false, nil)
	idem.On("Remember", mock.Anything, "s1:key-1", mock.AnythingOfType("string")).Return(nil).Once()

	svc := newService(store, nil, WithIdempotency(idem))
	req := baseRequest()
	req.IdempotencyKey = "key-1"

	first, err := svc.Settle(context.Background(), cashier, req)
	require.NoError(t, err)
	second, err := svc.Settle(context.Background(), cashier, req)
	require.NoError(t, err)

	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, store.OrderCount())
	assert.Equal(t, 8, stockOf(t, store, "p-latte"))
	idem.AssertExpectations(t)
}

func TestSettle_OrderNumberCollisionIsRetryable(t *testing.T) {
	store := newStore()
	fixed := func(time.Time) string { return "SVX-260101-AAAA" }
	svc := newService(store, nil, WithNumberFunc(fixed))

	_, err := svc.Settle(context.Background(), cashier, baseRequest())
	require.NoError(t, err)

	_, err = svc.Settle(context.Background(), cashier, baseRequest())
	require.Error(t, err)
	assert.True(t, apperr.HasCode(err, apperr.CodeOrderNumberCollision))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 8, stockOf(t, store, "p-latte"), "second attempt rolled back")
	assert.Equal(t, 1, store.OrderCount())
}

func TestSettle_StrictPricing(t *testing.T) {
	store := newStore()
	svc := New(store, nil, zerolog.Nop(), Config{StrictPricing: true})

	// 72000 + 11% tax + 5% service = 83520, rounded to 83500.
	req := baseRequest()
	_, err := svc.Settle(context.Background(), cashier, req)
	assert.True(t, apperr.HasCode(err, apperr.CodePricingMismatch))

	req.TaxAmount = d(7920)
	req.ServiceChargeAmount = d(3600)
	req.RoundingAmount = d(-20)
	req.TotalAmount = d(83500)
	req.Payments = []PaymentInput{{Method: orders.PaymentCash, Amount: d(83500)}}
	_, err = svc.Settle(context.Background(), cashier, req)
	assert.NoError(t, err)
}

func TestSettle_CancelledContextIsTransient(t *testing.T) {
	store := newStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newService(store, nil).Settle(ctx, cashier, baseRequest())
	require.Error(t, err)
	assert.Equal(t, apperr.KindTransient, apperr.KindOf(err))
	assert.True(t, apperr.IsRetryable(err))
	assert.Equal(t, 10, stockOf(t, store, "p-latte"))
}

func TestSettle_StrictPricingWithLineDiscount(t *testing.T) {
	store := newStore()
	svc := New(store, nil, zerolog.Nop(), Config{StrictPricing: true})

	// subtotal 70000 (line totals) - itemDiscount 2000 = 68000;
	// tax 7480, service 3400 -> 78880, rounded to 78900.
	req := baseRequest()
	req.Items[0].Discount = d(2000)
	req.Items[0].LineTotal = d(70000)
	req.Subtotal = d(70000)
	req.ItemDiscount = d(2000)
	req.TaxAmount = d(7480)
	req.ServiceChargeAmount = d(3400)
	req.RoundingAmount = d(20)
	req.TotalAmount = d(78900)
	req.Payments = []PaymentInput{{Method: orders.PaymentCard, Amount: d(78900)}}

	_, err := svc.Settle(context.Background(), manager, req)
	assert.NoError(t, err)
}

func openItemRequest(storeID, registerID, key string) Request {
	return Request{
		IdempotencyKey: key,
		StoreID:        storeID,
		RegisterID:     registerID,
		Subtotal:       d(10000),
		TotalAmount:    d(10000),
		Items:          []ItemInput{{ProductName: "Tea", UnitPrice: d(10000), Quantity: 1, LineTotal: d(10000)}},
		Payments:       []PaymentInput{{Method: orders.PaymentCash, Amount: d(10000)}},
	}
}

func TestSettle_IdempotencyKeyIsScopedPerStore(t *testing.T) {
	store := newStore()
	store.PutRegister(orders.Register{ID: "r9", StoreID: "s9", Name: "Kiosk", IsActive: true})
	farCashier := orders.Actor{UserID: "u-far", Role: orders.RoleCashier, StoreID: "s9"}

	first, err := newService(store, nil).Settle(context.Background(), cashier, openItemRequest("s1", "r1", "shared-key"))
	require.NoError(t, err)

	// a cache entry pointing at another store's order is ignored
	idem := new(mockIdem)
	idem.On("Lookup", mock.Anything, "s9:shared-key").Return(first.Order.ID, true, nil)
	idem.On("Remember", mock.Anything, "s9:shared-key", mock.AnythingOfType("string")).Return(nil)
	svc := newService(store, nil, WithIdempotency(idem))

	res, err := svc.Settle(context.Background(), farCashier, openItemRequest("s9", "r9", "shared-key"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, "s9", res.Order.StoreID)
	assert.NotEqual(t, first.Order.ID, res.Order.ID)
	assert.Equal(t, 2, store.OrderCount())

	again, err := svc.Settle(context.Background(), farCashier, openItemRequest("s9", "r9", "shared-key"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, res.Order.ID, again.Order.ID)
	idem.AssertExpectations(t)
}

// closingStore closes the shift right after the pre-transaction lookup saw
// it open.
type closingStore struct{ *memstore.Store }

func (c closingStore) FindShift(ctx context.Context, id string) (*orders.Shift, error) {
	sh, err := c.Store.FindShift(ctx, id)
	if err == nil {
		closed := *sh
		closed.Status = orders.ShiftClosed
		c.Store.PutShift(closed)
	}
	return sh, err
}

func TestSettle_ShiftClosedBeforeCommit(t *testing.T) {
	store := newStore()
	_, err := newService(closingStore{store}, nil).Settle(context.Background(), cashier, baseRequest())

	assert.True(t, apperr.HasCode(err, apperr.CodeShiftClosed))
	assert.Zero(t, store.OrderCount())
	assert.Equal(t, 10, stockOf(t, store, "p-latte"))
}

func TestSettle_ConcurrentCheckoutsNeverOversell(t *testing.T) {
	const buyers, stock = 12, 3
	store := newStore()
	store.PutProduct(orders.Product{ID: "p-cake", StoreID: "s1", Name: "Cake", Stock: stock, IsAvailable: true})

	var seq atomic.Int64
	numbers := func(time.Time) string { return fmt.Sprintf("SVX-260101-%04d", seq.Add(1)) }
	svc := newService(store, nil, WithNumberFunc(numbers))

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		rejected  atomic.Int64
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := baseRequest()
			req.Subtotal, req.TotalAmount = d(30000), d(30000)
			req.Items = []ItemInput{{ProductID: "p-cake", ProductName: "Cake", UnitPrice: d(30000), Quantity: 1, LineTotal: d(30000)}}
			req.Payments = []PaymentInput{{Method: orders.PaymentQRIS, Amount: d(30000)}}

			_, err := svc.Settle(context.Background(), cashier, req)
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperr.HasCode(err, apperr.CodeInsufficientStock):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, stock, succeeded.Load())
	assert.EqualValues(t, buyers-stock, rejected.Load())
	assert.Equal(t, stock, store.OrderCount())
	assert.Equal(t, 0, stockOf(t, store, "p-cake"))
}
