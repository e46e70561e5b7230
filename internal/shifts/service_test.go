package shifts

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/memstore"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

var (
	cashier = orders.Actor{UserID: "u-cashier", Role: orders.RoleCashier, StoreID: "s1"}
	manager = orders.Actor{UserID: "u-manager", Role: orders.RoleManager, StoreID: "s1"}
	barista = orders.Actor{UserID: "u-barista", Role: orders.RoleBarista, StoreID: "s1"}
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setup(t *testing.T) (*Service, *memstore.Store) {
	t.Helper()
	store := memstore.New()
	store.PutRegister(orders.Register{ID: "r1", StoreID: "s1", IsActive: true})
	store.PutRegister(orders.Register{ID: "r2", StoreID: "s1", IsActive: true})
	store.PutRegister(orders.Register{ID: "r-off", StoreID: "s1", IsActive: false})
	clock := time.Date(2026, 5, 1, 7, 0, 0, 0, time.UTC)
	svc := New(store, zerolog.Nop()).WithClock(func() time.Time { return clock })
	return svc, store
}

func addSale(t *testing.T, store *memstore.Store, id, shiftID string, pays ...orders.Payment) {
	t.Helper()
	ctx := context.Background()
	for i := range pays {
		pays[i].ShiftID = shiftID
	}
	require.NoError(t, store.InTx(ctx, func(tx orders.Tx) error {
		return tx.InsertOrder(ctx, &orders.Order{ID: id, OrderNumber: id, StoreID: "s1", Status: orders.StatusCompleted, Payments: pays})
	}))
}

func TestOpen_OnePerRegister(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	sh, err := svc.Open(ctx, cashier, OpenRequest{StoreID: "s1", RegisterID: "r1", OpeningCash: d(200000)})
	require.NoError(t, err)
	assert.Equal(t, orders.ShiftOpen, sh.Status)
	assert.Equal(t, "u-cashier", sh.UserID)

	_, err = svc.Open(ctx, manager, OpenRequest{StoreID: "s1", RegisterID: "r1"})
	assert.True(t, apperr.HasCode(err, apperr.CodeShiftAlreadyOpen))

	_, err = svc.Open(ctx, manager, OpenRequest{StoreID: "s1", RegisterID: "r2"})
	assert.NoError(t, err)

	_, err = svc.Open(ctx, manager, OpenRequest{StoreID: "s1", RegisterID: "r-off"})
	assert.True(t, apperr.HasCode(err, apperr.CodeRegisterInvalid))

	_, err = svc.Open(ctx, barista, OpenRequest{StoreID: "s1", RegisterID: "r2"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.Len(t, store.AuditLogs(), 2)
	assert.Equal(t, orders.AuditShiftOpened, store.AuditLogs()[0].Action)
}

func TestClose_ExpectedCash(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	sh, err := svc.Open(ctx, cashier, OpenRequest{StoreID: "s1", RegisterID: "r1", OpeningCash: d(200000)})
	require.NoError(t, err)

	addSale(t, store, "o1", sh.ID,
		orders.Payment{ID: "p1", Method: orders.PaymentCash, Amount: d(40000)},
		orders.Payment{ID: "p2", Method: orders.PaymentQRIS, Amount: d(32000)})
	addSale(t, store, "o2", sh.ID, orders.Payment{ID: "p3", Method: orders.PaymentCash, Amount: d(15000)})
	addSale(t, store, "o3", "another-shift", orders.Payment{ID: "p4", Method: orders.PaymentCash, Amount: d(99000)})

	_, err = svc.RecordCashMovement(ctx, cashier, CashMovementRequest{ShiftID: sh.ID, Direction: orders.CashIn, Amount: d(50000), Reason: "change float"})
	require.NoError(t, err)
	_, err = svc.RecordCashMovement(ctx, cashier, CashMovementRequest{ShiftID: sh.ID, Direction: orders.CashOut, Amount: d(20000), Reason: "ice"})
	require.NoError(t, err)
	assert.Len(t, store.CashMovements(), 2)

	closed, err := svc.Close(ctx, cashier, CloseRequest{ShiftID: sh.ID, ActualCash: d(284000)})
	require.NoError(t, err)

	// 200000 + (40000 + 15000) + 50000 - 20000
	require.NotNil(t, closed.ExpectedCash)
	assert.True(t, closed.ExpectedCash.Equal(d(285000)), closed.ExpectedCash.String())
	v, ok := closed.Variance()
	require.True(t, ok)
	assert.True(t, v.Equal(d(-1000)))
	assert.Equal(t, orders.ShiftClosed, closed.Status)
	assert.NotNil(t, closed.ClosedAt)

	_, err = svc.Close(ctx, cashier, CloseRequest{ShiftID: sh.ID, ActualCash: d(1)})
	assert.True(t, apperr.HasCode(err, apperr.CodeShiftClosed))

	_, err = svc.RecordCashMovement(ctx, cashier, CashMovementRequest{ShiftID: sh.ID, Direction: orders.CashIn, Amount: d(1)})
	assert.True(t, apperr.HasCode(err, apperr.CodeShiftClosed))

	stored, err := store.FindShift(ctx, sh.ID)
	require.NoError(t, err)
	assert.True(t, stored.ExpectedCash.Equal(d(285000)), "frozen once closed")
}

func TestCashMovement_Validation(t *testing.T) {
	svc, _ := setup(t)
	_, err := svc.RecordCashMovement(context.Background(), cashier, CashMovementRequest{ShiftID: "x", Direction: "SIDEWAYS", Amount: d(0)})
	e := apperr.From(err)
	assert.Equal(t, apperr.KindValidation, e.Kind)
	assert.Len(t, e.Fields, 2)

	_, err = svc.RecordCashMovement(context.Background(), cashier, CashMovementRequest{ShiftID: "missing", Direction: orders.CashIn, Amount: d(1)})
	assert.True(t, apperr.HasCode(err, apperr.CodeShiftNotFound))
}

func TestCloseActive(t *testing.T) {
	svc, store := setup(t)
	ctx := context.Background()

	a, err := svc.Open(ctx, cashier, OpenRequest{StoreID: "s1", RegisterID: "r1", OpeningCash: d(100000)})
	require.NoError(t, err)
	_, err = svc.Open(ctx, cashier, OpenRequest{StoreID: "s1", RegisterID: "r2", OpeningCash: d(50000)})
	require.NoError(t, err)
	addSale(t, store, "o1", a.ID, orders.Payment{ID: "p1", Method: orders.PaymentCash, Amount: d(10000)})

	closed, err := svc.CloseActive(ctx, cashier)
	require.NoError(t, err)
	require.Len(t, closed, 2)
	for _, sh := range closed {
		assert.Equal(t, orders.ShiftClosed, sh.Status)
		assert.True(t, sh.ActualCash.Equal(*sh.ExpectedCash))
	}
	assert.True(t, closed[0].ExpectedCash.Equal(d(110000)))

	again, err := svc.CloseActive(ctx, cashier)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestList_BackofficeOnly(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()
	_, err := svc.Open(ctx, cashier, OpenRequest{StoreID: "s1", RegisterID: "r1"})
	require.NoError(t, err)

	_, err = svc.List(ctx, cashier, "s1")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	list, err := svc.List(ctx, manager, "")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.List(ctx, manager, "s2")
	assert.True(t, apperr.HasCode(err, apperr.CodeStoreAccessDenied))
}
