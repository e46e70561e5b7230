package orders

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	ErrDuplicateExternalID  = errors.New("duplicate external id")
)

const DefaultListLimit = 150

type OrderFilter struct {
	StoreID  string
	Statuses []Status
	Limit    int
}

type ShiftFilter struct {
	StoreID string
	Limit   int
}

// StatusChange is a compare-and-swap on an order's status. It applies only
// while the stored status still equals From.
type StatusChange struct {
	OrderID     string
	From        Status
	To          Status
	ReadyAt     *time.Time
	CompletedAt *time.Time
	At          time.Time
}

// Tx is a unit of work. Nothing written through it is visible to other
// readers until the enclosing InTx returns nil.
type Tx interface {
	// DecrementStock takes qty from an available product only if at least qty
	// remains. It reports whether the row matched.
	DecrementStock(ctx context.Context, storeID, productID string, qty int) (bool, error)
	InsertOrder(ctx context.Context, o *Order) error
	GetOrderForUpdate(ctx context.Context, id string) (*Order, error)
	UpdateOrderStatus(ctx context.Context, c StatusChange) (bool, error)
	// UpdateItemStatus sets status on the given items, or on every item of the
	// order when itemIDs is empty. It returns the number of items changed.
	UpdateItemStatus(ctx context.Context, orderID string, itemIDs []string, s ItemStatus) (int, error)
	UpdatePaymentMethod(ctx context.Context, orderID string, m PaymentMethod) (int, error)
	InsertRefundVoid(ctx context.Context, rv *RefundVoid) error
	InsertAuditLog(ctx context.Context, a *AuditLog) error

	FindOpenShift(ctx context.Context, registerID string) (*Shift, error)
	GetShiftForUpdate(ctx context.Context, id string) (*Shift, error)
	ListOpenShiftsByUser(ctx context.Context, userID string) ([]Shift, error)
	InsertShift(ctx context.Context, s *Shift) error
	UpdateShift(ctx context.Context, s *Shift) error
	InsertCashMovement(ctx context.Context, m *CashMovement) error
	CashPaymentsTotal(ctx context.Context, shiftID string) (decimal.Decimal, error)
}

// Store is the store of record. Lookups return ErrNotFound when the row does
// not exist.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error

	FindRegister(ctx context.Context, id string) (*Register, error)
	FindShift(ctx context.Context, id string) (*Shift, error)
	FindCustomer(ctx context.Context, id string) (*Customer, error)
	GetStoreSettings(ctx context.Context, storeID string) (*StoreSettings, error)

	GetOrder(ctx context.Context, id string) (*Order, error)
	FindOrderByExternalID(ctx context.Context, storeID, externalID string) (*Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	ListShifts(ctx context.Context, f ShiftFilter) ([]Shift, error)
	StockLevels(ctx context.Context, productIDs []string) ([]StockLevel, error)
}
