package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash    PaymentMethod = "CASH"
	PaymentCard    PaymentMethod = "CARD"
	PaymentQRIS    PaymentMethod = "QRIS"
	PaymentEWallet PaymentMethod = "EWALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentQRIS, PaymentEWallet:
		return true
	}
	return false
}

type ItemStatus string

const (
	ItemQueued     ItemStatus = "QUEUED"
	ItemInProgress ItemStatus = "IN_PROGRESS"
	ItemReady      ItemStatus = "READY"
	ItemServed     ItemStatus = "SERVED"
	ItemCancelled  ItemStatus = "CANCELLED"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemQueued, ItemInProgress, ItemReady, ItemServed, ItemCancelled:
		return true
	}
	return false
}

type Product struct {
	ID          string
	StoreID     string
	Name        string
	Stock       int
	IsAvailable bool
	BasePrice   decimal.Decimal
}

type Register struct {
	ID       string
	StoreID  string
	Name     string
	IsActive bool
}

type Customer struct {
	ID      string
	StoreID string
	Name    string
}

// StoreSettings holds the rates a register prices carts with.
type StoreSettings struct {
	StoreID      string
	TaxRate      decimal.Decimal
	ServiceRate  decimal.Decimal
	RoundingUnit int64
}

type Order struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	ExternalID  string `json:"externalId,omitempty"` // idempotency key from the register
	StoreID     string `json:"storeId"`
	RegisterID  string `json:"registerId"`
	ShiftID     string `json:"shiftId,omitempty"`
	CashierID   string `json:"cashierId"`
	CustomerID  string `json:"customerId,omitempty"`
	Notes       string `json:"notes,omitempty"`
	Status      Status `json:"status"`

	Subtotal            decimal.Decimal `json:"subtotal"`
	ItemDiscount        decimal.Decimal `json:"itemDiscount"`
	OrderDiscount       decimal.Decimal `json:"orderDiscount"`
	TaxAmount           decimal.Decimal `json:"taxAmount"`
	ServiceChargeAmount decimal.Decimal `json:"serviceChargeAmount"`
	TipAmount           decimal.Decimal `json:"tipAmount"`
	RoundingAmount      decimal.Decimal `json:"roundingAmount"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`

	Items    []OrderItem `json:"items"`
	Payments []Payment   `json:"payments"`

	PlacedAt    time.Time  `json:"placedAt"`
	ReadyAt     *time.Time `json:"readyAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (o *Order) HasDiscount() bool {
	return o.ItemDiscount.IsPositive() || o.OrderDiscount.IsPositive()
}

type OrderItem struct {
	ID          string              `json:"id"`
	OrderID     string              `json:"orderId"`
	ProductID   string              `json:"productId,omitempty"`
	ProductName string              `json:"productName"`
	UnitPrice   decimal.Decimal     `json:"unitPrice"`
	Quantity    int                 `json:"quantity"`
	Discount    decimal.Decimal     `json:"discountAmount"`
	LineTotal   decimal.Decimal     `json:"lineTotal"`
	Note        string              `json:"note,omitempty"`
	Status      ItemStatus          `json:"status"`
	Modifiers   []OrderItemModifier `json:"modifiers"`
}

type OrderItemModifier struct {
	ID         string          `json:"id"`
	OptionID   string          `json:"optionId,omitempty"`
	GroupName  string          `json:"modifierGroupName"`
	OptionName string          `json:"modifierOptionName"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
}

type Payment struct {
	ID        string          `json:"id"`
	OrderID   string          `json:"orderId"`
	ShiftID   string          `json:"shiftId,omitempty"`
	Method    PaymentMethod   `json:"method"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

type RefundVoidType string

const (
	RefundVoidVoid   RefundVoidType = "VOID"
	RefundVoidRefund RefundVoidType = "REFUND"
)

type RefundVoid struct {
	ID          string
	OrderID     string
	Type        RefundVoidType
	Amount      decimal.Decimal
	Reason      string
	CreatedByID string
	CreatedAt   time.Time
}

type AuditAction string

const (
	AuditOrderCreated        AuditAction = "ORDER_CREATED"
	AuditDiscountApplied     AuditAction = "DISCOUNT_APPLIED"
	AuditOrderStatusUpdated  AuditAction = "ORDER_STATUS_UPDATED"
	AuditOrderVoided         AuditAction = "ORDER_VOIDED"
	AuditOrderRefunded       AuditAction = "ORDER_REFUNDED"
	AuditOrderPaymentUpdated AuditAction = "ORDER_PAYMENT_UPDATED"
	AuditShiftOpened         AuditAction = "SHIFT_OPENED"
	AuditShiftCashMovement   AuditAction = "SHIFT_CASH_MOVEMENT"
	AuditShiftClosed         AuditAction = "SHIFT_CLOSED"
)

type AuditLog struct {
	ID        string
	StoreID   string
	UserID    string
	OrderID   string
	Action    AuditAction
	Entity    string
	EntityID  string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

type Shift struct {
	ID           string           `json:"id"`
	StoreID      string           `json:"storeId"`
	RegisterID   string           `json:"registerId"`
	UserID       string           `json:"userId"`
	Status       ShiftStatus      `json:"status"`
	OpeningCash  decimal.Decimal  `json:"openingCash"`
	CashIn       decimal.Decimal  `json:"cashIn"`
	CashOut      decimal.Decimal  `json:"cashOut"`
	ExpectedCash *decimal.Decimal `json:"expectedCash,omitempty"`
	ActualCash   *decimal.Decimal `json:"actualCash,omitempty"`
	Notes        string           `json:"notes,omitempty"`
	OpenedAt     time.Time        `json:"openedAt"`
	ClosedAt     *time.Time       `json:"closedAt,omitempty"`
}

// Variance is actual minus expected cash, known only once the shift is closed.
func (s *Shift) Variance() (decimal.Decimal, bool) {
	if s.ExpectedCash == nil || s.ActualCash == nil {
		return decimal.Zero, false
	}
	return s.ActualCash.Sub(*s.ExpectedCash), true
}

type CashDirection string

const (
	CashIn  CashDirection = "IN"
	CashOut CashDirection = "OUT"
)

type CashMovement struct {
	ID        string
	ShiftID   string
	Direction CashDirection
	Amount    decimal.Decimal
	Reason    string
	UserID    string
	CreatedAt time.Time
}

// StockUsage is the total quantity a settlement takes from one product.
type StockUsage struct {
	ProductID   string
	ProductName string
	Quantity    int
}

// StockLevel is the remaining stock of a product after a sale.
type StockLevel struct {
	ProductID string
	Name      string
	Stock     int
}
