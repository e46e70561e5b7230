package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/pricing"
)

type ModifierInput struct {
	OptionID   string          `json:"optionId" validate:"max=64"`
	GroupName  string          `json:"modifierGroupName" validate:"required,max=80"`
	OptionName string          `json:"modifierOptionName" validate:"required,max=80"`
	PriceDelta decimal.Decimal `json:"priceDelta" validate:"gte=0"`
}

type ItemInput struct {
	// ProductID is empty for open items that do not track stock.
	ProductID   string          `json:"productId" validate:"max=64"`
	ProductName string          `json:"productName" validate:"required,max=120"`
	UnitPrice   decimal.Decimal `json:"unitPrice" validate:"gte=0"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	Discount    decimal.Decimal `json:"discountAmount" validate:"gte=0"`
	LineTotal   decimal.Decimal `json:"lineTotal" validate:"gte=0"`
	Note        string          `json:"note" validate:"max=250"`
	Modifiers   []ModifierInput `json:"modifiers" validate:"dive"`
}

type PaymentInput struct {
	Method    orders.PaymentMethod `json:"method" validate:"required,oneof=CASH CARD QRIS EWALLET"`
	Amount    decimal.Decimal      `json:"amount" validate:"gt=0"`
	Reference string               `json:"reference" validate:"max=120"`
}

// Request is a finalized cart with its declared totals and payment split.
type Request struct {
	IdempotencyKey string `json:"idempotencyKey" validate:"max=100"`
	StoreID        string `json:"storeId" validate:"required"`
	RegisterID     string `json:"registerId" validate:"required"`
	ShiftID        string `json:"shiftId"`
	CustomerID     string `json:"customerId"`
	Notes          string `json:"notes" validate:"max=250"`

	Subtotal            decimal.Decimal `json:"subtotal" validate:"gte=0"`
	ItemDiscount        decimal.Decimal `json:"itemDiscount" validate:"gte=0"`
	OrderDiscount       decimal.Decimal `json:"orderDiscount" validate:"gte=0"`
	TaxAmount           decimal.Decimal `json:"taxAmount" validate:"gte=0"`
	ServiceChargeAmount decimal.Decimal `json:"serviceChargeAmount" validate:"gte=0"`
	TipAmount           decimal.Decimal `json:"tipAmount" validate:"gte=0"`
	RoundingAmount      decimal.Decimal `json:"roundingAmount"`
	TotalAmount         decimal.Decimal `json:"totalAmount" validate:"gte=0"`

	Items    []ItemInput    `json:"items" validate:"required,min=1,dive"`
	Payments []PaymentInput `json:"payments" validate:"required,min=1,dive"`

	TraceID string `json:"-"`
}

func (r *Request) hasDiscount() bool {
	if r.ItemDiscount.IsPositive() || r.OrderDiscount.IsPositive() {
		return true
	}
	for _, it := range r.Items {
		if it.Discount.IsPositive() {
			return true
		}
	}
	return false
}

func (r *Request) paymentsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, p := range r.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// cartLines turns the submitted items back into cart lines for re-pricing.
func (r *Request) cartLines() []pricing.CartLine {
	return cartLines(r.Items)
}

func cartLines(items []ItemInput) []pricing.CartLine {
	lines := make([]pricing.CartLine, 0, len(items))
	for _, it := range items {
		mods := make([]pricing.ModifierSelection, 0, len(it.Modifiers))
		for _, m := range it.Modifiers {
			mods = append(mods, pricing.ModifierSelection{
				OptionID:   m.OptionID,
				GroupName:  m.GroupName,
				OptionName: m.OptionName,
				PriceDelta: m.PriceDelta,
			})
		}
		lines = append(lines, pricing.CartLine{
			ProductID:   it.ProductID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Discount:    it.Discount,
			Note:        it.Note,
			Modifiers:   mods,
		})
	}
	return lines
}

// stockUsage sums requested quantity per product, sorted by product id so
// concurrent settlements lock rows in the same order.
func (r *Request) stockUsage() []orders.StockUsage {
	idx := map[string]int{}
	var out []orders.StockUsage
	for _, it := range r.Items {
		if it.ProductID == "" {
			continue
		}
		if i, ok := idx[it.ProductID]; ok {
			out[i].Quantity += it.Quantity
			continue
		}
		idx[it.ProductID] = len(out)
		out = append(out, orders.StockUsage{ProductID: it.ProductID, ProductName: it.ProductName, Quantity: it.Quantity})
	}
	sortUsage(out)
	return out
}
