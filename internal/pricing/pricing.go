// Package pricing turns cart lines and store rates into cart totals.
//
// Every function here is pure: the same inputs always produce the same
// totals, which lets settlement re-run the calculation and compare it with
// what the register displayed.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/money"
)

type ModifierSelection struct {
	OptionID   string          `json:"optionId,omitempty"`
	GroupName  string          `json:"modifierGroupName"`
	OptionName string          `json:"modifierOptionName"`
	PriceDelta decimal.Decimal `json:"priceDelta"`
}

type CartLine struct {
	ProductID   string              `json:"productId,omitempty"`
	ProductName string              `json:"productName"`
	UnitPrice   decimal.Decimal     `json:"unitPrice"`
	Quantity    int                 `json:"quantity"`
	Discount    decimal.Decimal     `json:"discountAmount"`
	Note        string              `json:"note,omitempty"`
	Modifiers   []ModifierSelection `json:"modifiers"`
}

// Gross is (unit price + modifier deltas) * quantity, before the line discount.
func (l CartLine) Gross() decimal.Decimal {
	unit := l.UnitPrice
	for _, m := range l.Modifiers {
		unit = unit.Add(m.PriceDelta)
	}
	return unit.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Total is max(0, gross - discount).
func (l CartLine) Total() decimal.Decimal {
	return money.ClampZero(l.Gross().Sub(money.ClampZero(l.Discount)))
}

// Rates is the store configuration applied to a cart. Tax and service rates
// are percentages (11 means 11%).
type Rates struct {
	TaxRate      decimal.Decimal `json:"taxRate"`
	ServiceRate  decimal.Decimal `json:"serviceChargeRate"`
	RoundingUnit int64           `json:"roundingUnit"`
}

type Input struct {
	Subtotal      decimal.Decimal
	ItemDiscount  decimal.Decimal
	OrderDiscount decimal.Decimal
	TipAmount     decimal.Decimal
	Rates
}

type Totals struct {
	Subtotal            decimal.Decimal `json:"subtotal"`
	ItemDiscount        decimal.Decimal `json:"itemDiscount"`
	OrderDiscount       decimal.Decimal `json:"orderDiscount"`
	DiscountedSubtotal  decimal.Decimal `json:"discountedSubtotal"`
	TaxAmount           decimal.Decimal `json:"taxAmount"`
	ServiceChargeAmount decimal.Decimal `json:"serviceChargeAmount"`
	TipAmount           decimal.Decimal `json:"tipAmount"`
	RawTotal            decimal.Decimal `json:"rawTotal"`
	RoundingAmount      decimal.Decimal `json:"roundingAmount"`
	TotalAmount         decimal.Decimal `json:"totalAmount"`
}

// Calculate computes totals from an already aggregated subtotal and item
// discount. Negative discounts, tips and rates are treated as zero.
func Calculate(in Input) Totals {
	subtotal := money.ClampZero(in.Subtotal)
	itemDiscount := money.ClampZero(in.ItemDiscount)
	orderDiscount := money.ClampZero(in.OrderDiscount)
	tip := money.ClampZero(in.TipAmount)

	discounted := money.ClampZero(subtotal.Sub(itemDiscount).Sub(orderDiscount))
	tax := money.Percent(discounted, money.ClampZero(in.TaxRate))
	service := money.Percent(discounted, money.ClampZero(in.ServiceRate))

	raw := discounted.Add(tax).Add(service).Add(tip)
	total := money.RoundToUnit(raw, in.RoundingUnit)

	return Totals{
		Subtotal:            subtotal,
		ItemDiscount:        itemDiscount,
		OrderDiscount:       orderDiscount,
		DiscountedSubtotal:  discounted,
		TaxAmount:           tax,
		ServiceChargeAmount: service,
		TipAmount:           tip,
		RawTotal:            raw,
		RoundingAmount:      total.Sub(raw),
		TotalAmount:         total,
	}
}

// PriceCart aggregates lines and runs Calculate. Subtotal is the sum of line
// totals (already net of line discounts) and ItemDiscount the sum of declared
// line discounts; Calculate subtracts ItemDiscount again, matching the totals
// the register displays.
func PriceCart(lines []CartLine, orderDiscount, tip decimal.Decimal, rates Rates) Totals {
	subtotal := money.Zero
	itemDiscount := money.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Total())
		itemDiscount = itemDiscount.Add(money.ClampZero(l.Discount))
	}
	return Calculate(Input{
		Subtotal:      subtotal,
		ItemDiscount:  itemDiscount,
		OrderDiscount: orderDiscount,
		TipAmount:     tip,
		Rates:         rates,
	})
}
