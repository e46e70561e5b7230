package checkout

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

func TestQuote_UsesStoreRates(t *testing.T) {
	svc := newService(newStore(), nil)

	q, err := svc.Quote(context.Background(), barista, QuoteRequest{
		StoreID: "s1",
		Items: []ItemInput{
			{ProductID: "p-latte", ProductName: "Latte", UnitPrice: d(36000), Quantity: 2},
			{ProductName: "Oat milk", UnitPrice: d(5000), Quantity: 1, Discount: d(8000),
				Modifiers: []ModifierInput{{GroupName: "Size", OptionName: "Large", PriceDelta: d(2000)}}},
		},
		TipAmount: d(1000),
	})
	require.NoError(t, err)

	require.Len(t, q.Lines, 2)
	assert.True(t, q.Lines[0].LineTotal.Equal(d(72000)))
	assert.True(t, q.Lines[1].LineTotal.IsZero(), "discount larger than the line clamps to zero")
	assert.True(t, q.Subtotal.Equal(d(72000)))
	assert.True(t, q.ItemDiscount.Equal(d(8000)))
	assert.True(t, q.DiscountedSubtotal.Equal(d(64000)))
	// 64000 + 7040 tax + 3200 service + 1000 tip = 75240 -> 75200
	assert.True(t, q.TotalAmount.Equal(d(75200)), q.TotalAmount.String())
	assert.Equal(t, int64(100), q.Rates.RoundingUnit)
}

func TestQuote_UnknownStorePricesWithoutRates(t *testing.T) {
	admin := orders.Actor{UserID: "u-admin", Role: orders.RoleAdmin}
	q, err := newService(newStore(), nil).Quote(context.Background(), admin, QuoteRequest{
		StoreID: "s-new",
		Items:   []ItemInput{{ProductName: "Tea", UnitPrice: d(12345), Quantity: 1}},
	})
	require.NoError(t, err)
	assert.True(t, q.TotalAmount.Equal(d(12345)))
}

func TestQuote_Rejections(t *testing.T) {
	svc := newService(newStore(), nil)

	_, err := svc.Quote(context.Background(), cashier, QuoteRequest{StoreID: "s1"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = svc.Quote(context.Background(), cashier, QuoteRequest{
		StoreID: "s2",
		Items:   []ItemInput{{ProductName: "Tea", UnitPrice: d(1), Quantity: 1}},
	})
	assert.True(t, apperr.HasCode(err, apperr.CodeStoreAccessDenied))
}
