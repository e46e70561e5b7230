package checkout

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/apperr"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
	"github.com/ariefcatur/go-realtime-pos/internal/pricing"
	"github.com/ariefcatur/go-realtime-pos/internal/validate"
)

// QuoteRequest is a cart a register wants priced with the store's rates.
// Declared line totals are ignored.
type QuoteRequest struct {
	StoreID       string          `json:"storeId" validate:"required"`
	Items         []ItemInput     `json:"items" validate:"required,min=1,dive"`
	OrderDiscount decimal.Decimal `json:"orderDiscount" validate:"gte=0"`
	TipAmount     decimal.Decimal `json:"tipAmount" validate:"gte=0"`
}

type QuoteLine struct {
	ProductID   string          `json:"productId,omitempty"`
	ProductName string          `json:"productName"`
	Quantity    int             `json:"quantity"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
}

type Quote struct {
	pricing.Totals
	Rates pricing.Rates `json:"rates"`
	Lines []QuoteLine   `json:"lines"`
}

// Quote prices a cart exactly as strict settlement would.
func (s *Service) Quote(ctx context.Context, actor orders.Actor, req QuoteRequest) (*Quote, error) {
	if err := validate.Struct(ctx, req); err != nil {
		return nil, err
	}
	if !actor.HasStoreAccess(req.StoreID) {
		return nil, apperr.Forbidden(apperr.CodeStoreAccessDenied, "no access to this store")
	}
	rates, err := s.rates(ctx, req.StoreID)
	if err != nil {
		return nil, err
	}

	lines := cartLines(req.Items)
	q := &Quote{
		Totals: pricing.PriceCart(lines, req.OrderDiscount, req.TipAmount, rates),
		Rates:  rates,
		Lines:  make([]QuoteLine, 0, len(lines)),
	}
	for _, l := range lines {
		q.Lines = append(q.Lines, QuoteLine{
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			LineTotal:   l.Total(),
		})
	}
	return q, nil
}
