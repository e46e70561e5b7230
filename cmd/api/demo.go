package main

import (
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-realtime-pos/internal/memstore"
	"github.com/ariefcatur/go-realtime-pos/internal/orders"
)

// seedDemo gives the in-memory driver one store with a register and a small menu.
func seedDemo(s *memstore.Store) {
	s.PutStoreSettings(orders.StoreSettings{
		StoreID:      "store-1",
		TaxRate:      decimal.NewFromInt(11),
		ServiceRate:  decimal.NewFromInt(5),
		RoundingUnit: 100,
	})
	s.PutRegister(orders.Register{ID: "register-1", StoreID: "store-1", Name: "Front counter", IsActive: true})

	menu := []struct {
		id, name string
		price    int64
		stock    int
	}{
		{"prod-latte", "Caffe Latte", 36000, 50},
		{"prod-americano", "Americano", 28000, 50},
		{"prod-croissant", "Butter Croissant", 25000, 12},
		{"prod-matcha", "Matcha Latte", 38000, 6},
	}
	for _, m := range menu {
		s.PutProduct(orders.Product{
			ID:          m.id,
			StoreID:     "store-1",
			Name:        m.name,
			Stock:       m.stock,
			IsAvailable: true,
			BasePrice:   decimal.NewFromInt(m.price),
		})
	}
}
