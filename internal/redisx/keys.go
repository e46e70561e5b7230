package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency create order: idem:order:create:{idempotency_key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Low-stock alert latch: low_stock:{product_id}, set while an alert is outstanding
	KeyLowStock = "low_stock:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLLowStock    = 6 * time.Hour
)

func IdemKey(key string) string { return fmt.Sprintf(KeyIdemOrderCreate, key) }
func StatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }
func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
func LowStockKey(productID string) string { return fmt.Sprintf(KeyLowStock, productID) }
