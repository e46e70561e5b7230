package orders

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOrderCreated  = "order.created"
	EventOrderUpdated  = "order.updated"
	EventProductLowStk = "product.low_stock"
)

const EventVersion = 1

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // instance that committed the change
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	StoreID       string          `json:"store_id"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps payload as a v1 event. Payloads are plain structs, so a
// marshal failure is a programming error and panics.
func NewEnvelope(eventType, producer, traceID, orderID, storeID string, payload any) Envelope {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  EventVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: orderID,
		StoreID:       storeID,
		Payload:       b,
	}
}

// OrderCreatedPayload carries the full order so a kitchen display can render
// it without a refetch.
type OrderCreatedPayload struct {
	Order Order `json:"order"`
}

type OrderUpdatedPayload struct {
	OrderID     string     `json:"orderId"`
	Status      Status     `json:"status"`
	ItemStatus  ItemStatus `json:"itemStatus,omitempty"`
	ReadyAt     *time.Time `json:"readyAt"`
	CompletedAt *time.Time `json:"completedAt"`
}

type LowStockItem struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

type LowStockPayload struct {
	OrderID string         `json:"orderId"`
	Items   []LowStockItem `json:"items"`
}
