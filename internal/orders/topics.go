package orders

const (
	TopicOrderCreated  = "order.created"
	TopicOrderUpdated  = "order.updated"
	TopicProductLowStk = "product.low_stock"
)

// TopicFor maps an event type onto its broker topic.
func TopicFor(eventType string) (string, bool) {
	switch eventType {
	case EventOrderCreated:
		return TopicOrderCreated, true
	case EventOrderUpdated:
		return TopicOrderUpdated, true
	case EventProductLowStk:
		return TopicProductLowStk, true
	}
	return "", false
}

// Partition key = order id, so every event of one order keeps its order.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
