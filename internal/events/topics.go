package events

// Topic constants for order lifecycle events.
const (
	TopicOrderCreated   = "order.created"
	TopicOrderPaid      = "order.paid"
	TopicOrderFailed    = "order.failed"
	TopicOrderPreparing = "order.preparing"
	TopicOrderReady     = "order.ready"
	TopicOrderCompleted = "order.completed"
	TopicOrderExpired   = "order.expired"
)

// DefaultTopics returns every topic the order service emits.
func DefaultTopics() []string {
	return []string{
		TopicOrderCreated,
		TopicOrderPaid,
		TopicOrderFailed,
		TopicOrderPreparing,
		TopicOrderReady,
		TopicOrderCompleted,
		TopicOrderExpired,
	}
}

// TopicForStatus returns the topic announcing that an order reached status,
// or "" when the status is not announced.
func TopicForStatus(status string) string {
	switch status {
	case "PAID":
		return TopicOrderPaid
	case "FAILED":
		return TopicOrderFailed
	case "PREPARING":
		return TopicOrderPreparing
	case "READY":
		return TopicOrderReady
	case "COMPLETED":
		return TopicOrderCompleted
	case "EXPIRED":
		return TopicOrderExpired
	}
	return ""
}

// OrderPayload is the body carried by every order topic.
type OrderPayload struct {
	OrderID      string `json:"orderId"`
	BranchID     string `json:"branchId"`
	Status       string `json:"status"`
	PrevStatus   string `json:"prevStatus,omitempty"`
	CustomerName string `json:"customerName,omitempty"`
	WhatsApp     string `json:"whatsapp,omitempty"`
	TotalAmount  int64  `json:"totalAmount"`
	OrderSource  string `json:"orderSource,omitempty"`

	// NotifyCustomer is set on transitions that message the customer.
	NotifyCustomer bool `json:"notifyCustomer,omitempty"`
}
