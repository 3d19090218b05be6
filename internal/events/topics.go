package events

// Topic constants for domain events emitted by the platform.
const (
	TopicOrderCompleted = "order.completed"
	TopicOrderPaid      = "order.paid"
	TopicOrderCanceled  = "order.canceled"
	TopicPaymentFailed  = "payment.failed"
	TopicCartsPurged    = "carts.purged"
)

// DefaultTopics returns the canonical list of topics that support notifications.
func DefaultTopics() []string {
	return []string{
		TopicOrderCompleted,
		TopicOrderPaid,
		TopicOrderCanceled,
		TopicPaymentFailed,
		TopicCartsPurged,
	}
}
