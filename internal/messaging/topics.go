package messaging

// Topics used by the payment pipeline.
const (
	// TopicPaymentNotification carries raw provider webhook notifications
	// from the intake endpoint to the reconciler.
	TopicPaymentNotification = "payment.notification"
	// TopicOrderConfirmed announces a settled payment confirmation.
	TopicOrderConfirmed = "order.confirmed"
)
