package domain

import "time"

// PaymentNotificationEvent carries a webhook notification from the
// intake endpoint to the reconciler over Kafka.
type PaymentNotificationEvent struct {
	Provider      string    `json:"provider"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference,omitempty"`
	SenderPhone   string    `json:"sender_phone,omitempty"`
	Status        string    `json:"status"`
	ReceivedAt    time.Time `json:"received_at"`
}

// OrderConfirmedEvent is published after a payment confirmation lands.
type OrderConfirmedEvent struct {
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	TotalAmount   int64     `json:"total_amount"`
	Provider      string    `json:"provider"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}
