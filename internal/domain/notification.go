package domain

import "time"

// PaymentNotification is an inbound provider callback as received on
// the webhook endpoint. The origin is unauthenticated; nothing here is
// trusted beyond what the reconciliation ladder can corroborate.
type PaymentNotification struct {
	Provider      string    `json:"provider"`
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reference     string    `json:"reference,omitempty"`
	SenderPhone   string    `json:"sender_phone,omitempty"`
	Status        string    `json:"status"`
	ReceivedAt    time.Time `json:"received_at"`
}

// ParkedNotification is a notification the reconciler could not map to
// exactly one order. It waits in an operator-facing queue and is never
// discarded.
type ParkedNotification struct {
	ID           string              `json:"id"`
	Notification PaymentNotification `json:"notification"`
	Reason       string              `json:"reason"`
	Resolved     bool                `json:"resolved"`
	CreatedAt    time.Time           `json:"created_at"`
}

// MatchKind records how confident the reconciler was in a match.
type MatchKind string

const (
	MatchExactReference MatchKind = "exact_reference"
	MatchExactAmount    MatchKind = "exact_amount"
	MatchCourierAmount  MatchKind = "courier_amount"
	MatchPartialAmount  MatchKind = "partial_amount"
)
