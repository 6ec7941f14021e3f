package domain

import "time"

type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
)

// Terminal reports whether the payout can no longer change state on
// its own. A failed payout under the retry cap is not terminal.
func (s PayoutStatus) Terminal(attempts, maxAttempts int) bool {
	switch s {
	case PayoutStatusCompleted:
		return true
	case PayoutStatusFailed:
		return attempts >= maxAttempts
	}
	return false
}

type AuditEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Payout is one remittance of net proceeds to one seller for a batch
// of settled orders. NetAmount == GrossAmount - TotalCommission - TotalFees.
type Payout struct {
	ID              string       `json:"id"`
	SellerID        string       `json:"seller_id"`
	OrderIDs        []string     `json:"order_ids"`
	GrossAmount     int64        `json:"gross_amount"`
	TotalCommission int64        `json:"total_commission"`
	TotalFees       int64        `json:"total_fees"`
	NetAmount       int64        `json:"net_amount"`
	Status          PayoutStatus `json:"status"`
	Attempts        int          `json:"attempts"`
	LastAttemptAt   *time.Time   `json:"last_attempt_at,omitempty"`
	AuditTrail      []AuditEntry `json:"audit_trail"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// PayoutCandidate is one seller's aggregate of settled, unclaimed orders.
type PayoutCandidate struct {
	SellerID        string   `json:"seller_id"`
	OrderIDs        []string `json:"order_ids"`
	GrossAmount     int64    `json:"gross_amount"`
	TotalCommission int64    `json:"total_commission"`
	TotalFees       int64    `json:"total_fees"`
	NetAmount       int64    `json:"net_amount"`
}
