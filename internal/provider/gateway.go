package provider

import (
	"context"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

// CreateResult is the uniform outcome of opening a payment with any
// provider. MerchantReference always equals the platform's own order or
// invoice number; reconciliation matches on it exactly.
type CreateResult struct {
	PaymentLink       string
	TransactionRef    string
	MerchantReference string
}

// VerifyResult is the uniform outcome of a payment status lookup.
type VerifyResult struct {
	Success       bool
	TransactionID string
	Amount        int64
	Currency      string
	Method        domain.PaymentMethod
	CreatedAt     time.Time
}

// Gateway is the uniform per-provider payment contract. VerifyPayment
// is idempotent and safe to call repeatedly.
type Gateway interface {
	Name() string
	CreatePayment(ctx context.Context, subject PaymentSubject) (CreateResult, error)
	VerifyPayment(ctx context.Context, transactionRef string) (VerifyResult, error)
}

// Disburser pushes funds out to a seller. Used by the payout engine;
// failures there are retried under its backoff policy, not here.
type Disburser interface {
	Disburse(ctx context.Context, sellerID string, amount int64, reference string) (transactionID string, err error)
}
