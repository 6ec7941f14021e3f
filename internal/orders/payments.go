package orders

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
	"github.com/sokoni-dev/sokoni-payments/internal/provider"
)

// PaymentService drives the buyer-facing initiate and verify paths. It
// never retries a provider call; a gateway failure is reported to the
// caller and the order stays untouched.
type PaymentService struct {
	store     Store
	lifecycle *Lifecycle
	gateways  map[domain.PaymentMethod]provider.Gateway
	currency  string
	logger    *slog.Logger
}

func NewPaymentService(store Store, lifecycle *Lifecycle, gateways map[domain.PaymentMethod]provider.Gateway, currency string, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		store:     store,
		lifecycle: lifecycle,
		gateways:  gateways,
		currency:  currency,
		logger:    logger,
	}
}

// Principal is the pre-verified identity of the caller, supplied by the
// identity collaborator.
type Principal struct {
	UserID string
	Role   string
	Email  string
	Phone  string
}

// Initiate opens a provider payment for a pending order and records the
// attempt. The merchant reference handed to the provider is always the
// order number.
func (s *PaymentService) Initiate(ctx context.Context, orderNumber string, principal Principal) (provider.CreateResult, error) {
	order, err := s.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return provider.CreateResult{}, err
	}
	if order == nil {
		return provider.CreateResult{}, domain.ErrOrderNotFound
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return provider.CreateResult{}, fmt.Errorf("order %s already paid: %w", orderNumber, domain.ErrInvalidTransition)
	}
	if order.Status != domain.OrderStatusPending {
		return provider.CreateResult{}, fmt.Errorf("order %s is %s: %w", orderNumber, order.Status, domain.ErrInvalidTransition)
	}

	gw, ok := s.gateways[order.PaymentMethod]
	if !ok {
		return provider.CreateResult{}, &domain.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("no gateway for %s", order.PaymentMethod)}
	}

	subject := provider.OrderSubject(order.OrderNumber, order.TotalAmount, s.currency, principal.UserID, principal.Phone, principal.Email)
	result, err := gw.CreatePayment(ctx, subject)
	if err != nil {
		return provider.CreateResult{}, err
	}

	attempt := &domain.PaymentAttempt{
		OrderID:        order.ID,
		Provider:       gw.Name(),
		ProviderRef:    result.TransactionRef,
		AmountExpected: order.TotalAmount,
		Method:         order.PaymentMethod,
	}
	if err := s.store.RecordAttempt(ctx, attempt); err != nil {
		return provider.CreateResult{}, err
	}

	s.logger.Info("payment initiated", "order_number", order.OrderNumber, "provider", gw.Name(), "provider_ref", result.TransactionRef)
	return result, nil
}

// Verify performs the direct (polling) confirmation path used by card
// providers. Safe to call repeatedly; a success feeds the same
// confirmation guard the webhook path uses.
func (s *PaymentService) Verify(ctx context.Context, orderNumber, transactionRef string) (*domain.Order, error) {
	order, err := s.store.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	gw, ok := s.gateways[order.PaymentMethod]
	if !ok {
		return nil, &domain.ValidationError{Field: "payment_method", Reason: fmt.Sprintf("no gateway for %s", order.PaymentMethod)}
	}

	result, err := gw.VerifyPayment(ctx, transactionRef)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		s.logger.Info("payment not settled yet", "order_number", orderNumber, "provider_ref", transactionRef)
		return s.store.GetByNumber(ctx, orderNumber)
	}
	if result.Amount != order.TotalAmount {
		s.logger.Warn("verified amount mismatch", "order_number", orderNumber,
			"expected", order.TotalAmount, "got", result.Amount)
		return nil, &domain.ValidationError{Field: "amount", Reason: "verified amount does not match order total"}
	}

	details := domain.PaymentDetails{
		PaymentID:   result.TransactionID,
		Provider:    gw.Name(),
		PaymentDate: result.CreatedAt,
	}
	if err := s.lifecycle.ConfirmPayment(ctx, order.ID, details, result.TransactionID); err != nil {
		return nil, err
	}

	return s.store.GetByNumber(ctx, orderNumber)
}
