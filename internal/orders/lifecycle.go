package orders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
	"github.com/sokoni-dev/sokoni-payments/internal/messaging"
)

// Store is the persistence surface the lifecycle drives. Implemented by
// OrderRepository; every mutation is transactional and guarded per order.
type Store interface {
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByNumber(ctx context.Context, number string) (*domain.Order, error)
	Transition(ctx context.Context, orderID string, to domain.OrderStatus, entry domain.StatusEntry) error
	Deliver(ctx context.Context, orderID string, entry domain.StatusEntry) error
	ConfirmPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error)
	MarkPartialPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error)
	RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error
}

// EventPublisher publishes domain events. Nil-safe in the lifecycle so
// tests and single-process setups can run without Kafka.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Notifier is the external best-effort notification collaborator.
type Notifier interface {
	SendEmail(to, subject, body string)
	SendSMS(to, body string)
}

// Lifecycle owns every order status mutation. All transitions flow
// through it so the append-only history and single payment stamp hold
// no matter who the caller is.
type Lifecycle struct {
	store         Store
	publisher     EventPublisher
	notifier      Notifier
	logger        *slog.Logger
	commissionPct int64
}

func NewLifecycle(store Store, publisher EventPublisher, notifier Notifier, commissionPct int64, logger *slog.Logger) *Lifecycle {
	return &Lifecycle{
		store:         store,
		publisher:     publisher,
		notifier:      notifier,
		logger:        logger,
		commissionPct: commissionPct,
	}
}

// CreateOrder validates the money invariants, derives the platform
// commission and persists the order in pending state.
func (l *Lifecycle) CreateOrder(ctx context.Context, order *domain.Order) error {
	if len(order.Items) == 0 {
		return &domain.ValidationError{Field: "items", Reason: "at least one item required"}
	}

	var subtotal int64
	for i := range order.Items {
		item := &order.Items[i]
		if item.Quantity <= 0 {
			return &domain.ValidationError{Field: "items.quantity", Reason: "must be positive"}
		}
		if item.UnitPrice <= 0 {
			return &domain.ValidationError{Field: "items.unit_price", Reason: "must be positive"}
		}
		item.Subtotal = int64(item.Quantity) * item.UnitPrice
		subtotal += item.Subtotal
	}
	order.Subtotal = subtotal
	if order.Tax < 0 || order.ShippingCost < 0 {
		return &domain.ValidationError{Field: "tax", Reason: "must be non-negative"}
	}
	order.TotalAmount = order.Subtotal + order.Tax + order.ShippingCost

	switch order.PaymentMethod {
	case domain.PaymentMethodCard, domain.PaymentMethodMobileMoney:
	default:
		return &domain.ValidationError{Field: "payment_method", Reason: "unknown method"}
	}

	order.Commission = domain.Commission{
		Amount: order.TotalAmount * l.commissionPct / 100,
		Status: "",
	}

	if err := l.store.Create(ctx, order); err != nil {
		return err
	}

	l.logger.Info("order created", "order_number", order.OrderNumber, "buyer_id", order.BuyerID, "total", order.TotalAmount)
	return nil
}

// UpdateStatus applies one guarded transition. Cancellation legality is
// checked here on top of the edge table so operators get the precise
// error before the row is ever locked.
func (l *Lifecycle) UpdateStatus(ctx context.Context, orderID string, newStatus domain.OrderStatus, note, actor string) error {
	if !ValidStatus(newStatus) {
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", newStatus)}
	}

	order, err := l.store.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return domain.ErrOrderNotFound
	}
	if newStatus == domain.OrderStatusCancelled && !CanCancel(order.Status) {
		return fmt.Errorf("%s -> cancelled: %w", order.Status, domain.ErrInvalidTransition)
	}

	entry := domain.StatusEntry{Status: newStatus, Note: note, Actor: actor, Timestamp: time.Now().UTC()}
	if err := l.store.Transition(ctx, orderID, newStatus, entry); err != nil {
		return err
	}

	l.logger.Info("order status updated", "order_id", orderID, "status", newStatus, "actor", actor)
	l.notifyStatus(order, newStatus)
	return nil
}

// ConfirmPayment stamps the payment outcome onto the order and
// transitions it to confirmed. Duplicate deliveries for the same
// (provider, transaction id), or a second confirmation of an already
// paid order, collapse to a silent no-op with no second notification.
func (l *Lifecycle) ConfirmPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) error {
	details.PaymentStatus = domain.PaymentStatusPaid
	if details.PaymentDate.IsZero() {
		details.PaymentDate = time.Now().UTC()
	}

	applied, err := l.store.ConfirmPayment(ctx, orderID, details, transactionID)
	if err != nil {
		return err
	}
	if !applied {
		l.logger.Info("duplicate payment confirmation ignored", "order_id", orderID, "transaction_id", transactionID)
		return nil
	}

	order, err := l.store.GetByID(ctx, orderID)
	if err != nil {
		l.logger.Error("failed to reload confirmed order", "error", err, "order_id", orderID)
		return nil
	}

	l.logger.Info("payment confirmed", "order_number", order.OrderNumber, "provider", details.Provider, "transaction_id", transactionID)

	if l.publisher != nil {
		event := domain.OrderConfirmedEvent{
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			BuyerID:       order.BuyerID,
			SellerID:      order.SellerID,
			TotalAmount:   order.TotalAmount,
			Provider:      details.Provider,
			TransactionID: transactionID,
			Timestamp:     time.Now().UTC(),
		}
		if err := l.publisher.Publish(ctx, order.ID, event); err != nil {
			l.logger.Error("failed to publish order confirmed event", "error", err, "order_id", order.ID)
		}
	}

	if l.notifier != nil {
		l.notifier.SendEmail(order.BuyerID, "Payment received: "+order.OrderNumber,
			fmt.Sprintf("Your payment for order %s has been confirmed.", order.OrderNumber))
	}
	return nil
}

// MarkPartialPayment records a tolerance match without confirming the
// order. No commission is credited and no confirmation is announced.
func (l *Lifecycle) MarkPartialPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) error {
	details.PaymentStatus = domain.PaymentStatusPartial
	if details.PaymentDate.IsZero() {
		details.PaymentDate = time.Now().UTC()
	}

	applied, err := l.store.MarkPartialPayment(ctx, orderID, details, transactionID)
	if err != nil {
		return err
	}
	if applied {
		l.logger.Info("partial payment recorded", "order_id", orderID, "transaction_id", transactionID)
	}
	return nil
}

// ConfirmDelivery settles a scanned delivery code. Re-confirming an
// already delivered order is idempotent: the existing delivery entry is
// returned instead of an error.
func (l *Lifecycle) ConfirmDelivery(ctx context.Context, orderID, actor string) (*domain.StatusEntry, error) {
	order, err := l.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}

	if order.Status == domain.OrderStatusDelivered {
		for i := len(order.StatusHistory) - 1; i >= 0; i-- {
			if order.StatusHistory[i].Status == domain.OrderStatusDelivered {
				entry := order.StatusHistory[i]
				return &entry, nil
			}
		}
	}

	if !CanDeliver(order.Status) {
		return nil, fmt.Errorf("%s -> delivered: %w", order.Status, domain.ErrInvalidTransition)
	}

	entry := domain.StatusEntry{
		Status:    domain.OrderStatusDelivered,
		Note:      "delivery code scanned",
		Actor:     actor,
		Timestamp: time.Now().UTC(),
	}
	if err := l.store.Deliver(ctx, orderID, entry); err != nil {
		return nil, err
	}

	l.logger.Info("delivery confirmed", "order_id", orderID, "actor", actor)
	l.notifyStatus(order, domain.OrderStatusDelivered)
	return &entry, nil
}

func (l *Lifecycle) notifyStatus(order *domain.Order, status domain.OrderStatus) {
	if l.notifier == nil {
		return
	}
	l.notifier.SendEmail(order.BuyerID, fmt.Sprintf("Order %s %s", order.OrderNumber, status),
		fmt.Sprintf("Your order %s is now %s.", order.OrderNumber, status))
}

// ensure the repository satisfies the store surface.
var _ Store = (*OrderRepository)(nil)

// ensure the Kafka producer satisfies the publisher surface.
var _ EventPublisher = (*messaging.Producer)(nil)
