package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

const (
	// matchWindow bounds how far back the amount-based ladder steps look.
	matchWindow = 24 * time.Hour
	// amountTolerance absorbs provider-side fee deduction in the partial
	// match step, in minor units.
	amountTolerance = 100
)

// OrderFinder is the read surface the ladder searches over.
type OrderFinder interface {
	FindByReference(ctx context.Context, reference string) (*domain.Order, error)
	FindPendingMobileMoney(ctx context.Context, amount, tolerance int64, since time.Time) ([]domain.Order, error)
	FindCourierByPhone(ctx context.Context, phone string) (*domain.Courier, error)
	FindCourierOrders(ctx context.Context, courierID string, amount, tolerance int64) ([]domain.Order, error)
}

// Confirmer applies reconciliation outcomes through the order
// lifecycle, inheriting its idempotency and history guarantees.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) error
	MarkPartialPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) error
}

// Parker stores notifications that could not be uniquely resolved and
// answers whether a (provider, transaction id) pair was already applied.
type Parker interface {
	Park(ctx context.Context, n domain.PaymentNotification, reason string) error
	AlreadyProcessed(ctx context.Context, provider, transactionID string) (bool, error)
}

// Outcome reports what the ladder decided for one notification.
type Outcome struct {
	Matched     bool
	Parked      bool
	OrderNumber string
	Kind        domain.MatchKind
	Reason      string
}

// Reconciler maps inbound payment notifications to at most one order
// each, using a ranked ladder that fails closed on ambiguity.
type Reconciler struct {
	orders    OrderFinder
	confirmer Confirmer
	parker    Parker
	logger    *slog.Logger
	now       func() time.Time
	outcomes  metric.Int64Counter
}

func NewReconciler(orders OrderFinder, confirmer Confirmer, parker Parker, logger *slog.Logger) *Reconciler {
	meter := otel.Meter("reconcile")
	outcomes, _ := meter.Int64Counter("reconciliation.outcomes",
		metric.WithDescription("Reconciliation ladder outcomes by kind"))

	return &Reconciler{
		orders:    orders,
		confirmer: confirmer,
		parker:    parker,
		logger:    logger,
		now:       time.Now,
		outcomes:  outcomes,
	}
}

// Process runs one notification through the ladder. Only success-status
// notifications reach this point; everything downstream is idempotent
// under redelivery, so Process may safely run more than once for the
// same transaction.
func (r *Reconciler) Process(ctx context.Context, n domain.PaymentNotification) (Outcome, error) {
	if n.TransactionID == "" {
		return r.park(ctx, n, "missing transaction id")
	}
	if n.Amount <= 0 {
		return r.park(ctx, n, "non-positive amount")
	}

	// Redelivered notifications whose transaction already settled an
	// order must not re-enter the ladder: the matched order is no longer
	// pending, so an amount-only redelivery would otherwise end up
	// parked instead of ignored.
	seen, err := r.parker.AlreadyProcessed(ctx, n.Provider, n.TransactionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("idempotency check: %w", err)
	}
	if seen {
		r.logger.Info("duplicate notification ignored", "provider", n.Provider, "transaction_id", n.TransactionID)
		r.count(ctx, "duplicate")
		return Outcome{Matched: true, Kind: ""}, nil
	}

	// Step 1: exact reference match, always preferred.
	if n.Reference != "" {
		order, err := r.orders.FindByReference(ctx, strings.TrimSpace(n.Reference))
		if err != nil {
			return Outcome{}, fmt.Errorf("reference lookup: %w", err)
		}
		if order != nil {
			return r.confirm(ctx, n, order, domain.MatchExactReference)
		}
	}

	since := r.now().Add(-matchWindow)

	// Step 2: exact amount among recent pending mobile money orders,
	// unique candidate only.
	exact, err := r.orders.FindPendingMobileMoney(ctx, n.Amount, 0, since)
	if err != nil {
		return Outcome{}, fmt.Errorf("amount search: %w", err)
	}
	if len(exact) == 1 {
		return r.confirm(ctx, n, &exact[0], domain.MatchExactAmount)
	}

	// Step 3: courier correlation narrows the pool to one delivery
	// person's assigned orders.
	var courier *domain.Courier
	if n.SenderPhone != "" {
		courier, err = r.orders.FindCourierByPhone(ctx, n.SenderPhone)
		if err != nil {
			return Outcome{}, fmt.Errorf("courier lookup: %w", err)
		}
		if courier != nil {
			assigned, err := r.orders.FindCourierOrders(ctx, courier.ID, n.Amount, 0)
			if err != nil {
				return Outcome{}, fmt.Errorf("courier order search: %w", err)
			}
			if len(assigned) == 1 {
				return r.confirm(ctx, n, &assigned[0], domain.MatchCourierAmount)
			}
		}
	}

	if len(exact) > 1 {
		return r.park(ctx, n, fmt.Sprintf("ambiguous: %d orders match amount %d", len(exact), n.Amount))
	}

	// Step 4: tolerance match. Accepted only with a unique candidate AND
	// a corroborating signal, and even then recorded as partial, never
	// as a full confirmation.
	tolerant, err := r.orders.FindPendingMobileMoney(ctx, n.Amount, amountTolerance, since)
	if err != nil {
		return Outcome{}, fmt.Errorf("tolerance search: %w", err)
	}
	if len(tolerant) == 1 {
		candidate := &tolerant[0]
		if !r.corroborated(n, candidate, courier) {
			return r.park(ctx, n, "tolerance match lacks corroboration")
		}
		return r.markPartial(ctx, n, candidate)
	}
	if len(tolerant) > 1 {
		return r.park(ctx, n, fmt.Sprintf("ambiguous: %d orders within tolerance of %d", len(tolerant), n.Amount))
	}

	return r.park(ctx, n, "no candidate order")
}

// corroborated requires a second signal before a tolerance match may be
// applied: a reference fragment pointing at the candidate, or a sender
// phone belonging to the candidate's courier. An amount-only match is
// never enough.
func (r *Reconciler) corroborated(n domain.PaymentNotification, candidate *domain.Order, courier *domain.Courier) bool {
	if ref := strings.TrimSpace(n.Reference); ref != "" && strings.Contains(candidate.OrderNumber, ref) {
		return true
	}
	if courier != nil && candidate.CourierID == courier.ID {
		return true
	}
	return false
}

func (r *Reconciler) confirm(ctx context.Context, n domain.PaymentNotification, order *domain.Order, kind domain.MatchKind) (Outcome, error) {
	details := domain.PaymentDetails{
		PaymentID:   n.TransactionID,
		Provider:    n.Provider,
		PaymentDate: n.ReceivedAt,
	}
	if err := r.confirmer.ConfirmPayment(ctx, order.ID, details, n.TransactionID); err != nil {
		// The match was right but the order has since closed: the buyer
		// paid for a cancelled order and is owed a refund, not a payout.
		if errors.Is(err, domain.ErrOrderClosed) {
			return r.park(ctx, n, fmt.Sprintf("payment for closed order %s", order.OrderNumber))
		}
		return Outcome{}, fmt.Errorf("confirm order %s: %w", order.OrderNumber, err)
	}

	r.logger.Info("notification reconciled", "order_number", order.OrderNumber,
		"kind", string(kind), "transaction_id", n.TransactionID, "amount", n.Amount)
	r.count(ctx, string(kind))
	return Outcome{Matched: true, OrderNumber: order.OrderNumber, Kind: kind}, nil
}

func (r *Reconciler) markPartial(ctx context.Context, n domain.PaymentNotification, order *domain.Order) (Outcome, error) {
	details := domain.PaymentDetails{
		PaymentID:   n.TransactionID,
		Provider:    n.Provider,
		PaymentDate: n.ReceivedAt,
	}
	if err := r.confirmer.MarkPartialPayment(ctx, order.ID, details, n.TransactionID); err != nil {
		return Outcome{}, fmt.Errorf("mark partial %s: %w", order.OrderNumber, err)
	}

	r.logger.Info("notification reconciled as partial", "order_number", order.OrderNumber,
		"transaction_id", n.TransactionID, "amount", n.Amount, "expected", order.TotalAmount)
	r.count(ctx, string(domain.MatchPartialAmount))
	return Outcome{Matched: true, OrderNumber: order.OrderNumber, Kind: domain.MatchPartialAmount}, nil
}

func (r *Reconciler) park(ctx context.Context, n domain.PaymentNotification, reason string) (Outcome, error) {
	if err := r.parker.Park(ctx, n, reason); err != nil {
		return Outcome{}, fmt.Errorf("park notification %s: %w", n.TransactionID, err)
	}

	r.logger.Warn("notification parked for manual reconciliation",
		"transaction_id", n.TransactionID, "amount", n.Amount, "reason", reason)
	r.count(ctx, "parked")
	return Outcome{Parked: true, Reason: reason}, nil
}

func (r *Reconciler) count(ctx context.Context, kind string) {
	r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", kind)))
}
