//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
	"github.com/sokoni-dev/sokoni-payments/internal/fees"
	"github.com/sokoni-dev/sokoni-payments/internal/messaging"
	"github.com/sokoni-dev/sokoni-payments/internal/orders"
	"github.com/sokoni-dev/sokoni-payments/internal/payouts"
	"github.com/sokoni-dev/sokoni-payments/internal/reconcile"
)

type scriptedDisburser struct {
	fail  bool
	calls int
}

func (d *scriptedDisburser) Disburse(_ context.Context, _ string, _ int64, reference string) (string, error) {
	d.calls++
	if d.fail {
		return "", &domain.GatewayError{Provider: "mobilemoney", Code: "2001", Message: "insufficient float"}
	}
	return "TRF-" + reference, nil
}

func placeOrder(ctx context.Context, t *testing.T, lifecycle *orders.Lifecycle, unitPrice int64) *domain.Order {
	t.Helper()
	order := &domain.Order{
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		PaymentMethod: domain.PaymentMethodMobileMoney,
		Items: []domain.OrderItem{
			{ProductID: "prod-1", SellerID: "seller-1", Quantity: 1, UnitPrice: unitPrice},
		},
	}
	if err := lifecycle.CreateOrder(ctx, order); err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	return order
}

func TestPaymentReconciliationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, nil, nil, 10, logger)
	parked := reconcile.NewParkedRepository(db)
	reconciler := reconcile.NewReconciler(repo, lifecycle, parked, logger)

	order := placeOrder(ctx, t, lifecycle, 50_000)
	if !strings.HasPrefix(order.OrderNumber, "ORD-") {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if order.Commission.Amount != 5_000 {
		t.Fatalf("expected commission 5000, got %d", order.Commission.Amount)
	}

	notification := domain.PaymentNotification{
		Provider:      "mobilemoney",
		TransactionID: "TXN-INT-1",
		Amount:        50_000,
		Reference:     order.OrderNumber,
		Status:        "success",
		ReceivedAt:    time.Now().UTC(),
	}

	outcome, err := reconciler.Process(ctx, notification)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Matched || outcome.Kind != domain.MatchExactReference {
		t.Fatalf("expected exact reference match, got %+v", outcome)
	}

	settled, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if settled.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected confirmed, got %s", settled.Status)
	}
	if !settled.Paid() {
		t.Fatalf("expected payment_status paid, got %s", settled.PaymentStatus)
	}
	if settled.PaymentDetails == nil || settled.PaymentDetails.PaymentID != "TXN-INT-1" {
		t.Fatalf("payment details not stamped: %+v", settled.PaymentDetails)
	}
	if settled.Commission.Status != domain.CommissionCollected {
		t.Fatalf("expected commission collected, got %s", settled.Commission.Status)
	}
	historyLen := len(settled.StatusHistory)

	// Redelivery of the same transaction must change nothing.
	if _, err := reconciler.Process(ctx, notification); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	replayed, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if len(replayed.StatusHistory) != historyLen {
		t.Fatalf("redelivery grew history from %d to %d entries", historyLen, len(replayed.StatusHistory))
	}
}

func TestLatePaymentForCancelledOrder(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, nil, nil, 10, logger)
	parked := reconcile.NewParkedRepository(db)
	reconciler := reconcile.NewReconciler(repo, lifecycle, parked, logger)

	order := placeOrder(ctx, t, lifecycle, 50_000)
	if err := lifecycle.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, "buyer changed mind", "ops"); err != nil {
		t.Fatalf("cancel order: %v", err)
	}

	// The buyer pays anyway. An exact reference points straight at the
	// cancelled order, but confirming it would make refunded money
	// payout-eligible; the notification must land in the manual queue.
	outcome, err := reconciler.Process(ctx, domain.PaymentNotification{
		Provider:      "mobilemoney",
		TransactionID: "TXN-INT-5",
		Amount:        50_000,
		Reference:     order.OrderNumber,
		Status:        "success",
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !outcome.Parked || !strings.Contains(outcome.Reason, "closed order") {
		t.Fatalf("expected closed-order park, got %+v", outcome)
	}

	reloaded, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if reloaded.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", reloaded.Status)
	}
	if reloaded.Paid() {
		t.Fatalf("cancelled order must not be paid, got %s", reloaded.PaymentStatus)
	}
	if reloaded.Commission.Status == domain.CommissionCollected {
		t.Fatal("cancelled order must not collect commission")
	}

	queue, err := parked.ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("list parked: %v", err)
	}
	if len(queue) != 1 || queue[0].Notification.TransactionID != "TXN-INT-5" {
		t.Fatalf("expected TXN-INT-5 parked, got %+v", queue)
	}
}

func TestReconciliationAmountFallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, nil, nil, 10, logger)
	parked := reconcile.NewParkedRepository(db)
	reconciler := reconcile.NewReconciler(repo, lifecycle, parked, logger)

	unique := placeOrder(ctx, t, lifecycle, 75_000)
	placeOrder(ctx, t, lifecycle, 20_000)
	placeOrder(ctx, t, lifecycle, 20_000)

	outcome, err := reconciler.Process(ctx, domain.PaymentNotification{
		Provider:      "mobilemoney",
		TransactionID: "TXN-INT-2",
		Amount:        75_000,
		Status:        "success",
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("reconcile unique amount: %v", err)
	}
	if !outcome.Matched || outcome.Kind != domain.MatchExactAmount {
		t.Fatalf("expected exact amount match, got %+v", outcome)
	}
	if outcome.OrderNumber != unique.OrderNumber {
		t.Fatalf("matched wrong order: %s", outcome.OrderNumber)
	}

	// Two pending orders share 20000; the ladder must fail closed.
	outcome, err = reconciler.Process(ctx, domain.PaymentNotification{
		Provider:      "mobilemoney",
		TransactionID: "TXN-INT-3",
		Amount:        20_000,
		Status:        "success",
		ReceivedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("reconcile ambiguous amount: %v", err)
	}
	if !outcome.Parked {
		t.Fatalf("expected parked outcome, got %+v", outcome)
	}

	queue, err := parked.ListUnresolved(ctx)
	if err != nil {
		t.Fatalf("list parked: %v", err)
	}
	if len(queue) != 1 {
		t.Fatalf("expected 1 parked notification, got %d", len(queue))
	}
	if queue[0].Notification.TransactionID != "TXN-INT-3" {
		t.Fatalf("unexpected parked transaction: %s", queue[0].Notification.TransactionID)
	}
	if !strings.Contains(queue[0].Reason, "ambiguous") {
		t.Fatalf("unexpected park reason: %s", queue[0].Reason)
	}
}

func TestPayoutFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := orders.NewOrderRepository(db)
	lifecycle := orders.NewLifecycle(repo, nil, nil, 10, logger)

	order := placeOrder(ctx, t, lifecycle, 50_000)
	details := domain.PaymentDetails{PaymentID: "TXN-INT-4", Provider: "mobilemoney"}
	if err := lifecycle.ConfirmPayment(ctx, order.ID, details, "TXN-INT-4"); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	calc, err := fees.NewDefaultCalculator()
	if err != nil {
		t.Fatalf("fee calculator: %v", err)
	}
	payoutRepo := payouts.NewPayoutRepository(db)
	failing := &scriptedDisburser{fail: true}
	engine := payouts.NewEngine(payoutRepo, calc, failing, logger)

	candidates, err := engine.CalculatePending(ctx)
	if err != nil {
		t.Fatalf("calculate pending: %v", err)
	}
	if len(candidates) != 1 || candidates[0].NetAmount != 50_000-5_000-700 {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}

	payout, err := engine.CreatePayout(ctx, "seller-1", []string{order.ID})
	if err != nil {
		t.Fatalf("create payout: %v", err)
	}

	// An order inside a non-terminal payout is frozen.
	err = lifecycle.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled, "", "ops")
	if !errors.Is(err, domain.ErrOrderFrozen) {
		t.Fatalf("expected ErrOrderFrozen, got %v", err)
	}

	failed, err := engine.Process(ctx, payout.ID, "finance-bot")
	if err != nil {
		t.Fatalf("process payout: %v", err)
	}
	if failed.Status != domain.PayoutStatusFailed {
		t.Fatalf("expected failed payout, got %s", failed.Status)
	}

	released, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if released.Commission.Status != domain.CommissionCollected {
		t.Fatalf("expected commission released, got %s", released.Commission.Status)
	}

	// Retry is refused until the backoff window has elapsed.
	var be *domain.RetryBackoffError
	if _, err := engine.Retry(ctx, payout.ID, "finance-bot"); !errors.As(err, &be) {
		t.Fatalf("expected RetryBackoffError, got %v", err)
	}

	// Age the last attempt past the window, then retry and settle.
	if _, err := db.ExecContext(ctx,
		`UPDATE payouts SET last_attempt_at = NOW() - INTERVAL '10 minutes' WHERE id = $1`, payout.ID); err != nil {
		t.Fatalf("backdate attempt: %v", err)
	}
	retried, err := engine.Retry(ctx, payout.ID, "finance-bot")
	if err != nil {
		t.Fatalf("retry payout: %v", err)
	}
	if retried.Status != domain.PayoutStatusPending {
		t.Fatalf("expected pending payout, got %s", retried.Status)
	}

	succeeding := payouts.NewEngine(payoutRepo, calc, &scriptedDisburser{}, logger)
	completed, err := succeeding.Process(ctx, payout.ID, "finance-bot")
	if err != nil {
		t.Fatalf("process retried payout: %v", err)
	}
	if completed.Status != domain.PayoutStatusCompleted {
		t.Fatalf("expected completed payout, got %s", completed.Status)
	}
	if completed.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", completed.Attempts)
	}
	if len(completed.AuditTrail) < 5 {
		t.Fatalf("expected full audit trail, got %d entries", len(completed.AuditTrail))
	}

	settled, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("reload order: %v", err)
	}
	if settled.Commission.Status != domain.CommissionPaid {
		t.Fatalf("expected commission paid, got %s", settled.Commission.Status)
	}
}

func TestKafkaNotificationRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers, messaging.TopicPaymentNotification)
	defer func() { _ = producer.Close() }()

	sent := domain.PaymentNotificationEvent{
		Provider:      "mobilemoney",
		TransactionID: "TXN-KAFKA-1",
		Amount:        12_345,
		Status:        "success",
		ReceivedAt:    time.Now().UTC().Truncate(time.Second),
	}
	if err := producer.Publish(ctx, sent.TransactionID, sent); err != nil {
		t.Fatalf("publish: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, messaging.TopicPaymentNotification, "integration-test")
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	var received domain.PaymentNotificationEvent
	err := consumer.Consume(consumeCtx, func(_ context.Context, payload []byte) error {
		if err := json.Unmarshal(payload, &received); err != nil {
			return err
		}
		stop()
		return nil
	})
	if err != nil && consumeCtx.Err() != context.Canceled {
		t.Fatalf("consume: %v", err)
	}

	if received.TransactionID != sent.TransactionID || received.Amount != sent.Amount {
		t.Fatalf("round trip mismatch: sent %+v, received %+v", sent, received)
	}
}
