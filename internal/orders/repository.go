package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create persists the order, its items and the initial pending history
// entry, claiming the next monotonic number for the calendar month
// inside the same transaction.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	monthKey := now.Format("06-01")

	var counter int
	err = tx.QueryRowContext(ctx, `
		INSERT INTO order_counters (month_key, counter)
		VALUES ($1, 1)
		ON CONFLICT (month_key) DO UPDATE SET counter = order_counters.counter + 1
		RETURNING counter
	`, monthKey).Scan(&counter)
	if err != nil {
		return fmt.Errorf("claim order number: %w", err)
	}

	order.ID = uuid.New().String()
	order.OrderNumber = fmt.Sprintf("ORD-%s-%04d", monthKey, counter)
	order.Status = domain.OrderStatusPending
	order.PaymentStatus = domain.PaymentStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, order_number, buyer_id, seller_id, courier_id,
			subtotal, tax, shipping_cost, total_amount,
			status, payment_method, payment_status,
			commission_amount, commission_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $15)
	`, order.ID, order.OrderNumber, order.BuyerID, order.SellerID, order.CourierID,
		order.Subtotal, order.Tax, order.ShippingCost, order.TotalAmount,
		order.Status, order.PaymentMethod, order.PaymentStatus,
		order.Commission.Amount, order.Commission.Status, now)
	if err != nil {
		return err
	}

	for _, item := range order.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, product_id, seller_id, quantity, unit_price, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, uuid.New().String(), order.ID, item.ProductID, item.SellerID, item.Quantity, item.UnitPrice, item.Subtotal)
		if err != nil {
			return err
		}
	}

	entry := domain.StatusEntry{Status: domain.OrderStatusPending, Note: "order placed", Actor: order.BuyerID, Timestamp: now}
	if err := insertHistory(ctx, tx, order.ID, entry); err != nil {
		return err
	}
	order.StatusHistory = []domain.StatusEntry{entry}

	return tx.Commit()
}

func insertHistory(ctx context.Context, tx *sql.Tx, orderID string, entry domain.StatusEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history (id, order_id, status, note, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, uuid.New().String(), orderID, entry.Status, entry.Note, entry.Actor, entry.Timestamp)
	return err
}

const orderColumns = `
	id, order_number, buyer_id, seller_id, COALESCE(courier_id::text, ''),
	subtotal, tax, shipping_cost, total_amount,
	status, payment_method, payment_status,
	payment_id, payment_provider, payment_date,
	commission_amount, commission_status, created_at, updated_at
`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	order := &domain.Order{}
	var paymentID, paymentProvider sql.NullString
	var paymentDate sql.NullTime

	err := row.Scan(&order.ID, &order.OrderNumber, &order.BuyerID, &order.SellerID, &order.CourierID,
		&order.Subtotal, &order.Tax, &order.ShippingCost, &order.TotalAmount,
		&order.Status, &order.PaymentMethod, &order.PaymentStatus,
		&paymentID, &paymentProvider, &paymentDate,
		&order.Commission.Amount, &order.Commission.Status, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if paymentID.Valid {
		order.PaymentDetails = &domain.PaymentDetails{
			PaymentID:     paymentID.String,
			PaymentStatus: order.PaymentStatus,
			Provider:      paymentProvider.String,
			PaymentDate:   paymentDate.Time,
		}
	}
	return order, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	return r.getBy(ctx, "id", id)
}

func (r *OrderRepository) GetByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return r.getBy(ctx, "order_number", number)
}

func (r *OrderRepository) getBy(ctx context.Context, column, value string) (*domain.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if err := r.loadItems(ctx, order); err != nil {
		return nil, err
	}
	if err := r.loadHistory(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, seller_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = $1
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(&item.ProductID, &item.SellerID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return err
		}
		order.Items = append(order.Items, item)
	}
	return rows.Err()
}

func (r *OrderRepository) loadHistory(ctx context.Context, order *domain.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, note, actor, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at, id
	`, order.ID)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var entry domain.StatusEntry
		if err := rows.Scan(&entry.Status, &entry.Note, &entry.Actor, &entry.Timestamp); err != nil {
			return err
		}
		order.StatusHistory = append(order.StatusHistory, entry)
	}
	return rows.Err()
}

// lockStatus locks the order row and returns its current status.
func lockStatus(ctx context.Context, tx *sql.Tx, orderID string) (domain.OrderStatus, error) {
	var status domain.OrderStatus
	err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrOrderNotFound
	}
	return status, err
}

// frozenByPayout reports whether the order is attached to a payout that
// has not reached a terminal state. Such orders may not change status.
func frozenByPayout(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	var frozen bool
	err := tx.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payout_orders po
			JOIN payouts p ON p.id = po.payout_id
			WHERE po.order_id = $1 AND p.status IN ('pending', 'processing')
		)
	`, orderID).Scan(&frozen)
	return frozen, err
}

// Transition applies a guarded status change: the row is locked, the
// current status is re-checked against the guard table, history is
// appended and the status updated, all in one transaction. An illegal
// edge returns ErrInvalidTransition with nothing changed.
func (r *OrderRepository) Transition(ctx context.Context, orderID string, to domain.OrderStatus, entry domain.StatusEntry) error {
	return r.transition(ctx, orderID, to, entry, func(current domain.OrderStatus) bool {
		return CanTransition(current, to)
	})
}

// Deliver settles a courier scan. Scans may land before the shipped
// transition is recorded, so the wider CanDeliver guard applies here
// and only here; plain status updates keep the strict edge table.
func (r *OrderRepository) Deliver(ctx context.Context, orderID string, entry domain.StatusEntry) error {
	return r.transition(ctx, orderID, domain.OrderStatusDelivered, entry, CanDeliver)
}

func (r *OrderRepository) transition(ctx context.Context, orderID string, to domain.OrderStatus, entry domain.StatusEntry, allow func(domain.OrderStatus) bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := lockStatus(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if !allow(current) {
		return fmt.Errorf("%s -> %s: %w", current, to, domain.ErrInvalidTransition)
	}

	frozen, err := frozenByPayout(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if frozen {
		return domain.ErrOrderFrozen
	}

	entry.Status = to
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := insertHistory(ctx, tx, orderID, entry); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`, to, orderID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// ConfirmPayment stamps payment details exactly once and transitions
// the order to confirmed. The (provider, transactionID) pair is written
// to the processed-notification ledger in the same transaction, so a
// redelivered webhook collapses to a silent no-op. Returns false when
// nothing changed.
func (r *OrderRepository) ConfirmPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	seen, err := markProcessed(ctx, tx, details.Provider, transactionID, orderID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, tx.Commit()
	}

	current, err := lockStatus(ctx, tx, orderID)
	if err != nil {
		return false, err
	}

	// A payment landing on a cancelled or refunded order must not make it
	// paid and payout-eligible. Roll back the idempotency claim too, so
	// the notification stays open for manual refund handling.
	if current == domain.OrderStatusCancelled || current == domain.OrderStatusRefunded {
		return false, fmt.Errorf("order %s is %s: %w", orderID, current, domain.ErrOrderClosed)
	}

	var paymentStatus domain.PaymentStatus
	if err := tx.QueryRowContext(ctx, `SELECT payment_status FROM orders WHERE id = $1`, orderID).Scan(&paymentStatus); err != nil {
		return false, err
	}
	// Already confirmed through another transaction id: keep the first
	// stamp, acknowledge the duplicate.
	if paymentStatus == domain.PaymentStatusPaid {
		return false, tx.Commit()
	}

	if current == domain.OrderStatusPending {
		entry := domain.StatusEntry{
			Status:    domain.OrderStatusConfirmed,
			Note:      fmt.Sprintf("payment %s via %s", details.PaymentID, details.Provider),
			Actor:     "payment-engine",
			Timestamp: time.Now().UTC(),
		}
		if err := insertHistory(ctx, tx, orderID, entry); err != nil {
			return false, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE orders SET status = $1 WHERE id = $2`, domain.OrderStatusConfirmed, orderID); err != nil {
			return false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, payment_id = $2, payment_provider = $3, payment_date = $4,
			commission_status = $5, updated_at = NOW()
		WHERE id = $6
	`, domain.PaymentStatusPaid, details.PaymentID, details.Provider, details.PaymentDate,
		domain.CommissionCollected, orderID)
	if err != nil {
		return false, err
	}

	return true, tx.Commit()
}

// MarkPartialPayment records a low-confidence reconciliation outcome:
// payment details are stamped with partial status and the order is NOT
// confirmed or credited. Idempotent under redelivery.
func (r *OrderRepository) MarkPartialPayment(ctx context.Context, orderID string, details domain.PaymentDetails, transactionID string) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	seen, err := markProcessed(ctx, tx, details.Provider, transactionID, orderID)
	if err != nil {
		return false, err
	}
	if seen {
		return false, tx.Commit()
	}

	if _, err := lockStatus(ctx, tx, orderID); err != nil {
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, payment_id = $2, payment_provider = $3, payment_date = $4, updated_at = NOW()
		WHERE id = $5 AND payment_status = $6
	`, domain.PaymentStatusPartial, details.PaymentID, details.Provider, details.PaymentDate,
		orderID, domain.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return n > 0, tx.Commit()
}

// markProcessed claims the (provider, transactionID) idempotency key.
// Returns true when the pair was already processed.
func markProcessed(ctx context.Context, tx *sql.Tx, provider, transactionID, orderID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO processed_notifications (provider, transaction_id, order_id, processed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (provider, transaction_id) DO NOTHING
	`, provider, transactionID, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// RecordAttempt stores one outbound payment attempt.
func (r *OrderRepository) RecordAttempt(ctx context.Context, attempt *domain.PaymentAttempt) error {
	attempt.ID = uuid.New().String()
	attempt.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_attempts (id, order_id, provider, provider_ref, amount_expected, method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, attempt.ID, attempt.OrderID, attempt.Provider, attempt.ProviderRef, attempt.AmountExpected, attempt.Method, attempt.CreatedAt)
	return err
}

// FindByReference resolves an order by its own number or by a provider
// reference recorded on one of its payment attempts.
func (r *OrderRepository) FindByReference(ctx context.Context, reference string) (*domain.Order, error) {
	order, err := r.GetByNumber(ctx, reference)
	if err != nil || order != nil {
		return order, err
	}

	var orderID string
	err = r.db.QueryRowContext(ctx, `
		SELECT order_id FROM payment_attempts
		WHERE provider_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, reference).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, orderID)
}

// FindPendingMobileMoney returns payment-pending mobile money orders
// created since the cutoff whose total is within tolerance of amount.
func (r *OrderRepository) FindPendingMobileMoney(ctx context.Context, amount, tolerance int64, since time.Time) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_method = $1
		  AND payment_status = $2
		  AND total_amount BETWEEN $3 AND $4
		  AND created_at >= $5
		ORDER BY created_at DESC
	`, domain.PaymentMethodMobileMoney, domain.PaymentStatusPending,
		amount-tolerance, amount+tolerance, since)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectOrders(rows)
}

// FindCourierOrders narrows the amount search to orders currently
// assigned to one courier.
func (r *OrderRepository) FindCourierOrders(ctx context.Context, courierID string, amount, tolerance int64) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE courier_id = $1
		  AND payment_status = $2
		  AND total_amount BETWEEN $3 AND $4
		ORDER BY created_at DESC
	`, courierID, domain.PaymentStatusPending, amount-tolerance, amount+tolerance)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// FindCourierByPhone looks up a delivery person by sender phone.
func (r *OrderRepository) FindCourierByPhone(ctx context.Context, phone string) (*domain.Courier, error) {
	courier := &domain.Courier{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, phone FROM couriers WHERE phone = $1
	`, phone).Scan(&courier.ID, &courier.Name, &courier.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return courier, nil
}

// ListByIDs loads orders in bulk, without items or history.
func (r *OrderRepository) ListByIDs(ctx context.Context, ids []string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return collectOrders(rows)
}
