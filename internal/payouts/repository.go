package payouts

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

type PayoutRepository struct {
	db *sql.DB
}

func NewPayoutRepository(db *sql.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// EligibleOrders returns settled orders whose commission is collected
// and which are not attached to any non-terminal payout, with line
// items loaded for per-seller attribution.
func (r *PayoutRepository) EligibleOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT o.id, o.order_number, o.seller_id, o.subtotal, o.total_amount,
			o.payment_status, o.commission_amount, o.commission_status,
			COALESCE(o.payment_provider, '')
		FROM orders o
		WHERE o.payment_status = $1
		  AND o.commission_status = $2
		  AND NOT EXISTS (
			SELECT 1 FROM payout_orders po
			JOIN payouts p ON p.id = po.payout_id
			WHERE po.order_id = o.id AND p.status <> 'failed'
		  )
		ORDER BY o.created_at
	`, domain.PaymentStatusPaid, domain.CommissionCollected)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders, err := scanEligible(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, orders)
}

// OrdersForPayout loads the named orders with items, regardless of
// eligibility; the engine validates and the reservation update enforces.
func (r *PayoutRepository) OrdersForPayout(ctx context.Context, ids []string) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_number, seller_id, subtotal, total_amount,
			payment_status, commission_amount, commission_status,
			COALESCE(payment_provider, '')
		FROM orders
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders, err := scanEligible(rows)
	if err != nil {
		return nil, err
	}
	return r.attachItems(ctx, orders)
}

func scanEligible(rows *sql.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var provider string
		if err := rows.Scan(&o.ID, &o.OrderNumber, &o.SellerID, &o.Subtotal, &o.TotalAmount,
			&o.PaymentStatus, &o.Commission.Amount, &o.Commission.Status, &provider); err != nil {
			return nil, err
		}
		if provider != "" {
			o.PaymentDetails = &domain.PaymentDetails{Provider: provider}
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *PayoutRepository) attachItems(ctx context.Context, orders []domain.Order) ([]domain.Order, error) {
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]string, len(orders))
	index := make(map[string]*domain.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		index[orders[i].ID] = &orders[i]
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, seller_id, quantity, unit_price, subtotal
		FROM order_items
		WHERE order_id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var orderID string
		var item domain.OrderItem
		if err := rows.Scan(&orderID, &item.ProductID, &item.SellerID, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, err
		}
		index[orderID].Items = append(index[orderID].Items, item)
	}
	return orders, rows.Err()
}

// Create persists the payout and reserves its orders by flipping their
// commission to processing. The reservation update itself re-checks
// eligibility, so a concurrent payout claiming the same order loses.
func (r *PayoutRepository) Create(ctx context.Context, payout *domain.Payout) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET commission_status = $1, updated_at = NOW()
		WHERE id = ANY($2)
		  AND payment_status = $3
		  AND commission_status = $4
		  AND NOT EXISTS (
			SELECT 1 FROM payout_orders po
			JOIN payouts p ON p.id = po.payout_id
			WHERE po.order_id = orders.id AND p.status <> 'failed'
		  )
	`, domain.CommissionProcessing, pq.Array(payout.OrderIDs),
		domain.PaymentStatusPaid, domain.CommissionCollected)
	if err != nil {
		return err
	}
	reserved, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if int(reserved) != len(payout.OrderIDs) {
		return fmt.Errorf("reserved %d of %d orders: %w", reserved, len(payout.OrderIDs), domain.ErrOrderNotEligible)
	}

	now := time.Now().UTC()
	payout.ID = uuid.New().String()
	payout.Status = domain.PayoutStatusPending
	payout.CreatedAt = now
	payout.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO payouts (id, seller_id, gross_amount, total_commission, total_fees, net_amount,
			status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $8)
	`, payout.ID, payout.SellerID, payout.GrossAmount, payout.TotalCommission, payout.TotalFees,
		payout.NetAmount, payout.Status, now)
	if err != nil {
		return err
	}

	for _, orderID := range payout.OrderIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payout_orders (payout_id, order_id) VALUES ($1, $2)
		`, payout.ID, orderID); err != nil {
			return err
		}
	}

	if err := appendAudit(ctx, tx, payout.ID, "created", "payout-engine",
		fmt.Sprintf("%d orders, net %d", len(payout.OrderIDs), payout.NetAmount)); err != nil {
		return err
	}

	return tx.Commit()
}

func appendAudit(ctx context.Context, tx *sql.Tx, payoutID, action, actor, details string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO payout_audit (id, payout_id, action, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, uuid.New().String(), payoutID, action, actor, details)
	return err
}

func (r *PayoutRepository) Get(ctx context.Context, id string) (*domain.Payout, error) {
	payout := &domain.Payout{}
	var lastAttempt sql.NullTime

	err := r.db.QueryRowContext(ctx, `
		SELECT id, seller_id, gross_amount, total_commission, total_fees, net_amount,
			status, attempts, last_attempt_at, created_at, updated_at
		FROM payouts WHERE id = $1
	`, id).Scan(&payout.ID, &payout.SellerID, &payout.GrossAmount, &payout.TotalCommission,
		&payout.TotalFees, &payout.NetAmount, &payout.Status, &payout.Attempts,
		&lastAttempt, &payout.CreatedAt, &payout.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastAttempt.Valid {
		payout.LastAttemptAt = &lastAttempt.Time
	}

	rows, err := r.db.QueryContext(ctx, `SELECT order_id FROM payout_orders WHERE payout_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var orderID string
		if err := rows.Scan(&orderID); err != nil {
			return nil, err
		}
		payout.OrderIDs = append(payout.OrderIDs, orderID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	auditRows, err := r.db.QueryContext(ctx, `
		SELECT action, actor, details, created_at
		FROM payout_audit WHERE payout_id = $1 ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = auditRows.Close() }()
	for auditRows.Next() {
		var entry domain.AuditEntry
		if err := auditRows.Scan(&entry.Action, &entry.Actor, &entry.Details, &entry.Timestamp); err != nil {
			return nil, err
		}
		payout.AuditTrail = append(payout.AuditTrail, entry)
	}
	return payout, auditRows.Err()
}

// BeginProcessing applies pending -> processing as a check-and-set,
// bumping attempts and stamping the attempt time.
func (r *PayoutRepository) BeginProcessing(ctx context.Context, id, actor string) (*domain.Payout, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE payouts
		SET status = $1, attempts = attempts + 1, last_attempt_at = NOW(), updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, domain.PayoutStatusProcessing, id, domain.PayoutStatusPending)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("payout %s is not pending: %w", id, domain.ErrInvalidTransition)
	}

	if err := appendAudit(ctx, tx, id, "processing", actor, ""); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r.Get(ctx, id)
}

// Complete settles the payout and marks its orders' commission paid.
func (r *PayoutRepository) Complete(ctx context.Context, id, transferID string) error {
	return r.finish(ctx, id, domain.PayoutStatusCompleted, domain.CommissionPaid,
		"completed", fmt.Sprintf("transfer %s", transferID))
}

// Fail records the failure and releases the reserved orders back to
// collected so their funds are not stranded.
func (r *PayoutRepository) Fail(ctx context.Context, id, reason string) error {
	return r.finish(ctx, id, domain.PayoutStatusFailed, domain.CommissionCollected, "failed", reason)
}

func (r *PayoutRepository) finish(ctx context.Context, id string, status domain.PayoutStatus, commission domain.CommissionStatus, action, details string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE payouts SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, status, id, domain.PayoutStatusProcessing)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payout %s is not processing: %w", id, domain.ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET commission_status = $1, updated_at = NOW()
		WHERE id IN (SELECT order_id FROM payout_orders WHERE payout_id = $2)
	`, commission, id)
	if err != nil {
		return err
	}

	if err := appendAudit(ctx, tx, id, action, "payout-engine", details); err != nil {
		return err
	}
	return tx.Commit()
}

// Retry re-queues a failed payout as pending. Attempts are deliberately
// left alone so the backoff window keeps growing.
func (r *PayoutRepository) Retry(ctx context.Context, id, actor string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		UPDATE payouts SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, domain.PayoutStatusPending, id, domain.PayoutStatusFailed)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrPayoutNotRetryable
	}

	// A retried payout reclaims its orders. Failing releases them to
	// collected, so any order a newer batch has already claimed will not
	// match here; every order must be reclaimed or the retry is refused,
	// otherwise the same funds would be disbursed twice.
	var want int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM payout_orders WHERE payout_id = $1
	`, id).Scan(&want); err != nil {
		return err
	}
	res, err = tx.ExecContext(ctx, `
		UPDATE orders SET commission_status = $1, updated_at = NOW()
		WHERE id IN (SELECT order_id FROM payout_orders WHERE payout_id = $2)
		  AND commission_status = $3
	`, domain.CommissionProcessing, id, domain.CommissionCollected)
	if err != nil {
		return err
	}
	n, err = res.RowsAffected()
	if err != nil {
		return err
	}
	if n != int64(want) {
		return fmt.Errorf("payout %s orders claimed by another payout: %w", id, domain.ErrPayoutNotRetryable)
	}

	if err := appendAudit(ctx, tx, id, "retried", actor, ""); err != nil {
		return err
	}
	return tx.Commit()
}
