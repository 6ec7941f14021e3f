package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

// ParkedRepository is the operator-facing manual reconciliation queue.
type ParkedRepository struct {
	db *sql.DB
}

func NewParkedRepository(db *sql.DB) *ParkedRepository {
	return &ParkedRepository{db: db}
}

func (r *ParkedRepository) Park(ctx context.Context, n domain.PaymentNotification, reason string) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}

	// A redelivered unmatched notification refreshes the reason instead
	// of duplicating the queue entry.
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO parked_notifications (id, provider, transaction_id, amount, reference, sender_phone, reason, payload, resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9)
		ON CONFLICT (provider, transaction_id) DO UPDATE SET reason = EXCLUDED.reason
	`, uuid.New().String(), n.Provider, n.TransactionID, n.Amount, n.Reference, n.SenderPhone, reason, payload, time.Now().UTC())
	return err
}

func (r *ParkedRepository) AlreadyProcessed(ctx context.Context, provider, transactionID string) (bool, error) {
	var seen bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_notifications
			WHERE provider = $1 AND transaction_id = $2
		)
	`, provider, transactionID).Scan(&seen)
	return seen, err
}

// ListUnresolved returns the open manual queue, oldest first.
func (r *ParkedRepository) ListUnresolved(ctx context.Context) ([]domain.ParkedNotification, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, payload, reason, resolved, created_at
		FROM parked_notifications
		WHERE NOT resolved
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var parked []domain.ParkedNotification
	for rows.Next() {
		var p domain.ParkedNotification
		var payload []byte
		if err := rows.Scan(&p.ID, &payload, &p.Reason, &p.Resolved, &p.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &p.Notification); err != nil {
			return nil, err
		}
		parked = append(parked, p)
	}
	return parked, rows.Err()
}

// Resolve closes a queue entry after an operator has dealt with it.
func (r *ParkedRepository) Resolve(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE parked_notifications SET resolved = TRUE WHERE id = $1 AND NOT resolved
	`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
