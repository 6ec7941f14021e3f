package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

// ConsumerHandler adapts the reconciler to the Kafka consumer loop.
type ConsumerHandler struct {
	reconciler *Reconciler
	logger     *slog.Logger
}

func NewConsumerHandler(reconciler *Reconciler, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{reconciler: reconciler, logger: logger}
}

// Handle processes one notification message. A malformed payload is
// logged and dropped; there is nothing a redelivery would fix. Ladder
// errors (database, lifecycle) propagate so the message is redelivered,
// which is safe because reconciliation is idempotent.
func (h *ConsumerHandler) Handle(ctx context.Context, payload []byte) error {
	var event domain.PaymentNotificationEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("dropping malformed notification payload", "error", err)
		return nil
	}

	notification := domain.PaymentNotification{
		Provider:      event.Provider,
		TransactionID: event.TransactionID,
		Amount:        event.Amount,
		Reference:     event.Reference,
		SenderPhone:   event.SenderPhone,
		Status:        event.Status,
		ReceivedAt:    event.ReceivedAt,
	}

	outcome, err := h.reconciler.Process(ctx, notification)
	if err != nil {
		return fmt.Errorf("reconcile %s/%s: %w", event.Provider, event.TransactionID, err)
	}

	if outcome.Parked {
		h.logger.Info("notification parked", "transaction_id", event.TransactionID, "reason", outcome.Reason)
	}
	return nil
}
