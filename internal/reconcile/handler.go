package reconcile

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

// successStatuses are the provider-reported statuses treated as a
// completed payment. Anything else is acknowledged and discarded.
var successStatuses = map[string]bool{
	"success":   true,
	"completed": true,
	"paid":      true,
	"0":         true,
}

// Publisher hands accepted notifications to the reconciler pipeline.
type Publisher interface {
	Publish(ctx context.Context, key string, event any) error
}

// Handler is the provider-facing webhook intake plus the operator
// endpoints for the manual queue. The webhook always acknowledges
// well-formed bodies so providers stop redelivering; resolution happens
// asynchronously.
type Handler struct {
	publisher Publisher
	parked    *ParkedRepository
	logger    *slog.Logger
}

func NewHandler(publisher Publisher, parked *ParkedRepository, logger *slog.Logger) *Handler {
	return &Handler{publisher: publisher, parked: parked, logger: logger}
}

type webhookBody struct {
	Amount        int64  `json:"amount"`
	Reference     string `json:"reference"`
	TransactionID string `json:"transactionId"`
	SenderPhone   string `json:"senderPhone"`
	Status        string `json:"status"`
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	providerName := r.PathValue("provider")

	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid webhook body")
		return
	}
	if body.TransactionID == "" {
		h.writeError(w, http.StatusBadRequest, "transactionId required")
		return
	}

	if !successStatuses[strings.ToLower(body.Status)] {
		h.logger.Info("non-success webhook discarded", "provider", providerName,
			"transaction_id", body.TransactionID, "status", body.Status)
		h.writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	event := domain.PaymentNotificationEvent{
		Provider:      providerName,
		TransactionID: body.TransactionID,
		Amount:        body.Amount,
		Reference:     body.Reference,
		SenderPhone:   body.SenderPhone,
		Status:        body.Status,
		ReceivedAt:    time.Now().UTC(),
	}
	if err := h.publisher.Publish(r.Context(), providerName+"/"+body.TransactionID, event); err != nil {
		// The provider will redeliver; reconciliation is idempotent.
		h.logger.Error("failed to enqueue notification", "error", err, "transaction_id", body.TransactionID)
		h.writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	h.logger.Info("webhook accepted", "provider", providerName, "transaction_id", body.TransactionID, "amount", body.Amount)
	h.writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

func (h *Handler) HandleListParked(w http.ResponseWriter, r *http.Request) {
	parked, err := h.parked.ListUnresolved(r.Context())
	if err != nil {
		h.logger.Error("failed to list parked notifications", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if parked == nil {
		parked = []domain.ParkedNotification{}
	}
	h.writeJSON(w, http.StatusOK, parked)
}

func (h *Handler) HandleResolveParked(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resolved, err := h.parked.Resolve(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to resolve parked notification", "error", err, "id", id)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if !resolved {
		h.writeError(w, http.StatusNotFound, "parked notification not found")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"result": "resolved"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
