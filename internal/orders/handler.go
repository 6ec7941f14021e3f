package orders

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

type Handler struct {
	store     Store
	lifecycle *Lifecycle
	payments  *PaymentService
	logger    *slog.Logger
}

func NewHandler(store Store, lifecycle *Lifecycle, payments *PaymentService, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		lifecycle: lifecycle,
		payments:  payments,
		logger:    logger,
	}
}

type createOrderRequest struct {
	BuyerID       string               `json:"buyer_id"`
	SellerID      string               `json:"seller_id"`
	CourierID     string               `json:"courier_id,omitempty"`
	Items         []domain.OrderItem   `json:"items"`
	Tax           int64                `json:"tax"`
	ShippingCost  int64                `json:"shipping_cost"`
	PaymentMethod domain.PaymentMethod `json:"payment_method"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order := &domain.Order{
		BuyerID:       req.BuyerID,
		SellerID:      req.SellerID,
		CourierID:     req.CourierID,
		Items:         req.Items,
		Tax:           req.Tax,
		ShippingCost:  req.ShippingCost,
		PaymentMethod: req.PaymentMethod,
	}

	if err := h.lifecycle.CreateOrder(r.Context(), order); err != nil {
		h.writeDomainError(w, err, "failed to create order")
		return
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		h.writeError(w, http.StatusBadRequest, "missing order number")
		return
	}

	order, err := h.store.GetByNumber(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_number", number)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
	Note   string             `json:"note"`
	Actor  string             `json:"actor"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.GetByNumber(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_number", number)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	if err := h.lifecycle.UpdateStatus(r.Context(), order.ID, req.Status, req.Note, req.Actor); err != nil {
		h.writeDomainError(w, err, "failed to update order status")
		return
	}

	updated, err := h.store.GetByNumber(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to reload order", "error", err, "order_number", number)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, updated)
}

type deliverRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) HandleDeliver(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	var req deliverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.store.GetByNumber(r.Context(), number)
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "order_number", number)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	entry, err := h.lifecycle.ConfirmDelivery(r.Context(), order.ID, req.Actor)
	if err != nil {
		h.writeDomainError(w, err, "failed to confirm delivery")
		return
	}
	h.writeJSON(w, http.StatusOK, entry)
}

type initiatePaymentRequest struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Phone  string `json:"phone"`
}

func (h *Handler) HandleInitiatePayment(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	var req initiatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	principal := Principal{UserID: req.UserID, Email: req.Email, Phone: req.Phone}
	result, err := h.payments.Initiate(r.Context(), number, principal)
	if err != nil {
		h.writeDomainError(w, err, "failed to initiate payment")
		return
	}

	h.writeJSON(w, http.StatusCreated, map[string]string{
		"payment_link":       result.PaymentLink,
		"transaction_ref":    result.TransactionRef,
		"merchant_reference": result.MerchantReference,
	})
}

type verifyPaymentRequest struct {
	TransactionRef string `json:"transaction_ref"`
}

func (h *Handler) HandleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	var req verifyPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TransactionRef == "" {
		h.writeError(w, http.StatusBadRequest, "transaction_ref required")
		return
	}

	order, err := h.payments.Verify(r.Context(), number, req.TransactionRef)
	if err != nil {
		h.writeDomainError(w, err, "failed to verify payment")
		return
	}
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	var ve *domain.ValidationError
	var ge *domain.GatewayError

	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrOrderFrozen):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ge):
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusBadGateway, ge.Error())
	default:
		h.logger.Error(logMsg, "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
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
