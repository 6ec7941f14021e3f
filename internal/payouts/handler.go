package payouts

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

type Handler struct {
	engine *Engine
	logger *slog.Logger
}

func NewHandler(engine *Engine, logger *slog.Logger) *Handler {
	return &Handler{engine: engine, logger: logger}
}

func (h *Handler) HandleListPending(w http.ResponseWriter, r *http.Request) {
	candidates, err := h.engine.CalculatePending(r.Context())
	if err != nil {
		h.logger.Error("failed to calculate pending payouts", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

type createPayoutRequest struct {
	SellerID string   `json:"seller_id"`
	OrderIDs []string `json:"order_ids"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createPayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payout, err := h.engine.CreatePayout(r.Context(), req.SellerID, req.OrderIDs)
	if err != nil {
		h.writeDomainError(w, err, "failed to create payout")
		return
	}
	h.writeJSON(w, http.StatusCreated, payout)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	payout, err := h.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err, "failed to get payout")
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

type actorRequest struct {
	Actor string `json:"actor"`
}

func (h *Handler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payout, err := h.engine.Process(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		h.writeDomainError(w, err, "failed to process payout")
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

func (h *Handler) HandleRetry(w http.ResponseWriter, r *http.Request) {
	var req actorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	payout, err := h.engine.Retry(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		h.writeDomainError(w, err, "failed to retry payout")
		return
	}
	h.writeJSON(w, http.StatusOK, payout)
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error, logMsg string) {
	var ve *domain.ValidationError
	var ge *domain.GatewayError
	var be *domain.RetryBackoffError

	switch {
	case errors.As(err, &ve):
		h.writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, domain.ErrPayoutNotFound):
		h.writeError(w, http.StatusNotFound, "payout not found")
	case errors.Is(err, domain.ErrOrderNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderNotEligible),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrPayoutNotRetryable):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &be):
		w.Header().Set("Retry-After", strconv.Itoa(int(be.Remaining.Seconds())))
		h.writeError(w, http.StatusTooManyRequests, be.Error())
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
