package notify

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"time"
)

// ServiceHandler is the delivery side of the notification service. It
// simulates carrier latency and logs instead of talking to a real
// email or SMS gateway.
type ServiceHandler struct {
	logger *slog.Logger
}

func NewServiceHandler(logger *slog.Logger) *ServiceHandler {
	return &ServiceHandler{logger: logger}
}

type emailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type smsRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	Status string `json:"status"`
}

func (h *ServiceHandler) HandleSendEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	simulateCarrierLatency()
	h.logger.Info("email sent", "to", req.To, "subject", req.Subject)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func (h *ServiceHandler) HandleSendSMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	simulateCarrierLatency()
	h.logger.Info("sms sent", "to", req.To)

	h.writeJSON(w, http.StatusOK, sendResponse{Status: "sent"})
}

func simulateCarrierLatency() {
	time.Sleep(time.Duration(50+rand.Intn(151)) * time.Millisecond)
}

func (h *ServiceHandler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *ServiceHandler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
