package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

const checkoutName = "checkout"

// CheckoutClient talks to a card-network hosted-checkout provider. The
// flow is synchronous: create returns a session immediately and verify
// is a direct lookup by session id.
type CheckoutClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewCheckoutClient(baseURL, apiKey string, client *http.Client) *CheckoutClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CheckoutClient{baseURL: baseURL, apiKey: apiKey, httpClient: client}
}

func (c *CheckoutClient) Name() string { return checkoutName }

type checkoutSessionRequest struct {
	MerchantReference string `json:"merchant_reference"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CustomerEmail     string `json:"customer_email,omitempty"`
}

type checkoutSessionResponse struct {
	SessionID   string         `json:"session_id"`
	CheckoutURL string         `json:"checkout_url"`
	Error       *checkoutError `json:"error,omitempty"`
}

type checkoutError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (c *CheckoutClient) CreatePayment(ctx context.Context, subject PaymentSubject) (CreateResult, error) {
	if subject.Amount <= 0 {
		return CreateResult{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if subject.Reference == "" {
		return CreateResult{}, &domain.ValidationError{Field: "reference", Reason: "required"}
	}

	body := checkoutSessionRequest{
		MerchantReference: subject.Reference,
		Amount:            subject.Amount,
		Currency:          subject.Currency,
		CustomerEmail:     subject.Email,
	}

	var resp checkoutSessionResponse
	if err := c.post(ctx, "/v1/checkout/sessions", body, &resp); err != nil {
		return CreateResult{}, err
	}
	// Providers have been seen returning 200 with an error object in the
	// body; that is a failure, full stop.
	if resp.Error != nil {
		return CreateResult{}, &domain.GatewayError{Provider: checkoutName, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.SessionID == "" {
		return CreateResult{}, &domain.GatewayError{Provider: checkoutName, Message: "empty session id in response"}
	}

	return CreateResult{
		PaymentLink:       resp.CheckoutURL,
		TransactionRef:    resp.SessionID,
		MerchantReference: subject.Reference,
	}, nil
}

type checkoutVerifyResponse struct {
	Status        string         `json:"status"`
	TransactionID string         `json:"transaction_id"`
	Amount        int64          `json:"amount"`
	Currency      string         `json:"currency"`
	CreatedAt     time.Time      `json:"created_at"`
	Error         *checkoutError `json:"error,omitempty"`
}

func (c *CheckoutClient) VerifyPayment(ctx context.Context, transactionRef string) (VerifyResult, error) {
	if transactionRef == "" {
		return VerifyResult{}, &domain.ValidationError{Field: "transaction_ref", Reason: "required"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/checkout/sessions/"+transactionRef, nil)
	if err != nil {
		return VerifyResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return VerifyResult{}, &domain.GatewayError{Provider: checkoutName, Message: err.Error()}
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp checkoutVerifyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return VerifyResult{}, &domain.GatewayError{Provider: checkoutName, Message: fmt.Sprintf("decode verify response: %v", err)}
	}
	if httpResp.StatusCode != http.StatusOK || resp.Error != nil {
		ge := &domain.GatewayError{Provider: checkoutName, Message: fmt.Sprintf("verify returned status %d", httpResp.StatusCode)}
		if resp.Error != nil {
			ge.Code = resp.Error.Code
			ge.Message = resp.Error.Message
		}
		return VerifyResult{}, ge
	}

	return VerifyResult{
		Success:       resp.Status == "paid",
		TransactionID: resp.TransactionID,
		Amount:        resp.Amount,
		Currency:      resp.Currency,
		Method:        domain.PaymentMethodCard,
		CreatedAt:     resp.CreatedAt,
	}, nil
}

func (c *CheckoutClient) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: checkoutName, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{Provider: checkoutName, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &domain.GatewayError{Provider: checkoutName, Message: fmt.Sprintf("provider returned status %d", resp.StatusCode)}
	}
	return nil
}
