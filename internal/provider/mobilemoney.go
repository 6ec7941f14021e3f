package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

const mobileMoneyName = "mobilemoney"

// tokenRefreshMargin is subtracted from the provider-reported expiry so
// a token is never used in its final seconds.
const tokenRefreshMargin = 60 * time.Second

var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)

// MobileMoneyClient talks to an asynchronous STK-push style mobile
// money provider. Requests are token-gated; the buyer completes the
// payment on their handset and the provider notifies us by webhook.
type MobileMoneyClient struct {
	baseURL     string
	consumerKey string
	consumerSec string
	httpClient  *http.Client
	now         func() time.Time

	mu          sync.RWMutex
	token       string
	tokenExpiry time.Time
}

func NewMobileMoneyClient(baseURL, consumerKey, consumerSecret string, client *http.Client) *MobileMoneyClient {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &MobileMoneyClient{
		baseURL:     baseURL,
		consumerKey: consumerKey,
		consumerSec: consumerSecret,
		httpClient:  client,
		now:         time.Now,
	}
}

func (c *MobileMoneyClient) Name() string { return mobileMoneyName }

type mobileMoneyError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
}

type tokenResponse struct {
	AccessToken string            `json:"access_token"`
	ExpiresIn   int64             `json:"expires_in"`
	Error       *mobileMoneyError `json:"error,omitempty"`
}

// accessToken returns a cached bearer token, refreshing it when within
// the safety margin of expiry. The cache is read-mostly; refresh is
// serialized behind the write lock with a double check so concurrent
// callers trigger a single provider round trip.
func (c *MobileMoneyClient) accessToken(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiry := c.token, c.tokenExpiry
	c.mu.RUnlock()
	if token != "" && c.now().Before(expiry) {
		return token, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.consumerKey, c.consumerSec)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &domain.GatewayError{Provider: mobileMoneyName, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("decode token response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK || tr.Error != nil || tr.AccessToken == "" {
		ge := &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("token request returned status %d", resp.StatusCode)}
		if tr.Error != nil {
			ge.Code = tr.Error.Code
			ge.Message = tr.Error.Message
		}
		return "", ge
	}

	c.token = tr.AccessToken
	c.tokenExpiry = c.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenRefreshMargin)
	return c.token, nil
}

type pushRequest struct {
	Phone             string `json:"phone"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	MerchantReference string `json:"merchant_reference"`
	Description       string `json:"description"`
}

type pushResponse struct {
	CheckoutRequestID string            `json:"checkout_request_id"`
	PaymentURL        string            `json:"payment_url"`
	Error             *mobileMoneyError `json:"error,omitempty"`
}

func (c *MobileMoneyClient) CreatePayment(ctx context.Context, subject PaymentSubject) (CreateResult, error) {
	if subject.Amount <= 0 {
		return CreateResult{}, &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if subject.Reference == "" {
		return CreateResult{}, &domain.ValidationError{Field: "reference", Reason: "required"}
	}
	// A missing or malformed phone is a hard precondition failure; the
	// provider is never called.
	if !e164Pattern.MatchString(subject.Phone) {
		return CreateResult{}, &domain.ValidationError{Field: "phone", Reason: "must be E.164, e.g. +254712345678"}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return CreateResult{}, err
	}

	body := pushRequest{
		Phone:             subject.Phone,
		Amount:            subject.Amount,
		Currency:          subject.Currency,
		MerchantReference: subject.Reference,
		Description:       fmt.Sprintf("%s %s", subject.Kind, subject.Reference),
	}

	var resp pushResponse
	if err := c.post(ctx, token, "/v1/payments/push", body, &resp); err != nil {
		return CreateResult{}, err
	}
	if resp.Error != nil {
		return CreateResult{}, &domain.GatewayError{Provider: mobileMoneyName, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.CheckoutRequestID == "" {
		return CreateResult{}, &domain.GatewayError{Provider: mobileMoneyName, Message: "empty checkout request id in response"}
	}

	return CreateResult{
		PaymentLink:       resp.PaymentURL,
		TransactionRef:    resp.CheckoutRequestID,
		MerchantReference: subject.Reference,
	}, nil
}

type queryResponse struct {
	ResultCode    string            `json:"result_code"`
	TransactionID string            `json:"transaction_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CompletedAt   time.Time         `json:"completed_at"`
	Error         *mobileMoneyError `json:"error,omitempty"`
}

func (c *MobileMoneyClient) VerifyPayment(ctx context.Context, transactionRef string) (VerifyResult, error) {
	if transactionRef == "" {
		return VerifyResult{}, &domain.ValidationError{Field: "transaction_ref", Reason: "required"}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return VerifyResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+transactionRef, nil)
	if err != nil {
		return VerifyResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return VerifyResult{}, &domain.GatewayError{Provider: mobileMoneyName, Message: err.Error()}
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp queryResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return VerifyResult{}, &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("decode query response: %v", err)}
	}
	if httpResp.StatusCode != http.StatusOK || resp.Error != nil {
		ge := &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("query returned status %d", httpResp.StatusCode)}
		if resp.Error != nil {
			ge.Code = resp.Error.Code
			ge.Message = resp.Error.Message
		}
		return VerifyResult{}, ge
	}

	return VerifyResult{
		Success:       resp.ResultCode == "0",
		TransactionID: resp.TransactionID,
		Amount:        resp.Amount,
		Currency:      resp.Currency,
		Method:        domain.PaymentMethodMobileMoney,
		CreatedAt:     resp.CompletedAt,
	}, nil
}

type disburseRequest struct {
	SellerID  string `json:"seller_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

type disburseResponse struct {
	TransactionID string            `json:"transaction_id"`
	Error         *mobileMoneyError `json:"error,omitempty"`
}

// Disburse pushes a B2C transfer to the seller's registered wallet.
func (c *MobileMoneyClient) Disburse(ctx context.Context, sellerID string, amount int64, reference string) (string, error) {
	if amount <= 0 {
		return "", &domain.ValidationError{Field: "amount", Reason: "must be positive"}
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	var resp disburseResponse
	body := disburseRequest{SellerID: sellerID, Amount: amount, Reference: reference}
	if err := c.post(ctx, token, "/v1/disbursements", body, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", &domain.GatewayError{Provider: mobileMoneyName, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.TransactionID == "" {
		return "", &domain.GatewayError{Provider: mobileMoneyName, Message: "empty transaction id in disburse response"}
	}
	return resp.TransactionID, nil
}

func (c *MobileMoneyClient) post(ctx context.Context, token, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.GatewayError{Provider: mobileMoneyName, Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return &domain.GatewayError{Provider: mobileMoneyName, Message: fmt.Sprintf("provider returned status %d", resp.StatusCode)}
	}
	return nil
}
