package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

func TestMobileMoneyClient_PhoneValidation(t *testing.T) {
	client := NewMobileMoneyClient("http://unused", "key", "secret", nil)

	cases := []string{"", "0712345678", "254712345678", "+0712", "not-a-phone"}
	for _, phone := range cases {
		subject := OrderSubject("ORD-26-08-0001", 5000, "KES", "Jane", phone, "")
		_, err := client.CreatePayment(context.Background(), subject)

		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("phone %q: expected validation error, got %v", phone, err)
		}
	}
}

func TestMobileMoneyClient_TokenCache(t *testing.T) {
	var tokenCalls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls.Add(1)
			_, _ = w.Write([]byte(`{"access_token":"tok-1","expires_in":3600}`))
		case "/v1/payments/push":
			if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
				t.Errorf("unexpected auth header %q", got)
			}
			_, _ = w.Write([]byte(`{"checkout_request_id":"chk-1","payment_url":"http://pay"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := NewMobileMoneyClient(srv.URL, "key", "secret", srv.Client())
	subject := OrderSubject("ORD-26-08-0001", 5000, "KES", "Jane", "+254712345678", "")

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.CreatePayment(context.Background(), subject); err != nil {
				t.Errorf("create payment: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := tokenCalls.Load(); got != 1 {
		t.Errorf("expected 1 token acquisition across concurrent calls, got %d", got)
	}
}

func TestMobileMoneyClient_TokenRefreshMargin(t *testing.T) {
	now := time.Now()
	var tokenCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenCalls++
			// 90 second lifetime leaves only 30 usable seconds after the margin.
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":90}`))
		case "/v1/payments/push":
			_, _ = w.Write([]byte(`{"checkout_request_id":"chk","payment_url":"u"}`))
		}
	}))
	defer srv.Close()

	client := NewMobileMoneyClient(srv.URL, "key", "secret", srv.Client())
	client.now = func() time.Time { return now }

	subject := OrderSubject("ORD-26-08-0002", 2500, "KES", "Jane", "+254712345678", "")
	if _, err := client.CreatePayment(context.Background(), subject); err != nil {
		t.Fatalf("first create: %v", err)
	}

	// Still inside the usable window: cached token is reused.
	now = now.Add(20 * time.Second)
	if _, err := client.CreatePayment(context.Background(), subject); err != nil {
		t.Fatalf("second create: %v", err)
	}
	if tokenCalls != 1 {
		t.Fatalf("expected cached token at +20s, got %d acquisitions", tokenCalls)
	}

	// Past expiry-minus-margin: a fresh token must be acquired.
	now = now.Add(15 * time.Second)
	if _, err := client.CreatePayment(context.Background(), subject); err != nil {
		t.Fatalf("third create: %v", err)
	}
	if tokenCalls != 2 {
		t.Fatalf("expected refresh at +35s, got %d acquisitions", tokenCalls)
	}
}

func TestMobileMoneyClient_EmbeddedErrorIsGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		case "/v1/payments/push":
			// HTTP 200 with an error object in the body.
			_, _ = w.Write([]byte(`{"error":{"error_code":"500.001.1001","error_message":"insufficient merchant balance"}}`))
		}
	}))
	defer srv.Close()

	client := NewMobileMoneyClient(srv.URL, "key", "secret", srv.Client())
	subject := OrderSubject("ORD-26-08-0003", 9000, "KES", "Jane", "+254712345678", "")

	_, err := client.CreatePayment(context.Background(), subject)
	var ge *domain.GatewayError
	if !errors.As(err, &ge) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if ge.Code != "500.001.1001" {
		t.Errorf("unexpected code %q", ge.Code)
	}
}

func TestMobileMoneyClient_VerifySuccessMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
		case "/v1/payments/chk-9":
			_, _ = w.Write([]byte(`{"result_code":"0","transaction_id":"TXN123","amount":50000,"currency":"KES"}`))
		case "/v1/payments/chk-fail":
			_, _ = w.Write([]byte(`{"result_code":"1032","transaction_id":"","amount":0}`))
		}
	}))
	defer srv.Close()

	client := NewMobileMoneyClient(srv.URL, "key", "secret", srv.Client())

	res, err := client.VerifyPayment(context.Background(), "chk-9")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Success || res.TransactionID != "TXN123" || res.Amount != 50000 {
		t.Errorf("unexpected verify result: %+v", res)
	}
	if res.Method != domain.PaymentMethodMobileMoney {
		t.Errorf("unexpected method %q", res.Method)
	}

	res, err = client.VerifyPayment(context.Background(), "chk-fail")
	if err != nil {
		t.Fatalf("verify cancelled: %v", err)
	}
	if res.Success {
		t.Error("non-zero result code must not be success")
	}
}
