package payouts

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sokoni-dev/sokoni-payments/internal/domain"
)

func testHandlerMux(t *testing.T, store Store, disburser *fakeDisburser) *http.ServeMux {
	t.Helper()
	engine := testEngine(t, store, disburser)
	handler := NewHandler(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /payouts/pending", handler.HandleListPending)
	mux.HandleFunc("POST /payouts", handler.HandleCreate)
	mux.HandleFunc("GET /payouts/{id}", handler.HandleGet)
	mux.HandleFunc("POST /payouts/{id}/process", handler.HandleProcess)
	mux.HandleFunc("POST /payouts/{id}/retry", handler.HandleRetry)
	return mux
}

func TestHandlerCreateAndGet(t *testing.T) {
	store := newMemStore()
	store.addOrder(settledOrder("1", "seller-a", 100_000, 10_000))
	mux := testHandlerMux(t, store, &fakeDisburser{})

	body := `{"seller_id": "seller-a", "order_ids": ["1"]}`
	req := httptest.NewRequest(http.MethodPost, "/payouts", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created domain.Payout
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode payout: %v", err)
	}
	if created.NetAmount != 100_000-10_000-500 {
		t.Errorf("unexpected net amount %d", created.NetAmount)
	}

	req = httptest.NewRequest(http.MethodGet, "/payouts/"+created.ID, nil)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandlerErrorMapping(t *testing.T) {
	t.Run("missing seller id is a bad request", func(t *testing.T) {
		mux := testHandlerMux(t, newMemStore(), &fakeDisburser{})
		req := httptest.NewRequest(http.MethodPost, "/payouts", strings.NewReader(`{"order_ids": ["1"]}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("unknown payout is not found", func(t *testing.T) {
		mux := testHandlerMux(t, newMemStore(), &fakeDisburser{})
		req := httptest.NewRequest(http.MethodGet, "/payouts/nope", nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("unsettled order is a conflict", func(t *testing.T) {
		store := newMemStore()
		unpaid := settledOrder("1", "seller-a", 100_000, 10_000)
		unpaid.PaymentStatus = domain.PaymentStatusPending
		store.addOrder(unpaid)
		mux := testHandlerMux(t, store, &fakeDisburser{})

		req := httptest.NewRequest(http.MethodPost, "/payouts",
			strings.NewReader(`{"seller_id": "seller-a", "order_ids": ["1"]}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusConflict {
			t.Fatalf("expected 409, got %d", rec.Code)
		}
	})

	t.Run("early retry is throttled with a wait hint", func(t *testing.T) {
		store := newMemStore()
		store.addOrder(settledOrder("1", "seller-a", 100_000, 10_000))
		disburser := &fakeDisburser{fail: true}
		engine := testEngine(t, store, disburser)

		ctx := context.Background()
		created, err := engine.CreatePayout(ctx, "seller-a", []string{"1"})
		if err != nil {
			t.Fatalf("CreatePayout: %v", err)
		}
		if _, err := engine.Process(ctx, created.ID, "finance-bot"); err != nil {
			t.Fatalf("Process: %v", err)
		}

		handler := NewHandler(engine, slog.New(slog.NewTextHandler(io.Discard, nil)))
		mux := http.NewServeMux()
		mux.HandleFunc("POST /payouts/{id}/retry", handler.HandleRetry)

		req := httptest.NewRequest(http.MethodPost, "/payouts/"+created.ID+"/retry",
			strings.NewReader(`{"actor": "finance-bot"}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d: %s", rec.Code, rec.Body.String())
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("expected a Retry-After header")
		}
	})

	t.Run("gateway failure during processing is not an api error", func(t *testing.T) {
		// A failed transfer still yields the payout state, not a 502: the
		// failure is recorded and retried under backoff.
		store := newMemStore()
		store.addOrder(settledOrder("1", "seller-a", 100_000, 10_000))
		mux := testHandlerMux(t, store, &fakeDisburser{fail: true})

		req := httptest.NewRequest(http.MethodPost, "/payouts",
			strings.NewReader(`{"seller_id": "seller-a", "order_ids": ["1"]}`))
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
		var created domain.Payout
		if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
			t.Fatalf("decode payout: %v", err)
		}

		req = httptest.NewRequest(http.MethodPost, "/payouts/"+created.ID+"/process",
			strings.NewReader(`{"actor": "finance-bot"}`))
		rec = httptest.NewRecorder()
		mux.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		var processed domain.Payout
		if err := json.NewDecoder(rec.Body).Decode(&processed); err != nil {
			t.Fatalf("decode payout: %v", err)
		}
		if processed.Status != domain.PayoutStatusFailed {
			t.Errorf("expected failed payout, got %s", processed.Status)
		}
	})
}
