package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nghednh/flowershop-checkout/internal/domain/order"
)

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL:        baseURL,
		APIKey:         "test-key",
		RequestTimeout: time.Second,
		MaxElapsed:     2 * time.Second,
	})
}

func TestInitiate(t *testing.T) {
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/intents", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")

		var req initiateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "o1", req.OrderID)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(initiateResponse{ProviderRef: "ref-123"})
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).Initiate(context.Background(), "o1", decimal.RequireFromString("18.00"))

	require.NoError(t, err)
	assert.Equal(t, "ref-123", ref)
	assert.Equal(t, "o1", gotIdempotencyKey)
}

func TestInitiate_RetriesServerErrors(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(initiateResponse{ProviderRef: "ref-after-retry"})
	}))
	defer srv.Close()

	ref, err := newTestClient(srv.URL).Initiate(context.Background(), "o1", decimal.NewFromInt(10))

	require.NoError(t, err)
	assert.Equal(t, "ref-after-retry", ref)
	assert.Equal(t, 3, attempts)
}

func TestInitiate_ClientErrorIsPermanent(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Initiate(context.Background(), "o1", decimal.NewFromInt(10))

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "4xx is not retried")
}

func TestVoid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/intents/ref-123/void", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Void(context.Background(), "ref-123")

	require.NoError(t, err)
}

func TestVoid_AlreadyCaptured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(voidResponse{Status: "captured"})
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).Void(context.Background(), "ref-123")

	require.ErrorIs(t, err, order.ErrAlreadyCaptured)
}
