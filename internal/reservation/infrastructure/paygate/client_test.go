package paygate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rentlane/internal/common/types"
)

func TestClient_Initiate(t *testing.T) {
	var got initiateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Equal(t, "r-1", r.Header.Get(idempotencyHeader))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(initiateResponse{TransactionID: "tx-9", PaymentURL: "https://pay.example.test/tx-9"})
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), srv.URL+"/", "key-1")
	session, err := c.Initiate(context.Background(), types.NewMoney(decimal.NewFromInt(34500), "EUR"), "r-1", "https://cb.example.test")
	require.NoError(t, err)

	assert.Equal(t, "34500.00", got.Amount)
	assert.Equal(t, "EUR", got.Currency)
	assert.Equal(t, "https://cb.example.test", got.CallbackURL)
	assert.Equal(t, "paygate", session.Provider)
	assert.Equal(t, "tx-9", session.TransactionID)
	assert.Equal(t, "https://pay.example.test/tx-9", session.PaymentURL)
}

func TestClient_Refund(t *testing.T) {
	tests := []struct {
		name       string
		amount     *types.Money
		wantAmount string
	}{
		{"partial", &types.Money{Amount: decimal.RequireFromString("25875"), Currency: "EUR"}, "25875.00"},
		{"full", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got refundRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/payments/tx-9/refunds", r.URL.Path)
				require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
				w.WriteHeader(http.StatusAccepted)
			}))
			defer srv.Close()

			err := NewClient(srv.Client(), srv.URL, "").Refund(context.Background(), "tx-9", tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAmount, got.Amount)
		})
	}
}

func TestClient_GatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "card network down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL, "").Initiate(context.Background(), types.Zero("EUR"), "r-1", "")
	assert.ErrorContains(t, err, "gateway returned 503: card network down")
}

func TestClient_IncompleteSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"transaction_id":"tx-1"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.Client(), srv.URL, "").Initiate(context.Background(), types.Zero("EUR"), "r-1", "")
	assert.ErrorContains(t, err, "incomplete session")
}
