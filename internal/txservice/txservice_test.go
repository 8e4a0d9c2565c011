package txservice

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

	"altarath/pos/internal/domain"
)

func TestSubmitCheckoutSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/checkout", r.URL.Path)
		var tx domain.Transaction
		require.NoError(t, json.NewDecoder(r.Body).Decode(&tx))
		json.NewEncoder(w).Encode(domain.CheckoutConfirmation{ReferenceNumber: tx.ReferenceNumber})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	conf, err := c.SubmitCheckout(context.Background(), domain.Transaction{ReferenceNumber: "A010825"})
	require.NoError(t, err)
	assert.Equal(t, "A010825", conf.ReferenceNumber)
}

func TestSubmitCheckoutRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": "unknown cashier"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.SubmitCheckout(context.Background(), domain.Transaction{ReferenceNumber: "A010825"})
	require.Error(t, err)
	require.True(t, IsRejected(err))

	var rerr *RejectedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusUnprocessableEntity, rerr.StatusCode)
	assert.Equal(t, "unknown cashier", rerr.Message)
}

func TestSubmitCheckoutBackendUnavailableIsNotRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	_, err := c.SubmitCheckout(context.Background(), domain.Transaction{ReferenceNumber: "A010825"})
	require.Error(t, err)
	assert.False(t, IsRejected(err))
}

func TestSubmitCheckoutTransportErrorIsNotRejection(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.SubmitCheckout(context.Background(), domain.Transaction{ReferenceNumber: "A010825"})
	require.Error(t, err)
	assert.False(t, IsRejected(err))
}

func TestFindTransactions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/transactions", r.URL.Path)
		require.Equal(t, "A010825", r.URL.Query().Get("reference"))
		price := decimal.RequireFromString("4.500")
		json.NewEncoder(w).Encode(map[string]any{
			"transactions": []TransactionRecord{{
				ReferenceNumber: "A010825",
				PaymentMethod:   "cash",
				Total:           price,
				ItemsSold:       []SoldItem{{ID: "flt-01", Name: "Oil Filter", Price: &price, Quantity: 1}},
			}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	records, err := c.FindTransactions(context.Background(), "A010825")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Oil Filter", records[0].ItemsSold[0].Name)
}

func TestSubmitRefund(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/transactions/refund", r.URL.Path)
		var req domain.RefundRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(map[string]any{
			"refund": domain.RefundConfirmation{ReferenceNumber: "R010825"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	conf, err := c.SubmitRefund(context.Background(), domain.RefundRequest{OriginalReferenceNumber: "A010825"})
	require.NoError(t, err)
	assert.Equal(t, "R010825", conf.ReferenceNumber)
}
