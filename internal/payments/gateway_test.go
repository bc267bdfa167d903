package payments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-insure/concierge/internal/tools"
	"github.com/aurora-insure/concierge/pkg/logging"
)

func TestHTTPGateway_CreateCheckout(t *testing.T) {
	var received CheckoutRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/payments/session", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		writeJSON(w, http.StatusOK, CheckoutSession{
			Provider:    "stripe",
			SessionID:   "cs_123",
			CheckoutURL: "https://pay.example.com/cs_123",
		})
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "https://app/success", "https://app/cancel", logging.Default())
	require.NoError(t, err)

	session, err := gw.CreateCheckout(context.Background(), CheckoutRequest{
		QuoteID:  "q-42",
		PlanCode: "explorer-plus",
		Amount:   8900,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.SessionID)
	assert.Equal(t, "https://pay.example.com/cs_123", session.CheckoutURL)

	assert.Equal(t, "https://app/success", received.SuccessURL, "default success URL applied")
	assert.Equal(t, "SGD", received.Currency, "default currency applied")
	assert.Equal(t, "q-42", received.Metadata["quote_id"], "quote id echoed through metadata")
}

func TestHTTPGateway_CreateCheckoutValidatesInput(t *testing.T) {
	gw, err := NewHTTPGateway("http://localhost:1", "", "", logging.Default())
	require.NoError(t, err)

	var invalid *tools.InvalidInputError

	_, err = gw.CreateCheckout(context.Background(), CheckoutRequest{Amount: 100})
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid))

	_, err = gw.CreateCheckout(context.Background(), CheckoutRequest{QuoteID: "q-1", Amount: 0})
	require.Error(t, err)
	assert.True(t, errors.As(err, &invalid))
}

func TestHTTPGateway_CreateCheckoutRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "card declined", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", "", logging.Default())
	require.NoError(t, err)

	_, err = gw.CreateCheckout(context.Background(), CheckoutRequest{QuoteID: "q-1", Amount: 100})
	var rejected *tools.RejectedError
	assert.True(t, errors.As(err, &rejected))
}

func TestHTTPGateway_FetchStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/payments/session/cs_123", r.URL.Path)
		writeJSON(w, http.StatusOK, PaymentStatus{Status: "complete", PaymentStatus: "paid"})
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", "", logging.Default())
	require.NoError(t, err)

	status, err := gw.FetchStatus(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.Equal(t, "cs_123", status.SessionID, "session id backfilled")
	assert.Equal(t, "paid", status.PaymentStatus)
}

func TestHTTPGateway_FetchStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	}))
	defer srv.Close()

	gw, err := NewHTTPGateway(srv.URL, "", "", logging.Default())
	require.NoError(t, err)

	_, err = gw.FetchStatus(context.Background(), "cs_gone")
	var notFound *tools.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}
