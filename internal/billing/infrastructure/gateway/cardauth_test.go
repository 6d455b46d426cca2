package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCardAuthVerify_StrictSuccess(t *testing.T) {
	body := `{
		"status": true,
		"message": "Verification successful",
		"data": {
			"status": "success",
			"reference": "qc_abc",
			"amount": 2900,
			"currency": "usd",
			"gateway_response": "Successful",
			"authorization": {
				"authorization_code": "AUTH_xyz",
				"last4": "4242",
				"card_type": "visa",
				"exp_month": "12",
				"exp_year": "2030",
				"reusable": true
			}
		}
	}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/verify/qc_abc", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		w.Write([]byte(body))
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	result, err := g.Verify(context.Background(), "qc_abc")
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, "qc_abc", result.Reference)
	assert.Equal(t, int64(2900), result.Amount)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, "AUTH_xyz", result.InstrumentRef)
	assert.Equal(t, "4242", result.Card.Last4)
	assert.Equal(t, 12, result.Card.ExpMonth)
	assert.JSONEq(t, body, string(result.RawPayload))
}

// A top-level true with a nested non-success must never normalize to success.
func TestCardAuthVerify_DisagreeingFlagsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"status": true,
			"data": {"status": "failed", "reference": "qc_abc", "gateway_response": "Insufficient funds"}
		}`))
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	result, err := g.Verify(context.Background(), "qc_abc")
	require.NoError(t, err)

	assert.Equal(t, domain.VerificationFailed, result.Status)
	assert.Equal(t, "Insufficient funds", result.FailureReason)
	assert.Empty(t, result.InstrumentRef)
}

func TestCardAuthVerify_PendingPassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": true, "data": {"status": "pending", "reference": "qc_abc"}}`))
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	result, err := g.Verify(context.Background(), "qc_abc")
	require.NoError(t, err)
	assert.Equal(t, domain.VerificationPending, result.Status)
}

func TestCardAuthVerify_ProviderErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	_, err := g.Verify(context.Background(), "qc_abc")
	require.Error(t, err)
}

func TestCardAuthChargeStoredInstrument(t *testing.T) {
	var received map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/charge_authorization", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.Write([]byte(`{
			"status": true,
			"data": {
				"status": "success",
				"reference": "qc_renew",
				"amount": 2900,
				"currency": "USD",
				"authorization": {"authorization_code": "AUTH_xyz", "reusable": true}
			}
		}`))
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	result, err := g.ChargeStoredInstrument(context.Background(), "AUTH_xyz", 2900, "usd", "qc_renew", map[string]string{"purpose": "renewal"})
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, "AUTH_xyz", received["authorization_code"])
	assert.Equal(t, "qc_renew", received["reference"])
	assert.Equal(t, "USD", received["currency"])
	assert.Equal(t, float64(2900), received["amount"])
}

func TestCardAuthCreateHostedSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		w.Write([]byte(`{
			"status": true,
			"data": {
				"authorization_url": "https://checkout.example.com/abc",
				"access_code": "ac_123",
				"reference": "qc_new"
			}
		}`))
	}))
	defer server.Close()

	g := NewCardAuthGateway(server.URL, "sk_test", nil)
	session, err := g.CreateHostedSession(context.Background(), domain.HostedSessionRequest{
		Reference: "qc_new", Amount: 2900, Currency: "USD", PayerEmail: "u@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "ac_123", session.SessionID)
	assert.Equal(t, "https://checkout.example.com/abc", session.URL)
}
