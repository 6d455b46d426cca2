package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/queuecast/queuecast/internal/billing/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostedPayCreateAndRetrieveSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			w.Write([]byte(`{"id": "cs_123", "url": "https://pay.example.com/cs_123", "status": "open"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cs_123":
			w.Write([]byte(`{
				"id": "cs_123",
				"status": "complete",
				"payment_status": "paid",
				"amount_total": 2900,
				"currency": "usd",
				"client_reference_id": "qc_abc"
			}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	g := NewHostedPayGateway(server.URL, "sk_test", "https://app.example.com/done", "https://app.example.com/cancel", nil)

	session, err := g.CreateHostedSession(context.Background(), domain.HostedSessionRequest{
		Reference: "qc_abc", Amount: 2900, Currency: "USD", PayerEmail: "u@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_123", session.SessionID)

	result, err := g.RetrieveSession(context.Background(), "cs_123")
	require.NoError(t, err)
	assert.True(t, result.Succeeded())
	assert.Equal(t, "qc_abc", result.Reference)
	assert.Equal(t, "USD", result.Currency)
}

// An open session is pending, and an expired one fails; neither may read as
// success off payment_status alone.
func TestHostedPayRetrieveSession_NonSuccessStates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want domain.VerificationStatus
	}{
		{"open session", `{"id": "cs_1", "status": "open", "payment_status": "unpaid"}`, domain.VerificationPending},
		{"expired session", `{"id": "cs_1", "status": "expired", "payment_status": "unpaid"}`, domain.VerificationFailed},
		{"paid but incomplete", `{"id": "cs_1", "status": "expired", "payment_status": "paid"}`, domain.VerificationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			g := NewHostedPayGateway(server.URL, "sk_test", "", "", nil)
			result, err := g.RetrieveSession(context.Background(), "cs_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
		})
	}
}

func TestHostedPayChargeStoredInstrument_NotSupported(t *testing.T) {
	g := NewHostedPayGateway("http://unused", "sk_test", "", "", nil)
	_, err := g.ChargeStoredInstrument(context.Background(), "AUTH_x", 2900, "USD", "qc_1", nil)
	assert.ErrorIs(t, err, domain.ErrNotSupported)
}
