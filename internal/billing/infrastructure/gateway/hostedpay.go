package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/queuecast/queuecast/internal/billing/domain"
)

// HostedPayGateway adapts the hosted-checkout provider. It has no server-side
// stored-card charging: subscriptions opened through it renew via the
// provider's own billing engine and arrive here as webhooks.
type HostedPayGateway struct {
	client     *apiClient
	successURL string
	cancelURL  string
}

// NewHostedPayGateway creates a hosted-checkout gateway client.
func NewHostedPayGateway(baseURL, secretKey, successURL, cancelURL string, logger *slog.Logger) *HostedPayGateway {
	return &HostedPayGateway{
		client:     newAPIClient("hostedpay", baseURL, secretKey, logger),
		successURL: successURL,
		cancelURL:  cancelURL,
	}
}

// hostedPaySession mirrors the provider's checkout session resource.
type hostedPaySession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Status        string            `json:"status"`
	PaymentStatus string            `json:"payment_status"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	Reference     string            `json:"client_reference_id"`
	Metadata      map[string]string `json:"metadata"`
}

// Verify looks up the order recorded under a reference.
func (g *HostedPayGateway) Verify(ctx context.Context, reference string) (*domain.VerificationResult, error) {
	raw, err := g.client.doJSON(ctx, http.MethodGet, "/v1/orders/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("hostedpay verify %s: %w", reference, err)
	}
	return normalizeHostedPay(raw)
}

// ChargeStoredInstrument is outside this provider's model.
func (g *HostedPayGateway) ChargeStoredInstrument(ctx context.Context, instrumentRef string, amount int64, currency, reference string, metadata map[string]string) (*domain.VerificationResult, error) {
	return nil, domain.ErrNotSupported
}

// CreateHostedSession opens a checkout session.
func (g *HostedPayGateway) CreateHostedSession(ctx context.Context, req domain.HostedSessionRequest) (*domain.HostedSession, error) {
	payload := map[string]any{
		"client_reference_id": req.Reference,
		"amount_total":        req.Amount,
		"currency":            strings.ToLower(req.Currency),
		"customer_email":      req.PayerEmail,
		"success_url":         g.successURL,
		"cancel_url":          g.cancelURL,
		"metadata":            req.Metadata,
	}
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/v1/checkout/sessions", payload)
	if err != nil {
		return nil, fmt.Errorf("hostedpay create session %s: %w", req.Reference, err)
	}

	var session hostedPaySession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("hostedpay create session %s: decode: %w", req.Reference, err)
	}
	if session.ID == "" || session.URL == "" {
		return nil, fmt.Errorf("hostedpay create session %s: provider rejected request", req.Reference)
	}
	return &domain.HostedSession{SessionID: session.ID, URL: session.URL}, nil
}

// RetrieveSession fetches a checkout session's state.
func (g *HostedPayGateway) RetrieveSession(ctx context.Context, sessionID string) (*domain.VerificationResult, error) {
	raw, err := g.client.doJSON(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("hostedpay retrieve session %s: %w", sessionID, err)
	}
	return normalizeHostedPay(raw)
}

// normalizeHostedPay maps a session or order resource onto the neutral
// result. A paid session in the complete state is the only success.
func normalizeHostedPay(raw []byte) (*domain.VerificationResult, error) {
	var session hostedPaySession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	result := &domain.VerificationResult{
		Reference:  session.Reference,
		Amount:     session.AmountTotal,
		Currency:   strings.ToUpper(session.Currency),
		RawPayload: raw,
	}

	switch {
	case session.PaymentStatus == "paid" && session.Status == "complete":
		result.Status = domain.VerificationSuccess
	case session.Status == "open":
		result.Status = domain.VerificationPending
	default:
		result.Status = domain.VerificationFailed
		result.FailureReason = fmt.Sprintf("session %s, payment %s", session.Status, session.PaymentStatus)
	}
	return result, nil
}
