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

// CardAuthGateway adapts the stored-card authorization provider. Transactions
// are initialized for a first charge, then renewed server-side against the
// authorization code captured from the verified payload.
type CardAuthGateway struct {
	client *apiClient
}

// NewCardAuthGateway creates a card-auth gateway client.
func NewCardAuthGateway(baseURL, secretKey string, logger *slog.Logger) *CardAuthGateway {
	return &CardAuthGateway{client: newAPIClient("cardauth", baseURL, secretKey, logger)}
}

// cardAuthResponse mirrors the provider's transaction envelope. The top-level
// Status flag reports whether the API call worked; Data.Status carries the
// transaction outcome. Both must agree for a success.
type cardAuthResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Status          string `json:"status"`
		Reference       string `json:"reference"`
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		GatewayResponse string `json:"gateway_response"`
		Authorization   struct {
			AuthorizationCode string `json:"authorization_code"`
			Last4             string `json:"last4"`
			CardType          string `json:"card_type"`
			ExpMonth          int    `json:"exp_month,string"`
			ExpYear           int    `json:"exp_year,string"`
			Reusable          bool   `json:"reusable"`
		} `json:"authorization"`
	} `json:"data"`
}

// cardAuthSessionResponse mirrors the transaction initialize envelope.
type cardAuthSessionResponse struct {
	Status bool `json:"status"`
	Data   struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

// Verify fetches gateway truth for a reference.
func (g *CardAuthGateway) Verify(ctx context.Context, reference string) (*domain.VerificationResult, error) {
	raw, err := g.client.doJSON(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, fmt.Errorf("cardauth verify %s: %w", reference, err)
	}
	return normalizeCardAuth(raw)
}

// ChargeStoredInstrument charges a stored authorization server-side. Used by
// the recurring charge runner for trial conversions and renewals.
func (g *CardAuthGateway) ChargeStoredInstrument(ctx context.Context, instrumentRef string, amount int64, currency, reference string, metadata map[string]string) (*domain.VerificationResult, error) {
	payload := map[string]any{
		"authorization_code": instrumentRef,
		"amount":             amount,
		"currency":           strings.ToUpper(currency),
		"reference":          reference,
		"metadata":           metadata,
	}
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/transaction/charge_authorization", payload)
	if err != nil {
		return nil, fmt.Errorf("cardauth charge %s: %w", reference, err)
	}
	return normalizeCardAuth(raw)
}

// CreateHostedSession initializes a transaction and returns its hosted
// authorization page.
func (g *CardAuthGateway) CreateHostedSession(ctx context.Context, req domain.HostedSessionRequest) (*domain.HostedSession, error) {
	payload := map[string]any{
		"reference": req.Reference,
		"amount":    req.Amount,
		"currency":  strings.ToUpper(req.Currency),
		"email":     req.PayerEmail,
		"metadata":  req.Metadata,
	}
	raw, err := g.client.doJSON(ctx, http.MethodPost, "/transaction/initialize", payload)
	if err != nil {
		return nil, fmt.Errorf("cardauth initialize %s: %w", req.Reference, err)
	}

	var resp cardAuthSessionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("cardauth initialize %s: decode: %w", req.Reference, err)
	}
	if !resp.Status || resp.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("cardauth initialize %s: provider rejected request", req.Reference)
	}
	return &domain.HostedSession{SessionID: resp.Data.AccessCode, URL: resp.Data.AuthorizationURL}, nil
}

// RetrieveSession is verification by reference for this provider; sessions
// carry the transaction reference as their handle.
func (g *CardAuthGateway) RetrieveSession(ctx context.Context, sessionID string) (*domain.VerificationResult, error) {
	return g.Verify(ctx, sessionID)
}

// normalizeCardAuth maps a provider envelope onto the neutral result. Success
// requires the top-level flag and the nested transaction status to agree;
// anything ambiguous is failed, with the raw payload kept for audit.
func normalizeCardAuth(raw []byte) (*domain.VerificationResult, error) {
	var resp cardAuthResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}

	result := &domain.VerificationResult{
		Reference:  resp.Data.Reference,
		Amount:     resp.Data.Amount,
		Currency:   strings.ToUpper(resp.Data.Currency),
		RawPayload: raw,
	}

	switch {
	case resp.Status && resp.Data.Status == "success":
		result.Status = domain.VerificationSuccess
		if resp.Data.Authorization.Reusable {
			result.InstrumentRef = resp.Data.Authorization.AuthorizationCode
			result.Card = domain.CardDetails{
				Last4:    resp.Data.Authorization.Last4,
				Brand:    resp.Data.Authorization.CardType,
				ExpMonth: resp.Data.Authorization.ExpMonth,
				ExpYear:  resp.Data.Authorization.ExpYear,
			}
		}
	case resp.Data.Status == "pending" || resp.Data.Status == "ongoing":
		result.Status = domain.VerificationPending
	default:
		result.Status = domain.VerificationFailed
		result.FailureReason = resp.Data.GatewayResponse
		if result.FailureReason == "" {
			result.FailureReason = resp.Message
		}
	}
	return result, nil
}
