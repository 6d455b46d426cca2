package domain

import "context"

// VerificationStatus is the normalized outcome of a gateway verification or
// charge. Provider adapters map their own loosely-typed payloads onto this;
// nothing above the Gateway interface ever sees provider-specific shapes.
type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
	VerificationPending VerificationStatus = "pending"
)

// VerificationResult is the provider-neutral view of one gateway response.
// RawPayload is the unmodified provider body, retained for audit on the
// payment row.
type VerificationResult struct {
	Status        VerificationStatus
	Reference     string
	Amount        int64
	Currency      string
	InstrumentRef string
	Card          CardDetails
	FailureReason string
	RawPayload    []byte
}

// Succeeded reports a strict success: adapters only set VerificationSuccess
// when both the provider's top-level flag and its nested transaction status
// agree, so a bare status check here is sufficient.
func (r *VerificationResult) Succeeded() bool {
	return r != nil && r.Status == VerificationSuccess
}

// HostedSessionRequest describes a hosted-checkout session to create.
type HostedSessionRequest struct {
	Reference  string
	PlanType   string
	Amount     int64
	Currency   string
	PayerEmail string
	Metadata   map[string]string
}

// HostedSession is the provider-issued session handle the caller is
// redirected to.
type HostedSession struct {
	SessionID string
	URL       string
}

// Gateway is the provider-agnostic payment client. Two concrete providers
// exist: a stored-card authorization provider and a hosted-checkout provider.
// Providers return ErrNotSupported for operations outside their model.
type Gateway interface {
	// Verify fetches gateway truth for a payment reference.
	Verify(ctx context.Context, reference string) (*VerificationResult, error)

	// ChargeStoredInstrument charges a previously authorized instrument.
	ChargeStoredInstrument(ctx context.Context, instrumentRef string, amount int64, currency, reference string, metadata map[string]string) (*VerificationResult, error)

	// CreateHostedSession opens a provider-hosted checkout session.
	CreateHostedSession(ctx context.Context, req HostedSessionRequest) (*HostedSession, error)

	// RetrieveSession fetches the state of a hosted checkout session.
	RetrieveSession(ctx context.Context, sessionID string) (*VerificationResult, error)
}
