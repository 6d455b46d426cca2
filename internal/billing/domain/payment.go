package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/shared/domain"
)

// PaymentStatus is the lifecycle state of a single charge attempt.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentPurpose records why a payment was initiated. The verifier uses it to
// pick the subscription transition that follows a successful charge.
type PaymentPurpose string

const (
	PurposeActivation      PaymentPurpose = "activation"
	PurposeTrialConversion PaymentPurpose = "trial_conversion"
	PurposeRenewal         PaymentPurpose = "renewal"
	PurposeUpgrade         PaymentPurpose = "upgrade"
)

// NullPayloadMarker is stored as the provider payload when a gateway returned
// nothing usable. It keeps the column distinguishable from "never written".
const NullPayloadMarker = `{"provider_response":null}`

// Payment is one attempted charge. It is created pending and transitions
// exactly once to success or failed; terminal rows are immutable.
type Payment struct {
	domain.BaseAggregateRoot
	userID          uuid.UUID
	planID          uuid.UUID
	reference       string
	amount          int64
	currency        string
	status          PaymentStatus
	purpose         PaymentPurpose
	providerPayload []byte
	failureReason   string
	paidAt          *time.Time
}

// NewReference generates a fresh globally unique payment reference. A new one
// is generated for every attempt, so a timed-out charge is retried under a
// new key rather than resumed.
func NewReference() string {
	return fmt.Sprintf("qc_%s", strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// NewPayment creates a pending payment for one charge attempt.
func NewPayment(userID, planID uuid.UUID, reference string, amount int64, currency string, purpose PaymentPurpose) *Payment {
	return &Payment{
		BaseAggregateRoot: domain.NewBaseAggregateRoot(),
		userID:            userID,
		planID:            planID,
		reference:         reference,
		amount:            amount,
		currency:          strings.ToUpper(currency),
		status:            PaymentPending,
		purpose:           purpose,
	}
}

// RehydratePayment recreates a payment from persisted state.
func RehydratePayment(
	entity domain.BaseEntity,
	userID, planID uuid.UUID,
	reference string,
	amount int64,
	currency string,
	status PaymentStatus,
	purpose PaymentPurpose,
	providerPayload []byte,
	failureReason string,
	paidAt *time.Time,
) *Payment {
	return &Payment{
		BaseAggregateRoot: domain.RehydrateBaseAggregateRoot(entity),
		userID:            userID,
		planID:            planID,
		reference:         reference,
		amount:            amount,
		currency:          currency,
		status:            status,
		purpose:           purpose,
		providerPayload:   providerPayload,
		failureReason:     failureReason,
		paidAt:            paidAt,
	}
}

func (p *Payment) UserID() uuid.UUID         { return p.userID }
func (p *Payment) PlanID() uuid.UUID         { return p.planID }
func (p *Payment) Reference() string         { return p.reference }
func (p *Payment) Amount() int64             { return p.amount }
func (p *Payment) Currency() string          { return p.currency }
func (p *Payment) Status() PaymentStatus     { return p.status }
func (p *Payment) Purpose() PaymentPurpose   { return p.purpose }
func (p *Payment) ProviderPayload() []byte   { return p.providerPayload }
func (p *Payment) FailureReason() string     { return p.failureReason }
func (p *Payment) PaidAt() *time.Time        { return p.paidAt }

// IsTerminal reports whether the payment has reached success or failed.
func (p *Payment) IsTerminal() bool { return p.status != PaymentPending }

// MarkSucceeded transitions the payment to success, attaching the raw gateway
// payload for audit.
func (p *Payment) MarkSucceeded(payload []byte, now time.Time) error {
	if p.IsTerminal() {
		return ErrPaymentAlreadyTerminal
	}
	if len(payload) == 0 {
		payload = []byte(NullPayloadMarker)
	}
	now = now.UTC()
	p.status = PaymentSuccess
	p.providerPayload = payload
	p.paidAt = &now
	p.Touch()
	return nil
}

// MarkFailed transitions the payment to failed. A missing payload is replaced
// with the explicit null marker so the column is never left half-written.
func (p *Payment) MarkFailed(payload []byte, reason string, now time.Time) error {
	if p.IsTerminal() {
		return ErrPaymentAlreadyTerminal
	}
	if len(payload) == 0 {
		payload = []byte(NullPayloadMarker)
	}
	p.status = PaymentFailed
	p.providerPayload = payload
	p.failureReason = reason
	p.Touch()
	return nil
}
