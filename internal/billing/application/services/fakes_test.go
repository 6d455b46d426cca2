package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
)

type fakeSubscriptionRepo struct {
	mu            sync.Mutex
	byUser        map[uuid.UUID]*domain.Subscription
	due           []*domain.Subscription
	trials        []*domain.Subscription
	pendingCancel []*domain.Subscription
	saveErr       error
	selectErr     error
	saveCount     int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byUser: make(map[uuid.UUID]*domain.Subscription)}
}

func (f *fakeSubscriptionRepo) Save(_ context.Context, sub *domain.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byUser[sub.UserID()] = sub
	f.saveCount++
	return nil
}

func (f *fakeSubscriptionRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byUser {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUser[userID], nil
}

func (f *fakeSubscriptionRepo) FindByHostedProviderSubID(_ context.Context, providerSubID string) (*domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.byUser {
		if s.HostedProviderSubID() == providerSubID {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindDueForTrialConversion(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return f.due, f.selectErr
}

func (f *fakeSubscriptionRepo) FindDueForRenewal(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return f.due, f.selectErr
}

func (f *fakeSubscriptionRepo) FindPendingCancellation(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return f.pendingCancel, f.selectErr
}

func (f *fakeSubscriptionRepo) FindTrialsEndingBetween(_ context.Context, _, _ time.Time) ([]*domain.Subscription, error) {
	return f.trials, f.selectErr
}

type fakePaymentRepo struct {
	mu        sync.Mutex
	byRef     map[string]*domain.Payment
	createErr error
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byRef: make(map[string]*domain.Payment)}
}

func (f *fakePaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, exists := f.byRef[p.Reference()]; exists {
		return domain.ErrDuplicateReference
	}
	f.byRef[p.Reference()] = p
	return nil
}

func (f *fakePaymentRepo) FindByReference(_ context.Context, reference string) (*domain.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byRef[reference], nil
}

// FinalizeIfPending mirrors the SQL update-if-pending: the write only lands
// if the stored row has not already been finalized by someone else.
func (f *fakePaymentRepo) FinalizeIfPending(_ context.Context, p *domain.Payment) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.byRef[p.Reference()]
	if stored != nil && stored != p && stored.IsTerminal() {
		return false, nil
	}
	f.byRef[p.Reference()] = p
	return true, nil
}

type fakePlanRepo struct {
	byID   map[uuid.UUID]*domain.Plan
	byName map[string]*domain.Plan
	err    error
}

func newFakePlanRepo(plans ...*domain.Plan) *fakePlanRepo {
	f := &fakePlanRepo{byID: make(map[uuid.UUID]*domain.Plan), byName: make(map[string]*domain.Plan)}
	for _, p := range plans {
		f.byID[p.ID()] = p
		f.byName[p.Name()] = p
	}
	return f
}

func (f *fakePlanRepo) Save(_ context.Context, p *domain.Plan) error {
	f.byID[p.ID()] = p
	f.byName[p.Name()] = p
	return nil
}

func (f *fakePlanRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	return f.byID[id], f.err
}

func (f *fakePlanRepo) FindByName(_ context.Context, name string) (*domain.Plan, error) {
	return f.byName[name], f.err
}

type fakeNotificationRepo struct {
	mu    sync.Mutex
	saved []notifdomain.Notification
}

func (f *fakeNotificationRepo) Save(_ context.Context, n notifdomain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, n)
	return nil
}

func (f *fakeNotificationRepo) ListByUser(_ context.Context, userID uuid.UUID, _ bool) ([]notifdomain.Notification, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifdomain.Notification
	for _, n := range f.saved {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, _, _ uuid.UUID) error { return nil }

func (f *fakeNotificationRepo) CountByKindSince(_ context.Context, userID uuid.UUID, kind notifdomain.Kind, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, n := range f.saved {
		if n.UserID == userID && n.Kind == kind && !n.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeNotificationRepo) ofKind(kind notifdomain.Kind) []notifdomain.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notifdomain.Notification
	for _, n := range f.saved {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

type fakeGateway struct {
	mu           sync.Mutex
	verifyResult *domain.VerificationResult
	verifyErr    error
	verifyCalls  int

	chargeFn     func(instrumentRef, reference string) (*domain.VerificationResult, error)
	chargeCalls  int
	chargedRefs  []string
}

func (f *fakeGateway) Verify(_ context.Context, _ string) (*domain.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyResult, f.verifyErr
}

func (f *fakeGateway) ChargeStoredInstrument(_ context.Context, instrumentRef string, _ int64, _, reference string, _ map[string]string) (*domain.VerificationResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chargeCalls++
	f.chargedRefs = append(f.chargedRefs, reference)
	if f.chargeFn != nil {
		return f.chargeFn(instrumentRef, reference)
	}
	return nil, errors.New("no charge behavior configured")
}

func (f *fakeGateway) CreateHostedSession(_ context.Context, req domain.HostedSessionRequest) (*domain.HostedSession, error) {
	return &domain.HostedSession{SessionID: "sess_" + req.Reference, URL: "https://pay.example.com/" + req.Reference}, nil
}

func (f *fakeGateway) RetrieveSession(_ context.Context, _ string) (*domain.VerificationResult, error) {
	return f.verifyResult, f.verifyErr
}

func successResult(reference string, amount int64) *domain.VerificationResult {
	return &domain.VerificationResult{
		Status:        domain.VerificationSuccess,
		Reference:     reference,
		Amount:        amount,
		Currency:      "USD",
		InstrumentRef: "AUTH_fresh",
		Card:          domain.CardDetails{Last4: "4242", Brand: "visa"},
		RawPayload:    []byte(`{"status":true,"data":{"status":"success"}}`),
	}
}

func declinedResult(reference string) *domain.VerificationResult {
	return &domain.VerificationResult{
		Status:        domain.VerificationFailed,
		Reference:     reference,
		FailureReason: "insufficient funds",
		RawPayload:    []byte(`{"status":false,"data":{"status":"failed","gateway_response":"insufficient funds"}}`),
	}
}
