package commands

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/queuecast/queuecast/internal/billing/domain"
	notifdomain "github.com/queuecast/queuecast/internal/notifications/domain"
)

type fakeSubscriptionRepo struct {
	byUser    map[uuid.UUID]*domain.Subscription
	saveErr   error
	saveCount int
}

func newFakeSubscriptionRepo() *fakeSubscriptionRepo {
	return &fakeSubscriptionRepo{byUser: make(map[uuid.UUID]*domain.Subscription)}
}

func (f *fakeSubscriptionRepo) Save(_ context.Context, sub *domain.Subscription) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.byUser[sub.UserID()] = sub
	f.saveCount++
	return nil
}

func (f *fakeSubscriptionRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Subscription, error) {
	for _, s := range f.byUser {
		if s.ID() == id {
			return s, nil
		}
	}
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindByUserID(_ context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	return f.byUser[userID], nil
}

func (f *fakeSubscriptionRepo) FindByHostedProviderSubID(_ context.Context, _ string) (*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindDueForTrialConversion(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindDueForRenewal(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindPendingCancellation(_ context.Context, _ time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

func (f *fakeSubscriptionRepo) FindTrialsEndingBetween(_ context.Context, _, _ time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

type fakePaymentRepo struct {
	byRef map[string]*domain.Payment
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byRef: make(map[string]*domain.Payment)}
}

func (f *fakePaymentRepo) Create(_ context.Context, p *domain.Payment) error {
	if _, exists := f.byRef[p.Reference()]; exists {
		return domain.ErrDuplicateReference
	}
	f.byRef[p.Reference()] = p
	return nil
}

func (f *fakePaymentRepo) FindByReference(_ context.Context, reference string) (*domain.Payment, error) {
	return f.byRef[reference], nil
}

func (f *fakePaymentRepo) FinalizeIfPending(_ context.Context, p *domain.Payment) (bool, error) {
	stored := f.byRef[p.Reference()]
	if stored != nil && stored != p && stored.IsTerminal() {
		return false, nil
	}
	f.byRef[p.Reference()] = p
	return true, nil
}

type fakePlanRepo struct {
	byName map[string]*domain.Plan
}

func newFakePlanRepo(plans ...*domain.Plan) *fakePlanRepo {
	f := &fakePlanRepo{byName: make(map[string]*domain.Plan)}
	for _, p := range plans {
		f.byName[p.Name()] = p
	}
	return f
}

func (f *fakePlanRepo) Save(_ context.Context, p *domain.Plan) error {
	f.byName[p.Name()] = p
	return nil
}

func (f *fakePlanRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Plan, error) {
	for _, p := range f.byName {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePlanRepo) FindByName(_ context.Context, name string) (*domain.Plan, error) {
	return f.byName[name], nil
}

type fakeNotificationRepo struct {
	saved []notifdomain.Notification
}

func (f *fakeNotificationRepo) Save(_ context.Context, n notifdomain.Notification) error {
	f.saved = append(f.saved, n)
	return nil
}

func (f *fakeNotificationRepo) ListByUser(_ context.Context, _ uuid.UUID, _ bool) ([]notifdomain.Notification, error) {
	return f.saved, nil
}

func (f *fakeNotificationRepo) MarkRead(_ context.Context, _, _ uuid.UUID) error { return nil }

func (f *fakeNotificationRepo) CountByKindSince(_ context.Context, _ uuid.UUID, _ notifdomain.Kind, _ time.Time) (int, error) {
	return 0, nil
}

type fakeGateway struct {
	sessionErr error
}

func (f *fakeGateway) Verify(_ context.Context, _ string) (*domain.VerificationResult, error) {
	return nil, errors.New("not configured")
}

func (f *fakeGateway) ChargeStoredInstrument(_ context.Context, _ string, _ int64, _, _ string, _ map[string]string) (*domain.VerificationResult, error) {
	return nil, errors.New("not configured")
}

func (f *fakeGateway) CreateHostedSession(_ context.Context, req domain.HostedSessionRequest) (*domain.HostedSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return &domain.HostedSession{SessionID: "sess_" + req.Reference, URL: "https://pay.example.com/" + req.Reference}, nil
}

func (f *fakeGateway) RetrieveSession(_ context.Context, _ string) (*domain.VerificationResult, error) {
	return nil, errors.New("not configured")
}
