package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/internal/repository/memory"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (g *fakeGateway) Initiate(ctx context.Context, userID uuid.UUID, plan domain.Plan, refCommand string) (gateway.InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return gateway.InitiateResult{}, g.err
	}
	g.calls = append(g.calls, refCommand)
	return gateway.InitiateResult{
		PaymentURL:     "https://pay.example/checkout/" + refCommand,
		TransactionRef: refCommand,
	}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.LifecycleEvent
}

func (n *recordingNotifier) NotifyLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

type lifecycleFixture struct {
	svc      *LifecycleService
	plans    *PlanService
	subRepo  repository.SubscriptionRepository
	events   repository.LifecycleEventRepository
	gateway  *fakeGateway
	notifier *recordingNotifier
	free     domain.Plan
	premium  domain.Plan
	pro      domain.Plan
}

func newLifecycleFixture(t *testing.T) *lifecycleFixture {
	t.Helper()

	log := logger.New(logger.ERROR)
	planRepo := memory.NewPlanRepository(log)
	subRepo := memory.NewSubscriptionRepository(log)
	eventRepo := memory.NewLifecycleEventRepository(log)

	f := &lifecycleFixture{
		subRepo:  subRepo,
		events:   eventRepo,
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
	}

	for _, p := range StaticDefaultPlans() {
		created, err := planRepo.Create(context.Background(), p)
		require.NoError(t, err)
		switch created.Type {
		case domain.PlanTypeFree:
			f.free = created
		case domain.PlanTypePremium:
			f.premium = created
		case domain.PlanTypePro:
			f.pro = created
		}
	}

	f.plans = NewPlanService(planRepo, nil, log)
	f.svc = NewLifecycleService(
		f.plans,
		subRepo,
		eventRepo,
		f.gateway,
		f.notifier,
		metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log),
		log,
	)
	return f
}

func (f *lifecycleFixture) successCallback(transactionRef string) domain.CallbackEvent {
	return domain.CallbackEvent{
		Kind:           domain.CallbackSuccess,
		TransactionRef: transactionRef,
		Amount:         15000,
		Currency:       "XOF",
	}
}

// createActive creates a subscription and drives it to ACTIVE through a
// success callback.
func (f *lifecycleFixture) createActive(t *testing.T, userID uuid.UUID, planID uuid.UUID) domain.Subscription {
	t.Helper()

	result, err := f.svc.Create(context.Background(), userID, planID)
	require.NoError(t, err)
	require.NoError(t, f.svc.Reconcile(context.Background(), f.successCallback(result.Subscription.TransactionID)))

	sub, err := f.subRepo.GetByID(context.Background(), result.Subscription.ID)
	require.NoError(t, err)
	require.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	return sub
}

func (f *lifecycleFixture) eventsOfKind(t *testing.T, userID uuid.UUID, kind domain.LifecycleEventKind) []domain.LifecycleEvent {
	t.Helper()

	all, err := f.events.GetByUserID(context.Background(), userID)
	require.NoError(t, err)

	var out []domain.LifecycleEvent
	for _, e := range all {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestLifecycleService_CreateAndActivate(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.SubscriptionStatusPending, result.Subscription.Status)
	assert.NotEmpty(t, result.Subscription.TransactionID)
	assert.Contains(t, result.PaymentURL, result.Subscription.TransactionID)

	// Payment does not grant anything until the gateway confirms
	_, err = f.subRepo.GetCurrentByUserID(ctx, userID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, f.svc.Reconcile(ctx, f.successCallback(result.Subscription.TransactionID)))

	sub, err := f.subRepo.GetByID(ctx, result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.EndDate)
	expectedEnd := time.Now().AddDate(0, 0, f.premium.DurationDays)
	assert.WithinDuration(t, expectedEnd, *sub.EndDate, time.Minute)

	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleCreated), 1)
	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleActivated), 1)
}

func TestLifecycleService_ReconcileIsIdempotent(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	// The gateway retries webhooks; every replay must be a benign no-op
	for i := 0; i < 5; i++ {
		require.NoError(t, f.svc.Reconcile(ctx, f.successCallback(result.Subscription.TransactionID)))
	}

	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleActivated), 1)

	sub, err := f.subRepo.GetByID(ctx, result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestLifecycleService_ReconcileConcurrentReplays(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.svc.Reconcile(ctx, f.successCallback(result.Subscription.TransactionID))
		}()
	}
	wg.Wait()

	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleActivated), 1)
}

func TestLifecycleService_ReconcileUnknownTransaction(t *testing.T) {
	f := newLifecycleFixture(t)

	err := f.svc.Reconcile(context.Background(), f.successCallback("no-such-ref"))
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestLifecycleService_ReconcileFailure(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	err = f.svc.Reconcile(ctx, domain.CallbackEvent{
		Kind:           domain.CallbackFailure,
		TransactionRef: result.Subscription.TransactionID,
		Reason:         "insufficient funds",
	})
	require.NoError(t, err)

	sub, err := f.subRepo.GetByID(ctx, result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
	assert.Equal(t, "insufficient funds", sub.CancelReason)
	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecyclePaymentFailed), 1)

	// A late success for the same transaction must not resurrect the attempt
	require.NoError(t, f.svc.Reconcile(ctx, f.successCallback(result.Subscription.TransactionID)))
	sub, err = f.subRepo.GetByID(ctx, result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
}

func TestLifecycleService_ReconcileCancelled(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	err = f.svc.Reconcile(ctx, domain.CallbackEvent{
		Kind:           domain.CallbackCancelled,
		TransactionRef: result.Subscription.TransactionID,
	})
	require.NoError(t, err)

	sub, err := f.subRepo.GetByID(ctx, result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, sub.Status)
	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleCancelled), 1)
}

func TestLifecycleService_PlanChangeSupersedesCurrent(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	first := f.createActive(t, userID, f.premium.ID)
	firstEnd := *first.EndDate

	result, err := f.svc.ChangePlan(ctx, userID, f.pro.ID)
	require.NoError(t, err)

	// Until the new plan is paid, the old subscription keeps serving
	current, err := f.subRepo.GetCurrentByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, current.ID)

	require.NoError(t, f.svc.Reconcile(ctx, f.successCallback(result.Subscription.TransactionID)))

	current, err = f.subRepo.GetCurrentByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, result.Subscription.ID, current.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, current.Status)

	old, err := f.subRepo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusCancelled, old.Status)
	assert.Equal(t, domain.CancelReasonSuperseded, old.CancelReason)
	// Supersession cancels, it does not rewrite the old billing window
	require.NotNil(t, old.EndDate)
	assert.True(t, old.EndDate.Equal(firstEnd))

	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleSuperseded), 1)
}

func TestLifecycleService_SuspendAndRestore(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)
	endDate := *sub.EndDate

	suspended, err := f.svc.Suspend(ctx, sub.ID, "chargeback", domain.ActorAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusSuspended, suspended.Status)
	assert.Equal(t, "chargeback", suspended.SuspendedReason)
	require.NotNil(t, suspended.SuspendedAt)

	restored, err := f.svc.Restore(ctx, sub.ID, domain.ActorAdmin)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, restored.Status)
	require.NotNil(t, restored.RestoredAt)
	// The reason stays for audit and the end date is not recomputed
	assert.Equal(t, "chargeback", restored.SuspendedReason)
	require.NotNil(t, restored.EndDate)
	assert.True(t, restored.EndDate.Equal(endDate))

	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleSuspended), 1)
	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleRestored), 1)
}

func TestLifecycleService_SuspendRequiresReason(t *testing.T) {
	f := newLifecycleFixture(t)
	userID := uuid.New()
	sub := f.createActive(t, userID, f.premium.ID)

	_, err := f.svc.Suspend(context.Background(), sub.ID, "", domain.ActorAdmin)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestLifecycleService_SuspendOnlyFromActive(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	_, err = f.svc.Suspend(ctx, result.Subscription.ID, "fraud review", domain.ActorAdmin)
	assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
}

func TestLifecycleService_RestoreOnlyFromSuspended(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)

	t.Run("active subscription cannot be restored", func(t *testing.T) {
		_, err := f.svc.Restore(ctx, sub.ID, domain.ActorAdmin)
		assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	})

	t.Run("expired subscription cannot be restored", func(t *testing.T) {
		_, err := f.subRepo.Transition(ctx, sub.ID,
			[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
			func(s *domain.Subscription) {
				s.Status = domain.SubscriptionStatusExpired
			},
		)
		require.NoError(t, err)

		_, err = f.svc.Restore(ctx, sub.ID, domain.ActorAdmin)
		assert.ErrorIs(t, err, domain.ErrPreconditionFailed)
	})
}

func TestLifecycleService_ExpireDue(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)

	past := time.Now().Add(-time.Hour)
	_, err := f.subRepo.Transition(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		func(s *domain.Subscription) {
			s.EndDate = &past
		},
	)
	require.NoError(t, err)

	expired, err := f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	got, err := f.subRepo.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusExpired, got.Status)
	assert.Len(t, f.eventsOfKind(t, userID, domain.LifecycleExpired), 1)

	// Sweep is idempotent
	expired, err = f.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
}

func TestLifecycleService_CreateRetryReusesPendingAttempt(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.gateway.err = domain.NewGatewayError("initiate", 0, context.DeadlineExceeded)
	_, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	// Retry after the outage goes out with the same idempotency key
	f.gateway.err = nil
	result, err := f.svc.Create(ctx, userID, f.premium.ID)
	require.NoError(t, err)

	subs, err := f.subRepo.GetByUserID(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
	assert.Equal(t, []string{result.Subscription.TransactionID}, f.gateway.calls)
}

func TestLifecycleService_OneGrantingSubscriptionUnderConcurrency(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	// Several pending attempts whose callbacks land at the same time
	var refs []string
	for _, planID := range []uuid.UUID{f.free.ID, f.premium.ID, f.pro.ID} {
		result, err := f.svc.Create(ctx, userID, planID)
		require.NoError(t, err)
		refs = append(refs, result.Subscription.TransactionID)
	}

	var wg sync.WaitGroup
	for _, ref := range refs {
		wg.Add(1)
		go func(ref string) {
			defer wg.Done()
			_ = f.svc.Reconcile(ctx, f.successCallback(ref))
		}(ref)
	}
	wg.Wait()

	subs, err := f.subRepo.GetByUserID(ctx, userID)
	require.NoError(t, err)

	active := 0
	for _, s := range subs {
		if s.Status.GrantsEntitlements() {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestLifecycleService_CreateRejectsUnknownPlan(t *testing.T) {
	f := newLifecycleFixture(t)

	_, err := f.svc.Create(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
}

func TestLifecycleService_History(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)
	_, err := f.svc.Suspend(ctx, sub.ID, "payment dispute", domain.ActorAdmin)
	require.NoError(t, err)

	events, err := f.svc.History(ctx, userID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	kinds := make(map[domain.LifecycleEventKind]bool)
	for _, e := range events {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[domain.LifecycleCreated])
	assert.True(t, kinds[domain.LifecycleActivated])
	assert.True(t, kinds[domain.LifecycleSuspended])
}
