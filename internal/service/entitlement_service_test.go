package service

import (
	"context"
	"testing"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/internal/repository/memory"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entitlementFixture struct {
	*lifecycleFixture
	svc       *EntitlementService
	usageRepo repository.UsageRepository
}

func newEntitlementFixture(t *testing.T) *entitlementFixture {
	t.Helper()

	log := logger.New(logger.ERROR)
	base := newLifecycleFixture(t)
	usageRepo := memory.NewUsageRepository(log)

	return &entitlementFixture{
		lifecycleFixture: base,
		usageRepo:        usageRepo,
		svc: NewEntitlementService(
			base.svc,
			usageRepo,
			metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log),
			log,
		),
	}
}

func TestEntitlementService_NoActiveSubscription(t *testing.T) {
	f := newEntitlementFixture(t)

	decision, err := f.svc.CanAccess(context.Background(), uuid.New(), domain.FeaturePostsCreate)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyNoActiveSubscription, decision.Reason)
}

func TestEntitlementService_QuotaBoundary(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	// Premium allows exactly one club
	f.createActive(t, userID, f.premium.ID)

	decision, err := f.svc.CanAccess(ctx, userID, domain.FeatureClubsCreate)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, int64(0), decision.Used)
	require.NotNil(t, decision.Cap)
	assert.Equal(t, int64(1), *decision.Cap)

	_, err = f.svc.RecordUsage(ctx, userID, domain.FeatureClubsCreate, 1)
	require.NoError(t, err)

	decision, err = f.svc.CanAccess(ctx, userID, domain.FeatureClubsCreate)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyLimitReached, decision.Reason)
	assert.Equal(t, int64(1), decision.Used)
}

func TestEntitlementService_ZeroCapAlwaysDenies(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.createActive(t, userID, f.free.ID)

	decision, err := f.svc.CanAccess(ctx, userID, domain.FeatureClubsCreate)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyLimitReached, decision.Reason)
}

func TestEntitlementService_UnlimitedAlwaysAllows(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.createActive(t, userID, f.pro.ID)

	for i := 0; i < 100; i++ {
		_, err := f.svc.RecordUsage(ctx, userID, domain.FeaturePostsCreate, 1)
		require.NoError(t, err)
	}

	decision, err := f.svc.CanAccess(ctx, userID, domain.FeaturePostsCreate)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Nil(t, decision.Cap)
}

func TestEntitlementService_Dashboard(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()

	t.Run("free plan denies the recruiter dashboard", func(t *testing.T) {
		userID := uuid.New()
		f.createActive(t, userID, f.free.ID)

		decision, err := f.svc.CanAccessDashboard(ctx, userID)
		require.NoError(t, err)
		assert.False(t, decision.Allowed)
		assert.Equal(t, DenyFeatureNotInPlan, decision.Reason)
	})

	t.Run("premium plan grants the recruiter dashboard", func(t *testing.T) {
		userID := uuid.New()
		f.createActive(t, userID, f.premium.ID)

		decision, err := f.svc.CanAccessDashboard(ctx, userID)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	})
}

func TestEntitlementService_SuspendedSubscriptionGrantsNothing(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)
	_, err := f.lifecycleFixture.svc.Suspend(ctx, sub.ID, "chargeback", domain.ActorAdmin)
	require.NoError(t, err)

	decision, err := f.svc.CanAccessDashboard(ctx, userID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyNoActiveSubscription, decision.Reason)
}

func TestEntitlementService_LapsedEndDateDeniesBeforeSweep(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)

	// The sweeper has not run yet, but the end date is in the past
	past := time.Now().Add(-time.Minute)
	_, err := f.subRepo.Transition(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		func(s *domain.Subscription) {
			s.EndDate = &past
		},
	)
	require.NoError(t, err)

	decision, err := f.svc.CanAccessDashboard(ctx, userID)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyNoActiveSubscription, decision.Reason)
}

func TestEntitlementService_PeriodicCounterUsesBillingPeriod(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	sub := f.createActive(t, userID, f.premium.ID)

	counter, err := f.svc.RecordUsage(ctx, userID, domain.FeaturePostsCreate, 1)
	require.NoError(t, err)
	assert.Equal(t, sub.BillingPeriodKey(time.Now()), counter.Period)

	// Cumulative features land on the "total" bucket instead
	counter, err = f.svc.RecordUsage(ctx, userID, domain.FeaturePlayersSave, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.CumulativePeriodKey, counter.Period)
}

func TestEntitlementService_RecordUsageValidation(t *testing.T) {
	f := newEntitlementFixture(t)
	ctx := context.Background()
	userID := uuid.New()

	f.createActive(t, userID, f.premium.ID)

	_, err := f.svc.RecordUsage(ctx, userID, domain.FeaturePostsCreate, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	// Capabilities are not counters
	_, err = f.svc.RecordUsage(ctx, userID, domain.FeatureRecruiterDashboard, 1)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
