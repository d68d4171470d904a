package service

import (
	"context"
	"errors"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// Denial reasons
const (
	DenyNoActiveSubscription = "NO_ACTIVE_SUBSCRIPTION"
	DenyFeatureNotInPlan     = "FEATURE_NOT_IN_PLAN"
	DenyLimitReached         = "LIMIT_REACHED"
)

// Decision результат проверки права доступа. Для квотируемых фич несет
// текущий счетчик и лимит, чтобы вызывающая сторона могла показать их
// пользователю.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Used    int64  `json:"used,omitempty"`
	Cap     *int64 `json:"cap,omitempty"` // nil для безлимита и булевых прав
}

// allow создает разрешающее решение
func allow() Decision {
	return Decision{Allowed: true}
}

// deny создает запрещающее решение с причиной
func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// EntitlementService проверяет права доступа пользователя по его текущей
// подписке. Только читает: не блокирует мутации жизненного цикла и не
// резервирует квоту.
type EntitlementService struct {
	lifecycle *LifecycleService
	usageRepo repository.UsageRepository
	metrics   metrics.SubscriptionMetrics
	log       *logger.Logger
	now       func() time.Time
}

// NewEntitlementService создает новый сервис проверки прав
func NewEntitlementService(
	lifecycle *LifecycleService,
	usageRepo repository.UsageRepository,
	m metrics.SubscriptionMetrics,
	log *logger.Logger,
) *EntitlementService {
	return &EntitlementService{
		lifecycle: lifecycle,
		usageRepo: usageRepo,
		metrics:   m,
		log:       log,
		now:       time.Now,
	}
}

// CanAccess проверяет, может ли пользователь воспользоваться фичей.
// Подписка с истекшим EndDate трактуется как неактивная, даже если свипер
// еще не успел перевести ее в EXPIRED.
func (s *EntitlementService) CanAccess(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey) (Decision, error) {
	sub, plan, err := s.currentGranting(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			s.metrics.IncEntitlementDenied(string(feature), DenyNoActiveSubscription)
			return deny(DenyNoActiveSubscription), nil
		}
		return Decision{}, err
	}

	entitlement, ok := plan.Entitlement(feature)
	if !ok {
		s.metrics.IncEntitlementDenied(string(feature), DenyFeatureNotInPlan)
		return deny(DenyFeatureNotInPlan), nil
	}

	switch entitlement.Kind {
	case domain.EntitlementCapability:
		if !entitlement.Enabled {
			s.metrics.IncEntitlementDenied(string(feature), DenyFeatureNotInPlan)
			return deny(DenyFeatureNotInPlan), nil
		}
		return allow(), nil

	case domain.EntitlementQuota:
		return s.evaluateQuota(ctx, sub, feature, entitlement.Limit)

	default:
		return Decision{}, domain.NewValidationError("entitlement", "unknown entitlement kind")
	}
}

// evaluateQuota сравнивает счетчик использования с лимитом плана
func (s *EntitlementService) evaluateQuota(ctx context.Context, sub domain.Subscription, feature domain.FeatureKey, limit domain.Limit) (Decision, error) {
	if limit.IsUnlimited() {
		return allow(), nil
	}

	period := s.periodKey(sub, feature)
	counter, err := s.usageRepo.Get(ctx, sub.UserID, feature, period)
	if err != nil {
		return Decision{}, err
	}

	cap := limit.Cap()
	decision := Decision{Used: counter.Count, Cap: &cap}
	if limit.Allows(counter.Count) {
		decision.Allowed = true
		return decision, nil
	}

	s.log.Debugw("Entitlement denied by quota", "userID", sub.UserID, "feature", feature, "used", counter.Count, "cap", cap)
	s.metrics.IncEntitlementDenied(string(feature), DenyLimitReached)
	decision.Reason = DenyLimitReached
	return decision, nil
}

// CanAccessDashboard проверяет доступ к рекрутерскому дашборду
func (s *EntitlementService) CanAccessDashboard(ctx context.Context, userID uuid.UUID) (Decision, error) {
	return s.CanAccess(ctx, userID, domain.FeatureRecruiterDashboard)
}

// RecordUsage фиксирует потребление квотируемой фичи. Вызывается внешним
// сервисом после успешного действия; проверку лимита он делает заранее
// через CanAccess.
func (s *EntitlementService) RecordUsage(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, delta int64) (domain.UsageCounter, error) {
	if delta <= 0 {
		return domain.UsageCounter{}, domain.NewValidationError("delta", "must be positive")
	}

	sub, plan, err := s.currentGranting(ctx, userID)
	if err != nil {
		return domain.UsageCounter{}, err
	}

	entitlement, ok := plan.Entitlement(feature)
	if !ok || entitlement.Kind != domain.EntitlementQuota {
		return domain.UsageCounter{}, domain.NewValidationError("feature", "not a quota feature of the current plan")
	}

	period := s.periodKey(sub, feature)
	counter, err := s.usageRepo.Increment(ctx, userID, feature, period, delta)
	if err != nil {
		return domain.UsageCounter{}, err
	}

	s.log.Debugw("Recorded usage", "userID", userID, "feature", feature, "period", period, "count", counter.Count)
	return counter, nil
}

// currentGranting возвращает подписку пользователя, реально выдающую права
// в данный момент
func (s *EntitlementService) currentGranting(ctx context.Context, userID uuid.UUID) (domain.Subscription, domain.Plan, error) {
	sub, plan, err := s.lifecycle.CurrentSubscription(ctx, userID)
	if err != nil {
		return domain.Subscription{}, domain.Plan{}, err
	}
	if !sub.Status.GrantsEntitlements() || sub.IsExpiredAt(s.now()) {
		return domain.Subscription{}, domain.Plan{}, domain.ErrSubscriptionNotFound
	}
	return sub, plan, nil
}

// periodKey возвращает ключ периода счетчика: биллинговый месяц подписки
// для сбрасываемых фич, накопительный для остальных
func (s *EntitlementService) periodKey(sub domain.Subscription, feature domain.FeatureKey) string {
	if feature.IsPeriodic() {
		return sub.BillingPeriodKey(s.now())
	}
	return domain.CumulativePeriodKey
}
