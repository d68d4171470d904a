package service

import (
	"context"
	"errors"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// PaymentGateway интерфейс исходящей стороны платежного шлюза
type PaymentGateway interface {
	Initiate(ctx context.Context, userID uuid.UUID, plan domain.Plan, refCommand string) (gateway.InitiateResult, error)
}

// LifecycleNotifier интерфейс отправки событий жизненного цикла во внешнюю
// систему уведомлений. Тонкий наблюдатель: его сбой логируется, но не
// откатывает переход.
type LifecycleNotifier interface {
	NotifyLifecycleEvent(ctx context.Context, event domain.LifecycleEvent) error
}

// CreateResult результат создания подписки
type CreateResult struct {
	Subscription domain.Subscription `json:"subscription"`
	PaymentURL   string              `json:"payment_url"`
}

// LifecycleService управляет жизненным циклом подписок. Единственный писатель
// реестра подписок: все мутации идут через него под полосатым мьютексом
// пользователя.
type LifecycleService struct {
	plans     *PlanService
	subRepo   repository.SubscriptionRepository
	eventRepo repository.LifecycleEventRepository
	gateway   PaymentGateway
	notifier  LifecycleNotifier
	metrics   metrics.SubscriptionMetrics
	locks     userLocks
	log       *logger.Logger
}

// NewLifecycleService создает новый менеджер жизненного цикла подписок
func NewLifecycleService(
	plans *PlanService,
	subRepo repository.SubscriptionRepository,
	eventRepo repository.LifecycleEventRepository,
	gw PaymentGateway,
	notifier LifecycleNotifier,
	m metrics.SubscriptionMetrics,
	log *logger.Logger,
) *LifecycleService {
	return &LifecycleService{
		plans:     plans,
		subRepo:   subRepo,
		eventRepo: eventRepo,
		gateway:   gw,
		notifier:  notifier,
		metrics:   m,
		log:       log,
	}
}

// Create создает PENDING подписку на план и инициирует платеж. Возвращает
// URL оплаты, на который нужно перенаправить пользователя. Активация
// произойдет только после подтвержденного вебхука шлюза.
func (s *LifecycleService) Create(ctx context.Context, userID, planID uuid.UUID) (CreateResult, error) {
	s.log.Debug("Creating subscription for user: %s, plan: %s", userID, planID)

	plan, err := s.plans.GetPlan(ctx, planID)
	if err != nil {
		s.log.Warn("Plan not found: %s", planID)
		return CreateResult{}, err
	}
	if !plan.Active {
		s.log.Warn("Plan is not active: %s", planID)
		return CreateResult{}, domain.NewValidationError("plan_id", "plan is not offered")
	}

	unlock := s.locks.lock(userID)
	defer unlock()

	sub, fresh, err := s.findOrCreatePending(ctx, userID, plan)
	if err != nil {
		return CreateResult{}, err
	}

	// refCommand = TransactionID подписки: повтор после сбоя шлюза идет с тем
	// же ключом идемпотентности и не плодит дубликаты
	result, err := s.gateway.Initiate(ctx, userID, plan, sub.TransactionID)
	if err != nil {
		s.log.Errorw("Payment initiation failed, subscription stays pending", "subscriptionID", sub.ID, "error", err)
		return CreateResult{}, err
	}

	if fresh {
		s.appendEvent(ctx, sub, domain.LifecycleCreated, domain.ActorUser, "")
		s.metrics.IncSubscriptionCreated(string(plan.Type))
	}

	s.log.Info("Created subscription %s for user %s (plan %s)", sub.ID, userID, plan.Name)
	return CreateResult{Subscription: sub, PaymentURL: result.PaymentURL}, nil
}

// ChangePlan инициирует смену плана. Семантика создания: прежняя активная
// подписка продолжает действовать и замещается только в момент успешной
// сверки платежа за новый план.
func (s *LifecycleService) ChangePlan(ctx context.Context, userID, newPlanID uuid.UUID) (CreateResult, error) {
	s.log.Debug("Changing plan for user: %s, new plan: %s", userID, newPlanID)
	return s.Create(ctx, userID, newPlanID)
}

// findOrCreatePending возвращает существующую PENDING подписку пользователя
// на план или создает новую. Вызывается под мьютексом пользователя.
func (s *LifecycleService) findOrCreatePending(ctx context.Context, userID uuid.UUID, plan domain.Plan) (domain.Subscription, bool, error) {
	subs, err := s.subRepo.GetByUserID(ctx, userID)
	if err != nil {
		return domain.Subscription{}, false, err
	}
	for _, existing := range subs {
		if existing.Status == domain.SubscriptionStatusPending && existing.PlanID == plan.ID {
			s.log.Debugw("Reusing pending subscription for retry", "subscriptionID", existing.ID, "transactionID", existing.TransactionID)
			return existing, false, nil
		}
	}

	now := time.Now()
	sub := domain.Subscription{
		ID:            uuid.New(),
		UserID:        userID,
		PlanID:        plan.ID,
		Status:        domain.SubscriptionStatusPending,
		StartDate:     now,
		TransactionID: uuid.New().String(),
	}

	created, err := s.subRepo.Create(ctx, sub)
	if err != nil {
		s.log.Error("Failed to create subscription: %v", err)
		return domain.Subscription{}, false, err
	}

	return created, true, nil
}

// Reconcile сверяет нормализованное событие шлюза с ожидающей подпиской.
// Идемпотентна по transactionId: повторная доставка успеха для уже активной
// подписки превращается в тихий no-op, вебхук можно реплеить весь период
// ретраев шлюза.
func (s *LifecycleService) Reconcile(ctx context.Context, event domain.CallbackEvent) error {
	sub, err := s.subRepo.GetByTransactionID(ctx, event.TransactionRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warnw("Callback for unknown transaction", "transactionRef", event.TransactionRef, "kind", event.Kind)
			return domain.ErrSubscriptionNotFound
		}
		return err
	}

	unlock := s.locks.lock(sub.UserID)
	defer unlock()

	switch event.Kind {
	case domain.CallbackSuccess:
		return s.reconcileSuccess(ctx, sub, event)
	case domain.CallbackFailure, domain.CallbackCancelled:
		return s.reconcileRejection(ctx, sub, event)
	default:
		return domain.NewValidationError("kind", "unknown callback kind")
	}
}

// reconcileSuccess применяет подтверждение оплаты
func (s *LifecycleService) reconcileSuccess(ctx context.Context, sub domain.Subscription, event domain.CallbackEvent) error {
	// Перечитываем под мьютексом: параллельный вебхук мог уже активировать
	current, err := s.subRepo.GetByID(ctx, sub.ID)
	if err != nil {
		return err
	}

	if current.Status != domain.SubscriptionStatusPending {
		// Повторная доставка или поздний успех по уже разрешенной подписке
		s.log.Debugw("Stale success callback, no-op", "subscriptionID", current.ID, "status", current.Status, "transactionRef", event.TransactionRef)
		s.metrics.IncStaleWebhook()
		return nil
	}

	plan, err := s.plans.GetPlan(ctx, current.PlanID)
	if err != nil {
		// План обязан разрешаться: без него не вычислить endDate. Ошибку
		// отдаем наверх, шлюз ретраит.
		s.log.Errorw("Plan lookup failed during reconciliation", "subscriptionID", current.ID, "planID", current.PlanID, "error", err)
		return err
	}

	now := time.Now()
	var endDate *time.Time
	if plan.IsExpiring() {
		ed := now.AddDate(0, 0, plan.DurationDays)
		endDate = &ed
	}

	activated, superseded, err := s.subRepo.Activate(ctx, current.ID, now, endDate)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.log.Debugw("Activation raced, no-op", "subscriptionID", current.ID, "status", activated.Status)
			s.metrics.IncStaleWebhook()
			return nil
		}
		return err
	}

	for _, old := range superseded {
		s.appendEvent(ctx, old, domain.LifecycleSuperseded, domain.ActorWebhook, domain.CancelReasonSuperseded)
		s.metrics.IncTransition(string(domain.LifecycleSuperseded))
	}

	s.appendEvent(ctx, activated, domain.LifecycleActivated, domain.ActorWebhook, "")
	s.metrics.IncActivation(string(plan.Type))
	s.metrics.ObservePaymentAmount(float64(event.Amount), event.Currency)

	s.log.Info("Activated subscription %s for user %s (plan %s)", activated.ID, activated.UserID, plan.Name)
	return nil
}

// reconcileRejection применяет отказ или отмену платежа
func (s *LifecycleService) reconcileRejection(ctx context.Context, sub domain.Subscription, event domain.CallbackEvent) error {
	reason := event.Reason

	cancelled, err := s.subRepo.Transition(ctx, sub.ID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusPending},
		func(s *domain.Subscription) {
			s.Status = domain.SubscriptionStatusCancelled
			s.CancelReason = reason
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			// Отказ по подписке, которая уже разрешилась: ничего не меняем,
			// прав она не выдавала
			s.log.Debugw("Stale rejection callback, no-op", "subscriptionID", sub.ID, "status", cancelled.Status)
			s.metrics.IncStaleWebhook()
			return nil
		}
		return err
	}

	kind := domain.LifecycleCancelled
	if event.Kind == domain.CallbackFailure {
		kind = domain.LifecyclePaymentFailed
	}
	s.appendEvent(ctx, cancelled, kind, domain.ActorWebhook, reason)
	s.metrics.IncTransition(string(kind))

	s.log.Info("Cancelled pending subscription %s: %s", cancelled.ID, reason)
	return nil
}

// Suspend приостанавливает активную подписку. Только административное
// действие и только с непустой причиной.
func (s *LifecycleService) Suspend(ctx context.Context, subscriptionID uuid.UUID, reason string, actor domain.Actor) (domain.Subscription, error) {
	if reason == "" {
		return domain.Subscription{}, domain.NewValidationError("reason", "suspension reason must not be empty")
	}

	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, err
	}

	unlock := s.locks.lock(sub.UserID)
	defer unlock()

	now := time.Now()
	suspended, err := s.subRepo.Transition(ctx, subscriptionID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
		func(s *domain.Subscription) {
			s.Status = domain.SubscriptionStatusSuspended
			s.SuspendedAt = &now
			s.SuspendedReason = reason
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.log.Warn("Cannot suspend subscription %s in status %s", subscriptionID, suspended.Status)
			return domain.Subscription{}, domain.NewTransitionError(subscriptionID.String(), suspended.Status, "suspend")
		}
		return domain.Subscription{}, err
	}

	s.appendEvent(ctx, suspended, domain.LifecycleSuspended, actor, reason)
	s.metrics.IncTransition(string(domain.LifecycleSuspended))

	s.log.Info("Suspended subscription %s: %s", subscriptionID, reason)
	return suspended, nil
}

// Restore возвращает приостановленную подписку в ACTIVE. SuspendedReason
// сохраняется для аудита, EndDate не пересчитывается: восстановление не
// добавляет времени.
func (s *LifecycleService) Restore(ctx context.Context, subscriptionID uuid.UUID, actor domain.Actor) (domain.Subscription, error) {
	sub, err := s.subRepo.GetByID(ctx, subscriptionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, err
	}

	unlock := s.locks.lock(sub.UserID)
	defer unlock()

	now := time.Now()
	restored, err := s.subRepo.Transition(ctx, subscriptionID,
		[]domain.SubscriptionStatus{domain.SubscriptionStatusSuspended},
		func(s *domain.Subscription) {
			s.Status = domain.SubscriptionStatusActive
			s.RestoredAt = &now
		},
	)
	if err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			s.log.Warn("Cannot restore subscription %s in status %s", subscriptionID, restored.Status)
			return domain.Subscription{}, domain.NewTransitionError(subscriptionID.String(), restored.Status, "restore")
		}
		return domain.Subscription{}, err
	}

	s.appendEvent(ctx, restored, domain.LifecycleRestored, actor, "")
	s.metrics.IncTransition(string(domain.LifecycleRestored))

	s.log.Info("Restored subscription %s", subscriptionID)
	return restored, nil
}

// ExpireDue переводит активные подписки с истекшим сроком в EXPIRED.
// Вызывается периодически фоновым свипером.
func (s *LifecycleService) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.subRepo.ListDueForExpiry(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sub := range due {
		unlock := s.locks.lock(sub.UserID)

		result, err := s.subRepo.Transition(ctx, sub.ID,
			[]domain.SubscriptionStatus{domain.SubscriptionStatusActive},
			func(s *domain.Subscription) {
				s.Status = domain.SubscriptionStatusExpired
			},
		)
		unlock()

		if err != nil {
			if errors.Is(err, repository.ErrStatusConflict) {
				// Подписку успели приостановить или заместить
				continue
			}
			s.log.Errorw("Failed to expire subscription", "subscriptionID", sub.ID, "error", err)
			continue
		}

		s.appendEvent(ctx, result, domain.LifecycleExpired, domain.ActorSystem, "")
		s.metrics.IncTransition(string(domain.LifecycleExpired))
		expired++
	}

	if expired > 0 {
		s.log.Info("Expired %d subscriptions", expired)
	}
	return expired, nil
}

// CurrentSubscription возвращает текущую ACTIVE/TRIAL подписку пользователя
// вместе со снимком плана.
func (s *LifecycleService) CurrentSubscription(ctx context.Context, userID uuid.UUID) (domain.Subscription, domain.Plan, error) {
	sub, err := s.subRepo.GetCurrentByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.Subscription{}, domain.Plan{}, domain.ErrSubscriptionNotFound
		}
		return domain.Subscription{}, domain.Plan{}, err
	}

	plan, err := s.plans.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return domain.Subscription{}, domain.Plan{}, err
	}

	return sub, plan, nil
}

// History возвращает журнал переходов по всем подпискам пользователя,
// включая причины приостановок и отметки восстановлений.
func (s *LifecycleService) History(ctx context.Context, userID uuid.UUID) ([]domain.LifecycleEvent, error) {
	return s.eventRepo.GetByUserID(ctx, userID)
}

// appendEvent дописывает запись аудита и уведомляет внешнюю систему.
// Сбой журнала логируется, но переход не откатывается: статус подписки уже
// зафиксирован.
func (s *LifecycleService) appendEvent(ctx context.Context, sub domain.Subscription, kind domain.LifecycleEventKind, actor domain.Actor, reason string) {
	event := domain.LifecycleEvent{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		Kind:           kind,
		Actor:          actor,
		Reason:         reason,
		CreatedAt:      time.Now(),
	}

	if _, err := s.eventRepo.Append(ctx, event); err != nil {
		s.log.Errorw("Failed to append lifecycle event", "subscriptionID", sub.ID, "kind", kind, "error", err)
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyLifecycleEvent(ctx, event); err != nil {
			s.log.Errorw("Failed to notify lifecycle event", "subscriptionID", sub.ID, "kind", kind, "error", err)
		}
	}
}
