package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// subscriptionRepo реализует SubscriptionRepository в памяти.
// Один мьютекс на репозиторий: мутации сериализуются так же строго, как
// строковые блокировки постгресовой реализации.
type subscriptionRepo struct {
	mu            sync.RWMutex
	subs          map[uuid.UUID]domain.Subscription
	byTransaction map[string]uuid.UUID
	log           *logger.Logger
}

// NewSubscriptionRepository создает новый репозиторий подписок в памяти.
func NewSubscriptionRepository(log *logger.Logger) repository.SubscriptionRepository {
	return &subscriptionRepo{
		subs:          make(map[uuid.UUID]domain.Subscription),
		byTransaction: make(map[string]uuid.UUID),
		log:           log,
	}
}

// Create сохраняет новую подписку.
func (r *subscriptionRepo) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if _, exists := r.subs[sub.ID]; exists {
		return domain.Subscription{}, repository.ErrDuplicate
	}
	if _, exists := r.byTransaction[sub.TransactionID]; exists {
		r.log.Warnw("Duplicate subscription transaction ID", "transactionID", sub.TransactionID)
		return domain.Subscription{}, repository.ErrDuplicate
	}

	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	r.subs[sub.ID] = sub
	r.byTransaction[sub.TransactionID] = sub.ID

	r.log.Debugw("Created subscription in memory", "subscriptionID", sub.ID, "userID", sub.UserID)
	return sub, nil
}

// GetByID возвращает подписку по ее ID.
func (r *subscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}

	return sub, nil
}

// GetByTransactionID возвращает подписку по ключу идемпотентности шлюза.
func (r *subscriptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byTransaction[transactionID]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}

	return r.subs[id], nil
}

// GetCurrentByUserID возвращает единственную ACTIVE/TRIAL подписку пользователя.
func (r *subscriptionRepo) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs {
		if sub.UserID == userID && sub.Status.GrantsEntitlements() {
			return sub, nil
		}
	}

	return domain.Subscription{}, repository.ErrNotFound
}

// GetByUserID возвращает все подписки пользователя, новые первыми.
func (r *subscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subs {
		if sub.UserID == userID {
			subs = append(subs, sub)
		}
	}

	sort.Slice(subs, func(i, j int) bool {
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})

	return subs, nil
}

// Transition применяет mutate к подписке, если ее текущий статус входит в from.
func (r *subscriptionRepo) Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, mutate func(*domain.Subscription)) (domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return domain.Subscription{}, repository.ErrNotFound
	}

	matched := false
	for _, s := range from {
		if sub.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		r.log.Debugw("Transition rejected: status mismatch", "subscriptionID", id, "status", sub.Status)
		return sub, repository.ErrStatusConflict
	}

	mutate(&sub)
	sub.UpdatedAt = time.Now()
	r.subs[id] = sub

	return sub, nil
}

// Activate атомарно активирует подписку и замещает прежние ACTIVE/TRIAL
// подписки владельца.
func (r *subscriptionRepo) Activate(ctx context.Context, id uuid.UUID, startDate time.Time, endDate *time.Time) (domain.Subscription, []domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target, ok := r.subs[id]
	if !ok {
		return domain.Subscription{}, nil, repository.ErrNotFound
	}
	if target.Status != domain.SubscriptionStatusPending {
		return target, nil, repository.ErrStatusConflict
	}

	now := time.Now()

	var superseded []domain.Subscription
	for sid, sub := range r.subs {
		if sid == id || sub.UserID != target.UserID || !sub.Status.GrantsEntitlements() {
			continue
		}
		sub.Status = domain.SubscriptionStatusCancelled
		sub.CancelReason = domain.CancelReasonSuperseded
		sub.UpdatedAt = now
		r.subs[sid] = sub
		superseded = append(superseded, sub)
	}

	target.Status = domain.SubscriptionStatusActive
	target.StartDate = startDate
	target.EndDate = endDate
	target.UpdatedAt = now
	r.subs[id] = target

	r.log.Debugw("Activated subscription in memory", "subscriptionID", id, "superseded", len(superseded))
	return target, superseded, nil
}

// ListDueForExpiry возвращает ACTIVE подписки с истекшим EndDate.
func (r *subscriptionRepo) ListDueForExpiry(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var subs []domain.Subscription
	for _, sub := range r.subs {
		if sub.Status == domain.SubscriptionStatusActive && sub.IsExpiredAt(now) {
			subs = append(subs, sub)
		}
	}

	return subs, nil
}
