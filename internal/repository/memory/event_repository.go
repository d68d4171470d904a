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

// eventRepo реализует LifecycleEventRepository в памяти
type eventRepo struct {
	mu     sync.RWMutex
	events []domain.LifecycleEvent
	log    *logger.Logger
}

// NewLifecycleEventRepository создает новый журнал переходов в памяти.
func NewLifecycleEventRepository(log *logger.Logger) repository.LifecycleEventRepository {
	return &eventRepo{
		log: log,
	}
}

// Append добавляет запись в журнал.
func (r *eventRepo) Append(ctx context.Context, event domain.LifecycleEvent) (domain.LifecycleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	r.events = append(r.events, event)

	return event, nil
}

// GetByUserID возвращает события по всем подпискам пользователя, новые первыми.
func (r *eventRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.LifecycleEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []domain.LifecycleEvent
	for _, event := range r.events {
		if event.UserID == userID {
			events = append(events, event)
		}
	}

	sortEventsDesc(events)
	return events, nil
}

// GetBySubscriptionID возвращает события одной подписки, новые первыми.
func (r *eventRepo) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.LifecycleEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []domain.LifecycleEvent
	for _, event := range r.events {
		if event.SubscriptionID == subscriptionID {
			events = append(events, event)
		}
	}

	sortEventsDesc(events)
	return events, nil
}

// sortEventsDesc сортирует события от новых к старым
func sortEventsDesc(events []domain.LifecycleEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
}
