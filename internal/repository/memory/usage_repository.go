package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// usageRepo реализует UsageRepository в памяти
type usageRepo struct {
	mu       sync.RWMutex
	counters map[string]domain.UsageCounter
	log      *logger.Logger
}

// NewUsageRepository создает новый репозиторий счетчиков в памяти.
func NewUsageRepository(log *logger.Logger) repository.UsageRepository {
	return &usageRepo{
		counters: make(map[string]domain.UsageCounter),
		log:      log,
	}
}

// counterKey собирает ключ счетчика
func counterKey(userID uuid.UUID, feature domain.FeatureKey, period string) string {
	return fmt.Sprintf("%s:%s:%s", userID, feature, period)
}

// Get возвращает счетчик пользователя по фиче и периоду.
func (r *usageRepo) Get(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string) (domain.UsageCounter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counter, ok := r.counters[counterKey(userID, feature, period)]
	if !ok {
		// Отсутствующий счетчик означает нулевое потребление
		return domain.UsageCounter{UserID: userID, Feature: feature, Period: period}, nil
	}

	return counter, nil
}

// Increment увеличивает счетчик на delta и возвращает новое значение.
func (r *usageRepo) Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string, delta int64) (domain.UsageCounter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := counterKey(userID, feature, period)
	counter, ok := r.counters[key]
	if !ok {
		counter = domain.UsageCounter{UserID: userID, Feature: feature, Period: period}
	}

	counter.Count += delta
	counter.UpdatedAt = time.Now()
	r.counters[key] = counter

	return counter, nil
}
