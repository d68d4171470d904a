package repository

import (
	"context"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/google/uuid"
)

// UsageRepository определяет методы для работы со счетчиками использования.
type UsageRepository interface {
	// Get возвращает счетчик пользователя по фиче и периоду.
	// Для отсутствующего счетчика возвращается нулевое значение, не ошибка.
	Get(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string) (domain.UsageCounter, error)

	// Increment увеличивает счетчик на delta и возвращает новое значение.
	Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string, delta int64) (domain.UsageCounter, error)
}
