package repository

import (
	"context"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/google/uuid"
)

// LifecycleEventRepository определяет методы для журнала переходов (append-only).
type LifecycleEventRepository interface {
	// Append добавляет запись в журнал.
	Append(ctx context.Context, event domain.LifecycleEvent) (domain.LifecycleEvent, error)

	// GetByUserID возвращает события по всем подпискам пользователя, новые первыми.
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.LifecycleEvent, error)

	// GetBySubscriptionID возвращает события одной подписки, новые первыми.
	GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.LifecycleEvent, error)
}
