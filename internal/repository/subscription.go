package repository

import (
	"context"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/google/uuid"
)

// SubscriptionRepository определяет методы для работы с реестром подписок.
// Все мутации статуса выполняются как compare-and-set: переход применяется
// только если текущий статус совпадает с одним из ожидаемых исходных,
// иначе возвращается ErrStatusConflict.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку (обычно в статусе PENDING).
	Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error)

	// GetByID возвращает подписку по ее ID.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error)

	// GetByTransactionID возвращает подписку по ключу идемпотентности шлюза.
	GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error)

	// GetCurrentByUserID возвращает единственную ACTIVE/TRIAL подписку пользователя.
	GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error)

	// GetByUserID возвращает все подписки пользователя, новые первыми.
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error)

	// Transition применяет mutate к подписке, если ее текущий статус входит
	// в from. При несовпадении возвращает ErrStatusConflict и текущее
	// состояние подписки без изменений.
	Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, mutate func(*domain.Subscription)) (domain.Subscription, error)

	// Activate атомарно переводит подписку PENDING→ACTIVE и в той же
	// транзакции отменяет остальные ACTIVE/TRIAL подписки владельца с
	// причиной CancelReasonSuperseded. Читатель никогда не видит ни нуля,
	// ни двух одновременно активных подписок пользователя.
	Activate(ctx context.Context, id uuid.UUID, startDate time.Time, endDate *time.Time) (activated domain.Subscription, superseded []domain.Subscription, err error)

	// ListDueForExpiry возвращает ACTIVE подписки с истекшим EndDate.
	ListDueForExpiry(ctx context.Context, now time.Time) ([]domain.Subscription, error)
}
