package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresEventRepo реализует LifecycleEventRepository для PostgreSQL.
// Журнал только дописывается; записи никогда не изменяются и не удаляются.
type postgresEventRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewLifecycleEventRepository создает новый экземпляр журнала переходов для PostgreSQL.
func NewLifecycleEventRepository(pool *pgxpool.Pool, log *logger.Logger) repository.LifecycleEventRepository {
	return &postgresEventRepo{
		pool: pool,
		log:  log,
	}
}

// Append добавляет запись в журнал.
func (r *postgresEventRepo) Append(ctx context.Context, event domain.LifecycleEvent) (domain.LifecycleEvent, error) {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
        INSERT INTO lifecycle_events (id, subscription_id, user_id, kind, actor, reason, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		event.ID, event.SubscriptionID, event.UserID, event.Kind, event.Actor, event.Reason, event.CreatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to append lifecycle event", "error", err, "subscriptionID", event.SubscriptionID, "kind", event.Kind)
		return domain.LifecycleEvent{}, fmt.Errorf("repository: failed to append lifecycle event: %w", err)
	}

	return event, nil
}

// GetByUserID возвращает события по всем подпискам пользователя, новые первыми.
func (r *postgresEventRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.LifecycleEvent, error) {
	query := `
        SELECT id, subscription_id, user_id, kind, actor, reason, created_at
        FROM lifecycle_events
        WHERE user_id = $1
        ORDER BY created_at DESC`

	return r.queryEvents(ctx, query, userID)
}

// GetBySubscriptionID возвращает события одной подписки, новые первыми.
func (r *postgresEventRepo) GetBySubscriptionID(ctx context.Context, subscriptionID uuid.UUID) ([]domain.LifecycleEvent, error) {
	query := `
        SELECT id, subscription_id, user_id, kind, actor, reason, created_at
        FROM lifecycle_events
        WHERE subscription_id = $1
        ORDER BY created_at DESC`

	return r.queryEvents(ctx, query, subscriptionID)
}

// queryEvents выполняет запрос журнала и читает результат
func (r *postgresEventRepo) queryEvents(ctx context.Context, query string, arg any) ([]domain.LifecycleEvent, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		r.log.Errorw("Failed to query lifecycle events", "error", err)
		return nil, fmt.Errorf("repository: failed to query lifecycle events: %w", err)
	}
	defer rows.Close()

	var events []domain.LifecycleEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan lifecycle event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate lifecycle events: %w", err)
	}

	return events, nil
}

// scanEvent читает запись журнала из строки результата
func scanEvent(row pgx.Row) (domain.LifecycleEvent, error) {
	var event domain.LifecycleEvent
	err := row.Scan(
		&event.ID, &event.SubscriptionID, &event.UserID,
		&event.Kind, &event.Actor, &event.Reason, &event.CreatedAt,
	)
	if err != nil {
		return domain.LifecycleEvent{}, err
	}
	return event, nil
}
