package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// postgresUsageRepo реализует UsageRepository для PostgreSQL.
type postgresUsageRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewUsageRepository создает новый экземпляр репозитория счетчиков для PostgreSQL.
func NewUsageRepository(pool *pgxpool.Pool, log *logger.Logger) repository.UsageRepository {
	return &postgresUsageRepo{
		pool: pool,
		log:  log,
	}
}

// Get возвращает счетчик пользователя по фиче и периоду.
func (r *postgresUsageRepo) Get(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string) (domain.UsageCounter, error) {
	query := `
        SELECT user_id, feature, period, count, updated_at
        FROM usage_counters
        WHERE user_id = $1 AND feature = $2 AND period = $3`

	var counter domain.UsageCounter
	err := r.pool.QueryRow(ctx, query, userID, feature, period).Scan(
		&counter.UserID, &counter.Feature, &counter.Period, &counter.Count, &counter.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Отсутствующий счетчик означает нулевое потребление
			return domain.UsageCounter{UserID: userID, Feature: feature, Period: period}, nil
		}
		r.log.Errorw("Failed to get usage counter from DB", "error", err, "userID", userID, "feature", feature)
		return domain.UsageCounter{}, fmt.Errorf("repository: failed to get usage counter: %w", err)
	}

	return counter, nil
}

// Increment увеличивает счетчик на delta (upsert) и возвращает новое значение.
func (r *postgresUsageRepo) Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKey, period string, delta int64) (domain.UsageCounter, error) {
	query := `
        INSERT INTO usage_counters (user_id, feature, period, count, updated_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (user_id, feature, period)
        DO UPDATE SET count = usage_counters.count + $4, updated_at = $5
        RETURNING user_id, feature, period, count, updated_at`

	var counter domain.UsageCounter
	err := r.pool.QueryRow(ctx, query, userID, feature, period, delta, time.Now()).Scan(
		&counter.UserID, &counter.Feature, &counter.Period, &counter.Count, &counter.UpdatedAt,
	)
	if err != nil {
		r.log.Errorw("Failed to increment usage counter in DB", "error", err, "userID", userID, "feature", feature)
		return domain.UsageCounter{}, fmt.Errorf("repository: failed to increment usage counter: %w", err)
	}

	r.log.Debugw("Incremented usage counter", "userID", userID, "feature", feature, "period", period, "count", counter.Count)
	return counter, nil
}
