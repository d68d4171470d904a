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
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const subscriptionColumns = `
        id, user_id, plan_id, status, start_date, end_date, transaction_id,
        payment_method, suspended_at, suspended_reason, restored_at,
        cancel_reason, created_at, updated_at`

// postgresSubscriptionRepo реализует SubscriptionRepository для PostgreSQL.
// Сериализация переходов обеспечивается блокировкой строки (SELECT ... FOR
// UPDATE) внутри транзакции; переход применяется только из ожидаемого
// исходного статуса.
type postgresSubscriptionRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewSubscriptionRepository создает новый экземпляр репозитория подписок для PostgreSQL.
func NewSubscriptionRepository(pool *pgxpool.Pool, log *logger.Logger) repository.SubscriptionRepository {
	return &postgresSubscriptionRepo{
		pool: pool,
		log:  log,
	}
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}

	query := `
        INSERT INTO subscriptions (` + subscriptionColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.pool.Exec(ctx, query,
		sub.ID, sub.UserID, sub.PlanID, sub.Status, sub.StartDate, sub.EndDate,
		sub.TransactionID, sub.PaymentMethod, sub.SuspendedAt, sub.SuspendedReason,
		sub.RestoredAt, sub.CancelReason, sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// transaction_id уникален: повторная инициация с тем же refCommand
			r.log.Warnw("Duplicate subscription transaction ID", "transactionID", sub.TransactionID)
			return domain.Subscription{}, repository.ErrDuplicate
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "subscriptionID", sub.ID, "userID", sub.UserID)
		return domain.Subscription{}, fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "userID", sub.UserID)
	return sub, nil
}

// GetByID возвращает подписку по ее ID.
func (r *postgresSubscriptionRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, repository.ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by ID from DB", "error", err, "subscriptionID", id)
		return domain.Subscription{}, fmt.Errorf("repository: failed to get subscription by ID: %w", err)
	}

	return sub, nil
}

// GetByTransactionID возвращает подписку по ключу идемпотентности шлюза.
func (r *postgresSubscriptionRepo) GetByTransactionID(ctx context.Context, transactionID string) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE transaction_id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Warnw("Subscription not found by transaction ID", "transactionID", transactionID)
			return domain.Subscription{}, repository.ErrNotFound
		}
		r.log.Errorw("Failed to get subscription by transaction ID from DB", "error", err, "transactionID", transactionID)
		return domain.Subscription{}, fmt.Errorf("repository: failed to get subscription by transaction ID: %w", err)
	}

	return sub, nil
}

// GetCurrentByUserID возвращает единственную ACTIVE/TRIAL подписку пользователя.
func (r *postgresSubscriptionRepo) GetCurrentByUserID(ctx context.Context, userID uuid.UUID) (domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1 AND status = ANY($2)
        ORDER BY created_at DESC
        LIMIT 1`

	statuses := []string{string(domain.SubscriptionStatusActive), string(domain.SubscriptionStatusTrial)}
	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, userID, statuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, repository.ErrNotFound
		}
		r.log.Errorw("Failed to get current subscription from DB", "error", err, "userID", userID)
		return domain.Subscription{}, fmt.Errorf("repository: failed to get current subscription: %w", err)
	}

	return sub, nil
}

// GetByUserID возвращает все подписки пользователя, новые первыми.
func (r *postgresSubscriptionRepo) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		r.log.Errorw("Failed to get subscriptions by user ID from DB", "error", err, "userID", userID)
		return nil, fmt.Errorf("repository: failed to get subscriptions by user ID: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate subscriptions: %w", err)
	}

	return subs, nil
}

// Transition применяет mutate к подписке под блокировкой строки, если ее
// текущий статус входит в from.
func (r *postgresSubscriptionRepo) Transition(ctx context.Context, id uuid.UUID, from []domain.SubscriptionStatus, mutate func(*domain.Subscription)) (domain.Subscription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Subscription{}, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sub, err := lockSubscription(ctx, tx, id)
	if err != nil {
		return domain.Subscription{}, err
	}

	if !statusIn(sub.Status, from) {
		r.log.Debugw("Transition rejected: status mismatch", "subscriptionID", id, "status", sub.Status)
		return sub, repository.ErrStatusConflict
	}

	mutate(&sub)
	sub.UpdatedAt = time.Now()

	if err := updateSubscription(ctx, tx, &sub); err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "subscriptionID", id)
		return domain.Subscription{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Subscription{}, fmt.Errorf("repository: failed to commit transition: %w", err)
	}

	return sub, nil
}

// Activate атомарно активирует подписку и замещает прежние ACTIVE/TRIAL
// подписки владельца в одной транзакции.
func (r *postgresSubscriptionRepo) Activate(ctx context.Context, id uuid.UUID, startDate time.Time, endDate *time.Time) (domain.Subscription, []domain.Subscription, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return domain.Subscription{}, nil, fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	target, err := lockSubscription(ctx, tx, id)
	if err != nil {
		return domain.Subscription{}, nil, err
	}

	if target.Status != domain.SubscriptionStatusPending {
		return target, nil, repository.ErrStatusConflict
	}

	now := time.Now()

	// Замещаем прежние активные подписки владельца. EndDate не трогаем:
	// история хранит исходный срок.
	supersedeQuery := `
        UPDATE subscriptions SET
            status = $1,
            cancel_reason = $2,
            updated_at = $3
        WHERE user_id = $4 AND id <> $5 AND status = ANY($6)
        RETURNING ` + subscriptionColumns

	statuses := []string{string(domain.SubscriptionStatusActive), string(domain.SubscriptionStatusTrial)}
	rows, err := tx.Query(ctx, supersedeQuery,
		domain.SubscriptionStatusCancelled, domain.CancelReasonSuperseded, now,
		target.UserID, target.ID, statuses,
	)
	if err != nil {
		r.log.Errorw("Failed to supersede subscriptions in DB", "error", err, "userID", target.UserID)
		return domain.Subscription{}, nil, fmt.Errorf("repository: failed to supersede subscriptions: %w", err)
	}

	var superseded []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return domain.Subscription{}, nil, fmt.Errorf("repository: failed to scan superseded subscription: %w", err)
		}
		superseded = append(superseded, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return domain.Subscription{}, nil, fmt.Errorf("repository: failed to iterate superseded subscriptions: %w", err)
	}

	target.Status = domain.SubscriptionStatusActive
	target.StartDate = startDate
	target.EndDate = endDate
	target.UpdatedAt = now

	if err := updateSubscription(ctx, tx, &target); err != nil {
		r.log.Errorw("Failed to activate subscription in DB", "error", err, "subscriptionID", id)
		return domain.Subscription{}, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Subscription{}, nil, fmt.Errorf("repository: failed to commit activation: %w", err)
	}

	r.log.Debugw("Activated subscription in DB", "subscriptionID", id, "superseded", len(superseded))
	return target, superseded, nil
}

// ListDueForExpiry возвращает ACTIVE подписки с истекшим EndDate.
func (r *postgresSubscriptionRepo) ListDueForExpiry(ctx context.Context, now time.Time) ([]domain.Subscription, error) {
	query := `
        SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE status = $1 AND end_date IS NOT NULL AND end_date < $2`

	rows, err := r.pool.Query(ctx, query, domain.SubscriptionStatusActive, now)
	if err != nil {
		r.log.Errorw("Failed to list subscriptions due for expiry", "error", err)
		return nil, fmt.Errorf("repository: failed to list subscriptions due for expiry: %w", err)
	}
	defer rows.Close()

	var subs []domain.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate subscriptions: %w", err)
	}

	return subs, nil
}

// lockSubscription читает подписку под блокировкой строки внутри транзакции
func lockSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID) (domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1 FOR UPDATE`

	sub, err := scanSubscription(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, repository.ErrNotFound
		}
		return domain.Subscription{}, fmt.Errorf("repository: failed to lock subscription: %w", err)
	}

	return sub, nil
}

// updateSubscription записывает изменяемые поля подписки внутри транзакции
func updateSubscription(ctx context.Context, tx pgx.Tx, sub *domain.Subscription) error {
	query := `
        UPDATE subscriptions SET
            status = $2,
            start_date = $3,
            end_date = $4,
            payment_method = $5,
            suspended_at = $6,
            suspended_reason = $7,
            restored_at = $8,
            cancel_reason = $9,
            updated_at = $10
        WHERE id = $1`

	_, err := tx.Exec(ctx, query,
		sub.ID, sub.Status, sub.StartDate, sub.EndDate, sub.PaymentMethod,
		sub.SuspendedAt, sub.SuspendedReason, sub.RestoredAt, sub.CancelReason,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	return nil
}

// scanSubscription читает подписку из строки результата
func scanSubscription(row pgx.Row) (domain.Subscription, error) {
	var sub domain.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.PlanID, &sub.Status, &sub.StartDate, &sub.EndDate,
		&sub.TransactionID, &sub.PaymentMethod, &sub.SuspendedAt, &sub.SuspendedReason,
		&sub.RestoredAt, &sub.CancelReason, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return domain.Subscription{}, err
	}
	return sub, nil
}

// statusIn проверяет вхождение статуса в список
func statusIn(status domain.SubscriptionStatus, list []domain.SubscriptionStatus) bool {
	for _, s := range list {
		if s == status {
			return true
		}
	}
	return false
}
