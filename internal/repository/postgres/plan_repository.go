package postgres

import (
	"context"
	"encoding/json"
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

// postgresPlanRepo реализует PlanRepository для PostgreSQL.
// Права плана хранятся в JSONB колонке features.
type postgresPlanRepo struct {
	pool *pgxpool.Pool
	log  *logger.Logger
}

// NewPlanRepository создает новый экземпляр репозитория планов для PostgreSQL.
func NewPlanRepository(pool *pgxpool.Pool, log *logger.Logger) repository.PlanRepository {
	return &postgresPlanRepo{
		pool: pool,
		log:  log,
	}
}

// GetAll возвращает все активные планы, отсортированные по возрастанию цены.
func (r *postgresPlanRepo) GetAll(ctx context.Context) ([]domain.Plan, error) {
	query := `
        SELECT id, type, name, price, currency, duration_days, features, active, created_at, updated_at
        FROM plans
        WHERE active = TRUE
        ORDER BY price ASC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		r.log.Errorw("Failed to query plans", "error", err)
		return nil, fmt.Errorf("repository: failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.Plan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, plan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: failed to iterate plans: %w", err)
	}

	r.log.Debugw("Retrieved plans from DB", "count", len(plans))
	return plans, nil
}

// GetByID возвращает план по его ID.
func (r *postgresPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	query := `
        SELECT id, type, name, price, currency, duration_days, features, active, created_at, updated_at
        FROM plans
        WHERE id = $1`

	row := r.pool.QueryRow(ctx, query, id)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.log.Warnw("Plan not found by ID", "planID", id)
			return domain.Plan{}, repository.ErrNotFound
		}
		r.log.Errorw("Failed to get plan by ID from DB", "error", err, "planID", id)
		return domain.Plan{}, fmt.Errorf("repository: failed to get plan by ID: %w", err)
	}

	return plan, nil
}

// Create сохраняет новый план в каталоге.
func (r *postgresPlanRepo) Create(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	now := time.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}

	features, err := json.Marshal(plan.Features)
	if err != nil {
		return domain.Plan{}, fmt.Errorf("repository: failed to marshal plan features: %w", err)
	}

	query := `
        INSERT INTO plans (id, type, name, price, currency, duration_days, features, active, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.pool.Exec(ctx, query,
		plan.ID, plan.Type, plan.Name, plan.Price, plan.Currency,
		plan.DurationDays, features, plan.Active, plan.CreatedAt, plan.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.Plan{}, repository.ErrDuplicate
		}
		r.log.Errorw("Failed to create plan in DB", "error", err, "planID", plan.ID)
		return domain.Plan{}, fmt.Errorf("repository: failed to create plan: %w", err)
	}

	r.log.Debugw("Successfully created plan in DB", "planID", plan.ID, "type", plan.Type)
	return plan, nil
}

// scanPlan читает план из строки результата
func scanPlan(row pgx.Row) (domain.Plan, error) {
	var plan domain.Plan
	var features []byte

	err := row.Scan(
		&plan.ID, &plan.Type, &plan.Name, &plan.Price, &plan.Currency,
		&plan.DurationDays, &features, &plan.Active, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if err != nil {
		return domain.Plan{}, err
	}

	if len(features) > 0 {
		if err := json.Unmarshal(features, &plan.Features); err != nil {
			return domain.Plan{}, fmt.Errorf("repository: failed to unmarshal plan features: %w", err)
		}
	}

	return plan, nil
}
