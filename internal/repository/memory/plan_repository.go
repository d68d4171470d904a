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

// planRepo реализует PlanRepository в памяти
type planRepo struct {
	mu    sync.RWMutex
	plans map[uuid.UUID]domain.Plan
	log   *logger.Logger
}

// NewPlanRepository создает новый репозиторий планов в памяти.
func NewPlanRepository(log *logger.Logger) repository.PlanRepository {
	return &planRepo{
		plans: make(map[uuid.UUID]domain.Plan),
		log:   log,
	}
}

// GetAll возвращает все активные планы, отсортированные по возрастанию цены.
func (r *planRepo) GetAll(ctx context.Context) ([]domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plans := make([]domain.Plan, 0, len(r.plans))
	for _, plan := range r.plans {
		if plan.Active {
			plans = append(plans, plan)
		}
	}

	sort.Slice(plans, func(i, j int) bool {
		return plans[i].Price < plans[j].Price
	})

	return plans, nil
}

// GetByID возвращает план по его ID.
func (r *planRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	plan, ok := r.plans[id]
	if !ok {
		return domain.Plan{}, repository.ErrNotFound
	}

	return plan, nil
}

// Create сохраняет новый план.
func (r *planRepo) Create(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if plan.ID == uuid.Nil {
		plan.ID = uuid.New()
	}
	if _, exists := r.plans[plan.ID]; exists {
		return domain.Plan{}, repository.ErrDuplicate
	}

	now := time.Now()
	plan.CreatedAt = now
	plan.UpdatedAt = now
	r.plans[plan.ID] = plan

	r.log.Debugw("Created plan in memory", "planID", plan.ID, "type", plan.Type)
	return plan, nil
}
