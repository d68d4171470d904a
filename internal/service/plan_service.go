package service

import (
	"context"
	"errors"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
)

// StaticPlanSetVersion версия статического набора планов по умолчанию.
// Набор применяется только при исчерпании всех провайдеров каталога и
// меняется исключительно вместе с этой версией.
const StaticPlanSetVersion = "static-default-v1"

// PlanProvider одна стратегия получения каталога планов. Провайдеры
// опрашиваются в заданном порядке; побеждает первый успешный ответ.
// Явная цепочка вместо вложенных try/catch: политика фолбэка видна и
// тестируема.
type PlanProvider interface {
	// Name имя провайдера для логов
	Name() string

	// ListPlans возвращает каталог планов по возрастанию цены
	ListPlans(ctx context.Context) ([]domain.Plan, error)
}

// PlanService каталог планов с упорядоченной цепочкой провайдеров
type PlanService struct {
	providers []PlanProvider
	planRepo  repository.PlanRepository
	cache     *repository.RedisCacheRepository
	log       *logger.Logger
}

// NewPlanService создает новый каталог планов. cache может быть nil,
// тогда цепочка состоит из базы и статического набора.
func NewPlanService(planRepo repository.PlanRepository, cache *repository.RedisCacheRepository, log *logger.Logger) *PlanService {
	s := &PlanService{
		planRepo: planRepo,
		cache:    cache,
		log:      log,
	}

	s.providers = append(s.providers, &dbPlanProvider{svc: s})
	if cache != nil {
		s.providers = append(s.providers, &cachePlanProvider{cache: cache})
	}
	s.providers = append(s.providers, &staticPlanProvider{})

	return s
}

// ListPlans возвращает каталог планов, опрашивая провайдеров по порядку.
// Статический провайдер в хвосте цепочки не возвращает ошибок, поэтому
// вызов деградирует, но не падает.
func (s *PlanService) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	var lastErr error
	for _, p := range s.providers {
		plans, err := p.ListPlans(ctx)
		if err != nil {
			s.log.Warnw("Plan provider failed, trying next", "provider", p.Name(), "error", err)
			lastErr = err
			continue
		}

		if p.Name() != "postgres" {
			s.log.Infow("Plan catalog served from fallback provider", "provider", p.Name())
		}
		return plans, nil
	}

	// Недостижимо, пока статический провайдер замыкает цепочку
	return nil, lastErr
}

// GetPlan возвращает план по ID. Порядок: база, затем кеш. План, на который
// ссылается подписка, обязан разрешаться и при недоступной базе.
func (s *PlanService) GetPlan(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	plan, err := s.planRepo.GetByID(ctx, id)
	if err == nil {
		return plan, nil
	}
	if errors.Is(err, repository.ErrNotFound) {
		// База отвечает, но плана нет: проверяем статический набор, прежде
		// чем объявить план неизвестным
		if p, ok := staticPlanByID(id); ok {
			return p, nil
		}
		return domain.Plan{}, domain.ErrPlanNotFound
	}

	s.log.Warnw("Plan lookup failed in primary store, trying cache", "planID", id, "error", err)

	if s.cache != nil {
		if plan, cacheErr := s.cache.GetCachedPlan(ctx, id); cacheErr == nil {
			return plan, nil
		}
	}
	if p, ok := staticPlanByID(id); ok {
		return p, nil
	}

	return domain.Plan{}, domain.ErrPlanNotFound
}

// CreatePlan добавляет план в каталог и сбрасывает кеш каталога.
func (s *PlanService) CreatePlan(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	if plan.Name == "" {
		return domain.Plan{}, domain.NewValidationError("name", "must not be empty")
	}
	if plan.Price < 0 {
		return domain.Plan{}, domain.NewValidationError("price", "must not be negative")
	}
	if plan.DurationDays < 0 {
		return domain.Plan{}, domain.NewValidationError("duration_days", "must not be negative")
	}

	created, err := s.planRepo.Create(ctx, plan)
	if err != nil {
		s.log.Error("Failed to create plan: %v", err)
		return domain.Plan{}, err
	}

	if s.cache != nil {
		if err := s.cache.InvalidatePlanCatalog(ctx); err != nil {
			s.log.Warnw("Failed to invalidate plan catalog cache", "error", err)
		}
	}

	s.log.Info("Created plan with ID: %s", created.ID)
	return created, nil
}

// dbPlanProvider провайдер каталога из PostgreSQL; при успехе прогревает кеш
type dbPlanProvider struct {
	svc *PlanService
}

func (p *dbPlanProvider) Name() string { return "postgres" }

func (p *dbPlanProvider) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	plans, err := p.svc.planRepo.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	if p.svc.cache != nil && len(plans) > 0 {
		if err := p.svc.cache.CachePlanCatalog(ctx, plans); err != nil {
			p.svc.log.Warnw("Failed to refresh plan catalog cache", "error", err)
		}
	}

	return plans, nil
}

// cachePlanProvider провайдер каталога из Redis
type cachePlanProvider struct {
	cache *repository.RedisCacheRepository
}

func (p *cachePlanProvider) Name() string { return "redis-cache" }

func (p *cachePlanProvider) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return p.cache.GetCachedPlanCatalog(ctx)
}

// staticPlanProvider замыкающий провайдер со статическим набором планов.
// Никогда не возвращает ошибку.
type staticPlanProvider struct{}

func (p *staticPlanProvider) Name() string { return StaticPlanSetVersion }

func (p *staticPlanProvider) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	return StaticDefaultPlans(), nil
}

// Фиксированные ID статического набора: стабильны между перезапусками,
// чтобы подписки, созданные в период деградации, разрешались после нее.
var (
	staticFreePlanID    = uuid.MustParse("6f0a1c9e-0000-4000-8000-000000000001")
	staticPremiumPlanID = uuid.MustParse("6f0a1c9e-0000-4000-8000-000000000002")
	staticProPlanID     = uuid.MustParse("6f0a1c9e-0000-4000-8000-000000000003")
)

// StaticDefaultPlans возвращает статический набор планов версии
// StaticPlanSetVersion, по возрастанию цены.
func StaticDefaultPlans() []domain.Plan {
	now := time.Now()
	return []domain.Plan{
		{
			ID:           staticFreePlanID,
			Type:         domain.PlanTypeFree,
			Name:         "Free",
			Price:        0,
			Currency:     "XOF",
			DurationDays: 0,
			Features: domain.FeatureSet{
				domain.FeaturePostsCreate:        domain.Quota(domain.Capped(3)),
				domain.FeatureClubsCreate:        domain.Quota(domain.Capped(0)),
				domain.FeaturePlayersSave:        domain.Quota(domain.Capped(5)),
				domain.FeatureRecruiterDashboard: domain.Capability(false),
				domain.FeatureDirectMessaging:    domain.Capability(false),
			},
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:           staticPremiumPlanID,
			Type:         domain.PlanTypePremium,
			Name:         "Premium",
			Price:        15000,
			Currency:     "XOF",
			DurationDays: 30,
			Features: domain.FeatureSet{
				domain.FeaturePostsCreate:        domain.Quota(domain.Capped(30)),
				domain.FeatureClubsCreate:        domain.Quota(domain.Capped(1)),
				domain.FeaturePlayersSave:        domain.Quota(domain.Capped(50)),
				domain.FeatureRecruiterDashboard: domain.Capability(true),
				domain.FeatureDirectMessaging:    domain.Capability(true),
			},
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:           staticProPlanID,
			Type:         domain.PlanTypePro,
			Name:         "Pro",
			Price:        45000,
			Currency:     "XOF",
			DurationDays: 30,
			Features: domain.FeatureSet{
				domain.FeaturePostsCreate:        domain.Quota(domain.Unlimited()),
				domain.FeatureClubsCreate:        domain.Quota(domain.Unlimited()),
				domain.FeaturePlayersSave:        domain.Quota(domain.Unlimited()),
				domain.FeatureRecruiterDashboard: domain.Capability(true),
				domain.FeatureDirectMessaging:    domain.Capability(true),
			},
			Active:    true,
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// staticPlanByID ищет план в статическом наборе
func staticPlanByID(id uuid.UUID) (domain.Plan, bool) {
	for _, p := range StaticDefaultPlans() {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Plan{}, false
}
