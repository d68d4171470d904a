package service

import (
	"context"
	"errors"
	"testing"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/repository/memory"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store is down")

// failingPlanRepo имитирует недоступное основное хранилище каталога
type failingPlanRepo struct{}

func (failingPlanRepo) GetAll(ctx context.Context) ([]domain.Plan, error) {
	return nil, errStoreDown
}

func (failingPlanRepo) GetByID(ctx context.Context, id uuid.UUID) (domain.Plan, error) {
	return domain.Plan{}, errStoreDown
}

func (failingPlanRepo) Create(ctx context.Context, plan domain.Plan) (domain.Plan, error) {
	return domain.Plan{}, errStoreDown
}

func TestPlanService_ListPlansFromPrimaryStore(t *testing.T) {
	log := logger.New(logger.ERROR)
	planRepo := memory.NewPlanRepository(log)

	custom := domain.Plan{
		ID:       uuid.New(),
		Type:     domain.PlanTypePremium,
		Name:     "Premium Annual",
		Price:    150000,
		Currency: "XOF",
		Features: domain.FeatureSet{},
		Active:   true,
	}
	_, err := planRepo.Create(context.Background(), custom)
	require.NoError(t, err)

	svc := NewPlanService(planRepo, nil, log)

	plans, err := svc.ListPlans(context.Background())
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "Premium Annual", plans[0].Name)
}

func TestPlanService_ListPlansFallsBackToStaticSet(t *testing.T) {
	log := logger.New(logger.ERROR)
	svc := NewPlanService(failingPlanRepo{}, nil, log)

	plans, err := svc.ListPlans(context.Background())
	require.NoError(t, err)

	// The catalog degrades to the versioned static set instead of erroring
	static := StaticDefaultPlans()
	require.Len(t, plans, len(static))
	for i, p := range plans {
		assert.Equal(t, static[i].ID, p.ID)
	}

	// Static set is ordered by ascending price
	for i := 1; i < len(plans); i++ {
		assert.LessOrEqual(t, plans[i-1].Price, plans[i].Price)
	}
}

func TestPlanService_GetPlan(t *testing.T) {
	log := logger.New(logger.ERROR)
	ctx := context.Background()

	t.Run("resolves from primary store", func(t *testing.T) {
		planRepo := memory.NewPlanRepository(log)
		seeded, err := planRepo.Create(ctx, StaticDefaultPlans()[1])
		require.NoError(t, err)

		svc := NewPlanService(planRepo, nil, log)
		plan, err := svc.GetPlan(ctx, seeded.ID)
		require.NoError(t, err)
		assert.Equal(t, seeded.Name, plan.Name)
	})

	t.Run("unknown plan maps to ErrPlanNotFound", func(t *testing.T) {
		svc := NewPlanService(memory.NewPlanRepository(log), nil, log)
		_, err := svc.GetPlan(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	})

	t.Run("static plan resolves while the store is down", func(t *testing.T) {
		svc := NewPlanService(failingPlanRepo{}, nil, log)

		static := StaticDefaultPlans()[2]
		plan, err := svc.GetPlan(ctx, static.ID)
		require.NoError(t, err)
		assert.Equal(t, static.Name, plan.Name)

		_, err = svc.GetPlan(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	})
}

func TestPlanService_CreatePlanValidation(t *testing.T) {
	log := logger.New(logger.ERROR)
	svc := NewPlanService(memory.NewPlanRepository(log), nil, log)
	ctx := context.Background()

	_, err := svc.CreatePlan(ctx, domain.Plan{ID: uuid.New(), Price: 1000})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.CreatePlan(ctx, domain.Plan{ID: uuid.New(), Name: "Bad", Price: -5})
	assert.ErrorIs(t, err, domain.ErrValidation)

	created, err := svc.CreatePlan(ctx, domain.Plan{
		ID:       uuid.New(),
		Type:     domain.PlanTypePro,
		Name:     "Pro Annual",
		Price:    400000,
		Currency: "XOF",
		Features: domain.FeatureSet{},
		Active:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "Pro Annual", created.Name)
}

// Проверяем порядок провайдеров: база опрашивается первой, статический
// набор замыкает цепочку.
func TestPlanService_ProviderOrder(t *testing.T) {
	log := logger.New(logger.ERROR)

	svc := NewPlanService(memory.NewPlanRepository(log), nil, log)
	require.Len(t, svc.providers, 2)
	assert.Equal(t, "postgres", svc.providers[0].Name())
	assert.Equal(t, StaticPlanSetVersion, svc.providers[1].Name())
}
