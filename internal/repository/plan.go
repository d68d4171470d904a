package repository

import (
	"context"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/google/uuid"
)

// PlanRepository определяет методы для работы с каталогом планов.
type PlanRepository interface {
	// GetAll возвращает все активные планы, отсортированные по возрастанию цены.
	GetAll(ctx context.Context) ([]domain.Plan, error)

	// GetByID возвращает план по его ID.
	GetByID(ctx context.Context, id uuid.UUID) (domain.Plan, error)

	// Create сохраняет новый план в каталоге.
	Create(ctx context.Context, plan domain.Plan) (domain.Plan, error)
}
