package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// Префиксы ключей для различных типов данных
	planKeyPrefix  = "plan:"
	planCatalogKey = "plans:catalog"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository реализует кеширование каталога планов в Redis.
// Используется как промежуточный провайдер каталога между PostgreSQL и
// статическим набором по умолчанию.
type RedisCacheRepository struct {
	client *redis.Client
	log    *logger.Logger
}

// NewRedisCacheRepository создает новый экземпляр Redis репозитория
func NewRedisCacheRepository(redisAddr, redisPassword string, redisDB int, log *logger.Logger) (*RedisCacheRepository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       redisDB,
	})

	// Проверяем соединение с Redis
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", redisAddr)
	return &RedisCacheRepository{
		client: client,
		log:    log,
	}, nil
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

// CachePlanCatalog кеширует полный список планов
func (r *RedisCacheRepository) CachePlanCatalog(ctx context.Context, plans []domain.Plan) error {
	data, err := json.Marshal(plans)
	if err != nil {
		r.log.Errorw("Failed to marshal plan catalog for caching", "error", err)
		return fmt.Errorf("failed to marshal plan catalog: %w", err)
	}

	if err := r.client.Set(ctx, planCatalogKey, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache plan catalog in Redis", "error", err)
		return fmt.Errorf("failed to cache plan catalog: %w", err)
	}

	// Кешируем и каждый план отдельно для GetCachedPlan
	for _, plan := range plans {
		if err := r.CachePlan(ctx, plan); err != nil {
			return err
		}
	}

	r.log.Debugw("Plan catalog cached successfully", "count", len(plans))
	return nil
}

// GetCachedPlanCatalog получает список планов из кеша
func (r *RedisCacheRepository) GetCachedPlanCatalog(ctx context.Context) ([]domain.Plan, error) {
	data, err := r.client.Get(ctx, planCatalogKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get plan catalog from Redis", "error", err)
		return nil, fmt.Errorf("failed to get plan catalog from cache: %w", err)
	}

	var plans []domain.Plan
	if err := json.Unmarshal(data, &plans); err != nil {
		r.log.Errorw("Failed to unmarshal cached plan catalog", "error", err)
		return nil, fmt.Errorf("failed to unmarshal cached plan catalog: %w", err)
	}

	return plans, nil
}

// CachePlan кеширует один план
func (r *RedisCacheRepository) CachePlan(ctx context.Context, plan domain.Plan) error {
	key := fmt.Sprintf("%s%s", planKeyPrefix, plan.ID)

	data, err := json.Marshal(plan)
	if err != nil {
		r.log.Errorw("Failed to marshal plan for caching", "error", err, "planID", plan.ID)
		return fmt.Errorf("failed to marshal plan: %w", err)
	}

	if err := r.client.Set(ctx, key, data, defaultCacheTTL).Err(); err != nil {
		r.log.Errorw("Failed to cache plan in Redis", "error", err, "planID", plan.ID)
		return fmt.Errorf("failed to cache plan: %w", err)
	}

	return nil
}

// GetCachedPlan получает план из кеша
func (r *RedisCacheRepository) GetCachedPlan(ctx context.Context, planID uuid.UUID) (domain.Plan, error) {
	key := fmt.Sprintf("%s%s", planKeyPrefix, planID)

	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.Plan{}, ErrNotFound
		}
		r.log.Errorw("Failed to get plan from Redis", "error", err, "planID", planID)
		return domain.Plan{}, fmt.Errorf("failed to get plan from cache: %w", err)
	}

	var plan domain.Plan
	if err := json.Unmarshal(data, &plan); err != nil {
		r.log.Errorw("Failed to unmarshal cached plan", "error", err, "planID", planID)
		return domain.Plan{}, fmt.Errorf("failed to unmarshal cached plan: %w", err)
	}

	return plan, nil
}

// InvalidatePlanCatalog сбрасывает кеш каталога после правок в нем
func (r *RedisCacheRepository) InvalidatePlanCatalog(ctx context.Context) error {
	if err := r.client.Del(ctx, planCatalogKey).Err(); err != nil {
		r.log.Errorw("Failed to invalidate plan catalog cache", "error", err)
		return fmt.Errorf("failed to invalidate plan catalog cache: %w", err)
	}

	r.log.Debugw("Plan catalog cache invalidated")
	return nil
}
