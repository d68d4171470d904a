package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/courtlink/subscription-service/config"
	"github.com/courtlink/subscription-service/internal/api/rest"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/kafka"
	"github.com/courtlink/subscription-service/internal/kafka/producer"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/internal/repository/postgres"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Загружаем .env, если он есть
	_ = godotenv.Load()

	log := initLogger()
	log.Infow("Subscription service starting up...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warnw("JWT secret is not set, authenticated routes will reject all tokens")
	}

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Метрики в приватном реестре
	registry := prometheus.NewRegistry()
	subscriptionMetrics := metrics.NewSubscriptionMetrics(registry, log)
	systemMetrics := metrics.NewSystemMetrics(registry, log)
	systemMetrics.StartRecording(15 * time.Second)
	defer systemMetrics.Stop()

	// Подключаемся к базе данных
	pool, err := postgres.NewConnection(ctx, cfg.Database.GetDSN(), log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer pool.Close()

	planRepo := postgres.NewPlanRepository(pool, log)
	subRepo := postgres.NewSubscriptionRepository(pool, log)
	usageRepo := postgres.NewUsageRepository(pool, log)
	eventRepo := postgres.NewLifecycleEventRepository(pool, log)

	// Инициализируем Redis кеш каталога планов
	var planCache *repository.RedisCacheRepository
	if cfg.Redis.Enabled {
		planCache, err = repository.NewRedisCacheRepository(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			// Не фатально, каталог деградирует до базы и статического набора
			log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
			planCache = nil
		} else {
			log.Infow("Redis cache initialized")
			defer func() {
				if err := planCache.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
		}
	}

	// Клиент платежного шлюза
	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		Secret:    cfg.Gateway.SigningSecret,
		ReturnURL: cfg.Gateway.ReturnURL,
		Timeout:   time.Duration(cfg.Gateway.RequestTimeout) * time.Second,
	}, log)
	webhookVerifier := gateway.NewWebhookVerifier(cfg.Gateway.SigningSecret, log)

	// Kafka продюсер событий жизненного цикла
	notifier := initNotifier(cfg, log)
	defer func() {
		if err := notifier.Close(); err != nil {
			log.Errorw("Error closing Kafka producer", "error", err)
		}
	}()

	// Сервисный слой
	planService := service.NewPlanService(planRepo, planCache, log)
	lifecycleService := service.NewLifecycleService(
		planService,
		subRepo,
		eventRepo,
		gatewayClient,
		notifier,
		subscriptionMetrics,
		log,
	)
	entitlementService := service.NewEntitlementService(lifecycleService, usageRepo, subscriptionMetrics, log)

	// Фоновый свипер истечения подписок
	go runExpirySweeper(ctx, lifecycleService, log)

	// HTTP сервер
	router := rest.SetupRouter(rest.RouterDeps{
		Config:         cfg,
		Registry:       registry,
		PlanService:    planService,
		LifecycleSvc:   lifecycleService,
		EntitlementSvc: entitlementService,
		Verifier:       webhookVerifier,
		Metrics:        subscriptionMetrics,
		Log:            log,
	})
	server := rest.NewServer(router, cfg, log)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	log.Infow("Cleanup finished. Goodbye!")
}

// initNotifier создает Kafka продюсер событий жизненного цикла или заглушку,
// если Kafka выключена либо недоступна на старте
func initNotifier(cfg *config.Config, log *logger.Logger) producer.LifecycleProducer {
	if !cfg.Kafka.Enabled {
		log.Infow("Kafka disabled, lifecycle events will not be published")
		return producer.NewNoopLifecycleProducer()
	}

	kafkaCfg := kafka.NewConfig(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	if err := kafka.EnsureTopic(kafkaCfg, log); err != nil {
		log.Errorw("Failed to ensure Kafka topic, continuing without event publishing", "error", err)
		return producer.NewNoopLifecycleProducer()
	}

	syncProducer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafka.NewSaramaConfig(kafkaCfg))
	if err != nil {
		log.Errorw("Failed to initialize Kafka producer, continuing without event publishing", "error", err)
		return producer.NewNoopLifecycleProducer()
	}

	log.Infow("Kafka producer initialized", "topic", cfg.Kafka.Topic)
	return producer.NewKafkaLifecycleProducer(syncProducer, cfg.Kafka.Topic, log)
}

// runExpirySweeper периодически переводит просроченные подписки в EXPIRED
func runExpirySweeper(ctx context.Context, lifecycle *service.LifecycleService, log *logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := lifecycle.ExpireDue(ctx); err != nil {
				log.Errorw("Expiry sweep failed", "error", err)
			}
		}
	}
}

// initLogger инициализирует новый логгер
func initLogger() *logger.Logger {
	logLevel := logger.INFO
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = logger.DEBUG
	}
	return logger.New(logLevel)
}
