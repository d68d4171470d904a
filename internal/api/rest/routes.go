package rest

import (
	"github.com/courtlink/subscription-service/config"
	"github.com/courtlink/subscription-service/internal/api/rest/handlers"
	"github.com/courtlink/subscription-service/internal/api/rest/middleware"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps зависимости маршрутизатора
type RouterDeps struct {
	Config         *config.Config
	Registry       *prometheus.Registry
	PlanService    *service.PlanService
	LifecycleSvc   *service.LifecycleService
	EntitlementSvc *service.EntitlementService
	Verifier       *gateway.WebhookVerifier
	Metrics        metrics.SubscriptionMetrics
	Log            *logger.Logger
}

// SetupRouter настраивает маршрутизатор Gin с маршрутами и middleware
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Подключение middleware
	r.Use(middleware.LoggerMiddleware(deps.Log))
	r.Use(gin.Recovery())

	// Endpoint для проверки работоспособности сервиса
	r.GET("/health", handlers.HealthCheck)

	// Prometheus метрики
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))

	// Аутентификация
	auth := middleware.NewJWTMiddleware(deps.Log, &middleware.DefaultTokenValidator{
		Secret: []byte(deps.Config.Auth.JWTSecret),
	})

	// Инициализация обработчиков
	planHandler := handlers.NewPlanHandler(deps.PlanService, deps.Log)
	subscriptionHandler := handlers.NewSubscriptionHandler(deps.LifecycleSvc, deps.EntitlementSvc, deps.Log)
	adminHandler := handlers.NewAdminHandler(deps.LifecycleSvc, deps.Log)
	webhookHandler := handlers.NewWebhookHandler(deps.Verifier, deps.LifecycleSvc, deps.Metrics, deps.Log)

	v1 := r.Group("/api/v1")
	{
		subscriptions := v1.Group("/subscriptions")
		{
			// Каталог планов открыт без токена
			subscriptions.GET("/plans", planHandler.ListPlans)

			// Возврат со страницы оплаты шлюза, только информационный
			subscriptions.GET("/payment/redirect", subscriptionHandler.PaymentRedirect)

			authed := subscriptions.Group("")
			authed.Use(auth.RequireAuth())
			{
				authed.GET("/current", subscriptionHandler.GetCurrentSubscription)
				authed.POST("/create", subscriptionHandler.CreateSubscription)
				authed.POST("/change-plan", subscriptionHandler.ChangePlan)
				authed.GET("/can-access-dashboard", subscriptionHandler.CanAccessDashboard)
				authed.GET("/restore/history/:userId", subscriptionHandler.GetRestoreHistory)
			}
		}
	}

	// Административные операции требуют админской области токена
	admin := r.Group("/admin/subscriptions")
	admin.Use(auth.RequireAuth(middleware.ScopeAdmin))
	{
		admin.POST("/:id/suspend", adminHandler.SuspendSubscription)
		admin.POST("/:id/restore", adminHandler.RestoreSubscription)
	}

	// Вебхуки на корневом уровне роутера, аутентификация подписью тела
	webhooks := r.Group("/webhooks")
	{
		webhooks.POST("/payment", webhookHandler.HandlePaymentWebhook)
	}

	return r
}
