package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/courtlink/subscription-service/internal/api/rest/middleware"
	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SubscriptionHandler обработчик для подписок
type SubscriptionHandler struct {
	lifecycleSvc   *service.LifecycleService
	entitlementSvc *service.EntitlementService
	log            *logger.Logger
}

// NewSubscriptionHandler создает новый обработчик подписок
func NewSubscriptionHandler(lifecycleSvc *service.LifecycleService, entitlementSvc *service.EntitlementService, log *logger.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		lifecycleSvc:   lifecycleSvc,
		entitlementSvc: entitlementSvc,
		log:            log,
	}
}

// createSubscriptionRequest тело запроса создания подписки и смены плана
type createSubscriptionRequest struct {
	PlanID string `json:"plan_id" binding:"required,uuid"`
}

// GetCurrentSubscription возвращает текущую подписку пользователя со снимком плана
func (h *SubscriptionHandler) GetCurrentSubscription(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	sub, plan, err := h.lifecycleSvc.CurrentSubscription(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No active subscription"})
			return
		}

		h.log.Error("Failed to get current subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get current subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscription": sub, "plan": plan})
}

// CreateSubscription создает PENDING подписку и возвращает URL оплаты
func (h *SubscriptionHandler) CreateSubscription(c *gin.Context) {
	h.initiate(c, h.lifecycleSvc.Create)
}

// ChangePlan инициирует смену плана; прежняя подписка действует до оплаты новой
func (h *SubscriptionHandler) ChangePlan(c *gin.Context) {
	h.initiate(c, h.lifecycleSvc.ChangePlan)
}

// initiate общий путь создания подписки и смены плана
func (h *SubscriptionHandler) initiate(c *gin.Context, op func(ctx context.Context, userID, planID uuid.UUID) (service.CreateResult, error)) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	planID, err := uuid.Parse(req.PlanID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid plan ID format"})
		return
	}

	result, err := op(c.Request.Context(), userID, planID)
	if err != nil {
		if errors.Is(err, domain.ErrPlanNotFound) {
			h.log.Warn("Plan not found: %s", planID)
			c.JSON(http.StatusNotFound, gin.H{"error": "Plan not found"})
			return
		}

		if errors.Is(err, domain.ErrValidation) {
			h.log.Warn("Invalid subscription request: %v", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if errors.Is(err, domain.ErrGatewayUnavailable) {
			h.log.Error("Payment gateway unavailable: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Payment gateway unavailable, please retry"})
			return
		}

		h.log.Error("Failed to create subscription: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create subscription"})
		return
	}

	h.log.Info("Created subscription %s for user %s", result.Subscription.ID, userID)
	c.JSON(http.StatusCreated, gin.H{
		"subscription": result.Subscription,
		"payment_url":  result.PaymentURL,
	})
}

// CanAccessDashboard проверяет доступ пользователя к рекрутерскому дашборду
func (h *SubscriptionHandler) CanAccessDashboard(c *gin.Context) {
	userID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	decision, err := h.entitlementSvc.CanAccessDashboard(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to evaluate dashboard access: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to evaluate dashboard access"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"can_access": decision.Allowed,
		"reason":     decision.Reason,
	})
}

// GetRestoreHistory возвращает журнал переходов подписок пользователя.
// Доступно самому пользователю и администраторам.
func (h *SubscriptionHandler) GetRestoreHistory(c *gin.Context) {
	callerID, ok := middleware.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}

	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	if targetID != callerID && !hasAdminScope(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return
	}

	events, err := h.lifecycleSvc.History(c.Request.Context(), targetID)
	if err != nil {
		h.log.Error("Failed to get subscription history: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get subscription history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// PaymentRedirect принимает возврат пользователя со страницы оплаты шлюза.
// Чисто информационный: статус подписки меняет только вебхук. Пользователь
// мог закрыть вкладку до редиректа, а вебхук все равно придет.
func (h *SubscriptionHandler) PaymentRedirect(c *gin.Context) {
	success := c.DefaultQuery("payment_success", "false") == "true"

	if success {
		c.JSON(http.StatusOK, gin.H{
			"status":  "processing",
			"message": "Payment received, your subscription will be activated shortly",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "not_completed",
		"message": "Payment was not completed",
	})
}

// hasAdminScope сообщает, несет ли токен вызывающего админскую область
func hasAdminScope(c *gin.Context) bool {
	scope, ok := c.Get(middleware.ContextScopeKey)
	if !ok {
		return false
	}
	str, ok := scope.(string)
	return ok && str == middleware.ScopeAdmin
}
