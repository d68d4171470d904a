package handlers

import (
	"errors"
	"net/http"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler обработчик административных операций над подписками
type AdminHandler struct {
	lifecycleSvc *service.LifecycleService
	log          *logger.Logger
}

// NewAdminHandler создает новый обработчик административных операций
func NewAdminHandler(lifecycleSvc *service.LifecycleService, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		lifecycleSvc: lifecycleSvc,
		log:          log,
	}
}

// suspendRequest тело запроса приостановки подписки
type suspendRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// SuspendSubscription приостанавливает активную подписку с обязательной причиной
func (h *AdminHandler) SuspendSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID format"})
		return
	}

	var req suspendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Warn("Invalid suspend request: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Suspension reason is required"})
		return
	}

	sub, err := h.lifecycleSvc.Suspend(c.Request.Context(), id, req.Reason, domain.ActorAdmin)
	if err != nil {
		h.respondTransitionError(c, id, "suspend", err)
		return
	}

	h.log.Info("Suspended subscription %s: %s", id, req.Reason)
	c.JSON(http.StatusOK, sub)
}

// RestoreSubscription возвращает приостановленную подписку в ACTIVE
func (h *AdminHandler) RestoreSubscription(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription ID format"})
		return
	}

	sub, err := h.lifecycleSvc.Restore(c.Request.Context(), id, domain.ActorAdmin)
	if err != nil {
		h.respondTransitionError(c, id, "restore", err)
		return
	}

	h.log.Info("Restored subscription %s", id)
	c.JSON(http.StatusOK, sub)
}

// respondTransitionError транслирует ошибки переходов в HTTP статусы
func (h *AdminHandler) respondTransitionError(c *gin.Context, id uuid.UUID, op string, err error) {
	if errors.Is(err, domain.ErrSubscriptionNotFound) {
		h.log.Warn("Subscription not found: %s", id)
		c.JSON(http.StatusNotFound, gin.H{"error": "Subscription not found"})
		return
	}

	if errors.Is(err, domain.ErrValidation) {
		h.log.Warn("Invalid %s request: %v", op, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if errors.Is(err, domain.ErrPreconditionFailed) {
		h.log.Warn("Cannot %s subscription %s: %v", op, id, err)
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	h.log.Error("Failed to %s subscription %s: %v", op, id, err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + op + " subscription"})
}
