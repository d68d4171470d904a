package handlers

import (
	"net/http"

	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// PlanHandler обработчик каталога планов
type PlanHandler struct {
	planSvc *service.PlanService
	log     *logger.Logger
}

// NewPlanHandler создает новый обработчик каталога планов
func NewPlanHandler(planSvc *service.PlanService, log *logger.Logger) *PlanHandler {
	return &PlanHandler{
		planSvc: planSvc,
		log:     log,
	}
}

// ListPlans возвращает каталог планов по возрастанию цены
func (h *PlanHandler) ListPlans(c *gin.Context) {
	plans, err := h.planSvc.ListPlans(c.Request.Context())
	if err != nil {
		h.log.Error("Failed to list plans: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list plans"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
