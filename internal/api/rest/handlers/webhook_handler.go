package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
)

// WebhookHandler обработчик вебхуков платежного шлюза
type WebhookHandler struct {
	verifier     *gateway.WebhookVerifier
	lifecycleSvc *service.LifecycleService
	metrics      metrics.SubscriptionMetrics
	log          *logger.Logger
}

// NewWebhookHandler создает новый обработчик вебхуков
func NewWebhookHandler(verifier *gateway.WebhookVerifier, lifecycleSvc *service.LifecycleService, m metrics.SubscriptionMetrics, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier:     verifier,
		lifecycleSvc: lifecycleSvc,
		metrics:      m,
		log:          log,
	}
}

// HandlePaymentWebhook принимает колбэк платежного шлюза. Политика ответов:
// навсегда невалидные запросы (плохая подпись, мусорное тело, неизвестная
// транзакция) подтверждаются 200, чтобы шлюз не ретраил бесполезное; 5xx
// возвращается только на временные внутренние сбои.
func (h *WebhookHandler) HandlePaymentWebhook(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.log.Error("Failed to read webhook body: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read webhook body"})
		return
	}

	signature := c.GetHeader(gateway.SignatureHeader)

	event, err := h.verifier.VerifyCallback(bodyBytes, signature)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCallbackSignature) {
			// Возможная попытка подделки. Фиксируем и подтверждаем, чтобы не
			// подсказывать отправителю, что подпись проверяется.
			h.log.Warnw("SECURITY: webhook signature verification failed", "remoteAddr", c.ClientIP(), "bodySize", len(bodyBytes))
			h.metrics.IncInvalidSignature()
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
			return
		}

		h.log.Warnw("Unprocessable webhook payload", "error", err)
		h.metrics.IncWebhookRejected("unprocessable_payload")
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
		return
	}

	if err := h.lifecycleSvc.Reconcile(c.Request.Context(), event); err != nil {
		if errors.Is(err, domain.ErrSubscriptionNotFound) {
			h.log.Warnw("Webhook for unknown transaction", "transactionRef", event.TransactionRef)
			h.metrics.IncWebhookRejected("unknown_transaction")
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
			return
		}

		if errors.Is(err, domain.ErrValidation) {
			h.metrics.IncWebhookRejected("invalid_event")
			c.JSON(http.StatusOK, gin.H{"status": "acknowledged"})
			return
		}

		// Временный сбой: пусть шлюз ретраит с тем же transactionRef,
		// сверка идемпотентна
		h.log.Error("Failed to reconcile webhook: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "processed"})
}
