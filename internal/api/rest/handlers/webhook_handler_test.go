package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/internal/integration/gateway"
	"github.com/courtlink/subscription-service/internal/metrics"
	"github.com/courtlink/subscription-service/internal/repository"
	"github.com/courtlink/subscription-service/internal/repository/memory"
	"github.com/courtlink/subscription-service/internal/service"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const webhookSecret = "webhook-test-secret"

type stubGateway struct{}

func (stubGateway) Initiate(ctx context.Context, userID uuid.UUID, plan domain.Plan, refCommand string) (gateway.InitiateResult, error) {
	return gateway.InitiateResult{
		PaymentURL:     "https://pay.example/checkout/" + refCommand,
		TransactionRef: refCommand,
	}, nil
}

type webhookFixture struct {
	router    *gin.Engine
	lifecycle *service.LifecycleService
	subRepo   repository.SubscriptionRepository
	premium   domain.Plan
}

func newWebhookFixture(t *testing.T) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.New(logger.ERROR)
	planRepo := memory.NewPlanRepository(log)
	subRepo := memory.NewSubscriptionRepository(log)
	eventRepo := memory.NewLifecycleEventRepository(log)

	var premium domain.Plan
	for _, p := range service.StaticDefaultPlans() {
		created, err := planRepo.Create(context.Background(), p)
		require.NoError(t, err)
		if created.Type == domain.PlanTypePremium {
			premium = created
		}
	}

	m := metrics.NewSubscriptionMetrics(prometheus.NewRegistry(), log)
	lifecycle := service.NewLifecycleService(
		service.NewPlanService(planRepo, nil, log),
		subRepo,
		eventRepo,
		stubGateway{},
		nil,
		m,
		log,
	)

	handler := NewWebhookHandler(gateway.NewWebhookVerifier(webhookSecret, log), lifecycle, m, log)

	router := gin.New()
	router.POST("/webhooks/payment", handler.HandlePaymentWebhook)

	return &webhookFixture{
		router:    router,
		lifecycle: lifecycle,
		subRepo:   subRepo,
		premium:   premium,
	}
}

func (f *webhookFixture) post(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(gateway.SignatureHeader, signature)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func successBody(t *testing.T, transactionRef string) []byte {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"ref_command": transactionRef,
		"type_event":  "sale_complete",
		"item_price":  15000,
		"currency":    "XOF",
	})
	require.NoError(t, err)
	return body
}

func TestWebhookHandler_ActivatesSubscription(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()

	result, err := f.lifecycle.Create(context.Background(), userID, f.premium.ID)
	require.NoError(t, err)

	body := successBody(t, result.Subscription.TransactionID)
	rr := f.post(t, body, gateway.SignPayload(webhookSecret, body))
	assert.Equal(t, http.StatusOK, rr.Code)

	sub, err := f.subRepo.GetByID(context.Background(), result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusActive, sub.Status)
}

func TestWebhookHandler_ForgedSignatureIsAckedWithoutMutation(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()

	result, err := f.lifecycle.Create(context.Background(), userID, f.premium.ID)
	require.NoError(t, err)

	body := successBody(t, result.Subscription.TransactionID)

	// The sender learns nothing: a forged signature still gets a 200
	rr := f.post(t, body, "deadbeef")
	assert.Equal(t, http.StatusOK, rr.Code)

	sub, err := f.subRepo.GetByID(context.Background(), result.Subscription.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPending, sub.Status)
}

func TestWebhookHandler_MissingSignatureIsAcked(t *testing.T) {
	f := newWebhookFixture(t)

	body := successBody(t, "ref-whatever")
	rr := f.post(t, body, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookHandler_UnknownTransactionIsAcked(t *testing.T) {
	f := newWebhookFixture(t)

	body := successBody(t, "never-issued-ref")
	rr := f.post(t, body, gateway.SignPayload(webhookSecret, body))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestWebhookHandler_ReplayIsIdempotent(t *testing.T) {
	f := newWebhookFixture(t)
	userID := uuid.New()

	result, err := f.lifecycle.Create(context.Background(), userID, f.premium.ID)
	require.NoError(t, err)

	body := successBody(t, result.Subscription.TransactionID)
	sig := gateway.SignPayload(webhookSecret, body)

	for i := 0; i < 3; i++ {
		rr := f.post(t, body, sig)
		assert.Equal(t, http.StatusOK, rr.Code)
	}

	events, err := f.lifecycle.History(context.Background(), userID)
	require.NoError(t, err)

	activated := 0
	for _, e := range events {
		if e.Kind == domain.LifecycleActivated {
			activated++
		}
	}
	assert.Equal(t, 1, activated)
}
