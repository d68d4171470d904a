package metrics

import (
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SubscriptionMetrics интерфейс для метрик подписок
type SubscriptionMetrics interface {
	IncSubscriptionCreated(planType string)
	IncActivation(planType string)
	IncTransition(kind string)
	IncStaleWebhook()
	IncInvalidSignature()
	IncWebhookRejected(reason string)
	IncEntitlementDenied(feature string, reason string)
	ObservePaymentAmount(amount float64, currency string)
}

type subscriptionMetrics struct {
	log                *logger.Logger
	subscriptionsTotal *prometheus.CounterVec
	activationsTotal   *prometheus.CounterVec
	transitionsTotal   *prometheus.CounterVec
	staleWebhooks      prometheus.Counter
	invalidSignatures  prometheus.Counter
	webhooksRejected   *prometheus.CounterVec
	entitlementDenials *prometheus.CounterVec
	paymentAmounts     *prometheus.HistogramVec
}

// NewSubscriptionMetrics создает новые метрики подписок
func NewSubscriptionMetrics(registry *prometheus.Registry, log *logger.Logger) SubscriptionMetrics {
	subscriptionsTotal := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_created_total",
			Help: "The total number of created (pending) subscriptions",
		},
		[]string{"plan_type"},
	)

	activationsTotal := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscriptions_activated_total",
			Help: "The total number of subscription activations",
		},
		[]string{"plan_type"},
	)

	transitionsTotal := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "The total number of lifecycle transitions by kind",
		},
		[]string{"kind"},
	)

	staleWebhooks := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_stale_deliveries_total",
			Help: "Duplicate webhook deliveries resolved as no-ops",
		},
	)

	invalidSignatures := promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_invalid_signatures_total",
			Help: "Webhook payloads rejected due to signature mismatch",
		},
	)

	webhooksRejected := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_rejected_total",
			Help: "Webhook payloads rejected before reconciliation",
		},
		[]string{"reason"},
	)

	entitlementDenials := promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_denials_total",
			Help: "Feature access denials by feature and reason",
		},
		[]string{"feature", "reason"},
	)

	paymentAmounts := promauto.With(registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "subscription_payment_amounts",
			Help:    "Confirmed subscription payment amounts distribution",
			Buckets: prometheus.ExponentialBuckets(1000, 4, 6),
		},
		[]string{"currency"},
	)

	return &subscriptionMetrics{
		log:                log,
		subscriptionsTotal: subscriptionsTotal,
		activationsTotal:   activationsTotal,
		transitionsTotal:   transitionsTotal,
		staleWebhooks:      staleWebhooks,
		invalidSignatures:  invalidSignatures,
		webhooksRejected:   webhooksRejected,
		entitlementDenials: entitlementDenials,
		paymentAmounts:     paymentAmounts,
	}
}

// IncSubscriptionCreated увеличивает счетчик созданных подписок
func (m *subscriptionMetrics) IncSubscriptionCreated(planType string) {
	m.subscriptionsTotal.WithLabelValues(planType).Inc()
}

// IncActivation увеличивает счетчик активаций
func (m *subscriptionMetrics) IncActivation(planType string) {
	m.activationsTotal.WithLabelValues(planType).Inc()
}

// IncTransition увеличивает счетчик переходов по виду
func (m *subscriptionMetrics) IncTransition(kind string) {
	m.transitionsTotal.WithLabelValues(kind).Inc()
}

// IncStaleWebhook увеличивает счетчик повторных доставок вебхуков
func (m *subscriptionMetrics) IncStaleWebhook() {
	m.staleWebhooks.Inc()
}

// IncInvalidSignature увеличивает счетчик отклоненных подписей
func (m *subscriptionMetrics) IncInvalidSignature() {
	m.invalidSignatures.Inc()
}

// IncWebhookRejected увеличивает счетчик отклоненных вебхуков
func (m *subscriptionMetrics) IncWebhookRejected(reason string) {
	m.webhooksRejected.WithLabelValues(reason).Inc()
}

// IncEntitlementDenied увеличивает счетчик отказов в доступе
func (m *subscriptionMetrics) IncEntitlementDenied(feature string, reason string) {
	m.entitlementDenials.WithLabelValues(feature, reason).Inc()
}

// ObservePaymentAmount записывает сумму подтвержденного платежа
func (m *subscriptionMetrics) ObservePaymentAmount(amount float64, currency string) {
	m.paymentAmounts.WithLabelValues(currency).Observe(amount)
}
