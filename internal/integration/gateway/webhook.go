package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/pkg/logger"
)

// SignatureHeader заголовок с HMAC-подписью тела вебхука
const SignatureHeader = "X-Payslip-Signature"

// webhookPayload сырое тело вебхука шлюза. Словарь шлюза (sale_complete и
// т.п.) не покидает этот пакет.
type webhookPayload struct {
	TransactionRef string `json:"ref_command"`
	Status         string `json:"type_event"`
	Amount         int64  `json:"item_price"`
	Currency       string `json:"currency"`
	CustomField    string `json:"custom_field"`
	Reason         string `json:"reason"`
}

// Статусы событий в словаре шлюза
const (
	eventSuccess   = "sale_complete"
	eventFailure   = "sale_failed"
	eventCancelled = "sale_canceled"
)

// WebhookVerifier проверяет подлинность и нормализует вебхуки шлюза
type WebhookVerifier struct {
	secret string
	log    *logger.Logger
}

// NewWebhookVerifier создает новый верификатор вебхуков
func NewWebhookVerifier(secret string, log *logger.Logger) *WebhookVerifier {
	return &WebhookVerifier{
		secret: secret,
		log:    log,
	}
}

// SignPayload вычисляет HMAC-SHA256 подпись тела в hex
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallback проверяет подпись и нормализует тело вебхука в CallbackEvent.
// Шлюз считается недоверенным входом: при неверной подписи ни одно поле
// тела не считается достоверным и дальше сервисного слоя событие не уходит.
func (v *WebhookVerifier) VerifyCallback(payload []byte, signature string) (domain.CallbackEvent, error) {
	expected := SignPayload(v.secret, payload)
	// Сравнение за константное время
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return domain.CallbackEvent{}, domain.ErrInvalidCallbackSignature
	}

	var raw webhookPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.CallbackEvent{}, fmt.Errorf("gateway: malformed webhook payload: %w", err)
	}

	if raw.TransactionRef == "" {
		return domain.CallbackEvent{}, fmt.Errorf("gateway: webhook payload missing transaction ref")
	}

	event := domain.CallbackEvent{
		TransactionRef: raw.TransactionRef,
		Amount:         raw.Amount,
		Currency:       raw.Currency,
		CustomField:    raw.CustomField,
		Reason:         raw.Reason,
	}

	switch raw.Status {
	case eventSuccess:
		event.Kind = domain.CallbackSuccess
	case eventFailure:
		event.Kind = domain.CallbackFailure
		if event.Reason == "" {
			event.Reason = "payment failed"
		}
	case eventCancelled:
		event.Kind = domain.CallbackCancelled
		if event.Reason == "" {
			event.Reason = "payment cancelled"
		}
	default:
		return domain.CallbackEvent{}, fmt.Errorf("gateway: unknown webhook event type: %s", raw.Status)
	}

	v.log.Debugw("Verified gateway callback", "transactionRef", event.TransactionRef, "kind", event.Kind)
	return event, nil
}
