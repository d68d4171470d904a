package gateway

import (
	"encoding/json"
	"testing"

	"github.com/courtlink/subscription-service/internal/domain"
	"github.com/courtlink/subscription-service/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "payslip-test-secret"

func signedPayload(t *testing.T, body map[string]any) ([]byte, string) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	return payload, SignPayload(testSecret, payload)
}

func TestWebhookVerifier_ValidSuccessCallback(t *testing.T) {
	v := NewWebhookVerifier(testSecret, logger.New(logger.ERROR))

	payload, sig := signedPayload(t, map[string]any{
		"ref_command":  "ref-123",
		"type_event":   "sale_complete",
		"item_price":   15000,
		"currency":     "XOF",
		"custom_field": "user-42",
	})

	event, err := v.VerifyCallback(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackSuccess, event.Kind)
	assert.Equal(t, "ref-123", event.TransactionRef)
	assert.Equal(t, int64(15000), event.Amount)
	assert.Equal(t, "XOF", event.Currency)
	assert.Equal(t, "user-42", event.CustomField)
}

func TestWebhookVerifier_FailureAndCancelReasons(t *testing.T) {
	v := NewWebhookVerifier(testSecret, logger.New(logger.ERROR))

	payload, sig := signedPayload(t, map[string]any{
		"ref_command": "ref-123",
		"type_event":  "sale_failed",
		"reason":      "card declined",
	})
	event, err := v.VerifyCallback(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackFailure, event.Kind)
	assert.Equal(t, "card declined", event.Reason)

	// Missing reason gets a default so the audit trail is never empty
	payload, sig = signedPayload(t, map[string]any{
		"ref_command": "ref-123",
		"type_event":  "sale_canceled",
	})
	event, err = v.VerifyCallback(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, domain.CallbackCancelled, event.Kind)
	assert.NotEmpty(t, event.Reason)
}

func TestWebhookVerifier_ForgedSignature(t *testing.T) {
	v := NewWebhookVerifier(testSecret, logger.New(logger.ERROR))

	payload, _ := signedPayload(t, map[string]any{
		"ref_command": "ref-123",
		"type_event":  "sale_complete",
	})

	t.Run("wrong signature", func(t *testing.T) {
		_, err := v.VerifyCallback(payload, "deadbeef")
		assert.ErrorIs(t, err, domain.ErrInvalidCallbackSignature)
	})

	t.Run("missing signature", func(t *testing.T) {
		_, err := v.VerifyCallback(payload, "")
		assert.ErrorIs(t, err, domain.ErrInvalidCallbackSignature)
	})

	t.Run("signature from another secret", func(t *testing.T) {
		_, err := v.VerifyCallback(payload, SignPayload("other-secret", payload))
		assert.ErrorIs(t, err, domain.ErrInvalidCallbackSignature)
	})

	t.Run("tampered body", func(t *testing.T) {
		_, sig := signedPayload(t, map[string]any{
			"ref_command": "ref-123",
			"type_event":  "sale_complete",
			"item_price":  100,
		})
		tampered, err := json.Marshal(map[string]any{
			"ref_command": "ref-123",
			"type_event":  "sale_complete",
			"item_price":  999999,
		})
		require.NoError(t, err)

		_, verr := v.VerifyCallback(tampered, sig)
		assert.ErrorIs(t, verr, domain.ErrInvalidCallbackSignature)
	})
}

func TestWebhookVerifier_RejectsMalformedPayloads(t *testing.T) {
	v := NewWebhookVerifier(testSecret, logger.New(logger.ERROR))

	t.Run("garbage body", func(t *testing.T) {
		body := []byte("not json at all")
		_, err := v.VerifyCallback(body, SignPayload(testSecret, body))
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrInvalidCallbackSignature)
	})

	t.Run("missing transaction ref", func(t *testing.T) {
		payload, sig := signedPayload(t, map[string]any{"type_event": "sale_complete"})
		_, err := v.VerifyCallback(payload, sig)
		assert.Error(t, err)
	})

	t.Run("unknown event type", func(t *testing.T) {
		payload, sig := signedPayload(t, map[string]any{
			"ref_command": "ref-123",
			"type_event":  "sale_refunded",
		})
		_, err := v.VerifyCallback(payload, sig)
		assert.Error(t, err)
	})
}
