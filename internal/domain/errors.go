package domain

import (
	"errors"
	"fmt"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrValidation неверные входные данные
	ErrValidation = errors.New("validation failed")

	// ErrPlanNotFound план не найден
	ErrPlanNotFound = errors.New("plan not found")

	// ErrSubscriptionNotFound подписка не найдена
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPreconditionFailed переход запрошен из недопустимого исходного статуса
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrStaleTransition повторная доставка уже примененного перехода; не ошибка по существу
	ErrStaleTransition = errors.New("stale transition")

	// ErrGatewayUnavailable платежный шлюз недоступен; безопасно повторить с тем же refCommand
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")

	// ErrInvalidCallbackSignature подпись колбэка не прошла проверку
	ErrInvalidCallbackSignature = errors.New("invalid callback signature")

	// ErrInternal внутренняя ошибка
	ErrInternal = errors.New("internal error")
)

// ValidationError ошибка валидации с указанием поля
type ValidationError struct {
	Field   string
	Message string
}

// Error реализует интерфейс error
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s - %s", e.Field, e.Message)
}

// Is проверяет совместимость с ErrValidation
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// NewValidationError создает новую ошибку валидации
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// TransitionError ошибка недопустимого перехода жизненного цикла
type TransitionError struct {
	SubscriptionID string
	From           SubscriptionStatus
	Requested      string
}

// Error реализует интерфейс error
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s subscription %s in status %s", e.Requested, e.SubscriptionID, e.From)
}

// Is проверяет совместимость с ErrPreconditionFailed
func (e *TransitionError) Is(target error) bool {
	return target == ErrPreconditionFailed
}

// NewTransitionError создает новую ошибку перехода
func NewTransitionError(subscriptionID string, from SubscriptionStatus, requested string) *TransitionError {
	return &TransitionError{SubscriptionID: subscriptionID, From: from, Requested: requested}
}

// GatewayError ошибка взаимодействия с платежным шлюзом
type GatewayError struct {
	Op          string
	StatusCode  int
	OriginalErr error
}

// Error реализует интерфейс error
func (e *GatewayError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("gateway %s failed: %v (status: %d)", e.Op, e.OriginalErr, e.StatusCode)
	}
	return fmt.Sprintf("gateway %s failed (status: %d)", e.Op, e.StatusCode)
}

// Unwrap возвращает оригинальную ошибку
func (e *GatewayError) Unwrap() error {
	return e.OriginalErr
}

// Is проверяет совместимость с ErrGatewayUnavailable
func (e *GatewayError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}

// NewGatewayError создает новую ошибку шлюза
func NewGatewayError(op string, statusCode int, err error) *GatewayError {
	return &GatewayError{Op: op, StatusCode: statusCode, OriginalErr: err}
}
