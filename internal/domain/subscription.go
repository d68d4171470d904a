package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки
type SubscriptionStatus string

const (
	SubscriptionStatusPending   SubscriptionStatus = "pending"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус конечным.
// Подписка в конечном статусе больше не мутирует: смена плана создает
// новую запись, а не переписывает историю.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusExpired || s == SubscriptionStatusCancelled
}

// GrantsEntitlements сообщает, дает ли статус доступ к фичам плана
func (s SubscriptionStatus) GrantsEntitlements() bool {
	return s == SubscriptionStatusActive || s == SubscriptionStatusTrial
}

// CancelReasonSuperseded причина отмены при замещении подписки новой
const CancelReasonSuperseded = "superseded-by-plan-change"

// Subscription привязка пользователя к плану с жизненным циклом.
// Инвариант: у пользователя в каждый момент не более одной подписки
// в статусе ACTIVE или TRIAL.
type Subscription struct {
	ID              uuid.UUID          `json:"id"`
	UserID          uuid.UUID          `json:"user_id"`
	PlanID          uuid.UUID          `json:"plan_id"`
	Status          SubscriptionStatus `json:"status"`
	StartDate       time.Time          `json:"start_date"`
	EndDate         *time.Time         `json:"end_date,omitempty"` // nil = бессрочная
	TransactionID   string             `json:"transaction_id"`     // ключ идемпотентности (refCommand)
	PaymentMethod   string             `json:"payment_method,omitempty"`
	SuspendedAt     *time.Time         `json:"suspended_at,omitempty"`
	SuspendedReason string             `json:"suspended_reason,omitempty"`
	RestoredAt      *time.Time         `json:"restored_at,omitempty"`
	CancelReason    string             `json:"cancel_reason,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// IsExpiredAt сообщает, истек ли срок подписки на момент now
func (s *Subscription) IsExpiredAt(now time.Time) bool {
	return s.EndDate != nil && now.After(*s.EndDate)
}

// BillingPeriodKey возвращает ключ текущего биллингового периода подписки
// для периодических счетчиков использования. Якорем служит StartDate, чтобы
// период не сдвигался при restore.
func (s *Subscription) BillingPeriodKey(now time.Time) string {
	anchor := s.StartDate.UTC()
	months := 0
	for !anchor.AddDate(0, months+1, 0).After(now.UTC()) {
		months++
	}
	return anchor.AddDate(0, months, 0).Format("2006-01")
}
