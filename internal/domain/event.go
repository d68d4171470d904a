package domain

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleEventKind вид перехода в жизненном цикле подписки
type LifecycleEventKind string

const (
	LifecycleCreated       LifecycleEventKind = "created"
	LifecycleActivated     LifecycleEventKind = "activated"
	LifecyclePaymentFailed LifecycleEventKind = "payment_failed"
	LifecycleCancelled     LifecycleEventKind = "cancelled"
	LifecycleSuperseded    LifecycleEventKind = "superseded"
	LifecycleSuspended     LifecycleEventKind = "suspended"
	LifecycleRestored      LifecycleEventKind = "restored"
	LifecycleExpired       LifecycleEventKind = "expired"
)

// Actor инициатор перехода
type Actor string

const (
	ActorUser    Actor = "user"
	ActorAdmin   Actor = "admin"
	ActorWebhook Actor = "system-webhook"
	ActorSystem  Actor = "system"
)

// LifecycleEvent запись аудита перехода подписки (append-only)
type LifecycleEvent struct {
	ID             uuid.UUID          `json:"id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	UserID         uuid.UUID          `json:"user_id"`
	Kind           LifecycleEventKind `json:"kind"`
	Actor          Actor              `json:"actor"`
	Reason         string             `json:"reason,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// CallbackKind вид нормализованного события от платежного шлюза
type CallbackKind string

const (
	CallbackSuccess   CallbackKind = "success"
	CallbackFailure   CallbackKind = "failure"
	CallbackCancelled CallbackKind = "cancelled"
)

// CallbackEvent нормализованное событие платежного шлюза.
// Единственное место, где существует словарь шлюза, это адаптер; все
// остальные слои говорят только на этом типе.
type CallbackEvent struct {
	Kind           CallbackKind
	TransactionRef string
	Amount         int64
	Currency       string
	CustomField    string
	Reason         string
}
