package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PlanType тег тарифного уровня
type PlanType string

const (
	PlanTypeFree    PlanType = "free"
	PlanTypePremium PlanType = "premium"
	PlanTypePro     PlanType = "pro"
)

// FeatureKey ключ фичи, на которую план выдает права
type FeatureKey string

const (
	FeaturePostsCreate        FeatureKey = "posts.create"
	FeatureClubsCreate        FeatureKey = "clubs.create"
	FeaturePlayersSave        FeatureKey = "players.save"
	FeatureRecruiterDashboard FeatureKey = "dashboard.recruiter"
	FeatureDirectMessaging    FeatureKey = "messaging.direct"
)

// ResetPeriod определяет семантику сброса счетчика использования для фичи.
// Посты сбрасываются по биллинговому периоду, клубы и сохраненные игроки
// имеют накопительные лимиты без сброса.
var periodicFeatures = map[FeatureKey]bool{
	FeaturePostsCreate: true,
}

// IsPeriodic сообщает, сбрасывается ли счетчик фичи по биллинговому периоду
func (k FeatureKey) IsPeriodic() bool {
	return periodicFeatures[k]
}

// Limit явное представление квоты: либо конечный лимит, либо безлимит.
// Нулевой лимит всегда запрещает, безлимит всегда разрешает.
type Limit struct {
	unlimited bool
	cap       int64
}

// Capped создает конечный лимит
func Capped(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{cap: n}
}

// Unlimited создает безлимитную квоту
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// IsUnlimited сообщает, является ли квота безлимитной
func (l Limit) IsUnlimited() bool {
	return l.unlimited
}

// Cap возвращает значение лимита; для безлимита не определено и равно 0
func (l Limit) Cap() int64 {
	return l.cap
}

// Allows проверяет, разрешает ли лимит еще одно использование при текущем счетчике
func (l Limit) Allows(used int64) bool {
	if l.unlimited {
		return true
	}
	return used < l.cap
}

// String реализует fmt.Stringer
func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return fmt.Sprintf("%d", l.cap)
}

// limitJSON проводное представление лимита
type limitJSON struct {
	Unlimited bool  `json:"unlimited"`
	Cap       int64 `json:"cap,omitempty"`
}

// MarshalJSON реализует json.Marshaler
func (l Limit) MarshalJSON() ([]byte, error) {
	return json.Marshal(limitJSON{Unlimited: l.unlimited, Cap: l.cap})
}

// UnmarshalJSON реализует json.Unmarshaler
func (l *Limit) UnmarshalJSON(data []byte) error {
	var raw limitJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	l.unlimited = raw.Unlimited
	l.cap = raw.Cap
	return nil
}

// EntitlementKind вид права: булева возможность или квота
type EntitlementKind string

const (
	EntitlementCapability EntitlementKind = "capability"
	EntitlementQuota      EntitlementKind = "quota"
)

// Entitlement право, выдаваемое планом на конкретную фичу
type Entitlement struct {
	Kind    EntitlementKind `json:"kind"`
	Enabled bool            `json:"enabled,omitempty"`
	Limit   Limit           `json:"limit,omitempty"`
}

// Capability создает булево право
func Capability(enabled bool) Entitlement {
	return Entitlement{Kind: EntitlementCapability, Enabled: enabled}
}

// Quota создает квотируемое право
func Quota(l Limit) Entitlement {
	return Entitlement{Kind: EntitlementQuota, Limit: l}
}

// FeatureSet набор прав плана по ключам фич
type FeatureSet map[FeatureKey]Entitlement

// Plan тарифный план: цена, длительность и набор прав.
// После того как на план сослалась хотя бы одна подписка, он считается
// неизменяемым снимком для аудита; правки каталога создают новый план.
type Plan struct {
	ID           uuid.UUID  `json:"id"`
	Type         PlanType   `json:"type"`
	Name         string     `json:"name"`
	Price        int64      `json:"price"` // в минорных единицах валюты
	Currency     string     `json:"currency"`
	DurationDays int        `json:"duration_days"` // 0 = бессрочный
	Features     FeatureSet `json:"features"`
	Active       bool       `json:"active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// IsExpiring сообщает, ограничен ли план по времени
func (p *Plan) IsExpiring() bool {
	return p.DurationDays > 0
}

// Entitlement возвращает право плана на фичу
func (p *Plan) Entitlement(key FeatureKey) (Entitlement, bool) {
	e, ok := p.Features[key]
	return e, ok
}
