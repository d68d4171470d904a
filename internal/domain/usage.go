package domain

import (
	"time"

	"github.com/google/uuid"
)

// CumulativePeriodKey ключ периода для накопительных счетчиков
const CumulativePeriodKey = "total"

// UsageCounter счетчик потребления квотируемой фичи пользователем за период
type UsageCounter struct {
	UserID    uuid.UUID  `json:"user_id"`
	Feature   FeatureKey `json:"feature"`
	Period    string     `json:"period"`
	Count     int64      `json:"count"`
	UpdatedAt time.Time  `json:"updated_at"`
}
