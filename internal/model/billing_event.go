package model

import "time"

// BillingEvent records a processed billing webhook delivery. The unique
// provider event id makes duplicate deliveries no-ops: the insert is the
// idempotency check.
type BillingEvent struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	ProviderEventID string    `json:"provider_event_id" gorm:"type:varchar(191);not null;uniqueIndex"`
	EventType       string    `json:"event_type" gorm:"type:varchar(100);not null;index"`
	CreatedAt       time.Time `json:"created_at"`
}
