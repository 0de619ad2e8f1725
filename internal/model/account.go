package model

import (
	"time"
)

// SubscriptionStatus mirrors the billing provider's subscription lifecycle
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionInactive SubscriptionStatus = "inactive"
)

// Account represents a registered user with billing and consent state.
//
// IsPremium is true iff SubscriptionStatus is "active". Both columns are
// only ever written together from billing events or the cancel endpoint,
// never from client input.
//
// There is deliberately no gorm.DeletedAt here: erasure endpoints must
// remove rows, and a soft-delete hook would turn Delete into an update.
type Account struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	Email        string `json:"email" gorm:"type:varchar(100);uniqueIndex"`
	PasswordHash string `json:"-" gorm:"type:varchar(255)"`

	IsPremium            bool               `json:"is_premium"`
	StripeCustomerID     *string            `json:"-" gorm:"type:varchar(64);index"`
	StripeSubscriptionID *string            `json:"-" gorm:"type:varchar(64)"`
	SubscriptionStatus   SubscriptionStatus `json:"subscription_status" gorm:"type:varchar(20);default:'inactive'"`

	Locale   string  `json:"locale" gorm:"type:varchar(10)"`
	Region   string  `json:"region" gorm:"type:varchar(10)"`
	BirthYear *int   `json:"birth_year,omitempty"`
	SkinType  *string `json:"skin_type,omitempty" gorm:"type:varchar(20)"`

	ConsentAt        *time.Time `json:"consent_at"`
	MarketingConsent bool       `json:"marketing_consent"`
	RetentionConsent bool       `json:"retention_consent"`

	LastLoginAt         *time.Time `json:"last_login_at"`
	ScheduledDeletionAt *time.Time `json:"scheduled_deletion_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Submissions    []Submission    `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ConsentRecords []ConsentRecord `json:"-" gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// HasEssentialConsent reports whether the account may use data-producing
// features. Denormalized from the consent ledger for fast gating.
func (a *Account) HasEssentialConsent() bool {
	return a.ConsentAt != nil
}
