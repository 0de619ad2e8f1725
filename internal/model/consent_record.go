package model

import (
	"time"
)

// ConsentCategory identifies what a consent decision covers
type ConsentCategory string

const (
	ConsentEssential ConsentCategory = "essential"
	ConsentMarketing ConsentCategory = "marketing"
	ConsentRetention ConsentCategory = "retention"
	ConsentCookies   ConsentCategory = "cookies"
)

// ValidConsentCategory reports whether the category is one of the known set
func ValidConsentCategory(c ConsentCategory) bool {
	switch c {
	case ConsentEssential, ConsentMarketing, ConsentRetention, ConsentCookies:
		return true
	}
	return false
}

// ConsentRecord is an append-only audit entry of a single consent decision.
// Records are never updated or deleted except by full account erasure; the
// current state per category is the latest record for that category.
type ConsentRecord struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AccountID uint `json:"-" gorm:"not null;index"`

	Category ConsentCategory `json:"category" gorm:"type:varchar(20);not null"`
	Granted  bool            `json:"granted"`

	IPAddress     string `json:"ip_address" gorm:"type:varchar(45)"`
	UserAgent     string `json:"user_agent" gorm:"type:varchar(255)"`
	PolicyVersion string `json:"policy_version" gorm:"type:varchar(20)"`

	CreatedAt time.Time `json:"created_at"`
}
