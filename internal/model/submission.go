package model

import (
	"time"

	"gorm.io/datatypes"
)

// Submission is one image + questionnaire analysis request and its result.
// Immutable once created except for deletion; ExpiresAt is advisory until a
// retention sweep enforces it.
type Submission struct {
	ID        uint `json:"id" gorm:"primaryKey"`
	AccountID uint `json:"-" gorm:"not null;index"`

	BlobKey string `json:"-" gorm:"type:varchar(255)"`
	BlobURL string `json:"image_url" gorm:"type:varchar(512)"`

	Region        string         `json:"region" gorm:"type:varchar(50)"`
	Questionnaire datatypes.JSON `json:"questionnaire"`
	Result        datatypes.JSON `json:"result"`

	// Premium records the tier at the time of creation, not the current one.
	Premium   bool      `json:"premium"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}
