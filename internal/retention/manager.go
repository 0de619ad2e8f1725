// Package retention owns the account deletion and data export workflows.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/storage"
)

// ErrConfirmationMismatch is returned when the deletion confirmation phrase
// does not match exactly
var ErrConfirmationMismatch = errors.New("confirmation phrase mismatch")

// SubscriptionCanceler cancels an external billing subscription by id
type SubscriptionCanceler interface {
	CancelSubscription(ctx context.Context, subscriptionID string) error
}

// Manager drives the per-account deletion state machine: immediate erasure,
// scheduled erasure after a grace window, cancellation of the schedule, and
// read-only export.
type Manager struct {
	db      *gorm.DB
	blobs   storage.BlobStore
	billing SubscriptionCanceler

	grace  time.Duration
	phrase string
	log    *zap.Logger
}

// NewManager creates a retention manager
func NewManager(db *gorm.DB, blobs storage.BlobStore, billing SubscriptionCanceler, grace time.Duration, phrase string, log *zap.Logger) *Manager {
	return &Manager{
		db:      db,
		blobs:   blobs,
		billing: billing,
		grace:   grace,
		phrase:  phrase,
		log:     log,
	}
}

// DeleteNow erases the account and everything it owns, synchronously and
// irreversibly. External cleanup (subscription cancel, blob deletion) is
// best-effort: failures are logged and local rows are deleted regardless.
// Nothing is deleted unless the confirmation phrase matches exactly.
func (m *Manager) DeleteNow(ctx context.Context, accountID uint, confirmation string) error {
	if confirmation != m.phrase {
		return ErrConfirmationMismatch
	}

	var acct model.Account
	if err := m.db.First(&acct, accountID).Error; err != nil {
		return err
	}

	if acct.StripeSubscriptionID != nil && *acct.StripeSubscriptionID != "" {
		if err := m.billing.CancelSubscription(ctx, *acct.StripeSubscriptionID); err != nil {
			m.log.Error("Failed to cancel subscription during account deletion",
				zap.Uint("account_id", accountID),
				zap.Error(err))
		}
	}

	if err := m.blobs.DeletePrefix(ctx, blobPrefix(accountID)); err != nil {
		m.log.Error("Failed to delete stored media during account deletion",
			zap.Uint("account_id", accountID),
			zap.Error(err))
	}

	err := m.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("account_id = ?", accountID).Delete(&model.ConsentRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("account_id = ?", accountID).Delete(&model.Submission{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.Account{}, accountID).Error
	})
	if err != nil {
		return err
	}

	m.log.Info("Account erased", zap.Uint("account_id", accountID))
	return nil
}

// ScheduleDeletion marks the account for erasure after the grace window.
// Idempotent: re-invoking resets the window from now.
func (m *Manager) ScheduleDeletion(accountID uint) (time.Time, error) {
	at := time.Now().Add(m.grace)
	result := m.db.Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("scheduled_deletion_at", at)
	if result.Error != nil {
		return time.Time{}, result.Error
	}
	if result.RowsAffected == 0 {
		return time.Time{}, gorm.ErrRecordNotFound
	}
	return at, nil
}

// CancelScheduledDeletion clears the deletion mark unconditionally; clearing
// an already-clear mark is not an error.
func (m *Manager) CancelScheduledDeletion(accountID uint) error {
	return m.db.Model(&model.Account{}).
		Where("id = ?", accountID).
		Update("scheduled_deletion_at", nil).Error
}

// ExportBundle is the account's complete data snapshot, with internal-only
// columns (credential hash, foreign keys, billing references) excluded.
type ExportBundle struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Account     ExportAccount      `json:"account"`
	Submissions []ExportSubmission `json:"submissions"`
	Consents    []ExportConsent    `json:"consents"`
}

// ExportAccount is the exportable view of an account
type ExportAccount struct {
	Email               string     `json:"email"`
	Locale              string     `json:"locale"`
	Region              string     `json:"region"`
	BirthYear           *int       `json:"birth_year,omitempty"`
	SkinType            *string    `json:"skin_type,omitempty"`
	IsPremium           bool       `json:"is_premium"`
	SubscriptionStatus  string     `json:"subscription_status"`
	ConsentAt           *time.Time `json:"consent_at"`
	MarketingConsent    bool       `json:"marketing_consent"`
	RetentionConsent    bool       `json:"retention_consent"`
	LastLoginAt         *time.Time `json:"last_login_at"`
	ScheduledDeletionAt *time.Time `json:"scheduled_deletion_at"`
	CreatedAt           time.Time  `json:"created_at"`
}

// ExportSubmission is the exportable view of a submission
type ExportSubmission struct {
	Region        string         `json:"region"`
	ImageURL      string         `json:"image_url"`
	Questionnaire datatypes.JSON `json:"questionnaire"`
	Result        datatypes.JSON `json:"result"`
	Premium       bool           `json:"premium"`
	ExpiresAt     time.Time      `json:"expires_at"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ExportConsent is the exportable view of a consent record
type ExportConsent struct {
	Category      string    `json:"category"`
	Granted       bool      `json:"granted"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     string    `json:"user_agent"`
	PolicyVersion string    `json:"policy_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// Export assembles a read-only snapshot of everything stored for the account
func (m *Manager) Export(accountID uint) (*ExportBundle, error) {
	var acct model.Account
	if err := m.db.First(&acct, accountID).Error; err != nil {
		return nil, err
	}

	var submissions []model.Submission
	if err := m.db.Where("account_id = ?", accountID).Order("created_at asc").Find(&submissions).Error; err != nil {
		return nil, err
	}

	var consents []model.ConsentRecord
	if err := m.db.Where("account_id = ?", accountID).Order("created_at asc").Find(&consents).Error; err != nil {
		return nil, err
	}

	bundle := &ExportBundle{
		GeneratedAt: time.Now().UTC(),
		Account: ExportAccount{
			Email:               acct.Email,
			Locale:              acct.Locale,
			Region:              acct.Region,
			BirthYear:           acct.BirthYear,
			SkinType:            acct.SkinType,
			IsPremium:           acct.IsPremium,
			SubscriptionStatus:  string(acct.SubscriptionStatus),
			ConsentAt:           acct.ConsentAt,
			MarketingConsent:    acct.MarketingConsent,
			RetentionConsent:    acct.RetentionConsent,
			LastLoginAt:         acct.LastLoginAt,
			ScheduledDeletionAt: acct.ScheduledDeletionAt,
			CreatedAt:           acct.CreatedAt,
		},
		Submissions: make([]ExportSubmission, 0, len(submissions)),
		Consents:    make([]ExportConsent, 0, len(consents)),
	}

	for _, s := range submissions {
		bundle.Submissions = append(bundle.Submissions, ExportSubmission{
			Region:        s.Region,
			ImageURL:      s.BlobURL,
			Questionnaire: s.Questionnaire,
			Result:        s.Result,
			Premium:       s.Premium,
			ExpiresAt:     s.ExpiresAt,
			CreatedAt:     s.CreatedAt,
		})
	}
	for _, c := range consents {
		bundle.Consents = append(bundle.Consents, ExportConsent{
			Category:      string(c.Category),
			Granted:       c.Granted,
			IPAddress:     c.IPAddress,
			UserAgent:     c.UserAgent,
			PolicyVersion: c.PolicyVersion,
			CreatedAt:     c.CreatedAt,
		})
	}

	return bundle, nil
}

func blobPrefix(accountID uint) string {
	return fmt.Sprintf("accounts/%d/", accountID)
}
