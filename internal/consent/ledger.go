// Package consent keeps the append-only ledger of consent decisions.
package consent

import (
	"errors"

	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/model"
)

// ErrConsentRequired is returned when an account without essential consent
// attempts a data-producing action
var ErrConsentRequired = errors.New("essential consent required")

// Origin describes where a consent decision came from
type Origin struct {
	IPAddress     string
	UserAgent     string
	PolicyVersion string
}

// Ledger records and reads consent decisions. Records are never updated or
// deleted here; erasure happens only through account deletion.
type Ledger struct {
	db *gorm.DB
}

// NewLedger creates a consent ledger over the given database
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Record appends one consent decision. Pure append; it fails only on
// storage errors.
func (l *Ledger) Record(accountID uint, category model.ConsentCategory, granted bool, origin Origin) (*model.ConsentRecord, error) {
	rec := model.ConsentRecord{
		AccountID:     accountID,
		Category:      category,
		Granted:       granted,
		IPAddress:     origin.IPAddress,
		UserAgent:     origin.UserAgent,
		PolicyVersion: origin.PolicyVersion,
	}
	if err := l.db.Create(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// LatestByCategory returns the most recent decision per category. Ties on
// created_at are broken by insertion order (higher id wins).
func (l *Ledger) LatestByCategory(accountID uint) (map[model.ConsentCategory]bool, error) {
	var records []model.ConsentRecord
	err := l.db.
		Where("account_id = ?", accountID).
		Order("created_at asc").
		Order("id asc").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	latest := make(map[model.ConsentCategory]bool, 4)
	for _, rec := range records {
		latest[rec.Category] = rec.Granted
	}
	return latest, nil
}

// History returns the full ledger for an account, oldest first
func (l *Ledger) History(accountID uint) ([]model.ConsentRecord, error) {
	var records []model.ConsentRecord
	err := l.db.
		Where("account_id = ?", accountID).
		Order("created_at asc").
		Order("id asc").
		Find(&records).Error
	return records, err
}

// RequireEssential gates paid and data-producing actions on the account's
// denormalized essential-consent timestamp.
func (l *Ledger) RequireEssential(acct *model.Account) error {
	if !acct.HasEssentialConsent() {
		return ErrConsentRequired
	}
	return nil
}
