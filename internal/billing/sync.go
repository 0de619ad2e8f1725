package billing

import (
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/writerrose28/ReDerma/internal/model"
)

// Sync applies provider webhook events to account rows.
//
// Handlers are idempotent by construction (every event kind overwrites the
// same fields), and processed event ids are additionally recorded so a
// duplicate delivery is acknowledged without touching the account again.
// Webhooks may arrive out of order; the last delivery wins, which matches
// the provider's own retry semantics.
type Sync struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewSync creates a subscription sync over the given database
func NewSync(db *gorm.DB, log *zap.Logger) *Sync {
	return &Sync{db: db, log: log}
}

// Apply records the event and updates the owning account. Unknown event
// kinds are acknowledged and ignored. Subscription status and the premium
// flag are always written in the same UPDATE so the invariant
// is_premium == (status == active) cannot be observed broken.
func (s *Sync) Apply(event *Event) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		// The unique event id doubles as the idempotency check: a
		// conflicting insert means this delivery was already processed.
		dedup := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&model.BillingEvent{
			ProviderEventID: event.ID,
			EventType:       event.Type,
		})
		if dedup.Error != nil {
			return dedup.Error
		}
		if dedup.RowsAffected == 0 {
			s.log.Info("Duplicate billing event ignored",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type))
			return nil
		}

		switch event.Type {
		case EventSubscriptionCreated, EventSubscriptionUpdated:
			return s.applyToCustomer(tx, event, map[string]interface{}{
				"subscription_status":    event.Status,
				"is_premium":             event.Status == model.SubscriptionActive,
				"stripe_subscription_id": event.SubscriptionID,
			})
		case EventSubscriptionDeleted:
			return s.applyToCustomer(tx, event, map[string]interface{}{
				"subscription_status":    model.SubscriptionInactive,
				"is_premium":             false,
				"stripe_subscription_id": nil,
			})
		case EventPaymentFailed:
			// Premium stays untouched until the provider resolves the
			// subscription one way or the other.
			return s.applyToCustomer(tx, event, map[string]interface{}{
				"subscription_status": model.SubscriptionPastDue,
			})
		case EventCheckoutCompleted:
			if event.AccountID == 0 {
				s.log.Warn("Checkout completed without client reference",
					zap.String("event_id", event.ID))
				return nil
			}
			updates := map[string]interface{}{
				"stripe_customer_id": event.CustomerID,
			}
			if event.SubscriptionID != "" {
				updates["stripe_subscription_id"] = event.SubscriptionID
			}
			return tx.Model(&model.Account{}).
				Where("id = ?", event.AccountID).
				Updates(updates).Error
		default:
			s.log.Info("Unhandled billing event type ignored",
				zap.String("event_id", event.ID),
				zap.String("event_type", event.Type))
			return nil
		}
	})
}

// applyToCustomer updates the account owning the provider customer id. An
// event for an unknown customer is logged and acknowledged; failing the
// webhook would only trigger provider retries that cannot succeed either.
func (s *Sync) applyToCustomer(tx *gorm.DB, event *Event, updates map[string]interface{}) error {
	if event.CustomerID == "" {
		s.log.Warn("Billing event without customer id",
			zap.String("event_id", event.ID),
			zap.String("event_type", event.Type))
		return nil
	}
	result := tx.Model(&model.Account{}).
		Where("stripe_customer_id = ?", event.CustomerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		s.log.Warn("Billing event for unknown customer",
			zap.String("event_id", event.ID),
			zap.String("customer_id", event.CustomerID))
	}
	return nil
}
