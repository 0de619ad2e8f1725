package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/writerrose28/ReDerma/internal/model"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.BillingEvent{}))
	return db
}

func seedCustomer(t *testing.T, db *gorm.DB) *model.Account {
	t.Helper()
	custID := "cus_42"
	acct := model.Account{Email: "billing@example.com", StripeCustomerID: &custID}
	require.NoError(t, db.Create(&acct).Error)
	return &acct
}

func reload(t *testing.T, db *gorm.DB, id uint) *model.Account {
	t.Helper()
	var acct model.Account
	require.NoError(t, db.First(&acct, id).Error)
	return &acct
}

// premiumInvariantHolds checks is_premium == (status == active)
func premiumInvariantHolds(a *model.Account) bool {
	return a.IsPremium == (a.SubscriptionStatus == model.SubscriptionActive)
}

func TestSubscriptionLifecycleEvents(t *testing.T) {
	db := openTestDB(t)
	sync := NewSync(db, zap.NewNop())
	acct := seedCustomer(t, db)

	steps := []struct {
		name       string
		event      *Event
		wantStatus model.SubscriptionStatus
		wantPrem   bool
	}{
		{
			name: "created active",
			event: &Event{ID: "evt_1", Type: EventSubscriptionCreated,
				CustomerID: "cus_42", SubscriptionID: "sub_1", Status: model.SubscriptionActive},
			wantStatus: model.SubscriptionActive,
			wantPrem:   true,
		},
		{
			name: "payment failed",
			event: &Event{ID: "evt_2", Type: EventPaymentFailed,
				CustomerID: "cus_42"},
			wantStatus: model.SubscriptionPastDue,
			wantPrem:   true, // untouched by payment failure
		},
		{
			name: "updated back to active",
			event: &Event{ID: "evt_3", Type: EventSubscriptionUpdated,
				CustomerID: "cus_42", SubscriptionID: "sub_1", Status: model.SubscriptionActive},
			wantStatus: model.SubscriptionActive,
			wantPrem:   true,
		},
		{
			name: "updated canceled",
			event: &Event{ID: "evt_4", Type: EventSubscriptionUpdated,
				CustomerID: "cus_42", SubscriptionID: "sub_1", Status: model.SubscriptionCanceled},
			wantStatus: model.SubscriptionCanceled,
			wantPrem:   false,
		},
		{
			name: "deleted",
			event: &Event{ID: "evt_5", Type: EventSubscriptionDeleted,
				CustomerID: "cus_42", SubscriptionID: "sub_1"},
			wantStatus: model.SubscriptionInactive,
			wantPrem:   false,
		},
	}

	for _, step := range steps {
		t.Run(step.name, func(t *testing.T) {
			require.NoError(t, sync.Apply(step.event))
			got := reload(t, db, acct.ID)
			assert.Equal(t, step.wantStatus, got.SubscriptionStatus)
			assert.Equal(t, step.wantPrem, got.IsPremium)
			if step.event.Type != EventPaymentFailed {
				assert.True(t, premiumInvariantHolds(got))
			}
		})
	}
}

func TestDuplicateEventAppliedOnce(t *testing.T) {
	db := openTestDB(t)
	sync := NewSync(db, zap.NewNop())
	acct := seedCustomer(t, db)

	activate := &Event{ID: "evt_dup", Type: EventSubscriptionCreated,
		CustomerID: "cus_42", SubscriptionID: "sub_1", Status: model.SubscriptionActive}
	require.NoError(t, sync.Apply(activate))

	// Same event id with a different payload: the replay must not win.
	replay := &Event{ID: "evt_dup", Type: EventSubscriptionUpdated,
		CustomerID: "cus_42", SubscriptionID: "sub_1", Status: model.SubscriptionCanceled}
	require.NoError(t, sync.Apply(replay))

	got := reload(t, db, acct.ID)
	assert.Equal(t, model.SubscriptionActive, got.SubscriptionStatus)
	assert.True(t, got.IsPremium)

	var events int64
	db.Model(&model.BillingEvent{}).Count(&events)
	assert.Equal(t, int64(1), events)
}

func TestUnknownEventTypeIgnored(t *testing.T) {
	db := openTestDB(t)
	sync := NewSync(db, zap.NewNop())
	acct := seedCustomer(t, db)

	require.NoError(t, sync.Apply(&Event{ID: "evt_x", Type: "invoice.finalized", CustomerID: "cus_42"}))

	got := reload(t, db, acct.ID)
	assert.Equal(t, model.SubscriptionInactive, got.SubscriptionStatus)
	assert.False(t, got.IsPremium)
}

func TestUnknownCustomerAcknowledged(t *testing.T) {
	db := openTestDB(t)
	sync := NewSync(db, zap.NewNop())

	err := sync.Apply(&Event{ID: "evt_y", Type: EventSubscriptionCreated,
		CustomerID: "cus_missing", Status: model.SubscriptionActive})
	assert.NoError(t, err)
}

func TestCheckoutCompletedLinksIdentifiers(t *testing.T) {
	db := openTestDB(t)
	sync := NewSync(db, zap.NewNop())

	acct := model.Account{Email: "new@example.com"}
	require.NoError(t, db.Create(&acct).Error)

	require.NoError(t, sync.Apply(&Event{
		ID: "evt_c", Type: EventCheckoutCompleted,
		CustomerID: "cus_99", SubscriptionID: "sub_99", AccountID: acct.ID,
	}))

	got := reload(t, db, acct.ID)
	require.NotNil(t, got.StripeCustomerID)
	assert.Equal(t, "cus_99", *got.StripeCustomerID)
	require.NotNil(t, got.StripeSubscriptionID)
	assert.Equal(t, "sub_99", *got.StripeSubscriptionID)
}
