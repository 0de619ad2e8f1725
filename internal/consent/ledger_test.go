package consent

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.ConsentRecord{}))
	return db
}

func TestRecordAppends(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	rec, err := ledger.Record(1, model.ConsentEssential, true, Origin{
		IPAddress:     "203.0.113.9",
		UserAgent:     "test-agent",
		PolicyVersion: "2025-06",
	})
	require.NoError(t, err)
	assert.NotZero(t, rec.ID)
	assert.Equal(t, model.ConsentEssential, rec.Category)
	assert.True(t, rec.Granted)

	history, err := ledger.History(1)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestLatestByCategoryIsOrderIndependent(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	records := []model.ConsentRecord{
		{AccountID: 1, Category: model.ConsentMarketing, Granted: true, CreatedAt: base},
		{AccountID: 1, Category: model.ConsentMarketing, Granted: false, CreatedAt: base.Add(2 * time.Hour)},
		{AccountID: 1, Category: model.ConsentRetention, Granted: false, CreatedAt: base.Add(time.Hour)},
		{AccountID: 1, Category: model.ConsentRetention, Granted: true, CreatedAt: base.Add(3 * time.Hour)},
		{AccountID: 1, Category: model.ConsentEssential, Granted: true, CreatedAt: base},
		{AccountID: 1, Category: model.ConsentCookies, Granted: true, CreatedAt: base},
		{AccountID: 1, Category: model.ConsentCookies, Granted: false, CreatedAt: base.Add(30 * time.Minute)},
	}

	// The derived view must not depend on insertion order.
	r := rand.New(rand.NewSource(42))
	r.Shuffle(len(records), func(i, j int) {
		records[i], records[j] = records[j], records[i]
	})
	for i := range records {
		require.NoError(t, db.Create(&records[i]).Error)
	}

	latest, err := ledger.LatestByCategory(1)
	require.NoError(t, err)
	assert.Equal(t, map[model.ConsentCategory]bool{
		model.ConsentEssential: true,
		model.ConsentMarketing: false,
		model.ConsentRetention: true,
		model.ConsentCookies:   false,
	}, latest)
}

func TestLatestByCategoryTieBreaksOnInsertionOrder(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	first := model.ConsentRecord{AccountID: 2, Category: model.ConsentMarketing, Granted: true, CreatedAt: ts}
	second := model.ConsentRecord{AccountID: 2, Category: model.ConsentMarketing, Granted: false, CreatedAt: ts}
	require.NoError(t, db.Create(&first).Error)
	require.NoError(t, db.Create(&second).Error)

	latest, err := ledger.LatestByCategory(2)
	require.NoError(t, err)
	assert.False(t, latest[model.ConsentMarketing], "later insertion wins on equal timestamps")
}

func TestRequireEssential(t *testing.T) {
	ledger := NewLedger(openTestDB(t))

	now := time.Now()
	assert.NoError(t, ledger.RequireEssential(&model.Account{ConsentAt: &now}))
	assert.ErrorIs(t, ledger.RequireEssential(&model.Account{}), ErrConsentRequired)
}

func TestLedgersAreScopedPerAccount(t *testing.T) {
	db := openTestDB(t)
	ledger := NewLedger(db)

	_, err := ledger.Record(1, model.ConsentMarketing, true, Origin{})
	require.NoError(t, err)
	_, err = ledger.Record(2, model.ConsentMarketing, false, Origin{})
	require.NoError(t, err)

	latest, err := ledger.LatestByCategory(1)
	require.NoError(t, err)
	assert.True(t, latest[model.ConsentMarketing])
}
