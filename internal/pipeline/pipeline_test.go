package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/writerrose28/ReDerma/internal/analyzer"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/storage"
	"github.com/writerrose28/ReDerma/pkg/config"
)

type fakeAnalyzer struct {
	result     json.RawMessage
	err        error
	lastPrem   bool
	lastRegion string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req analyzer.Request) (json.RawMessage, error) {
	f.lastPrem = req.Premium
	f.lastRegion = req.Region
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Account{}, &model.Submission{}))
	return db
}

func newPipeline(db *gorm.DB, blobs storage.BlobStore, an analyzer.Analyzer) *Pipeline {
	quota := &config.QuotaConfig{MaxUploadBytes: 10 << 20, MaxImageDim: 1024}
	return New(db, blobs, an, quota, 365*24*time.Hour, zap.NewNop())
}

func TestCreatePersistsSubmissionWithExpiry(t *testing.T) {
	db := openTestDB(t)
	blobs := storage.NewMemoryStore()
	an := &fakeAnalyzer{result: json.RawMessage(`{"summary":"looks fine"}`)}

	acct := model.Account{Email: "p@example.com", IsPremium: true}
	require.NoError(t, db.Create(&acct).Error)

	before := time.Now()
	sub, err := newPipeline(db, blobs, an).Create(
		context.Background(), &acct, makePNG(t, 64, 64),
		json.RawMessage(`{"duration_days":3}`), "forearm")
	require.NoError(t, err)

	assert.NotZero(t, sub.ID)
	assert.Equal(t, acct.ID, sub.AccountID)
	assert.Equal(t, "forearm", sub.Region)
	assert.True(t, sub.Premium)
	assert.True(t, an.lastPrem, "premium tier is passed through to the analyzer")
	assert.JSONEq(t, `{"summary":"looks fine"}`, string(sub.Result))
	assert.WithinDuration(t, before.Add(365*24*time.Hour), sub.ExpiresAt, time.Minute)
	assert.Equal(t, 1, blobs.Len())
}

func TestCreateValidatesInput(t *testing.T) {
	db := openTestDB(t)
	blobs := storage.NewMemoryStore()
	p := newPipeline(db, blobs, &fakeAnalyzer{result: json.RawMessage(`{}`)})
	acct := &model.Account{ID: 1}

	tests := []struct {
		name          string
		image         []byte
		questionnaire json.RawMessage
		region        string
	}{
		{name: "missing region", image: makePNG(t, 8, 8), questionnaire: json.RawMessage(`{}`), region: ""},
		{name: "invalid questionnaire", image: makePNG(t, 8, 8), questionnaire: json.RawMessage(`{oops`), region: "arm"},
		{name: "empty questionnaire", image: makePNG(t, 8, 8), questionnaire: nil, region: "arm"},
		{name: "bad image", image: []byte("nope"), questionnaire: json.RawMessage(`{}`), region: "arm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Create(context.Background(), acct, tt.image, tt.questionnaire, tt.region)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.Zero(t, blobs.Len(), "validation failures never reach the blob store")
}

func TestCreateCleansUpBlobWhenAnalyzerFails(t *testing.T) {
	db := openTestDB(t)
	blobs := storage.NewMemoryStore()
	an := &fakeAnalyzer{err: errors.New("model overloaded")}

	acct := model.Account{Email: "q@example.com"}
	require.NoError(t, db.Create(&acct).Error)

	_, err := newPipeline(db, blobs, an).Create(
		context.Background(), &acct, makePNG(t, 32, 32),
		json.RawMessage(`{}`), "scalp")
	assert.ErrorIs(t, err, ErrAnalysis)

	assert.Zero(t, blobs.Len(), "stored blob is deleted when analysis fails")
	var count int64
	db.Model(&model.Submission{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreateFailsOnUploadError(t *testing.T) {
	db := openTestDB(t)
	blobs := storage.NewMemoryStore()
	blobs.PutErr = errors.New("bucket unavailable")

	acct := model.Account{Email: "r@example.com"}
	require.NoError(t, db.Create(&acct).Error)

	_, err := newPipeline(db, blobs, &fakeAnalyzer{result: json.RawMessage(`{}`)}).Create(
		context.Background(), &acct, makePNG(t, 32, 32),
		json.RawMessage(`{}`), "hand")
	assert.ErrorIs(t, err, ErrUpload)
}
