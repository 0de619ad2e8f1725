// Package pipeline orchestrates submission creation: validate, normalize,
// store, analyze, persist.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/analyzer"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/storage"
	"github.com/writerrose28/ReDerma/pkg/config"
)

var (
	// ErrValidation covers malformed or out-of-bounds input
	ErrValidation = errors.New("validation failed")
	// ErrUpload covers blob store failures
	ErrUpload = errors.New("upload failed")
	// ErrAnalysis covers vision model failures
	ErrAnalysis = errors.New("analysis failed")
)

// Pipeline creates submissions. Each step is a single attempt with no
// retry; a failed external call fails the whole request and the caller
// decides whether to try again.
type Pipeline struct {
	db       *gorm.DB
	blobs    storage.BlobStore
	analyzer analyzer.Analyzer

	retention time.Duration
	maxBytes  int64
	maxDim    int
	log       *zap.Logger
}

// New creates a submission pipeline
func New(db *gorm.DB, blobs storage.BlobStore, an analyzer.Analyzer, quota *config.QuotaConfig, retention time.Duration, log *zap.Logger) *Pipeline {
	return &Pipeline{
		db:        db,
		blobs:     blobs,
		analyzer:  an,
		retention: retention,
		maxBytes:  quota.MaxUploadBytes,
		maxDim:    quota.MaxImageDim,
		log:       log,
	}
}

// Create runs the full flow for one submission. If the analyzer fails after
// the blob was stored, the blob is deleted again (best-effort) so a failed
// request leaves nothing behind.
func (p *Pipeline) Create(ctx context.Context, acct *model.Account, image []byte, questionnaire json.RawMessage, region string) (*model.Submission, error) {
	if region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrValidation)
	}
	if len(questionnaire) == 0 || !json.Valid(questionnaire) {
		return nil, fmt.Errorf("%w: questionnaire must be valid JSON", ErrValidation)
	}
	if err := validateImage(image, p.maxBytes); err != nil {
		return nil, err
	}

	normalized, err := normalizeImage(image, p.maxDim)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("accounts/%d/%s.jpg", acct.ID, uuid.New().String())
	url, err := p.blobs.Put(ctx, key, normalized, normalizedContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpload, err)
	}

	result, err := p.analyzer.Analyze(ctx, analyzer.Request{
		ImageURL:      url,
		Questionnaire: questionnaire,
		Region:        region,
		Premium:       acct.IsPremium,
	})
	if err != nil {
		// Compensating delete so the stored blob is not orphaned.
		if delErr := p.blobs.Delete(ctx, key); delErr != nil {
			p.log.Error("Failed to clean up blob after analysis failure",
				zap.String("key", key),
				zap.Error(delErr))
		}
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}

	now := time.Now()
	submission := model.Submission{
		AccountID:     acct.ID,
		BlobKey:       key,
		BlobURL:       url,
		Region:        region,
		Questionnaire: datatypes.JSON(questionnaire),
		Result:        datatypes.JSON(result),
		Premium:       acct.IsPremium,
		ExpiresAt:     now.Add(p.retention),
	}
	if err := p.db.Create(&submission).Error; err != nil {
		if delErr := p.blobs.Delete(ctx, key); delErr != nil {
			p.log.Error("Failed to clean up blob after persist failure",
				zap.String("key", key),
				zap.Error(delErr))
		}
		return nil, err
	}

	p.log.Info("Submission created",
		zap.Uint("account_id", acct.ID),
		zap.Uint("submission_id", submission.ID),
		zap.String("region", region),
		zap.Bool("premium", submission.Premium))
	return &submission, nil
}
