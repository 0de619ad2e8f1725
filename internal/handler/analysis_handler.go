package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/consent"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/pipeline"
	"github.com/writerrose28/ReDerma/internal/storage"
	"github.com/writerrose28/ReDerma/pkg/logger"
	"github.com/writerrose28/ReDerma/prometheus"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// AnalysisHandler serves submission creation, listing and deletion
type AnalysisHandler struct {
	db         *gorm.DB
	pipeline   *pipeline.Pipeline
	blobs      storage.BlobStore
	ledger     *consent.Ledger
	production bool
}

// NewAnalysisHandler creates the analysis handler with its dependencies
func NewAnalysisHandler(db *gorm.DB, p *pipeline.Pipeline, blobs storage.BlobStore, ledger *consent.Ledger, production bool) *AnalysisHandler {
	return &AnalysisHandler{db: db, pipeline: p, blobs: blobs, ledger: ledger, production: production}
}

// Create accepts a multipart request (image file, questionnaire JSON field,
// region field) and runs the submission pipeline
func (h *AnalysisHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)

	if err := h.ledger.RequireEssential(acct); err != nil {
		log.Warn("Submission without essential consent", zap.Uint("account_id", acct.ID))
		return c.JSON(http.StatusForbidden, echo.Map{"error": "consent is required before submitting"})
	}

	fileHeader, err := c.FormFile("image")
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "image file is required"})
	}
	file, err := fileHeader.Open()
	if err != nil {
		log.Error("Failed to open uploaded file", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read uploaded image"})
	}
	defer file.Close()

	imageBytes, err := io.ReadAll(file)
	if err != nil {
		log.Error("Failed to read uploaded file", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "could not read uploaded image"})
	}

	questionnaire := c.FormValue("questionnaire")
	region := c.FormValue("region")

	submission, err := h.pipeline.Create(c.Request().Context(), acct, imageBytes, json.RawMessage(questionnaire), region)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrValidation):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		case errors.Is(err, pipeline.ErrUpload), errors.Is(err, pipeline.ErrAnalysis):
			log.Error("Submission pipeline failed", zap.Uint("account_id", acct.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": h.upstreamMessage(err)})
		default:
			log.Error("Failed to persist submission", zap.Uint("account_id", acct.ID), zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not create submission"})
		}
	}

	prometheus.SubmissionCounter.Inc()
	return c.JSON(http.StatusCreated, submission)
}

// List returns the authenticated account's submissions, newest first
func (h *AnalysisHandler) List(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var total int64
	if err := h.db.Model(&model.Submission{}).Where("account_id = ?", acct.ID).Count(&total).Error; err != nil {
		log.Error("Failed to count submissions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list submissions"})
	}

	var submissions []model.Submission
	err := h.db.
		Where("account_id = ?", acct.ID).
		Order("created_at desc").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&submissions).Error
	if err != nil {
		log.Error("Failed to list submissions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not list submissions"})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"items": submissions,
		"total": total,
		"page":  page,
		"limit": limit,
	})
}

// Get returns a single submission owned by the authenticated account.
// Someone else's submission id is indistinguishable from a missing one.
func (h *AnalysisHandler) Get(c echo.Context) error {
	acct := middleware.AccountFromContext(c)
	id := c.Param("id")

	var submission model.Submission
	if err := h.db.Where("id = ? AND account_id = ?", id, acct.ID).First(&submission).Error; err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "submission not found"})
	}
	return c.JSON(http.StatusOK, submission)
}

// Delete removes a submission and its stored image
func (h *AnalysisHandler) Delete(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	id := c.Param("id")

	var submission model.Submission
	if err := h.db.Where("id = ? AND account_id = ?", id, acct.ID).First(&submission).Error; err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "submission not found"})
	}

	// Blob cleanup is best-effort: the local row goes away regardless.
	if err := h.blobs.Delete(c.Request().Context(), submission.BlobKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Error("Failed to delete submission blob",
			zap.String("key", submission.BlobKey),
			zap.Error(err))
	}

	defer prometheus.TrackDBOperation("delete")(time.Now())
	if err := h.db.Delete(&submission).Error; err != nil {
		log.Error("Failed to delete submission", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete submission"})
	}

	log.Info("Submission deleted",
		zap.Uint("account_id", acct.ID),
		zap.Uint("submission_id", submission.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "submission deleted"})
}

// upstreamMessage hides external failure detail outside development
func (h *AnalysisHandler) upstreamMessage(err error) string {
	if h.production {
		return "analysis is temporarily unavailable"
	}
	return err.Error()
}
