package handler

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/consent"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/internal/retention"
	"github.com/writerrose28/ReDerma/pkg/logger"
	"github.com/writerrose28/ReDerma/prometheus"
)

// GDPRHandler serves consent logging, data export and account deletion
type GDPRHandler struct {
	db            *gorm.DB
	ledger        *consent.Ledger
	manager       *retention.Manager
	policyVersion string
}

// NewGDPRHandler creates the GDPR handler with its dependencies
func NewGDPRHandler(db *gorm.DB, ledger *consent.Ledger, manager *retention.Manager, policyVersion string) *GDPRHandler {
	return &GDPRHandler{db: db, ledger: ledger, manager: manager, policyVersion: policyVersion}
}

// RecordConsent appends one consent decision and updates the denormalized
// account flags the fast paths read
func (h *GDPRHandler) RecordConsent(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	prometheus.RecordGDPROperation("consent")

	var req struct {
		Category string `json:"category"`
		Granted  bool   `json:"granted"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	category := model.ConsentCategory(req.Category)
	if !model.ValidConsentCategory(category) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid consent category"})
	}

	record, err := h.ledger.Record(acct.ID, category, req.Granted, consent.Origin{
		IPAddress:     c.RealIP(),
		UserAgent:     c.Request().UserAgent(),
		PolicyVersion: h.policyVersion,
	})
	if err != nil {
		log.Error("Failed to record consent", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not record consent"})
	}

	if err := h.applyDenormalized(acct, category, req.Granted); err != nil {
		log.Error("Failed to update consent flags", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not record consent"})
	}

	log.Info("Consent recorded",
		zap.Uint("account_id", acct.ID),
		zap.String("category", req.Category),
		zap.Bool("granted", req.Granted))
	return c.JSON(http.StatusOK, record)
}

// GetConsent returns the latest decision per category
func (h *GDPRHandler) GetConsent(c echo.Context) error {
	acct := middleware.AccountFromContext(c)

	latest, err := h.ledger.LatestByCategory(acct.ID)
	if err != nil {
		logger.FromEcho(c).Error("Failed to read consent ledger", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not read consent"})
	}
	return c.JSON(http.StatusOK, echo.Map{"consent": latest})
}

// Export returns the account's complete data snapshot as a file download
func (h *GDPRHandler) Export(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	prometheus.RecordGDPROperation("export")

	bundle, err := h.manager.Export(acct.ID)
	if err != nil {
		log.Error("Failed to assemble export", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not export data"})
	}

	filename := fmt.Sprintf("rederma-export-%d-%s.json", acct.ID, time.Now().UTC().Format("2006-01-02"))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))

	log.Info("Data export generated", zap.Uint("account_id", acct.ID))
	return c.JSON(http.StatusOK, bundle)
}

// DeleteAccount erases the account immediately when the confirmation
// phrase matches exactly
func (h *GDPRHandler) DeleteAccount(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	prometheus.RecordGDPROperation("delete")

	var req struct {
		Confirmation string `json:"confirmation"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if err := h.manager.DeleteNow(c.Request().Context(), acct.ID, req.Confirmation); err != nil {
		if errors.Is(err, retention.ErrConfirmationMismatch) {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "confirmation phrase does not match"})
		}
		log.Error("Failed to delete account", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not delete account"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "account deleted"})
}

// ScheduleDeletion marks the account for erasure after the grace window
func (h *GDPRHandler) ScheduleDeletion(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	prometheus.RecordGDPROperation("schedule")

	at, err := h.manager.ScheduleDeletion(acct.ID)
	if err != nil {
		log.Error("Failed to schedule deletion", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not schedule deletion"})
	}

	log.Info("Account deletion scheduled",
		zap.Uint("account_id", acct.ID),
		zap.Time("scheduled_for", at))
	return c.JSON(http.StatusOK, echo.Map{"scheduled_deletion_at": at})
}

// CancelDeletion clears a pending deletion mark
func (h *GDPRHandler) CancelDeletion(c echo.Context) error {
	log := logger.FromEcho(c)
	acct := middleware.AccountFromContext(c)
	prometheus.RecordGDPROperation("cancel_schedule")

	if err := h.manager.CancelScheduledDeletion(acct.ID); err != nil {
		log.Error("Failed to cancel scheduled deletion", zap.Uint("account_id", acct.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not cancel scheduled deletion"})
	}

	return c.JSON(http.StatusOK, echo.Map{"message": "scheduled deletion canceled"})
}

// applyDenormalized keeps the account columns in step with the ledger
func (h *GDPRHandler) applyDenormalized(acct *model.Account, category model.ConsentCategory, granted bool) error {
	switch category {
	case model.ConsentEssential:
		if granted {
			now := time.Now()
			return h.db.Model(acct).Update("consent_at", now).Error
		}
		return h.db.Model(acct).Update("consent_at", nil).Error
	case model.ConsentMarketing:
		return h.db.Model(acct).Update("marketing_consent", granted).Error
	case model.ConsentRetention:
		return h.db.Model(acct).Update("retention_consent", granted).Error
	default:
		// Cookie consent lives only in the ledger.
		return nil
	}
}
