package handler

import (
	"net/http"
	"net/mail"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/consent"
	"github.com/writerrose28/ReDerma/internal/middleware"
	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/pkg/config"
	"github.com/writerrose28/ReDerma/pkg/jwtutil"
	"github.com/writerrose28/ReDerma/pkg/logger"
	"github.com/writerrose28/ReDerma/prometheus"
)

const (
	minPasswordLength = 8
	refreshCookieName = "rederma_refresh"
)

// AuthHandler serves registration, login and token renewal
type AuthHandler struct {
	db     *gorm.DB
	jwt    *jwtutil.JWTUtil
	ledger *consent.Ledger
	cfg    *config.Config
}

// NewAuthHandler creates the auth handler with its dependencies
func NewAuthHandler(db *gorm.DB, jwt *jwtutil.JWTUtil, ledger *consent.Ledger, cfg *config.Config) *AuthHandler {
	return &AuthHandler{db: db, jwt: jwt, ledger: ledger, cfg: cfg}
}

// Register creates a new account. Registration requires explicit consent;
// the decision is appended to the consent ledger in the same transaction
// that creates the account.
func (h *AuthHandler) Register(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Email            string  `json:"email"`
		Password         string  `json:"password"`
		Consent          bool    `json:"consent"`
		MarketingConsent bool    `json:"marketing_consent"`
		Locale           string  `json:"locale"`
		Region           string  `json:"region"`
		BirthYear        *int    `json:"birth_year,omitempty"`
		SkinType         *string `json:"skin_type,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if _, err := mail.ParseAddress(req.Email); err != nil {
		log.Warn("Invalid registration email", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_email")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "a valid email is required"})
	}
	if len(req.Password) < minPasswordLength {
		prometheus.RecordAuthError("weak_password")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "password must be at least 8 characters"})
	}
	if !req.Consent {
		prometheus.RecordAuthError("consent_missing")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "consent is required to create an account"})
	}

	// Check if the email is already registered
	defer prometheus.TrackDBOperation("query")(time.Now())
	var existing model.Account
	if err := h.db.Where("email = ?", req.Email).First(&existing).Error; err == nil {
		log.Warn("Email already registered", zap.String("email", req.Email))
		prometheus.RecordAuthError("email_already_exists")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email already registered"})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	now := time.Now()
	acct := model.Account{
		Email:            req.Email,
		PasswordHash:     string(hashed),
		Locale:           req.Locale,
		Region:           req.Region,
		BirthYear:        req.BirthYear,
		SkinType:         req.SkinType,
		ConsentAt:        &now,
		MarketingConsent: req.MarketingConsent,
	}

	origin := consent.Origin{
		IPAddress:     c.RealIP(),
		UserAgent:     c.Request().UserAgent(),
		PolicyVersion: h.cfg.Retention.PolicyVersion,
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	err = h.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&acct).Error; err != nil {
			return err
		}
		ledger := consent.NewLedger(tx)
		if _, err := ledger.Record(acct.ID, model.ConsentEssential, true, origin); err != nil {
			return err
		}
		if req.MarketingConsent {
			if _, err := ledger.Record(acct.ID, model.ConsentMarketing, true, origin); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Error("Failed to create account", zap.Error(err))
		prometheus.RecordAuthError("account_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	pair, err := h.jwt.IssuePair(acct.ID, acct.Email)
	if err != nil {
		log.Error("Failed to generate tokens", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	log.Info("Account registered",
		zap.String("email", acct.Email),
		zap.Uint("account_id", acct.ID))
	return c.JSON(http.StatusCreated, echo.Map{
		"account": acct,
		"tokens":  pair,
	})
}

// Login verifies the credentials and issues a fresh token pair. The refresh
// token is also set as an HttpOnly cookie for browser clients.
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var acct model.Account
	if err := h.db.Where("email = ?", req.Email).First(&acct).Error; err != nil {
		log.Warn("Login for unknown email", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(req.Password)); err != nil {
		log.Warn("Invalid password", zap.String("email", req.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid credentials"})
	}

	now := time.Now()
	if err := h.db.Model(&acct).Update("last_login_at", now).Error; err != nil {
		log.Error("Failed to update last login", zap.Error(err))
	}

	pair, err := h.jwt.IssuePair(acct.ID, acct.Email)
	if err != nil {
		log.Error("Failed to generate tokens", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	h.setRefreshCookie(c, pair.RefreshToken)

	log.Info("Account logged in",
		zap.String("email", acct.Email),
		zap.Uint("account_id", acct.ID))
	return c.JSON(http.StatusOK, echo.Map{
		"account": acct,
		"tokens":  pair,
	})
}

// Refresh rotates the token pair. The renewal token comes from the body or,
// for browser clients, the cookie set at login.
func (h *AuthHandler) Refresh(c echo.Context) error {
	log := logger.FromEcho(c)

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	// The body is optional when the cookie is present.
	_ = c.Bind(&req)

	token := req.RefreshToken
	if token == "" {
		if cookie, err := c.Cookie(refreshCookieName); err == nil {
			token = cookie.Value
		}
	}
	if token == "" {
		prometheus.RecordAuthError("refresh_token_missing")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token required"})
	}

	pair, err := h.jwt.Renew(token)
	if err != nil {
		log.Warn("Refresh token rejected", zap.Error(err))
		prometheus.RecordAuthError("invalid_refresh_token")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired refresh token"})
	}

	h.setRefreshCookie(c, pair.RefreshToken)
	return c.JSON(http.StatusOK, echo.Map{"tokens": pair})
}

// Me returns the authenticated account summary
func (h *AuthHandler) Me(c echo.Context) error {
	acct := middleware.AccountFromContext(c)
	return c.JSON(http.StatusOK, echo.Map{"account": acct})
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/auth",
		Expires:  time.Now().Add(h.cfg.JWT.RefreshTTL),
		HttpOnly: true,
		Secure:   h.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}
