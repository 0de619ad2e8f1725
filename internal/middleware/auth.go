package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/writerrose28/ReDerma/internal/model"
	"github.com/writerrose28/ReDerma/pkg/jwtutil"
	"github.com/writerrose28/ReDerma/pkg/logger"
)

const accountContextKey = "account"

// JWTAuthMiddleware validates the bearer token and loads the owning account
// into the request context. A valid token whose account no longer exists
// (erased in the meantime) is treated as unauthenticated.
func JWTAuthMiddleware(jwtUtil *jwtutil.JWTUtil, db *gorm.DB) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromEcho(c)

			// Extract the token from the Authorization header
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				log.Warn("Missing authorization header")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing authorization header"})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				log.Warn("Invalid authorization header format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid authorization header format"})
			}

			claims, err := jwtUtil.VerifyAccess(parts[1])
			if err != nil {
				log.Warn("Invalid or expired token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			var acct model.Account
			if err := db.First(&acct, claims.AccountID).Error; err != nil {
				log.Warn("Token for unknown account",
					zap.Uint("account_id", claims.AccountID),
					zap.Error(err))
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token"})
			}

			c.Set(accountContextKey, &acct)
			log.Debug("Bearer token validated",
				zap.Uint("account_id", acct.ID),
				zap.String("email", acct.Email))

			return next(c)
		}
	}
}

// AccountFromContext returns the authenticated account, or nil outside the
// auth middleware
func AccountFromContext(c echo.Context) *model.Account {
	acct, ok := c.Get(accountContextKey).(*model.Account)
	if !ok {
		return nil
	}
	return acct
}
