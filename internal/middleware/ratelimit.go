package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/writerrose28/ReDerma/internal/ratelimit"
	"github.com/writerrose28/ReDerma/pkg/logger"
)

// RateLimitMiddleware enforces the per-tier submission quota. Keys on the
// account when one is authenticated, otherwise on the network address.
func RateLimitMiddleware(limiter *ratelimit.Limiter) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			premium := false
			if acct := AccountFromContext(c); acct != nil {
				key = fmt.Sprintf("acct:%d", acct.ID)
				premium = acct.IsPremium
			}

			if !limiter.Allow(key, premium) {
				logger.FromEcho(c).Warn("Submission quota exceeded",
					zap.String("key", key),
					zap.Bool("premium", premium))
				return c.JSON(http.StatusTooManyRequests, echo.Map{"error": "rate limit exceeded, try again later"})
			}

			return next(c)
		}
	}
}
