package logger

import (
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// FromEcho retrieves the request-scoped logger stored by the request id
// middleware, falling back to the global logger when absent
func FromEcho(c echo.Context) *zap.Logger {
	logger, ok := c.Get("logger").(*zap.Logger)
	if !ok {
		return GetLogger()
	}
	return logger
}
