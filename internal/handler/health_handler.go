package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/writerrose28/ReDerma/prometheus"
)

// HealthCheck handles the health check endpoint
func HealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{
		"status":  "healthy",
		"service": "rederma",
	})
}

// MetricsHandler exposes the Prometheus metrics
func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
