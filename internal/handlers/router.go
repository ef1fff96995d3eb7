package handlers

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	appmw "dealer_payments_echo/internal/middleware"
)

// NewRouter builds the Echo instance with every route and middleware
func NewRouter(log *slog.Logger, payment *PaymentHandler, health *HealthHandler, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = appmw.CustomErrorHandler(log)

	// Preflight is answered before routing so any path gets a 200
	e.Pre(appmw.CORS())

	e.Use(echomw.RequestID())
	e.Use(appmw.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(echomw.BodyLimit("16K"))

	e.POST("/payment-sessions", payment.CreateSession)
	e.GET("/payment-callback", payment.PaymentCallback)

	e.GET("/healthz", health.Healthz)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	return e
}

// NewMetricsRouter serves only /metrics, for processes without a public API
func NewMetricsRouter(log *slog.Logger, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = appmw.CustomErrorHandler(log)
	e.Use(echomw.Recover())

	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	return e
}
