// Package http provides the HTTP server implementation for the relay.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonasDEMA/agentify-os-sub002/internal/service"
	v1 "github.com/JonasDEMA/agentify-os-sub002/internal/transport/http/v1"
)

// NewServer creates the HTTP server for registry, routing and stats requests.
// Metrics are served from gatherer; a nil gatherer uses the default registry.
func NewServer(svc *service.Service, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1.NewHandler(svc).RegisterRoutes(e)

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return e
}
