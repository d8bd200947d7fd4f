package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"
)

// RegisterRoutes configures all API routes, middleware, and error handlers
func RegisterRoutes(e *echo.Echo, h *Handlers, cfg ServerConfig) {
	e.HTTPErrorHandler = JSONErrorHandler()

	e.Use(SetNoCacheHeaders)

	// Optional API key authentication
	if cfg.APIKey != "" {
		e.Use(middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
			KeyLookup: "header:X-API-Key",
			Skipper: func(c echo.Context) bool {
				return c.Path() == "/v1/health"
			},
			Validator: func(key string, c echo.Context) (bool, error) {
				return key == cfg.APIKey, nil
			},
		}))
	}

	refreshRate := cfg.RefreshRPS
	if refreshRate <= 0 {
		refreshRate = 0.2
	}
	refreshBurst := cfg.RefreshBurst
	if refreshBurst < 1 {
		refreshBurst = 1
	}

	v1 := e.Group("/v1")
	v1.GET("/health", h.Health)
	v1.GET("/status", h.Status)
	v1.GET("/metrics", h.Metrics)
	v1.GET("/filters", h.Filters)
	v1.GET("/tokens", h.Tokens)
	v1.GET("/tokens/:id", h.Token)
	v1.GET("/trades", h.TradePairs)
	v1.POST("/trades/:pair", h.WatchTrades)
	v1.DELETE("/trades/:pair", h.UnwatchTrades)
	v1.POST("/refresh", h.Refresh, middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      rate.Limit(refreshRate),
		Burst:     refreshBurst,
		ExpiresIn: 2 * time.Minute,
	})))

	e.RouteNotFound("/*", func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Code: http.StatusNotFound})
	})
}
