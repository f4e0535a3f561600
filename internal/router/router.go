package router

import (
	"github.com/gofiber/fiber/v3"
	recoverer "github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/clipscope/clipscope-go/internal/handler"
	"github.com/clipscope/clipscope-go/internal/metrics"
	"github.com/clipscope/clipscope-go/internal/middleware"
)

// Handlers holds all handler instances needed by the router.
type Handlers struct {
	SuperVision *handler.SuperVisionHandler
	Health      *handler.HealthHandler
	Proxy       *handler.ProxyHandler
}

// Setup configures the middleware stack and all API routes on the given Fiber app.
func Setup(app *fiber.App, h *Handlers, corsOrigins string) {
	// Middleware stack (order matters)
	app.Use(recoverer.New())
	app.Use(middleware.NewRequestLogger())
	app.Use(metrics.Middleware())
	app.Use(middleware.NewCORS(corsOrigins))

	// Health and metrics (before API group, no rate limiting)
	app.Get("/health/live", h.Health.Live)
	app.Get("/health/ready", h.Health.Ready)
	app.Get("/metrics", metrics.Handler())

	apiLimit := middleware.NewAPIRateLimiter()
	triggerLimit := middleware.NewTriggerRateLimiter()
	proxyLimit := middleware.NewProxyRateLimiter()

	api := app.Group("/api")

	// Image proxy for CDN-hosted covers
	api.Get("/proxy/image", h.Proxy.Image, proxyLimit.Handler())

	sv := api.Group("/super-vision", apiLimit.Handler())

	// Config lifecycle
	sv.Get("/config/:projectId", h.SuperVision.GetConfig)
	sv.Post("/config", h.SuperVision.CreateConfig)
	sv.Put("/config/:projectId", h.SuperVision.UpdateConfig)
	sv.Post("/config/:projectId/activate", h.SuperVision.Activate)
	sv.Post("/config/:projectId/pause", h.SuperVision.Pause)
	sv.Post("/config/:projectId/trigger", h.SuperVision.Trigger, triggerLimit.Handler())
	sv.Delete("/config/:projectId", h.SuperVision.Delete)

	// Dashboard overview
	sv.Get("/status", h.SuperVision.Status)

	// Results
	sv.Get("/results/:projectId", h.SuperVision.ListResults)
	sv.Post("/results/:id/dismiss", h.SuperVision.Dismiss)
	sv.Post("/results/:id/save", h.SuperVision.Save)
	sv.Delete("/results/:projectId/clear", h.SuperVision.ClearResults)
}
