package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	v1 "leadflow/api/v1"
	"leadflow/app"
	"leadflow/internal/config"
	"leadflow/internal/http"
	"leadflow/internal/http/middleware"
	"leadflow/internal/metrics"
)

// publicCORSConfig returns the standard CORS configuration for public endpoints.
// The venue site and its embeds post from other origins.
var publicCORSConfig = &cors.Config{
	AllowOrigins: "*",
	AllowMethods: "POST,OPTIONS",
	AllowHeaders: "Origin, Content-Type, Accept, Referrer, User-Agent",
}

// MountAppRoutes returns the route mount function for svc.
func MountAppRoutes(cfg *config.Config, svc *app.Service) func(*cartridge.Server) {
	return func(srv *cartridge.Server) {
		mountRoutes(srv, cfg, v1.NewHandlers(svc))
	}
}

func mountRoutes(srv *cartridge.Server, cfg *config.Config, h *v1.Handlers) {
	logger := srv.GetLogger()

	// ============================================
	// PUBLIC ENDPOINT PROTECTION
	// - Rate limiting (production only)
	// - CORS (permissive for cross-origin forms and tracking)
	// - Sec-Fetch-Site (browser requests only)
	// ============================================

	// In development/test, rate limiting would interfere with testing
	conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
		return func(c *fiber.Ctx) error {
			if cfg.IsProduction() {
				return limiter(c)
			}
			return c.Next()
		}
	}

	// Event ingestion: 70 requests per minute per IP
	eventRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(70),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Inquiry form: 10 submissions per minute per IP
	leadRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
		cartridgemiddleware.WithMax(10),
		cartridgemiddleware.WithDuration(time.Minute),
	))

	// Public POSTs come from browsers on the venue site, which is another
	// origin. Requests without the header (curl, server-to-server) are rejected.
	publicSecFetchSite := cartridgemiddleware.SecFetchSiteMiddleware(cartridgemiddleware.SecFetchSiteConfig{
		AllowedValues: []string{"cross-site", "same-site", "same-origin"},
		Methods:       []string{"POST"},
	})

	// ============================================
	// ROUTE CONFIGURATIONS
	// ============================================

	// CORS runs first so 403 responses still carry CORS headers
	eventsConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{metrics.Middleware(), publicSecFetchSite, eventRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	leadsConfig := &cartridge.RouteConfig{
		EnableCORS:       true,
		CustomMiddleware: []fiber.Handler{metrics.Middleware(), publicSecFetchSite, leadRateLimiter},
		CORSConfig:       publicCORSConfig,
	}

	// Admin clients are scripts and dashboards; the API key is the only gate
	adminConfig := &cartridge.RouteConfig{
		CustomMiddleware: []fiber.Handler{
			metrics.Middleware(),
			middleware.AdminAPIKeyAuth(cfg.AdminAPIKey, logger),
		},
	}

	preflight := func(ctx *cartridge.Context) error {
		return ctx.SendStatus(fiber.StatusNoContent)
	}

	// === OPERATIONS ===
	srv.Get("/_health", http.HealthIndexAction)
	srv.Head("/_health", http.HealthIndexAction)

	metricsHandler := adaptor.HTTPHandler(promhttp.Handler())
	srv.Get("/metrics", func(ctx *cartridge.Context) error {
		return metricsHandler(ctx.Ctx)
	}, adminConfig)

	// === PUBLIC API ROUTES ===
	srv.Post("/x/api/v1/leads", h.SubmitLeadHandler, leadsConfig)
	srv.Options("/x/api/v1/leads", preflight, leadsConfig)
	srv.Post("/x/api/v1/events", h.TrackEventHandler, eventsConfig)
	srv.Options("/x/api/v1/events", preflight, eventsConfig)
	srv.Post("/x/api/v1/events/beacon", h.TrackBeaconHandler, eventsConfig)
	srv.Options("/x/api/v1/events/beacon", preflight, eventsConfig)

	// === ADMIN API ROUTES ===
	srv.Get("/admin/api/leads", h.ListLeadsHandler, adminConfig)
	srv.Get("/admin/api/leads/:id", h.GetLeadHandler, adminConfig)
	srv.Post("/admin/api/leads/:id/funnel", h.UpdateFunnelHandler, adminConfig)

	srv.Get("/admin/api/partners", h.ListPartnersHandler, adminConfig)
	srv.Post("/admin/api/partners", h.CreatePartnerHandler, adminConfig)
	srv.Get("/admin/api/partners/leaderboard", h.LeaderboardHandler, adminConfig)
	srv.Post("/admin/api/partners/reconcile", h.ReconcileHandler, adminConfig)
	srv.Get("/admin/api/partners/:id", h.GetPartnerHandler, adminConfig)
	srv.Post("/admin/api/partners/:id", h.UpdatePartnerHandler, adminConfig)
	srv.Post("/admin/api/partners/:id/deactivate", h.DeactivatePartnerHandler, adminConfig)
	srv.Post("/admin/api/partners/:id/reactivate", h.ReactivatePartnerHandler, adminConfig)

	srv.Get("/admin/api/events", h.RecentEventsHandler, adminConfig)

	srv.Get("/admin/api/dashboard", h.DashboardHandler, adminConfig)
	srv.Get("/admin/api/timeseries", h.TimeSeriesHandler, adminConfig)
	srv.Get("/admin/api/breakdowns/:dimension", h.BreakdownHandler, adminConfig)
	srv.Get("/admin/api/rollups", h.DailyStatsHandler, adminConfig)
	srv.Post("/admin/api/rollups", h.RollupHandler, adminConfig)

	srv.Get("/admin/api/settings", h.ListSettingsHandler, adminConfig)
	srv.Post("/admin/api/settings/:key", h.UpdateSettingHandler, adminConfig)
}
