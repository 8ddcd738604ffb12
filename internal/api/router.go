package api

import (
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ledgerlens/backend/internal/api/handlers"
	"github.com/ledgerlens/backend/internal/auth"
	"github.com/ledgerlens/backend/internal/cache"
	"github.com/ledgerlens/backend/internal/config"
	"github.com/ledgerlens/backend/internal/database"
	"github.com/ledgerlens/backend/internal/gateway"
	"github.com/ledgerlens/backend/internal/middleware"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/permissions"
	"github.com/ledgerlens/backend/internal/ratelimit"
	"github.com/ledgerlens/backend/internal/repository"
	"github.com/ledgerlens/backend/internal/tier"
	"github.com/ledgerlens/backend/internal/usage"
)

// Version is the service version reported by the status endpoint.
const Version = "1.2.0"

// NewRouter creates and configures the main router
func NewRouter(cfg *config.Config, db *database.DB, redisCache *cache.Redis) *chi.Mux {
	r := chi.NewRouter()

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)

	// Initialize auth services
	jwtService := auth.NewJWTService(cfg.JWTSecret, 24*time.Hour)
	apiKeyService := auth.NewAPIKeyService(db)
	authMiddleware := auth.NewAuthMiddleware(jwtService, apiKeyService)

	// Assemble the admission gateway
	tierResolver := tier.NewResolver(userRepo, cfg.TierCacheTTL)
	matrix := permissions.Defaults()
	tracker := usage.NewTracker(usage.NewRedisStore(redisCache), usage.PeriodMode(cfg.QuotaPeriod))
	limiter := ratelimit.New(ratelimit.Config{
		Window:             cfg.RateWindow,
		Sliding:            cfg.SlidingWindow,
		TierLimits:         cfg.TierLimits,
		TierPenalties:      cfg.TierPenalties,
		BurstThreshold:     cfg.BurstThreshold,
		BurstWindow:        cfg.BurstWindow,
		BurstBlockAfter:    cfg.BurstBlockAfter,
		BurstBlockDuration: cfg.BurstBlockDuration,
		Adaptive:           cfg.AdaptiveLimits,
		Whitelist:          cfg.IPWhitelist,
		Blacklist:          cfg.IPBlacklist,
	})
	gw := gateway.New(gateway.Config{
		AuthRequired: cfg.AuthRequired,
		FailOpen:     cfg.FailOpen,
		UpgradeURL:   cfg.UpgradeURL,
	}, tierResolver, matrix, tracker, limiter)

	// Global middleware. OptionalAuth runs before any gateway check so
	// authenticated identities win over IP fallback.
	r.Use(middleware.RequestID)
	r.Use(middleware.Timing)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORSWithOrigins(cfg.CORSOrigins))
	r.Use(authMiddleware.OptionalAuth)

	// Initialize handlers
	healthHandler := handlers.NewHealthChecker(db, redisCache)
	authHandler := handlers.NewAuthHandler(userRepo, jwtService, apiKeyService)
	statusHandler := handlers.NewStatusHandler(Version, cfg.Env)
	usageHandler := handlers.NewUsageHandler(tracker, matrix, tierResolver, cfg.TierLimits)
	adminHandler := handlers.NewAdminHandler(gw, userRepo)
	resourceHandler := handlers.NewResourceHandler()

	// Health endpoints
	r.Get("/health", healthHandler.Health)
	r.Get("/health/live", handlers.LivenessProbe)
	r.Get("/health/ready", healthHandler.ReadinessProbe)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		// Public auth endpoints
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/refresh", authHandler.Refresh)

		// Public service endpoints
		r.Get("/status", statusHandler.Status)
		r.Get("/tiers", usageHandler.Tiers)
		r.Get("/usage", usageHandler.Usage)

		// Gated resource endpoints. Each route declares the feature/action
		// it consumes; the gateway decides admission per request.
		r.With(gw.Require(models.FeatureReports, models.ActionRead)).Get("/reports", resourceHandler.ListReports)
		r.With(gw.Require(models.FeatureReports, models.ActionCreate)).Post("/reports", resourceHandler.CreateReport)
		r.With(gw.Require(models.FeatureExports, models.ActionExport)).Post("/reports/export", resourceHandler.ExportReports)
		r.With(gw.Require(models.FeatureValuations, models.ActionRead)).Get("/valuations", resourceHandler.ListValuations)

		// Protected user endpoints (require authentication)
		r.Route("/user", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Get("/me", authHandler.Me)
			r.Post("/api-keys", authHandler.CreateAPIKey)
			r.Get("/api-keys", authHandler.ListAPIKeys)
			r.Delete("/api-keys/{keyID}", authHandler.RevokeAPIKey)
		})

		// Admin endpoints
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)
			r.Use(authMiddleware.RequireAdmin)

			r.Get("/gateway/stats", adminHandler.Stats)
			r.Post("/gateway/clear", adminHandler.Clear)
			r.Post("/gateway/identities/{identity}/reset", adminHandler.ResetIdentity)
			r.Post("/gateway/blocks", adminHandler.BlockIP)
			r.Delete("/gateway/blocks/{ip}", adminHandler.UnblockIP)

			r.Post("/tiers/invalidate", adminHandler.InvalidateAllTiers)
			r.Post("/tiers/{identity}/invalidate", adminHandler.InvalidateTier)

			r.Put("/users/{userID}/subscription", adminHandler.UpdateSubscription)
		})
	})

	return r
}
