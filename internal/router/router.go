package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/offsetpool/offsetpool/internal/config"
	"github.com/offsetpool/offsetpool/internal/handler"
	"github.com/offsetpool/offsetpool/internal/middleware"
	"github.com/offsetpool/offsetpool/internal/prepaid"
)

// Handlers bundles everything the router wires up. Nil fields disable their
// routes; the prepaid-backed surface only exists when the store is
// configured.
type Handlers struct {
	Retirement *handler.RetirementHandler
	Pool       *handler.PoolHandler
	Batch      *handler.BatchHandler
	Auth       *handler.AuthHandler
	Dashboard  *handler.DashboardHandler
	Account    *handler.AccountHandler
	Webhook    *handler.WebhookHandler
}

// Register wires every route. Public surface: health, openapi, metrics,
// webhook, certificates. Everything under /api/v1 sits behind the rate
// limit and, when a user store is passed, requires a bearer API key.
func Register(e *echo.Echo, h Handlers, users *prepaid.UserRepo, usage middleware.UsageRecorder, rdb *redis.Client, log zerolog.Logger) {
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	// Public routes.
	e.GET("/healthz", handler.Health)
	e.GET("/openapi.json", handler.OpenAPI)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if h.Webhook != nil {
		e.POST("/webhooks/stripe", h.Webhook.HandleStripe)
	}
	if h.Dashboard != nil {
		// Certificates are publicly verifiable by design.
		e.GET("/certificates/:id", h.Dashboard.Certificate)
		e.GET("/certificates/:id/html", h.Dashboard.CertificateHTML)
	}

	// Authenticated API surface.
	api := e.Group("/api/v1")
	if users != nil {
		api.Use(middleware.APIKeyAuth(users, usage, log))
	}
	api.Use(middleware.NewSlidingWindow(config.LoadRateLimitConfig(), rdb))

	if h.Retirement != nil {
		api.POST("/retirements", h.Retirement.Retire)
	}
	if h.Pool != nil {
		api.POST("/contributions", h.Pool.RecordContribution)
		api.GET("/pool/months/:month", h.Pool.MonthSummary)
		api.GET("/pool/users/:id", h.Pool.UserSummary)
		api.POST("/pool/sync", h.Pool.SyncSubscriptions)
	}
	if h.Batch != nil {
		api.POST("/batches", h.Batch.Run)
		api.GET("/batches", h.Batch.List)
		api.GET("/batches/:month", h.Batch.ForMonth)
		api.POST("/reconciliations", h.Batch.Reconcile)
		api.GET("/reconciliations", h.Batch.Reconciliations)
	}
	if h.Auth != nil {
		api.POST("/auth/email/start", h.Auth.StartEmail)
		api.POST("/auth/email/verify", h.Auth.VerifyEmail)
		api.POST("/auth/oauth/start", h.Auth.StartOAuth)
		api.POST("/auth/oauth/verify", h.Auth.VerifyOAuth)
		api.POST("/auth/recovery/start", h.Auth.StartRecovery)
		api.POST("/auth/recovery/redeem", h.Auth.RedeemRecovery)
		api.GET("/auth/sessions/:id", h.Auth.GetSession)
		api.POST("/auth/sessions/:id/link", h.Auth.Link)
	}
	if h.Account != nil {
		api.GET("/account", h.Account.Get)
		api.GET("/account/transactions", h.Account.Transactions)
	}
	if h.Dashboard != nil {
		api.GET("/dashboard/months/:month", h.Dashboard.Month)
		api.GET("/dashboard/users/:id", h.Dashboard.User)
	}
}
