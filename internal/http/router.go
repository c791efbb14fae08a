// Package httpapi wires the HTTP transport (Gin) to the duel engine, the
// notification queue and the realtime feed. It centralizes cross-cutting
// concerns such as tracing, correlation IDs, identity, logging/redaction,
// panic recovery, metrics, compression, CORS, security headers, idempotency
// and rate limiting.
package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/ATT1KA/1V1-Mobile-sub001/internal/config"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/feed"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/handlers"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/http/middleware"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/repo"
	"github.com/ATT1KA/1V1-Mobile-sub001/internal/services"
)

// Deps are the services mounted by RegisterRoutes.
type Deps struct {
	Engine *services.Engine
	Queue  *services.NotificationQueue
	Stats  handlers.PlayerStatsService
	// Broker backs GET /realtime. Nil disables the endpoint.
	Broker *feed.Broker
}

var (
	allowMethods  = []string{"GET", "POST", "OPTIONS"}
	allowHeaders  = []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderUserID, middleware.HeaderIdempotencyKey, "If-None-Match"}
	exposeHeaders = []string{"X-Request-ID", "ETag", "Retry-After", "Idempotency-Replayed", "Content-Length"}
)

// RegisterRoutes attaches all middleware and endpoints to r and mounts the
// public API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID, Identity
//  3. AccessLog (redacting), then Recovery so panics are logged with context
//  4. Body size limit (larger for screenshot uploads)
//  5. Metrics
//  6. Idempotency validator, before the rate limiter so replays bypass it
//  7. Rate limiter
//  8. CORS, security headers, gzip (never on /realtime)
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := cfg.APIBasePath
	realtimePath := joinPath(apiBase, "/realtime")

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID(), middleware.Identity())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		Redactor:  middleware.NewRedactor("X-Oracle-Key"),
		SkipPaths: []string{"/health", "/metrics"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(cfg.MaxBodyBytes, cfg.MaxUploadBytes))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	db := deps.Engine.DB
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, scope, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:      cfg.Security.EnableHSTS,
		HSTSMaxAge:      cfg.Security.HSTSMaxAge,
		NoStorePrefixes: []string{joinPath(apiBase, "/notifications"), realtimePath},
		EnablePolicy:    true,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{realtimePath, "/metrics"})))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	h := handlers.New(deps.Engine, deps.Queue, deps.Stats)
	h.MaxScreenshotBytes = cfg.MaxUploadBytes
	h.IdempotencyTTL = cfg.IdempotencyTTL
	h.Broker = deps.Broker
	h.OriginPatterns = originHosts(cfg.CORS.AllowedOrigins)

	api := groupWithPrefix(r, apiBase)
	{
		// Duels
		api.POST("/duels", h.ProposeDuel)
		api.GET("/duels", h.ListDuels)
		api.GET("/duels/:id", h.GetDuel)
		api.POST("/duels/:id/respond", h.RespondDuel)
		api.POST("/duels/:id/start", h.StartMatch)
		api.POST("/duels/:id/end", h.EndMatch)
		api.POST("/duels/:id/cancel", h.CancelDuel)
		api.POST("/duels/:id/dispute", h.DisputeDuel)
		api.POST("/duels/:id/resolve", h.ResolveDuel)

		// Submissions
		api.POST("/duels/:id/submissions", h.SubmitScreenshot)
		api.GET("/duels/:id/submissions", h.ListSubmissions)

		// Notifications
		api.GET("/notifications", h.ListNotifications)
		api.GET("/notifications/summary", h.NotificationSummary)
		api.POST("/notifications/read", h.MarkNotificationsRead)
		api.POST("/notifications/:id/delivered", h.MarkNotificationDelivered)

		// Players
		api.GET("/players/:id/stats", h.PlayerStats)

		// Realtime
		api.GET("/realtime", h.Realtime)
	}
}

// corsMiddleware allows any origin when none are configured, otherwise
// echoes allowlisted origins.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			// ACAO: * even without an Origin header (health checks, tests).
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     allowMethods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    exposeHeaders,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     allowMethods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// originHosts turns CORS origins into WebSocket origin patterns (host only).
func originHosts(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

// limitBody caps request bodies at maxBytes, or uploadBytes on screenshot
// upload routes. Reads past the cap fail with *http.MaxBytesError.
func limitBody(maxBytes, uploadBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := maxBytes
		if c.Request.Method == http.MethodPost && strings.HasSuffix(c.FullPath(), "/submissions") {
			limit = uploadBytes
		}
		if limit > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
		}
		c.Next()
	}
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return base + p
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
