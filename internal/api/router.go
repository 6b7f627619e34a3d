// Package api wires together all HTTP routes for the membership service.
//
// Route grouping:
//   - /health, /ready and /version are unauthenticated probes.
//   - /api/v1/ routes always require a bearer token and the members privilege.
//     Tenant-scoped routes check the tenant from the path; member routes check
//     it in the handler once the membership is loaded.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/api/members"
	"github.com/learnhub/membership-service/internal/auth"
	"github.com/learnhub/membership-service/internal/config"
	"github.com/learnhub/membership-service/internal/middleware"
)

// Version is reported by /version. Overridden at build time via -ldflags.
var Version = "0.1.0"

// ReadinessCheck probes one dependency. A nil error means ready.
type ReadinessCheck func(ctx context.Context) error

// RouterDeps holds everything the router needs. Limiter, Audit, Audits and
// Checks are optional.
type RouterDeps struct {
	Config   *config.Config
	DB       *sql.DB
	Service  members.MemberService
	Gate     *auth.Gate
	Verifier *auth.TokenVerifier
	Limiter  middleware.Limiter
	Audit    middleware.AuditRecorder
	Audits   members.AuditLister
	Checks   map[string]ReadinessCheck
}

// NewRouter creates and configures the Gin router
func NewRouter(d RouterDeps) *gin.Engine {
	cfg := d.Config
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS)))

	router.GET("/health", healthCheckHandler(d.DB))
	router.GET("/ready", readinessHandler(d.DB, d.Checks))
	router.GET("/version", versionHandler())

	h := members.NewHandlers(d.Service, d.Audits)

	v1 := router.Group("/api/v1")
	if d.Limiter != nil {
		v1.Use(middleware.RateLimitMiddleware(d.Limiter))
	}
	v1.Use(middleware.AuthMiddleware(d.Verifier))
	if d.Audit != nil {
		v1.Use(middleware.AuditMiddleware(d.Audit, cfg.Audit))
	}
	{
		memberRoutes := v1.Group("/members")
		memberRoutes.Use(middleware.RequirePrivilege(d.Gate, auth.PrivilegeManageTenant, ""))
		{
			memberRoutes.POST("", h.AddMemberHandler())
			memberRoutes.GET("/:id", h.GetMemberHandler())
			memberRoutes.PATCH("/:id", h.UpdateMemberHandler())
			memberRoutes.DELETE("/:id", h.DeactivateMemberHandler())
			memberRoutes.POST("/:id/email", h.ChangeEmailHandler())
		}

		tenantRoutes := v1.Group("/tenants/:tenant_id")
		tenantRoutes.Use(middleware.RequirePrivilege(d.Gate, auth.PrivilegeManageTenant, "tenant_id"))
		{
			tenantRoutes.GET("/members", h.ListTenantMembersHandler())
			tenantRoutes.GET("/audit-logs", h.ListTenantAuditLogsHandler())
		}
	}

	return router
}

// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can take traffic. Besides the
// database it runs every registered check (identity provider, Redis).
func readinessHandler(db *sql.DB, extra map[string]ReadinessCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()

		checks := gin.H{}
		ready := true

		if err := db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
			ready = false
		} else {
			checks["database"] = "healthy"
		}

		for name, check := range extra {
			if err := check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", name, "error", err)
				checks[name] = "unhealthy"
				ready = false
				continue
			}
			checks[name] = "healthy"
		}

		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":  ready,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware logs one structured record per request through the
// request-scoped logger, so the request ID is always attached.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		switch {
		case status >= 500:
			level = slog.LevelError
		case status >= 400:
			level = slog.LevelWarn
		}
		if path == "/health" || path == "/ready" {
			level = slog.LevelDebug
		}

		attrs := []slog.Attr{
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
		}
		if callerID := c.GetString(middleware.CallerIDKey); callerID != "" {
			attrs = append(attrs, slog.String("caller_id", callerID))
		}
		if cfg.Logging.Format == "json" {
			attrs = append(attrs, slog.String("user_agent", c.Request.UserAgent()))
		}

		middleware.Logger(c).LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PATCH, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
