// security.go provides Gin middleware that injects protective HTTP response headers for
// the JSON API: HSTS when served over TLS, framing and sniffing protection, and a
// deny-all Content-Security-Policy.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/membership-service/internal/config"
)

// SecurityHeadersConfig holds configuration for security headers
type SecurityHeadersConfig struct {
	// EnableHSTS enables HTTP Strict Transport Security
	EnableHSTS bool
	// HSTSMaxAge is the max-age value for HSTS in seconds
	HSTSMaxAge int
	// HSTSIncludeSubdomains includes subdomains in HSTS
	HSTSIncludeSubdomains bool
	// FrameOptionsValue is the value for X-Frame-Options; empty disables the header
	FrameOptionsValue string
	// ContentSecurityPolicy is the CSP header value
	ContentSecurityPolicy string
	// ReferrerPolicy is the Referrer-Policy header value
	ReferrerPolicy string
	// NoStore marks every response as uncacheable. Member records carry contact details.
	NoStore bool
}

// APISecurityHeadersConfig returns security headers suitable for the JSON API.
// HSTS is only sent when the server terminates TLS itself.
func APISecurityHeadersConfig(tls config.TLSConfig) SecurityHeadersConfig {
	return SecurityHeadersConfig{
		EnableHSTS:            tls.Enabled,
		HSTSMaxAge:            31536000, // 1 year
		HSTSIncludeSubdomains: true,
		FrameOptionsValue:     "DENY",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		ReferrerPolicy:        "no-referrer",
		NoStore:               true,
	}
}

// SecurityHeadersMiddleware adds security headers to all responses
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) gin.HandlerFunc {
	hsts := "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
	if cfg.HSTSIncludeSubdomains {
		hsts += "; includeSubDomains"
	}

	return func(c *gin.Context) {
		if cfg.EnableHSTS {
			c.Header("Strict-Transport-Security", hsts)
		}
		if cfg.FrameOptionsValue != "" {
			c.Header("X-Frame-Options", cfg.FrameOptionsValue)
		}
		c.Header("X-Content-Type-Options", "nosniff")

		if cfg.ContentSecurityPolicy != "" {
			c.Header("Content-Security-Policy", cfg.ContentSecurityPolicy)
		}
		if cfg.ReferrerPolicy != "" {
			c.Header("Referrer-Policy", cfg.ReferrerPolicy)
		}
		if cfg.NoStore {
			c.Header("Cache-Control", "no-store")
		}
		c.Header("Cross-Origin-Resource-Policy", "same-origin")

		c.Next()
	}
}
