package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/timmy/kbpipe/internal/config"
)

var (
	corsAllowHeaders = strings.Join([]string{
		"Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
		"Accept", "Origin", "Cache-Control", "X-Requested-With",
		TeamHeader, RequestIDHeader,
	}, ", ")
	corsAllowMethods  = "GET, POST, DELETE, OPTIONS"
	corsExposeHeaders = "Content-Length, " + RequestIDHeader
)

// originPolicy decides which browser origins may call the API.
// With no origins listed every origin is reflected back.
type originPolicy struct {
	any     bool
	origins map[string]bool
}

func newOriginPolicy(cfg config.CORSConfig) originPolicy {
	p := originPolicy{any: cfg.AllowAllOrigins, origins: make(map[string]bool, len(cfg.AllowedOrigins))}
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.ToLower(o)] = true
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin,
// or "" when the origin is rejected.
func (p originPolicy) allowOrigin(origin string) string {
	switch {
	case p.any:
		return "*"
	case origin == "":
		return ""
	case len(p.origins) == 0 || p.origins[strings.ToLower(origin)]:
		return origin
	default:
		return ""
	}
}

// CORS answers preflight requests and tags responses for allowed origins.
// Wildcard responses never allow credentials.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	policy := newOriginPolicy(cfg)
	return func(c *gin.Context) {
		allowed := policy.allowOrigin(c.GetHeader("Origin"))
		if allowed == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Credentials", boolHeader(allowed != "*"))
		h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
		h.Set("Access-Control-Allow-Methods", corsAllowMethods)
		h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		if allowed != "*" {
			h.Add("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// IsOriginAllowed reports whether CORS(cfg) would accept origin.
func IsOriginAllowed(origin string, cfg config.CORSConfig) bool {
	return newOriginPolicy(cfg).allowOrigin(origin) != ""
}

func boolHeader(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
