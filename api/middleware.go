package api

import (
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/provenance/config"
	"example.com/backstage/services/provenance/internal/auth"
	"example.com/backstage/services/provenance/internal/metrics"
)

// Constants for middleware
const (
	requestIDKey = "X-Request-ID"

	// Trusted identity headers, honoured only when token auth is disabled
	principalIDHeader   = "X-Principal-ID"
	principalRoleHeader = "X-Principal-Role"
)

// RequestIDMiddleware adds a request ID to the context
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDKey)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Header(requestIDKey, requestID)

		c.Next()
	}
}

// CORSMiddleware allows the configured origins. A "*" entry allows any
// origin without credentials.
func CORSMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization", requestIDKey, principalIDHeader, principalRoleHeader},
		ExposeHeaders: []string{requestIDKey},
		MaxAge:        12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}

	return cors.New(cfg)
}

// LoggingMiddleware logs API requests and records their metrics
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.GetCollector().RecordHTTPRequest(route, c.Writer.Status(), duration)

		requestID := c.GetString(requestIDKey)
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", duration).
			Str("request_id", requestID).
			Msg("API request")
	}
}

// NewRelicMiddleware returns a gin middleware for New Relic tracing
func NewRelicMiddleware(app *newrelic.Application) gin.HandlerFunc {
	return nrgin.Middleware(app)
}

// AuthMiddleware resolves the caller and attaches it to the request
// context. Requests without credentials are rejected.
func AuthMiddleware(cfg config.AuthConfig, authenticator *auth.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := resolvePrincipal(c, cfg, authenticator)
		if err != nil {
			WriteError(c, err)
			return
		}

		c.Request = c.Request.WithContext(auth.WithPrincipal(c.Request.Context(), principal))
		c.Next()
	}
}

func resolvePrincipal(c *gin.Context, cfg config.AuthConfig, authenticator *auth.Authenticator) (auth.Principal, error) {
	if !cfg.Enabled {
		id := strings.TrimSpace(c.GetHeader(principalIDHeader))
		if id == "" {
			return auth.Principal{}, auth.ErrUnauthenticated
		}
		return auth.Principal{ID: id, Role: strings.TrimSpace(c.GetHeader(principalRoleHeader))}, nil
	}

	header := c.GetHeader("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return auth.Principal{}, auth.ErrUnauthenticated
	}
	return authenticator.Authenticate(strings.TrimSpace(token))
}

// RequireCreatorRole admits only principals allowed to create batches
func RequireCreatorRole(cfg config.AuthConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, ok := auth.FromContext(c.Request.Context())
		if !ok || !cfg.CanCreateBatches(principal.Role) {
			WriteError(c, auth.ErrForbidden)
			return
		}
		c.Next()
	}
}
