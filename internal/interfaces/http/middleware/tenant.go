package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerlink/backend/internal/infrastructure/logger"
	"github.com/ledgerlink/backend/internal/interfaces/http/dto"
)

// Gin context keys planted by the tenant middleware.
const (
	TenantIDKey     = "tenant_id"
	TenantCodeKey   = "tenant_code"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantInfo is what a validator returns for a known tenant.
type TenantInfo struct {
	ID   uuid.UUID `json:"id"`
	Code string    `json:"code"`
}

// TenantValidator checks that an extracted tenant ID belongs to a real,
// active tenant before any sync handler runs under it.
type TenantValidator interface {
	ValidateTenant(tenantID string) (*TenantInfo, error)
}

// TenantMiddlewareConfig holds configuration for tenant resolution.
type TenantMiddlewareConfig struct {
	// HeaderEnabled enables X-Tenant-ID header extraction.
	HeaderEnabled bool
	// SubdomainEnabled enables subdomain extraction.
	SubdomainEnabled bool
	// BaseDomain is the apex for subdomain extraction, e.g. "ledgerlink.io".
	BaseDomain string
	// SkipPaths are paths that run without tenant context.
	SkipPaths []string
	// Required rejects requests that carry no tenant identification.
	Required bool
	// Validator, when set, verifies the tenant exists and is active.
	Validator TenantValidator
	// Logger for middleware logging.
	Logger *zap.Logger
}

// DefaultTenantConfig returns default tenant middleware configuration.
func DefaultTenantConfig() TenantMiddlewareConfig {
	return TenantMiddlewareConfig{
		HeaderEnabled: true,
		SkipPaths:     []string{"/health", "/healthz", "/ready", "/metrics", "/api/v1/health"},
		Required:      true,
	}
}

// TenantMiddleware resolves the tenant for each request. Every sync run,
// cursor, and conflict row is scoped by tenant, so this runs before any
// API handler.
func TenantMiddleware() gin.HandlerFunc {
	return TenantMiddlewareWithConfig(DefaultTenantConfig())
}

// TenantMiddlewareWithConfig returns tenant middleware with custom
// configuration. Extraction order: X-Tenant-ID header, then subdomain.
// The resolved ID is planted in the gin context and in the request context
// so repository queries and log lines downstream carry it.
func TenantMiddlewareWithConfig(cfg TenantMiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if skipTenantPath(cfg.SkipPaths, c.Request.URL.Path) {
			c.Next()
			return
		}

		tenantID, source := extractTenant(c, cfg)

		if tenantID != "" {
			if _, err := uuid.Parse(tenantID); err != nil {
				abortUnauthorized(c, "Invalid tenant ID format")
				return
			}
		}

		if tenantID == "" {
			if cfg.Required {
				abortUnauthorized(c, "Tenant identification required")
				return
			}
			c.Next()
			return
		}

		var info *TenantInfo
		if cfg.Validator != nil {
			var err error
			info, err = cfg.Validator.ValidateTenant(tenantID)
			if err != nil {
				tenantLog(c, cfg).Warn("Tenant validation failed",
					zap.String("tenant_id", tenantID),
					zap.Error(err),
				)
				abortUnauthorized(c, "Invalid or inactive tenant")
				return
			}
		}

		c.Set(TenantIDKey, tenantID)
		if info != nil {
			c.Set(TenantCodeKey, info.Code)
		}

		// Stamp the request context so the service and repository layers
		// see the tenant without touching gin.
		ctx := c.Request.Context()
		ctx, _ = logger.WithTenantID(ctx, logger.FromContext(ctx), tenantID)
		c.Request = c.Request.WithContext(ctx)

		if cfg.Logger != nil {
			cfg.Logger.Debug("Tenant identified",
				zap.String("tenant_id", tenantID),
				zap.String("source", source),
			)
		}

		c.Next()
	}
}

func skipTenantPath(skipPaths []string, path string) bool {
	for _, skip := range skipPaths {
		if path == skip || strings.HasPrefix(path, skip+"/") {
			return true
		}
	}
	return false
}

func extractTenant(c *gin.Context, cfg TenantMiddlewareConfig) (tenantID, source string) {
	if cfg.HeaderEnabled {
		if id := c.GetHeader(TenantHeaderKey); id != "" {
			return id, "header"
		}
	}
	if cfg.SubdomainEnabled && cfg.BaseDomain != "" {
		if id := tenantFromSubdomain(c.Request.Host, cfg.BaseDomain); id != "" {
			return id, "subdomain"
		}
	}
	return "", ""
}

// tenantFromSubdomain extracts the tenant from a host like
// "acme.ledgerlink.io" given the base domain "ledgerlink.io".
func tenantFromSubdomain(host, baseDomain string) string {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if !strings.HasSuffix(host, baseDomain) {
		return ""
	}
	subdomain := strings.TrimSuffix(host, "."+baseDomain)
	if subdomain == host || subdomain == "" || subdomain == "www" {
		return ""
	}
	// Multi-level subdomains keep only the leftmost label.
	return strings.Split(subdomain, ".")[0]
}

func tenantLog(c *gin.Context, cfg TenantMiddlewareConfig) *zap.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return logger.FromContext(c.Request.Context())
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized,
		dto.NewErrorResponseWithRequestID(dto.ErrCodeUnauthorized, message, c.GetString("request_id")))
}

// GetTenantID returns the tenant ID planted by the tenant middleware, or "".
func GetTenantID(c *gin.Context) string {
	return c.GetString(TenantIDKey)
}

// GetTenantUUID returns the tenant ID as a UUID. A missing tenant yields
// uuid.Nil with no error.
func GetTenantUUID(c *gin.Context) (uuid.UUID, error) {
	tenantID := GetTenantID(c)
	if tenantID == "" {
		return uuid.Nil, nil
	}
	return uuid.Parse(tenantID)
}

// GetTenantCode returns the tenant code set by a validator, or "".
func GetTenantCode(c *gin.Context) string {
	return c.GetString(TenantCodeKey)
}
