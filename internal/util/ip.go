package util

import (
	"context"

	"github.com/gin-gonic/gin"
)

// contextKey keeps the client IP value collision-free in the request context.
type contextKey struct{}

var clientIPKey contextKey

// IPMiddleware extracts the client IP and stores it in the request context so
// the audit log can record the network origin of each credential operation.
// The value must live on the request context, not the gin context: the
// services only ever see ctx = c.Request.Context().
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Gin's ClientIP() handles X-Forwarded-For and other headers
		ctx := context.WithValue(c.Request.Context(), clientIPKey, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// GetIPFromContext extracts the client IP address from the context. Returns
// the empty string for internally scheduled work that has no network origin.
func GetIPFromContext(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey).(string); ok {
		return ip
	}
	return ""
}
