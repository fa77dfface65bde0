// Package middleware provides HTTP middleware for the Mongard API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

// ContextKey is the type for context keys used by this package.
type ContextKey string

// UserContextKey is the context key for the authenticated user.
const UserContextKey ContextKey = "user"

// SessionReader resolves a raw bearer token to its user. Satisfied by
// *auth.IdentityService.
type SessionReader interface {
	CurrentUser(ctx context.Context, rawToken string) (*models.User, error)
}

// ExtractBearerToken pulls the token out of an Authorization header.
// Returns "" when the header is missing or not a bearer scheme.
func ExtractBearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// BearerAuth returns a Gin middleware that requires a valid session token.
// The resolved user is stored in the Gin context for handlers.
func BearerAuth(sessions SessionReader, logger zerolog.Logger) gin.HandlerFunc {
	log := logger.With().Str("component", "auth_middleware").Logger()

	return func(c *gin.Context) {
		token := ExtractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}

		user, err := sessions.CurrentUser(c.Request.Context(), token)
		if err != nil {
			log.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("unauthenticated request")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "authentication required",
			})
			return
		}

		c.Set(string(UserContextKey), user)
		c.Next()
	}
}

// GetUser retrieves the authenticated user from the Gin context. Returns
// nil if no user is authenticated.
func GetUser(c *gin.Context) *models.User {
	v, exists := c.Get(string(UserContextKey))
	if !exists {
		return nil
	}
	user, ok := v.(*models.User)
	if !ok {
		return nil
	}
	return user
}

// RequireUser gets the authenticated user or aborts with 401. Use in
// handlers that expect BearerAuth to have already run.
func RequireUser(c *gin.Context) *models.User {
	user := GetUser(c)
	if user == nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "authentication required",
		})
		return nil
	}
	return user
}
