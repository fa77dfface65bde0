package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/models"
)

// errBoom stands in for unexpected failures from mocked dependencies.
var errBoom = errors.New("boom")

// testUser creates a verified user for handler tests.
func testUser() *models.User {
	return &models.User{
		ID:            uuid.New(),
		Email:         "test@example.com",
		Username:      "test",
		EmailVerified: true,
	}
}

// injectUser pretends BearerAuth already ran. A nil user leaves the context
// empty so RequireUser aborts with 401.
func injectUser(user *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set(string(middleware.UserContextKey), user)
		}
		c.Next()
	}
}
