package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// IdentityProvider is the identity surface the auth handler needs.
// Satisfied by *auth.IdentityService.
type IdentityProvider interface {
	Register(ctx context.Context, email, username, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*models.User, string, error)
	Logout(ctx context.Context, rawToken string) error
}

// Verifier issues and consumes email verification tokens. Satisfied by
// *auth.VerificationService.
type Verifier interface {
	IssueToken(ctx context.Context, userID uuid.UUID) (string, error)
	Verify(ctx context.Context, rawToken string) error
}

// AuthHandler serves registration, login and email verification.
type AuthHandler struct {
	identity     IdentityProvider
	verification Verifier
	logger       zerolog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(identity IdentityProvider, verification Verifier, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		identity:     identity,
		verification: verification,
		logger:       logger.With().Str("component", "api.auth").Logger(),
	}
}

// RegisterPublicRoutes mounts the unauthenticated auth endpoints.
func (h *AuthHandler) RegisterPublicRoutes(r *gin.RouterGroup) {
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.POST("/auth/verify/:token", h.Verify)
}

// RegisterRoutes mounts the session-bound auth endpoints.
func (h *AuthHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/auth/logout", h.Logout)
	r.GET("/me", h.Me)
}

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Username string `json:"username"`
	Password string `json:"password" binding:"required"`
}

// Register creates a new account and issues its email verification token.
//
//	@Summary	Register a new account
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.registerRequest	true	"Account details"
//	@Success	201	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Failure	409	{object}	map[string]any
//	@Router		/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := auth.ValidateEmail(auth.NormalizeEmail(req.Email)); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if err := auth.ValidatePassword(req.Password); err != nil {
		respondValidation(c, err.Error())
		return
	}

	user, err := h.identity.Register(c.Request.Context(), req.Email, req.Username, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	// No SMTP relay in the loop: the verification token rides the response
	// and the operator (or the frontend) delivers it.
	token, err := h.verification.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusCreated, gin.H{
		"user":               user,
		"verification_token": token,
	})
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges credentials for a bearer token.
//
//	@Summary	Log in
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.loginRequest	true	"Credentials"
//	@Success	200	{object}	map[string]any
//	@Failure	401	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/auth/login [post]
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	user, token, err := h.identity.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	respond(c, http.StatusOK, gin.H{
		"user":  user,
		"token": token,
	})
}

// Verify consumes an email verification token.
//
//	@Summary	Verify an email address
//	@Tags		auth
//	@Produce	json
//	@Param		token	path	string	true	"Verification token"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/auth/verify/{token} [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	if err := h.verification.Verify(c.Request.Context(), c.Param("token")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "email verified"})
}

// Logout deletes the current session. Idempotent.
func (h *AuthHandler) Logout(c *gin.Context) {
	token := middleware.ExtractBearerToken(c.GetHeader("Authorization"))
	if err := h.identity.Logout(c.Request.Context(), token); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "logged out"})
}

// Me returns the authenticated user.
func (h *AuthHandler) Me(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	respond(c, http.StatusOK, gin.H{"user": user})
}
