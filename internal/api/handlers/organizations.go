package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/api/middleware"
	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

// TenancyService is the tenancy surface the organizations handler needs.
// Satisfied by *auth.Tenancy.
type TenancyService interface {
	CreateOrganization(ctx context.Context, userID uuid.UUID, name, backupPassword string) (*models.Organization, error)
	GetOrganization(ctx context.Context, userID, orgID uuid.UUID) (*models.Organization, error)
	ListOrganizations(ctx context.Context, userID uuid.UUID) ([]*models.OrganizationWithRole, error)
	DeleteOrganization(ctx context.Context, adminID, orgID uuid.UUID) error
	ListMembers(ctx context.Context, userID, orgID uuid.UUID) ([]*models.Member, error)
	SetRole(ctx context.Context, adminID, orgID, targetUserID uuid.UUID, role models.MemberRole) error
	RemoveMember(ctx context.Context, adminID, orgID, targetUserID uuid.UUID) error
	Invite(ctx context.Context, adminID, orgID uuid.UUID, email string, role models.MemberRole) (*models.Invitation, string, error)
	ListInvitations(ctx context.Context, adminID, orgID uuid.UUID) ([]*models.Invitation, error)
	RevokeInvitation(ctx context.Context, adminID, orgID, invitationID uuid.UUID) error
	AcceptInvitation(ctx context.Context, userID uuid.UUID, rawToken string) error
	ResetBackupPassword(ctx context.Context, adminID, orgID uuid.UUID, newPassword string) error
	UpdateTelegram(ctx context.Context, adminID, orgID uuid.UUID, botToken, chatID string) error
}

// OrganizationsHandler serves tenancy management: organizations, members,
// invitations and org-level settings.
type OrganizationsHandler struct {
	tenancy TenancyService
	logger  zerolog.Logger
}

// NewOrganizationsHandler creates an OrganizationsHandler.
func NewOrganizationsHandler(tenancy TenancyService, logger zerolog.Logger) *OrganizationsHandler {
	return &OrganizationsHandler{
		tenancy: tenancy,
		logger:  logger.With().Str("component", "api.organizations").Logger(),
	}
}

// RegisterRoutes mounts the organization endpoints on an authenticated group.
func (h *OrganizationsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/organizations", h.Create)
	r.GET("/organizations", h.List)
	r.GET("/organizations/:id", h.Get)
	r.DELETE("/organizations/:id", h.Delete)

	r.GET("/organizations/:id/members", h.ListMembers)
	r.POST("/organizations/:id/members", h.Invite)
	r.PUT("/organizations/:id/members/:user_id", h.SetRole)
	r.DELETE("/organizations/:id/members/:user_id", h.RemoveMember)

	r.GET("/organizations/:id/invitations", h.ListInvitations)
	r.DELETE("/organizations/:id/invitations/:invitation_id", h.RevokeInvitation)
	r.POST("/organizations/:id/invitations/:token", h.AcceptInvitation)

	r.PUT("/organizations/:id/backup-password", h.ResetBackupPassword)
	r.PUT("/organizations/:id/telegram", h.UpdateTelegram)
}

type createOrganizationRequest struct {
	Name           string `json:"name" binding:"required"`
	BackupPassword string `json:"backup_password" binding:"required"`
}

// Create creates an organization with the caller as its first admin.
//
//	@Summary	Create an organization
//	@Tags		organizations
//	@Accept		json
//	@Produce	json
//	@Param		request	body	handlers.createOrganizationRequest	true	"Organization details"
//	@Success	201	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/organizations [post]
//	@Security	BearerAuth
func (h *OrganizationsHandler) Create(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	var req createOrganizationRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondValidation(c, "organization name is required")
		return
	}
	if err := auth.ValidatePassword(req.BackupPassword); err != nil {
		respondValidation(c, err.Error())
		return
	}

	org, err := h.tenancy.CreateOrganization(c.Request.Context(), user.ID, req.Name, req.BackupPassword)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{"organization": org})
}

// List returns the caller's organizations together with their roles.
func (h *OrganizationsHandler) List(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgs, err := h.tenancy.ListOrganizations(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"organizations": orgs})
}

// Get returns one organization. Member visibility.
func (h *OrganizationsHandler) Get(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	org, err := h.tenancy.GetOrganization(c.Request.Context(), user.ID, orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"organization": org})
}

// Delete removes an organization and everything it owns. Admin only.
//
//	@Summary	Delete an organization
//	@Tags		organizations
//	@Produce	json
//	@Param		id	path	string	true	"Organization ID"
//	@Success	200	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/organizations/{id} [delete]
//	@Security	BearerAuth
func (h *OrganizationsHandler) Delete(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.tenancy.DeleteOrganization(c.Request.Context(), user.ID, orgID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "organization deleted"})
}

// ListMembers returns the organization's members. Any member may look.
func (h *OrganizationsHandler) ListMembers(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	members, err := h.tenancy.ListMembers(c.Request.Context(), user.ID, orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"members": members})
}

type inviteRequest struct {
	Email string `json:"email" binding:"required"`
	Role  string `json:"role"`
}

// Invite creates a pending invitation for an email address. Admin only.
// The raw invitation token rides the response; delivery is up to the
// frontend or the operator.
//
//	@Summary	Invite a member
//	@Tags		organizations
//	@Accept		json
//	@Produce	json
//	@Param		id		path	string					true	"Organization ID"
//	@Param		request	body	handlers.inviteRequest	true	"Invitee"
//	@Success	201	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Failure	403	{object}	map[string]any
//	@Router		/organizations/{id}/members [post]
//	@Security	BearerAuth
func (h *OrganizationsHandler) Invite(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req inviteRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := auth.ValidateEmail(auth.NormalizeEmail(req.Email)); err != nil {
		respondValidation(c, err.Error())
		return
	}
	role := models.MemberRole(req.Role)
	if req.Role == "" {
		role = models.RoleMember
	}
	if !models.IsValidMemberRole(role) {
		respondValidation(c, "invalid role")
		return
	}

	invitation, token, err := h.tenancy.Invite(c.Request.Context(), user.ID, orgID, req.Email, role)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusCreated, gin.H{
		"invitation":       invitation,
		"invitation_token": token,
	})
}

type setRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// SetRole changes a member's role. Admin only; demoting the last admin is
// refused.
func (h *OrganizationsHandler) SetRole(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	var req setRoleRequest
	if !bindJSON(c, &req) {
		return
	}
	role := models.MemberRole(req.Role)
	if !models.IsValidMemberRole(role) {
		respondValidation(c, "invalid role")
		return
	}

	if err := h.tenancy.SetRole(c.Request.Context(), user.ID, orgID, targetID, role); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "role updated"})
}

// RemoveMember removes a member from the organization. Admin only; the last
// admin cannot be removed.
func (h *OrganizationsHandler) RemoveMember(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	targetID, ok := pathUUID(c, "user_id")
	if !ok {
		return
	}
	if err := h.tenancy.RemoveMember(c.Request.Context(), user.ID, orgID, targetID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "member removed"})
}

// ListInvitations returns the organization's pending invitations. Admin only.
func (h *OrganizationsHandler) ListInvitations(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	invitations, err := h.tenancy.ListInvitations(c.Request.Context(), user.ID, orgID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"invitations": invitations})
}

// RevokeInvitation cancels a pending invitation. Admin only.
func (h *OrganizationsHandler) RevokeInvitation(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	invitationID, ok := pathUUID(c, "invitation_id")
	if !ok {
		return
	}
	if err := h.tenancy.RevokeInvitation(c.Request.Context(), user.ID, orgID, invitationID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "invitation revoked"})
}

// AcceptInvitation joins the caller to the organization named in the
// invitation. The invitation email must match the caller's verified address.
//
//	@Summary	Accept an invitation
//	@Tags		organizations
//	@Produce	json
//	@Param		id		path	string	true	"Organization ID"
//	@Param		token	path	string	true	"Invitation token"
//	@Success	200	{object}	map[string]any
//	@Failure	400	{object}	map[string]any
//	@Router		/organizations/{id}/invitations/{token} [post]
//	@Security	BearerAuth
func (h *OrganizationsHandler) AcceptInvitation(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	// The invitation token names its organization; the :id segment is kept
	// for URL shape only.
	if _, ok := pathUUID(c, "id"); !ok {
		return
	}
	if err := h.tenancy.AcceptInvitation(c.Request.Context(), user.ID, c.Param("token")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "invitation accepted"})
}

type resetBackupPasswordRequest struct {
	NewPassword string `json:"new_password" binding:"required"`
}

// ResetBackupPassword replaces the org-wide backup password. Admin only.
// Already-encrypted schedule credentials stay valid; the new password gates
// new schedule creation and ad-hoc backups from now on.
func (h *OrganizationsHandler) ResetBackupPassword(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req resetBackupPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := auth.ValidatePassword(req.NewPassword); err != nil {
		respondValidation(c, err.Error())
		return
	}

	if err := h.tenancy.ResetBackupPassword(c.Request.Context(), user.ID, orgID, req.NewPassword); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "backup password updated"})
}

type updateTelegramRequest struct {
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

// UpdateTelegram sets or clears the org's Telegram notification target.
// Admin only.
func (h *OrganizationsHandler) UpdateTelegram(c *gin.Context) {
	user := middleware.RequireUser(c)
	if user == nil {
		return
	}
	orgID, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	var req updateTelegramRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.tenancy.UpdateTelegram(c.Request.Context(), user.ID, orgID, req.BotToken, req.ChatID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"message": "telegram settings updated"})
}
