package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/auth"
	"github.com/mongardhq/mongard/internal/models"
)

type mockTenancy struct {
	org         *models.Organization
	orgs        []*models.OrganizationWithRole
	members     []*models.Member
	invitation  *models.Invitation
	invitations []*models.Invitation
	inviteToken string

	createErr    error
	getErr       error
	listErr      error
	deleteErr    error
	membersErr   error
	setRoleErr   error
	removeErr    error
	inviteErr    error
	listInvErr   error
	revokeErr    error
	acceptErr    error
	resetPassErr error
	telegramErr  error
}

func (m *mockTenancy) CreateOrganization(_ context.Context, _ uuid.UUID, _, _ string) (*models.Organization, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	return m.org, nil
}

func (m *mockTenancy) GetOrganization(_ context.Context, _, _ uuid.UUID) (*models.Organization, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	return m.org, nil
}

func (m *mockTenancy) ListOrganizations(_ context.Context, _ uuid.UUID) ([]*models.OrganizationWithRole, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.orgs, nil
}

func (m *mockTenancy) DeleteOrganization(_ context.Context, _, _ uuid.UUID) error {
	return m.deleteErr
}

func (m *mockTenancy) ListMembers(_ context.Context, _, _ uuid.UUID) ([]*models.Member, error) {
	if m.membersErr != nil {
		return nil, m.membersErr
	}
	return m.members, nil
}

func (m *mockTenancy) SetRole(_ context.Context, _, _, _ uuid.UUID, _ models.MemberRole) error {
	return m.setRoleErr
}

func (m *mockTenancy) RemoveMember(_ context.Context, _, _, _ uuid.UUID) error {
	return m.removeErr
}

func (m *mockTenancy) Invite(_ context.Context, _, _ uuid.UUID, _ string, _ models.MemberRole) (*models.Invitation, string, error) {
	if m.inviteErr != nil {
		return nil, "", m.inviteErr
	}
	return m.invitation, m.inviteToken, nil
}

func (m *mockTenancy) ListInvitations(_ context.Context, _, _ uuid.UUID) ([]*models.Invitation, error) {
	if m.listInvErr != nil {
		return nil, m.listInvErr
	}
	return m.invitations, nil
}

func (m *mockTenancy) RevokeInvitation(_ context.Context, _, _, _ uuid.UUID) error {
	return m.revokeErr
}

func (m *mockTenancy) AcceptInvitation(_ context.Context, _ uuid.UUID, _ string) error {
	return m.acceptErr
}

func (m *mockTenancy) ResetBackupPassword(_ context.Context, _, _ uuid.UUID, _ string) error {
	return m.resetPassErr
}

func (m *mockTenancy) UpdateTelegram(_ context.Context, _, _ uuid.UUID, _, _ string) error {
	return m.telegramErr
}

func setupOrgTestRouter(tenancy *mockTenancy, user *models.User) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(injectUser(user))
	handler := NewOrganizationsHandler(tenancy, zerolog.Nop())
	api := r.Group("/api/v1")
	handler.RegisterRoutes(api)
	return r
}

func TestCreateOrganization(t *testing.T) {
	user := testUser()
	org := models.NewOrganization("Prod Backups", user.ID)

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		body := `{"name":"Prod Backups","backup_password":"hunter22"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		var resp map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if _, ok := resp["organization"]; !ok {
			t.Fatal("expected 'organization' key")
		}
	})

	t.Run("blank name", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		body := `{"name":"   ","backup_password":"hunter22"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("missing backup password", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		body := `{"name":"Prod Backups"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("short backup password", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		body := `{"name":"Prod Backups","backup_password":"abc"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("unauthenticated", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, nil)
		w := httptest.NewRecorder()
		body := `{"name":"Prod Backups"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", w.Code)
		}
	})
}

func TestListOrganizations(t *testing.T) {
	user := testUser()
	org := models.NewOrganization("Prod Backups", user.ID)

	t.Run("success", func(t *testing.T) {
		tenancy := &mockTenancy{orgs: []*models.OrganizationWithRole{
			{Organization: *org, Role: models.RoleAdmin},
		}}
		r := setupOrgTestRouter(tenancy, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/organizations", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
		var resp map[string]json.RawMessage
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if _, ok := resp["organizations"]; !ok {
			t.Fatal("expected 'organizations' key")
		}
	})
}

func TestGetOrganization(t *testing.T) {
	user := testUser()
	org := models.NewOrganization("Prod Backups", user.ID)

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/organizations/"+org.ID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{org: org}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/organizations/bad-uuid", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("not a member", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{getErr: auth.ErrNotMember}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api/v1/organizations/"+org.ID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestDeleteOrganization(t *testing.T) {
	user := testUser()
	orgID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("permission denied", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{deleteErr: auth.ErrPermissionDenied}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestInviteMember(t *testing.T) {
	user := testUser()
	orgID := uuid.New()
	invitation := models.NewInvitation(orgID, "invitee@example.com", models.RoleMember, "hash", user.ID, 0)

	t.Run("success", func(t *testing.T) {
		tenancy := &mockTenancy{invitation: invitation, inviteToken: "invite-token"}
		r := setupOrgTestRouter(tenancy, user)
		w := httptest.NewRecorder()
		body := `{"email":"invitee@example.com","role":"member"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/members", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
		var resp struct {
			InvitationToken string `json:"invitation_token"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal: %v", err)
		}
		if resp.InvitationToken != "invite-token" {
			t.Fatalf("expected invitation token in response, got %s", w.Body.String())
		}
	})

	t.Run("role defaults to member", func(t *testing.T) {
		tenancy := &mockTenancy{invitation: invitation, inviteToken: "invite-token"}
		r := setupOrgTestRouter(tenancy, user)
		w := httptest.NewRecorder()
		body := `{"email":"invitee@example.com"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/members", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("invalid email", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"email":"nope"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/members", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"email":"invitee@example.com","role":"owner"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/members", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("not an admin", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{inviteErr: auth.ErrPermissionDenied}, user)
		w := httptest.NewRecorder()
		body := `{"email":"invitee@example.com"}`
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/members", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestSetRole(t *testing.T) {
	user := testUser()
	orgID := uuid.New()
	targetID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"role":"admin"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/members/"+targetID.String(), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"role":"superuser"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/members/"+targetID.String(), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("demoting the last admin", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{setRoleErr: auth.ErrLastAdmin}, user)
		w := httptest.NewRecorder()
		body := `{"role":"member"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/members/"+targetID.String(), strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestRemoveMember(t *testing.T) {
	user := testUser()
	orgID := uuid.New()
	targetID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String()+"/members/"+targetID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("removing the last admin", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{removeErr: auth.ErrLastAdmin}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String()+"/members/"+user.ID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("invalid user id", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String()+"/members/bad-uuid", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestAcceptInvitation(t *testing.T) {
	user := testUser()
	orgID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/invitations/raw-token", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("email mismatch", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{acceptErr: auth.ErrEmailMismatch}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/invitations/raw-token", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("expired invitation", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{acceptErr: auth.ErrInvitationInvalid}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/organizations/"+orgID.String()+"/invitations/stale-token", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestRevokeInvitation(t *testing.T) {
	user := testUser()
	orgID := uuid.New()
	invID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String()+"/invitations/"+invID.String(), nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("invalid invitation id", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("DELETE", "/api/v1/organizations/"+orgID.String()+"/invitations/bad-uuid", nil)
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})
}

func TestResetBackupPassword(t *testing.T) {
	user := testUser()
	orgID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"new_password":"hunter22"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/backup-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("short password", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"new_password":"abc"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/backup-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", w.Code)
		}
	})

	t.Run("not an admin", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{resetPassErr: auth.ErrPermissionDenied}, user)
		w := httptest.NewRecorder()
		body := `{"new_password":"hunter22"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/backup-password", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d: %s", w.Code, w.Body.String())
		}
	})
}

func TestUpdateTelegram(t *testing.T) {
	user := testUser()
	orgID := uuid.New()

	t.Run("success", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"bot_token":"12345:abcdef","chat_id":"-100200300"}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/telegram", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})

	t.Run("clears settings", func(t *testing.T) {
		r := setupOrgTestRouter(&mockTenancy{}, user)
		w := httptest.NewRecorder()
		body := `{"bot_token":"","chat_id":""}`
		req, _ := http.NewRequest("PUT", "/api/v1/organizations/"+orgID.String()+"/telegram", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
		}
	})
}
