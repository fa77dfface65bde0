package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/mongardhq/mongard/internal/db"
	"github.com/mongardhq/mongard/internal/models"
)

// GoogleIssuer is the OIDC issuer for Google accounts.
const GoogleIssuer = "https://accounts.google.com"

const (
	driveAPIBase        = "https://www.googleapis.com/drive/v3"
	driveUploadBase     = "https://www.googleapis.com/upload/drive/v3"
	driveRevokeURL      = "https://oauth2.googleapis.com/revoke"
	driveFolderMimeType = "application/vnd.google-apps.folder"

	// driveScope grants access only to files this application created.
	driveScope = "https://www.googleapis.com/auth/drive.file"
)

// googleEndpoint is the fallback OAuth2 endpoint when no OIDC provider was
// initialized (offline start, tests).
var googleEndpoint = oauth2.Endpoint{
	AuthURL:  "https://accounts.google.com/o/oauth2/auth",
	TokenURL: "https://oauth2.googleapis.com/token",
}

// DriveTokenStore persists per-user OAuth grants.
type DriveTokenStore interface {
	UpsertOAuthToken(ctx context.Context, t *models.OAuthToken) error
	GetOAuthToken(ctx context.Context, userID uuid.UUID, provider models.OAuthProvider) (*models.OAuthToken, error)
	UpdateOAuthTokenAccess(ctx context.Context, id uuid.UUID, encryptedAccess string, expiresAt time.Time) error
	DeleteOAuthToken(ctx context.Context, userID uuid.UUID, provider models.OAuthProvider) error
}

// Secrets seals tokens before they reach the database.
type Secrets interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// DriveConfig holds the OAuth client registered for this deployment.
type DriveConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// Drive uploads archives to the owning user's Google Drive. Every user
// connects their own account through the OAuth code flow; tokens are stored
// encrypted and refreshed on demand.
type Drive struct {
	config   oauth2.Config
	verifier *oidc.IDTokenVerifier
	store    DriveTokenStore
	vault    Secrets
	base     *http.Client
	logger   zerolog.Logger

	apiBase    string
	uploadBase string
	revokeURL  string
}

// NewDrive creates the Drive backend. provider may be nil: the endpoint then
// falls back to Google's published URLs and the connected account email is
// not captured. httpClient carries the deployment's egress settings.
func NewDrive(cfg DriveConfig, provider *oidc.Provider, store DriveTokenStore, vault Secrets, httpClient *http.Client, logger zerolog.Logger) *Drive {
	endpoint := googleEndpoint
	var verifier *oidc.IDTokenVerifier
	if provider != nil {
		endpoint = provider.Endpoint()
		verifier = provider.Verifier(&oidc.Config{ClientID: cfg.ClientID})
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Drive{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{driveScope, oidc.ScopeOpenID, "email"},
		},
		verifier:   verifier,
		store:      store,
		vault:      vault,
		base:       httpClient,
		logger:     logger.With().Str("component", "drive_storage").Logger(),
		apiBase:    driveAPIBase,
		uploadBase: driveUploadBase,
		revokeURL:  driveRevokeURL,
	}
}

// AuthCodeURL returns the consent URL starting the connect flow. The state
// parameter is issued and checked by the HTTP layer.
func (d *Drive) AuthCodeURL(state string) string {
	return d.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// FinishOAuth exchanges the authorization code and stores the sealed grant.
// Reconnecting replaces the previous grant; Google omits the refresh token
// on re-consent, in which case the stored one is kept.
func (d *Drive) FinishOAuth(ctx context.Context, userID uuid.UUID, code string) error {
	tok, err := d.config.Exchange(d.oauthContext(ctx), code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	email := d.accountEmail(ctx, tok)

	encAccess, err := d.vault.Encrypt(tok.AccessToken)
	if err != nil {
		return fmt.Errorf("seal access token: %w", err)
	}

	encRefresh := ""
	if tok.RefreshToken != "" {
		encRefresh, err = d.vault.Encrypt(tok.RefreshToken)
		if err != nil {
			return fmt.Errorf("seal refresh token: %w", err)
		}
	} else if existing, err := d.store.GetOAuthToken(ctx, userID, models.OAuthProviderGoogle); err == nil {
		encRefresh = existing.EncryptedRefreshToken
		if email == "" {
			email = existing.AccountEmail
		}
	}

	record := models.NewOAuthToken(userID, models.OAuthProviderGoogle, email, encAccess, encRefresh, tok.Expiry)
	if err := d.store.UpsertOAuthToken(ctx, record); err != nil {
		return fmt.Errorf("store drive token: %w", err)
	}

	d.logger.Info().
		Str("user_id", userID.String()).
		Msg("drive account connected")
	return nil
}

// Connection returns the user's stored grant, or ErrNotConnected.
func (d *Drive) Connection(ctx context.Context, userID uuid.UUID) (*models.OAuthToken, error) {
	stored, err := d.store.GetOAuthToken(ctx, userID, models.OAuthProviderGoogle)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, ErrNotConnected
		}
		return nil, fmt.Errorf("load drive token: %w", err)
	}
	return stored, nil
}

// IsConnected reports whether the user completed the OAuth flow.
func (d *Drive) IsConnected(ctx context.Context, userID uuid.UUID) bool {
	_, err := d.Connection(ctx, userID)
	return err == nil
}

// Disconnect revokes the grant upstream (best effort) and deletes it.
// Disconnecting an unconnected user is a no-op.
func (d *Drive) Disconnect(ctx context.Context, userID uuid.UUID) error {
	stored, err := d.store.GetOAuthToken(ctx, userID, models.OAuthProviderGoogle)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load drive token: %w", err)
	}

	d.revoke(ctx, stored)

	if err := d.store.DeleteOAuthToken(ctx, userID, models.OAuthProviderGoogle); err != nil && !errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("delete drive token: %w", err)
	}

	d.logger.Info().
		Str("user_id", userID.String()).
		Msg("drive account disconnected")
	return nil
}

// UploadFile creates missing folders along folderPath, then streams the
// archive as a multipart upload into the last one. The returned FileID is
// the Drive file id.
func (d *Drive) UploadFile(ctx context.Context, userID uuid.UUID, src io.Reader, size int64, fileName, mimeType, folderPath string) (*UploadResult, error) {
	client, err := d.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	parentID, err := d.ensureFolderPath(ctx, client, folderPath)
	if err != nil {
		return nil, fmt.Errorf("ensure drive folder %q: %w", folderPath, err)
	}

	metadata := map[string]any{"name": fileName}
	if parentID != "" {
		metadata["parents"] = []string{parentID}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		metaHeader := textproto.MIMEHeader{}
		metaHeader.Set("Content-Type", "application/json; charset=UTF-8")
		part, err := mw.CreatePart(metaHeader)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := json.NewEncoder(part).Encode(metadata); err != nil {
			pw.CloseWithError(err)
			return
		}

		mediaHeader := textproto.MIMEHeader{}
		if mimeType != "" {
			mediaHeader.Set("Content-Type", mimeType)
		}
		part, err = mw.CreatePart(mediaHeader)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	uploadURL := d.uploadBase + "/files?uploadType=multipart&fields=id,webViewLink"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, pr)
	if err != nil {
		return nil, fmt.Errorf("create drive upload request: %w", err)
	}
	req.Header.Set("Content-Type", "multipart/related; boundary="+mw.Boundary())

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to drive: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, driveAPIError("upload", resp)
	}

	var file struct {
		ID          string `json:"id"`
		WebViewLink string `json:"webViewLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return nil, fmt.Errorf("decode drive upload response: %w", err)
	}

	d.logger.Debug().
		Str("user_id", userID.String()).
		Str("file_id", file.ID).
		Int64("size_bytes", size).
		Msg("uploaded archive to Drive")

	return &UploadResult{FileID: file.ID, WebViewLink: file.WebViewLink}, nil
}

// DeleteFile removes a file by Drive id. A file already gone maps to
// ErrFileNotFound.
func (d *Drive) DeleteFile(ctx context.Context, userID uuid.UUID, fileID string) error {
	client, err := d.clientFor(ctx, userID)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, d.apiBase+"/files/"+url.PathEscape(fileID), nil)
	if err != nil {
		return fmt.Errorf("create drive delete request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("delete drive file: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrFileNotFound
	default:
		return driveAPIError("delete", resp)
	}
}

// oauthContext routes the oauth2 machinery through the shared base client.
func (d *Drive) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, d.base)
}

func (d *Drive) accountEmail(ctx context.Context, tok *oauth2.Token) string {
	if d.verifier == nil {
		return ""
	}
	raw, ok := tok.Extra("id_token").(string)
	if !ok {
		return ""
	}
	idToken, err := d.verifier.Verify(ctx, raw)
	if err != nil {
		d.logger.Warn().Err(err).Msg("drive ID token verification failed")
		return ""
	}
	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return ""
	}
	return claims.Email
}

// clientFor builds an authorized HTTP client for the user, refreshing and
// re-sealing the access token when it has expired.
func (d *Drive) clientFor(ctx context.Context, userID uuid.UUID) (*http.Client, error) {
	stored, err := d.Connection(ctx, userID)
	if err != nil {
		return nil, err
	}

	access, err := d.vault.Decrypt(stored.EncryptedAccessToken)
	if err != nil {
		return nil, fmt.Errorf("open drive access token: %w", err)
	}
	refresh := ""
	if stored.EncryptedRefreshToken != "" {
		refresh, err = d.vault.Decrypt(stored.EncryptedRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("open drive refresh token: %w", err)
		}
	}

	tok := &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       stored.ExpiresAt,
		TokenType:    "Bearer",
	}

	octx := d.oauthContext(ctx)
	src := &persistingTokenSource{
		ctx:        octx,
		drive:      d,
		stored:     stored,
		src:        d.config.TokenSource(octx, tok),
		lastAccess: tok.AccessToken,
	}
	return oauth2.NewClient(octx, src), nil
}

func (d *Drive) revoke(ctx context.Context, stored *models.OAuthToken) {
	token, err := d.vault.Decrypt(stored.EncryptedRefreshToken)
	if err != nil || token == "" {
		if token, err = d.vault.Decrypt(stored.EncryptedAccessToken); err != nil {
			return
		}
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.revokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := d.base.Do(req)
	if err != nil {
		d.logger.Warn().Err(err).Msg("drive token revocation failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		d.logger.Warn().Int("status", resp.StatusCode).Msg("drive token revocation refused")
	}
}

// ensureFolderPath walks folderPath creating missing folders, returning the
// id of the last segment. Folder creation is idempotent at the path level:
// an existing folder with the same name under the same parent is reused.
func (d *Drive) ensureFolderPath(ctx context.Context, client *http.Client, folderPath string) (string, error) {
	parent := "root"
	for _, segment := range strings.Split(folderPath, "/") {
		if segment == "" {
			continue
		}
		id, err := d.findFolder(ctx, client, segment, parent)
		if err != nil {
			return "", err
		}
		if id == "" {
			id, err = d.createFolder(ctx, client, segment, parent)
			if err != nil {
				return "", err
			}
		}
		parent = id
	}
	return parent, nil
}

func (d *Drive) findFolder(ctx context.Context, client *http.Client, name, parentID string) (string, error) {
	query := fmt.Sprintf("name = '%s' and '%s' in parents and mimeType = '%s' and trashed = false",
		escapeDriveQuery(name), parentID, driveFolderMimeType)

	u := fmt.Sprintf("%s/files?q=%s&fields=files(id)&pageSize=1", d.apiBase, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("create drive list request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("list drive folders: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", driveAPIError("list", resp)
	}

	var result struct {
		Files []struct {
			ID string `json:"id"`
		} `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode drive list response: %w", err)
	}
	if len(result.Files) == 0 {
		return "", nil
	}
	return result.Files[0].ID, nil
}

func (d *Drive) createFolder(ctx context.Context, client *http.Client, name, parentID string) (string, error) {
	body, err := json.Marshal(map[string]any{
		"name":     name,
		"mimeType": driveFolderMimeType,
		"parents":  []string{parentID},
	})
	if err != nil {
		return "", fmt.Errorf("marshal drive folder: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.apiBase+"/files?fields=id", strings.NewReader(string(body)))
	if err != nil {
		return "", fmt.Errorf("create drive folder request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("create drive folder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", driveAPIError("create folder", resp)
	}

	var folder struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&folder); err != nil {
		return "", fmt.Errorf("decode drive folder response: %w", err)
	}
	return folder.ID, nil
}

func escapeDriveQuery(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

func driveAPIError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("drive %s error: status %d, body: %s", op, resp.StatusCode, string(body))
}

// persistingTokenSource re-seals refreshed access tokens back into the
// store so the next run skips the refresh round trip. Persistence failures
// only cost that optimization, so they are logged and dropped.
type persistingTokenSource struct {
	ctx    context.Context
	drive  *Drive
	stored *models.OAuthToken
	src    oauth2.TokenSource

	mu         sync.Mutex
	lastAccess string
}

func (p *persistingTokenSource) Token() (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.src.Token()
	if err != nil {
		return nil, err
	}

	if tok.AccessToken != p.lastAccess {
		p.lastAccess = tok.AccessToken
		if enc, err := p.drive.vault.Encrypt(tok.AccessToken); err == nil {
			if err := p.drive.store.UpdateOAuthTokenAccess(p.ctx, p.stored.ID, enc, tok.Expiry); err != nil {
				p.drive.logger.Warn().Err(err).
					Str("user_id", p.stored.UserID.String()).
					Msg("could not persist refreshed drive token")
			}
		}
	}

	return tok, nil
}
