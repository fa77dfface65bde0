package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mongardhq/mongard/internal/models"
)

var errMockNotFound = errors.New("not found")

// fakeHasher mirrors the vault's contract without PBKDF2 cost.
type fakeHasher struct{}

func (fakeHasher) HashPassword(plaintext string) (string, error) {
	return "hash:" + plaintext, nil
}

func (fakeHasher) VerifyPassword(plaintext, encoded string) bool {
	return encoded == "hash:"+plaintext
}

type mockIdentityStore struct {
	usersByID    map[uuid.UUID]*models.User
	usersByEmail map[string]*models.User
	sessions     map[string]*models.Session
	createErr    error
}

func newMockIdentityStore() *mockIdentityStore {
	return &mockIdentityStore{
		usersByID:    make(map[uuid.UUID]*models.User),
		usersByEmail: make(map[string]*models.User),
		sessions:     make(map[string]*models.Session),
	}
}

func (m *mockIdentityStore) addUser(user *models.User) {
	m.usersByID[user.ID] = user
	m.usersByEmail[user.Email] = user
}

func (m *mockIdentityStore) CreateUser(_ context.Context, user *models.User) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.addUser(user)
	return nil
}

func (m *mockIdentityStore) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return nil, errMockNotFound
	}
	return user, nil
}

func (m *mockIdentityStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	user, ok := m.usersByEmail[email]
	if !ok {
		return nil, errMockNotFound
	}
	return user, nil
}

func (m *mockIdentityStore) CreateSession(_ context.Context, session *models.Session) error {
	m.sessions[session.TokenHash] = session
	return nil
}

func (m *mockIdentityStore) GetSessionByTokenHash(_ context.Context, tokenHash string) (*models.Session, error) {
	session, ok := m.sessions[tokenHash]
	if !ok {
		return nil, errMockNotFound
	}
	return session, nil
}

func (m *mockIdentityStore) DeleteSession(_ context.Context, tokenHash string) error {
	delete(m.sessions, tokenHash)
	return nil
}

func newTestIdentity(store *mockIdentityStore) *IdentityService {
	return NewIdentityService(store, fakeHasher{}, time.Hour, zerolog.Nop())
}

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Alice@Example.COM", "alice@example.com"},
		{"  bob@x.io  ", "bob@x.io"},
		{"carol@x.io", "carol@x.io"},
	}
	for _, tt := range tests {
		if got := NormalizeEmail(tt.in); got != tt.want {
			t.Errorf("NormalizeEmail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRegister(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user, err := svc.Register(context.Background(), "Alice@Example.COM", "alice", "secret1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if user.Email != "alice@example.com" {
		t.Errorf("email = %q, want lowercased", user.Email)
	}
	if user.EmailVerified {
		t.Error("new user must start unverified")
	}
	if user.PasswordHash != "hash:secret1" {
		t.Errorf("password hash = %q, want vault output", user.PasswordHash)
	}
	if _, ok := store.usersByEmail["alice@example.com"]; !ok {
		t.Error("user was not persisted under normalized email")
	}
}

func TestRegister_ShortPassword(t *testing.T) {
	svc := newTestIdentity(newMockIdentityStore())

	if _, err := svc.Register(context.Background(), "a@x.io", "", "short"); err == nil {
		t.Error("Register() with 5-char password should fail")
	}
	if _, err := svc.Register(context.Background(), "a@x.io", "", "longer"); err != nil {
		t.Errorf("Register() with 6-char password error = %v", err)
	}
}

func TestRegister_InvalidEmail(t *testing.T) {
	svc := newTestIdentity(newMockIdentityStore())

	for _, email := range []string{"", "not-an-email", "a b@x.io"} {
		if _, err := svc.Register(context.Background(), email, "", "secret1"); err == nil {
			t.Errorf("Register(%q) should fail", email)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	user.EmailVerified = true
	store.addUser(user)

	got, token, err := svc.Login(context.Background(), "A@X.IO", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got.ID != user.ID {
		t.Error("Login() returned the wrong user")
	}
	if token == "" {
		t.Fatal("Login() returned an empty token")
	}

	// Only the hash may be stored, and a session row must exist for it.
	if _, ok := store.sessions[token]; ok {
		t.Error("raw token stored verbatim")
	}
	session, ok := store.sessions[HashToken(token)]
	if !ok {
		t.Fatal("no session stored under hashed token")
	}
	if session.UserID != user.ID {
		t.Error("session bound to the wrong user")
	}
}

func TestLogin_FreshSessionPerLogin(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	user.EmailVerified = true
	store.addUser(user)

	_, t1, err := svc.Login(context.Background(), "a@x.io", "secret1")
	if err != nil {
		t.Fatalf("first Login() error = %v", err)
	}
	_, t2, err := svc.Login(context.Background(), "a@x.io", "secret1")
	if err != nil {
		t.Fatalf("second Login() error = %v", err)
	}
	if t1 == t2 {
		t.Error("two logins minted the same token")
	}
	if len(store.sessions) != 2 {
		t.Errorf("sessions = %d, want 2", len(store.sessions))
	}
}

func TestLogin_AuthFailed(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	user.EmailVerified = true
	store.addUser(user)

	// Unknown email and wrong password must be indistinguishable.
	if _, _, err := svc.Login(context.Background(), "nobody@x.io", "secret1"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("unknown email: error = %v, want ErrAuthFailed", err)
	}
	if _, _, err := svc.Login(context.Background(), "a@x.io", "wrong-pass"); !errors.Is(err, ErrAuthFailed) {
		t.Errorf("bad password: error = %v, want ErrAuthFailed", err)
	}
}

func TestLogin_EmailNotVerified(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	store.addUser(models.NewUser("a@x.io", "", "hash:secret1"))

	if _, _, err := svc.Login(context.Background(), "a@x.io", "secret1"); !errors.Is(err, ErrEmailNotVerified) {
		t.Errorf("Login() error = %v, want ErrEmailNotVerified", err)
	}
}

func TestCurrentUser(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	user.EmailVerified = true
	store.addUser(user)

	_, token, err := svc.Login(context.Background(), "a@x.io", "secret1")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	got, err := svc.CurrentUser(context.Background(), token)
	if err != nil {
		t.Fatalf("CurrentUser() error = %v", err)
	}
	if got.ID != user.ID {
		t.Error("CurrentUser() resolved the wrong user")
	}
}

func TestCurrentUser_UnknownToken(t *testing.T) {
	svc := newTestIdentity(newMockIdentityStore())

	if _, err := svc.CurrentUser(context.Background(), "bogus"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("CurrentUser() error = %v, want ErrSessionExpired", err)
	}
	if _, err := svc.CurrentUser(context.Background(), ""); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("CurrentUser(\"\") error = %v, want ErrSessionExpired", err)
	}
}

func TestCurrentUser_ExpiredSessionDeleted(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	store.addUser(user)

	raw := "expired-token"
	session := models.NewSession(user.ID, HashToken(raw), time.Hour)
	session.ExpiresAt = time.Now().Add(-time.Minute)
	store.sessions[session.TokenHash] = session

	if _, err := svc.CurrentUser(context.Background(), raw); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("CurrentUser() error = %v, want ErrSessionExpired", err)
	}
	if _, ok := store.sessions[session.TokenHash]; ok {
		t.Error("expired session was not deleted on sight")
	}
}

func TestLogout(t *testing.T) {
	store := newMockIdentityStore()
	svc := newTestIdentity(store)

	user := models.NewUser("a@x.io", "", "hash:secret1")
	user.EmailVerified = true
	store.addUser(user)

	_, token, _ := svc.Login(context.Background(), "a@x.io", "secret1")
	if err := svc.Logout(context.Background(), token); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if _, err := svc.CurrentUser(context.Background(), token); !errors.Is(err, ErrSessionExpired) {
		t.Error("token still valid after logout")
	}
}

func TestHashToken_Deterministic(t *testing.T) {
	if HashToken("abc") != HashToken("abc") {
		t.Error("HashToken() is not deterministic")
	}
	if HashToken("abc") == HashToken("abd") {
		t.Error("HashToken() collided on different inputs")
	}
	if len(HashToken("abc")) != 64 {
		t.Errorf("HashToken() length = %d, want 64 hex chars", len(HashToken("abc")))
	}
}
