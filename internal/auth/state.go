package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"github.com/rs/zerolog"
)

func init() {
	gob.Register(uuid.UUID{})
}

const (
	// stateCookieName is the cookie that carries OAuth round-trip state.
	stateCookieName = "mongard_oauth"
	// stateKey is the session key for the pending OAuth state.
	stateKey = "oauth_state"
	// stateUserKey is the session key for the user who started the flow.
	stateUserKey = "oauth_user"
	// stateMaxAge bounds how long a started OAuth flow stays redeemable.
	stateMaxAge = 600 // seconds
)

// StateStore keeps the OAuth state parameter in a signed cookie across the
// redirect to the provider and back. Login itself is bearer-token; only the
// storage OAuth flows ride a cookie, because the browser returns from the
// provider without our Authorization header. The cookie also names the user
// who started the flow, so the callback can finish it without one.
type StateStore struct {
	store  *sessions.CookieStore
	logger zerolog.Logger
}

// NewStateStore creates a StateStore. The secret signs the cookie and must
// be at least 32 bytes.
func NewStateStore(secret []byte, secure bool, logger zerolog.Logger) (*StateStore, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("state cookie secret must be at least 32 bytes")
	}

	store := sessions.NewCookieStore(secret)
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   stateMaxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &StateStore{
		store:  store,
		logger: logger.With().Str("component", "oauth_state").Logger(),
	}, nil
}

// GenerateState returns a cryptographically random state parameter.
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// SetPending stores the OAuth state and the initiating user in the cookie.
func (s *StateStore) SetPending(r *http.Request, w http.ResponseWriter, state string, userID uuid.UUID) error {
	session, err := s.store.Get(r, stateCookieName)
	if err != nil {
		// A tampered or stale cookie decodes into a fresh session; only
		// a save failure is fatal.
		s.logger.Debug().Err(err).Msg("resetting oauth state cookie")
	}
	session.Values[stateKey] = state
	session.Values[stateUserKey] = userID
	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save oauth state: %w", err)
	}
	return nil
}

// ConsumePending retrieves and clears the pending OAuth state. A missing
// state is an error: either the flow was never started here or the cookie
// expired.
func (s *StateStore) ConsumePending(r *http.Request, w http.ResponseWriter) (string, uuid.UUID, error) {
	session, err := s.store.Get(r, stateCookieName)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("get oauth state: %w", err)
	}
	state, ok := session.Values[stateKey].(string)
	if !ok || state == "" {
		return "", uuid.Nil, fmt.Errorf("no pending oauth state")
	}
	userID, ok := session.Values[stateUserKey].(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return "", uuid.Nil, fmt.Errorf("no user in oauth state")
	}
	delete(session.Values, stateKey)
	delete(session.Values, stateUserKey)
	if err := session.Save(r, w); err != nil {
		return "", uuid.Nil, fmt.Errorf("clear oauth state: %w", err)
	}
	return state, userID, nil
}
