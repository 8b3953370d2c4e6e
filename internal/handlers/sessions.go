package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
)

const sessionCookie = "sms_bridge_session"

// SessionStore keeps short-lived browser sessions established after the
// OAuth callback. A session maps an opaque token to an install id.
type SessionStore struct {
	ttl      time.Duration
	sessions *cache.Cache
}

func NewSessionStore(ttl time.Duration) *SessionStore {
	return &SessionStore{
		ttl:      ttl,
		sessions: cache.New(ttl, 2*ttl),
	}
}

// Create issues a fresh session token for installID.
func (s *SessionStore) Create(installID string) string {
	token := uuid.New().String()
	s.sessions.Set(token, installID, s.ttl)
	return token
}

// InstallID resolves the session cookie on r, if any.
func (s *SessionStore) InstallID(r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", false
	}
	v, found := s.sessions.Get(c.Value)
	if !found {
		return "", false
	}
	return v.(string), true
}

// SetCookie attaches the session token to the response.
func (s *SessionStore) SetCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl.Seconds()),
	})
}
