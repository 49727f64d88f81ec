package auth

import (
	"crypto/sha256"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/sessions"
)

// SessionName is the name of the OAuth session cookie.
const SessionName = "integration-oauth"

// sessionKeyReturnTo holds where to send the browser after the provider callback.
const sessionKeyReturnTo = "return_to"

// SessionStore keeps the short-lived return_to value across the provider redirect.
type SessionStore struct {
	store   sessions.Store
	options *sessions.Options
	// allowedOrigin restricts return_to to this service's frontend.
	allowedOrigin string
}

// NewSessionStore creates a cookie-backed store.
//
// The secret is SHA-256 hashed to derive the signing key and must be stable across
// restarts and replicas. The cookie lives 10 minutes and uses SameSite=Lax because
// the callback is a cross-site top-level navigation from the provider.
func NewSessionStore(secret, frontendURL string, secure bool) *SessionStore {
	key := sha256.Sum256([]byte(secret))

	store := sessions.NewCookieStore(key[:])
	store.Options = &sessions.Options{
		Path:     "/api/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	origin := ""
	if u, err := url.Parse(frontendURL); err == nil {
		origin = u.Scheme + "://" + u.Host
	}
	return &SessionStore{store: store, options: store.Options, allowedOrigin: origin}
}

// SetCookieDomain scopes the session cookie to domain. Empty means host-only.
func (s *SessionStore) SetCookieDomain(domain string) {
	s.options.Domain = domain
}

// SaveReturnTo remembers returnTo when it points at the frontend. Other values are ignored.
func (s *SessionStore) SaveReturnTo(w http.ResponseWriter, r *http.Request, returnTo string) error {
	if !s.isAllowed(returnTo) {
		return nil
	}
	session, err := s.store.Get(r, SessionName)
	if err != nil && session == nil {
		return err
	}
	session.Values[sessionKeyReturnTo] = returnTo
	return session.Save(r, w)
}

// PopReturnTo returns and clears the remembered value, or "" when there is none.
// The value is still returned when expiring the cookie fails; the error reports that failure.
func (s *SessionStore) PopReturnTo(w http.ResponseWriter, r *http.Request) (string, error) {
	session, err := s.store.Get(r, SessionName)
	if err != nil || session == nil {
		return "", nil
	}
	returnTo, _ := session.Values[sessionKeyReturnTo].(string)
	if returnTo == "" {
		return "", nil
	}
	delete(session.Values, sessionKeyReturnTo)
	session.Options.MaxAge = -1
	saveErr := session.Save(r, w)
	if !s.isAllowed(returnTo) {
		return "", saveErr
	}
	return returnTo, saveErr
}

func (s *SessionStore) isAllowed(returnTo string) bool {
	if returnTo == "" {
		return false
	}
	// Relative paths stay on the frontend; "//host" is protocol-relative and not relative.
	if strings.HasPrefix(returnTo, "/") && !strings.HasPrefix(returnTo, "//") {
		return true
	}
	u, err := url.Parse(returnTo)
	if err != nil {
		return false
	}
	return s.allowedOrigin != "" && u.Scheme+"://"+u.Host == s.allowedOrigin
}
