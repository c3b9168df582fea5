package fedauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexedwards/scs/v2"
)

const (
	// DefaultSessionCookieName names the browser session cookie.
	DefaultSessionCookieName = "fedauth_session"

	// SessionUserKey is the session key holding the bound identity id.
	SessionUserKey = "loggedInUserId"
)

// SessionConfig tunes the underlying scs session manager.
type SessionConfig struct {
	CookieName   string
	Lifetime     time.Duration
	IdleTimeout  time.Duration
	SecureCookie bool
	CookieDomain string
}

// SessionManager binds identities to browser sessions.  Session data lives
// in a pluggable scs.Store; the cookie is a browser-session cookie so the
// session ends when the user agent closes.
type SessionManager struct {
	Session *scs.SessionManager
	Users   UserStore
	Metrics *Metrics
	Logger  *slog.Logger
}

// NewSessionManager wraps store (memstore when nil) with a non-persistent cookie.
func NewSessionManager(store scs.Store, users UserStore, cfg SessionConfig) *SessionManager {
	sm := scs.New()
	if store != nil {
		sm.Store = store
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookieName
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 24 * time.Hour
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Hour
	}
	sm.Lifetime = cfg.Lifetime
	sm.IdleTimeout = cfg.IdleTimeout
	sm.Cookie.Name = cfg.CookieName
	sm.Cookie.Domain = cfg.CookieDomain
	sm.Cookie.Path = "/"
	sm.Cookie.HttpOnly = true
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Secure = cfg.SecureCookie
	sm.Cookie.Persist = false

	out := &SessionManager{Session: sm, Users: users, Logger: slog.Default()}
	sm.ErrorFunc = out.onSessionError
	return out
}

// LoadAndSave loads the session for each request and commits it before the
// response is written.
func (s *SessionManager) LoadAndSave(next http.Handler) http.Handler {
	return s.Session.LoadAndSave(next)
}

// Bind attaches identity to the current session, replacing any earlier
// binding.  The token is renewed so a pre-login token is never reused.
func (s *SessionManager) Bind(ctx context.Context, user *UserIdentity) error {
	if user == nil || user.ID == "" {
		return errors.New("cannot bind an empty identity")
	}
	if err := s.Session.RenewToken(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.Session.Put(ctx, SessionUserKey, user.ID)
	s.Metrics.sessionEvent("bound")
	return nil
}

// Resolve returns the identity bound to the session, or nil when the session
// is unbound or the bound identity no longer exists.  Store failures are
// returned and must be treated as unauthenticated.
func (s *SessionManager) Resolve(ctx context.Context) (*UserIdentity, error) {
	userId := s.Session.GetString(ctx, SessionUserKey)
	if userId == "" {
		return nil, nil
	}
	user, err := s.Users.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger().Warn("session bound to missing identity", "user_id", userId)
			s.Session.Remove(ctx, SessionUserKey)
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// BoundUserID returns the raw bound id without touching the identity store.
func (s *SessionManager) BoundUserID(ctx context.Context) string {
	return s.Session.GetString(ctx, SessionUserKey)
}

// Invalidate destroys the session.  Invalidating an empty session is fine.
func (s *SessionManager) Invalidate(ctx context.Context) error {
	if err := s.Session.Destroy(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	s.Metrics.sessionEvent("invalidated")
	return nil
}

func (s *SessionManager) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *SessionManager) onSessionError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger().Error("session store failure", "path", r.URL.Path, "error", err)
	http.Error(w, "Service temporarily unavailable", http.StatusServiceUnavailable)
}
