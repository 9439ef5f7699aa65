// Package session keeps per-browser trust for the legacy signature scheme.
//
// The signature authenticator verifies a consumer once and calls Trust;
// later requests carrying the session cookie are accepted from the
// stored consumer key without re-verifying.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/connectauth/pkg/debug"
)

// Defaults.
const (
	DefaultCookieName = "connectauth_session"
	DefaultTTL        = 30 * time.Minute
)

// Sentinel errors.
var (
	ErrNotFound  = errors.New("session: not found")
	ErrNoSession = errors.New("session: request is not served by the session middleware")
)

// Session is the state kept for one browser session.
type Session struct {
	ID          string    `json:"id"`
	ConsumerKey string    `json:"consumerKey"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Store persists sessions.
type Store interface {
	// Get returns the session or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Save stores the session for ttl.
	Save(ctx context.Context, s *Session, ttl time.Duration) error

	// Delete removes the session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error
}

// Config holds session manager settings.
type Config struct {
	CookieName string
	TTL        time.Duration
	Secure     bool
}

// Manager binds sessions to requests through a cookie.
type Manager struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewManager creates a manager over store.
func NewManager(store Store, cfg Config) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Manager{store: store, config: cfg, now: time.Now}
}

type contextKey struct{}

// state is attached to each request by Middleware.
type state struct {
	w       http.ResponseWriter
	session *Session
}

// Middleware loads the session named by the request cookie, if any, and
// lets downstream code read it with ConsumerKey or establish it with Trust.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := &state{w: w}

		if c, err := r.Cookie(m.config.CookieName); err == nil && c.Value != "" {
			s, err := m.store.Get(r.Context(), c.Value)
			switch {
			case err == nil:
				st.session = s
			case errors.Is(err, ErrNotFound):
				debug.Log("auth", "session cookie names no stored session")
			default:
				slog.Warn("loading session failed", "error", err)
			}
		}

		ctx := context.WithValue(r.Context(), contextKey{}, st)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ConsumerKey returns the consumer key trusted by the current session, or
// "" when there is none.
func ConsumerKey(ctx context.Context) string {
	st, _ := ctx.Value(contextKey{}).(*state)
	if st == nil || st.session == nil {
		return ""
	}
	return st.session.ConsumerKey
}

// Trust records consumerKey on the current session, creating the session
// and setting its cookie when the request has none.
func (m *Manager) Trust(ctx context.Context, consumerKey string) error {
	st, _ := ctx.Value(contextKey{}).(*state)
	if st == nil {
		return ErrNoSession
	}

	s := st.session
	if s == nil {
		s = &Session{ID: uuid.NewString(), CreatedAt: m.now()}
	}
	s.ConsumerKey = consumerKey

	if err := m.store.Save(ctx, s, m.config.TTL); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	if st.session == nil {
		http.SetCookie(st.w, &http.Cookie{
			Name:     m.config.CookieName,
			Value:    s.ID,
			Path:     "/",
			MaxAge:   int(m.config.TTL.Seconds()),
			HttpOnly: true,
			Secure:   m.config.Secure,
			SameSite: http.SameSiteNoneMode,
		})
	}
	st.session = s
	return nil
}
