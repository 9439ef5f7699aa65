// Package impersonation obtains bearer tokens that let the add-on call the
// host product on behalf of a specific user.
//
// A TokenSource returns a cached token for a (tenant, user, scopes) key while
// it is unexpired, and otherwise exchanges a fresh one through an Exchanger.
// Concurrent misses for the same key share one exchange. Entries are
// published to the cache only once complete.
package impersonation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/observability"
	"github.com/rhuss/connectauth/pkg/storage"
)

// DefaultLeeway is subtracted from an entry's expiry so a token is never
// handed out just before it lapses.
const DefaultLeeway = 30 * time.Second

// Sentinel errors.
var (
	ErrExchangeFailure = errors.New("impersonation: token exchange failed")
	ErrInvalidSubject  = errors.New("impersonation: exactly one of user key or account id is required")
	ErrCacheMiss       = errors.New("impersonation: cache miss")
)

// Subject names the user to impersonate. Exactly one field is set.
type Subject struct {
	UserKey   string
	AccountID string
}

// UserKey selects a user by the legacy user key.
func UserKey(key string) Subject { return Subject{UserKey: key} }

// AccountID selects a user by account id.
func AccountID(id string) Subject { return Subject{AccountID: id} }

// Validate checks that exactly one identifier is set.
func (s Subject) Validate() error {
	if (s.UserKey == "") == (s.AccountID == "") {
		return ErrInvalidSubject
	}
	return nil
}

// Claim returns the sub claim used in the exchange assertion.
func (s Subject) Claim() string {
	if s.AccountID != "" {
		return "urn:atlassian:connect:useraccountid:" + s.AccountID
	}
	return "urn:atlassian:connect:userkey:" + s.UserKey
}

// Entry is a cached access token.
type Entry struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Cache stores entries by key. Get returns ErrCacheMiss when nothing usable
// is stored. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
}

// Exchanger trades tenant credentials for a user access token.
type Exchanger interface {
	Exchange(ctx context.Context, settings *storage.ClientSettings, subject Subject, scopes []string) (*Entry, error)
}

// Option configures a TokenSource.
type Option func(*TokenSource)

// WithLeeway overrides DefaultLeeway.
func WithLeeway(d time.Duration) Option {
	return func(s *TokenSource) {
		if d >= 0 {
			s.leeway = d
		}
	}
}

// WithClock overrides the time source (useful for testing).
func WithClock(now func() time.Time) Option {
	return func(s *TokenSource) { s.now = now }
}

// TokenSource hands out impersonation tokens.
type TokenSource struct {
	cache     Cache
	exchanger Exchanger
	leeway    time.Duration
	now       func() time.Time
	group     singleflight.Group
}

// NewTokenSource creates a token source over cache and exchanger.
func NewTokenSource(cache Cache, exchanger Exchanger, opts ...Option) *TokenSource {
	s := &TokenSource{
		cache:     cache,
		exchanger: exchanger,
		leeway:    DefaultLeeway,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CacheKey identifies the token for one tenant, subject and scope set.
func CacheKey(clientKey string, subject Subject, scopes []string) string {
	sorted := normalizeScopes(scopes)
	return clientKey + "|" + subject.Claim() + "|" + strings.Join(sorted, " ")
}

// Token returns an access token for subject within the tenant.
func (s *TokenSource) Token(ctx context.Context, settings *storage.ClientSettings, subject Subject, scopes []string) (string, error) {
	if err := subject.Validate(); err != nil {
		return "", err
	}
	key := CacheKey(settings.ClientKey, subject, scopes)

	if e := s.cached(ctx, key); e != nil {
		observability.ImpersonationCacheTotal.WithLabelValues("hit").Inc()
		return e.AccessToken, nil
	}
	observability.ImpersonationCacheTotal.WithLabelValues("miss").Inc()

	// The exchange outlives any single caller; each caller stops waiting on
	// its own context. The exchanger's HTTP client bounds the call.
	exchangeCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		// Another caller may have published while we waited.
		if e := s.cached(exchangeCtx, key); e != nil {
			return e, nil
		}

		e, err := s.exchanger.Exchange(exchangeCtx, settings, subject, normalizeScopes(scopes))
		if err != nil {
			observability.TokenExchangesTotal.WithLabelValues("error").Inc()
			if derr := s.cache.Delete(exchangeCtx, key); derr != nil {
				slog.Warn("could not invalidate impersonation token", "client_key", settings.ClientKey, "error", derr)
			}
			if errors.Is(err, ErrExchangeFailure) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrExchangeFailure, err)
		}
		observability.TokenExchangesTotal.WithLabelValues("success").Inc()

		if !e.ExpiresAt.IsZero() {
			if err := s.cache.Set(exchangeCtx, key, e); err != nil {
				slog.Warn("could not cache impersonation token", "client_key", settings.ClientKey, "error", err)
			}
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		debug.Log("exchange", "impersonation token ready", "client_key", settings.ClientKey, "shared", res.Shared)
		return res.Val.(*Entry).AccessToken, nil
	}
}

// cached returns a usable entry or nil. Cache errors count as misses.
func (s *TokenSource) cached(ctx context.Context, key string) *Entry {
	e, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			slog.Warn("impersonation cache read failed", "error", err)
		}
		return nil
	}
	if !s.now().Before(e.ExpiresAt.Add(-s.leeway)) {
		return nil
	}
	return e
}

func normalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	seen := make(map[string]bool, len(scopes))
	for _, sc := range scopes {
		sc = strings.ToUpper(strings.TrimSpace(sc))
		if sc == "" || seen[sc] {
			continue
		}
		seen[sc] = true
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}
