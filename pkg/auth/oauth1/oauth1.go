// Package oauth1 authenticates requests signed with the legacy OAuth 1.0a
// RSA signature scheme.
//
// Credentials come from an "Authorization: OAuth ..." header, from oauth_*
// query parameters, or both (query wins on collision). The authenticator
// abstains when neither is present so the token scheme can handle the
// request.
//
// Every failure after parameter validation, including consumer lookup
// errors, is reported as a client authentication failure (401). This
// differs from the token scheme, which reports tenant store errors as
// server errors.
package oauth1

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/connectauth/pkg/auth"
	"github.com/rhuss/connectauth/pkg/auth/jwt"
	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/nonce"
	"github.com/rhuss/connectauth/pkg/session"
	"github.com/rhuss/connectauth/pkg/storage"
)

// OAuth parameter names.
const (
	ParamConsumerKey     = "oauth_consumer_key"
	ParamVersion         = "oauth_version"
	ParamNonce           = "oauth_nonce"
	ParamSignatureMethod = "oauth_signature_method"
	ParamTimestamp       = "oauth_timestamp"
	ParamSignature       = "oauth_signature"
)

// HeaderScheme prefixes OAuth credentials in the Authorization header.
const HeaderScheme = "OAuth "

// Sentinel errors.
var (
	ErrInvalidVersion       = errors.New("oauth1: invalid oauth_version")
	ErrInvalidTimestamp     = errors.New("oauth1: invalid oauth_timestamp")
	ErrInvalidNonce         = errors.New("oauth1: invalid oauth_nonce")
	ErrTimestampOutOfWindow = errors.New("oauth1: oauth_timestamp outside the accepted window")
)

// Config holds the signature authenticator configuration.
type Config struct {
	// Ledger rejects replayed nonces. Required.
	Ledger nonce.Ledger

	// Consumers resolves a consumer's public key when the request context
	// does not already carry one.
	Consumers storage.ConsumerStore

	// Sessions, when set, remembers verified consumers per browser session.
	Sessions *session.Manager

	// TrustSession accepts requests whose session already names a verified
	// consumer without checking their signature.
	TrustSession bool

	// Window is the replay window. Default: nonce.DefaultWindow.
	Window time.Duration

	// Now overrides the clock (useful for testing).
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = nonce.DefaultWindow
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Authenticator verifies OAuth 1.0a signed requests.
type Authenticator struct {
	config Config
}

// New creates a signature authenticator with the given configuration.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	if cfg.Sessions != nil && cfg.TrustSession {
		slog.Warn("oauth1 session trust is enabled, requests in a verified session skip signature checks")
	}
	return &Authenticator{config: cfg}
}

type publicKeyKey struct{}

// WithPublicKey attaches an already resolved consumer public key to ctx.
func WithPublicKey(ctx context.Context, pemKey string) context.Context {
	return context.WithValue(ctx, publicKeyKey{}, pemKey)
}

// PublicKeyFromContext returns the key set by WithPublicKey, or "".
func PublicKeyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(publicKeyKey{}).(string)
	return v
}

// Authenticate verifies the request signature.
//
// Decision outcomes:
//   - Yes: session already trusted and no token presented, or valid signature
//   - Abstain: no OAuth credentials in the request
//   - No (400): missing or malformed version, timestamp or nonce
//   - No (401): replayed nonce, stale timestamp, unknown consumer, store
//     failure, bad signature
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	// A presented token is always verified on its own merits.
	if a.config.Sessions != nil && a.config.TrustSession && jwt.ExtractToken(r) == "" {
		if key := session.ConsumerKey(ctx); key != "" {
			debug.Log("auth", "request accepted from session", "client_key", key)
			return auth.Accept(auth.SchemeSession, &auth.Identity{ClientKey: key})
		}
	}

	params, ok := Params(r)
	if !ok {
		return auth.AuthResult{Decision: auth.Abstain}
	}
	get := func(k string) string {
		if vs := params[k]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	consumerKey := get(ParamConsumerKey)

	version := get(ParamVersion)
	if v, err := strconv.ParseFloat(version, 64); version == "" || err != nil || math.IsNaN(v) || v > 1.0 {
		return reject(auth.BadRequest("invalid_version", ErrInvalidVersion))
	}

	stamp := get(ParamTimestamp)
	ts, err := strconv.ParseFloat(stamp, 64)
	if stamp == "" || err != nil || math.IsNaN(ts) || math.IsInf(ts, 0) {
		return reject(auth.BadRequest("invalid_timestamp", ErrInvalidTimestamp))
	}

	n := get(ParamNonce)
	if n == "" {
		return reject(auth.BadRequest("invalid_nonce", ErrInvalidNonce))
	}

	now := a.config.Now()
	if err := a.config.Ledger.Use(ctx, n, now); err != nil {
		if errors.Is(err, nonce.ErrNonceReused) {
			return reject(auth.Unauthorized("nonce_reused", err))
		}
		slog.Warn("nonce ledger unavailable", "error", err)
		return reject(auth.Unauthorized("nonce_unverifiable", err))
	}

	sec, frac := math.Modf(ts)
	if !nonce.InWindow(time.Unix(int64(sec), int64(frac*1e9)), now, a.config.Window) {
		return reject(auth.Unauthorized("timestamp_refused", ErrTimestampOutOfWindow))
	}

	publicKey := PublicKeyFromContext(ctx)
	if publicKey == "" {
		publicKey, err = a.lookupPublicKey(ctx, consumerKey)
		if err != nil {
			return reject(auth.Unauthorized(lookupCode(err), err))
		}
	}

	base := BaseString(r.Method, requestBaseURL(r), params)
	if err := VerifySignature(get(ParamSignatureMethod), base, get(ParamSignature), publicKey); err != nil {
		return reject(auth.Unauthorized("signature_invalid", err))
	}

	if a.config.Sessions != nil {
		if err := a.config.Sessions.Trust(ctx, consumerKey); err != nil {
			slog.Warn("could not record verified consumer on session", "client_key", consumerKey, "error", err)
		}
	}

	debug.Log("auth", "oauth signature verified", "client_key", consumerKey)
	return auth.Accept(auth.SchemeOAuth1, &auth.Identity{ClientKey: consumerKey})
}

func (a *Authenticator) lookupPublicKey(ctx context.Context, consumerKey string) (string, error) {
	if consumerKey == "" || a.config.Consumers == nil {
		return "", auth.ErrConsumerUnknown
	}
	key, err := a.config.Consumers.GetPublicKey(ctx, consumerKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return "", auth.ErrConsumerUnknown
	case err != nil:
		return "", errors.Join(auth.ErrLookupFailure, err)
	}
	return key, nil
}

func lookupCode(err error) string {
	if errors.Is(err, auth.ErrConsumerUnknown) {
		return "consumer_unknown"
	}
	return "consumer_lookup_failed"
}

// Params returns the OAuth header parameters merged with the query
// parameters. ok is false when the request carries no OAuth credentials.
func Params(r *http.Request) (params map[string][]string, ok bool) {
	query := r.URL.Query()
	params = make(map[string][]string)

	h := r.Header.Get("Authorization")
	hasHeader := strings.HasPrefix(h, HeaderScheme)
	if hasHeader {
		for k, v := range parseHeader(h[len(HeaderScheme):]) {
			params[k] = []string{v}
		}
	}
	for k, vs := range query {
		params[k] = vs
	}

	if hasHeader {
		return params, true
	}
	for k := range query {
		if strings.HasPrefix(k, "oauth_") {
			return params, true
		}
	}
	return nil, false
}

// parseHeader splits key="value" pairs and percent-decodes the values.
func parseHeader(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		k, v, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.Trim(strings.TrimSpace(v), `"`)
		if dec, err := url.PathUnescape(v); err == nil {
			v = dec
		}
		if k != "" {
			out[k] = v
		}
	}
	return out
}

// requestBaseURL is scheme://host/path without the query string.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.ToLower(strings.TrimSpace(strings.Split(p, ",")[0]))
	}
	return scheme + "://" + r.Host + r.URL.EscapedPath()
}

func reject(err error) auth.AuthResult {
	return auth.Reject(auth.SchemeOAuth1, err)
}
