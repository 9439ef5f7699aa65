// Package jwt authenticates requests signed by the host product with a
// token bound to the tenant's shared secret.
//
// The token is read from an "Authorization: JWT <token>" header or a jwt
// query or form parameter. Its unverified iss claim names the tenant; the
// tenant's shared secret then verifies the signature.
package jwt

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/connectauth/pkg/auth"
	"github.com/rhuss/connectauth/pkg/canonical"
	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/token"
)

// ErrQSHMismatch is returned when VerifyQSH is set and the qsh claim does
// not match the inbound request.
var ErrQSHMismatch = errors.New("jwt: query string hash does not match request")

// HeaderScheme prefixes the token in the Authorization header.
const HeaderScheme = "JWT "

// Config holds the token authenticator configuration.
type Config struct {
	// AddonKey is this add-on's key, used as iss of derived tokens.
	AddonKey string

	// Tenants resolves the shared secret for a verified issuer.
	Tenants storage.TenantStore

	// NoAuth accepts every request without verification. Operational
	// override for local development only.
	NoAuth bool

	// VerifyQSH recomputes the query string hash of the inbound request and
	// compares it with the qsh claim.
	VerifyQSH bool

	// TokenValidity is the lifetime of derived tokens. Default: 15 minutes.
	TokenValidity time.Duration

	// Now overrides the clock (useful for testing).
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.TokenValidity == 0 {
		c.TokenValidity = 15 * time.Minute
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Authenticator verifies host-signed tokens.
type Authenticator struct {
	config Config
}

// New creates a token authenticator with the given configuration.
func New(cfg Config) *Authenticator {
	cfg.applyDefaults()
	if cfg.NoAuth {
		slog.Warn("token verification is disabled, every request will be accepted")
	}
	return &Authenticator{config: cfg}
}

// Authenticate never abstains: a request reaching this authenticator
// without a token is rejected with auth.ErrMissingToken.
//
// Decision outcomes:
//   - No (401): missing token or issuer, unknown tenant, missing secret,
//     malformed token, unsupported algorithm, bad signature, expired, qsh mismatch
//   - No (500): tenant store failure
//   - Yes: verified token; the identity carries a derived token
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request) auth.AuthResult {
	if a.config.NoAuth {
		slog.Warn("auth verification is disabled, skipping validation of request", "path", r.URL.Path)
		return auth.Accept(auth.SchemeBypass, &auth.Identity{})
	}

	tokenStr := ExtractToken(r)
	if tokenStr == "" {
		return reject(auth.Unauthorized("missing_token", auth.ErrMissingToken))
	}

	unverified, err := token.Decode(tokenStr, nil, true)
	if err != nil {
		return reject(auth.Unauthorized(codeFor(err), err))
	}
	if unverified.Issuer == "" {
		return reject(auth.Unauthorized("missing_issuer", auth.ErrMissingIssuer))
	}

	settings, err := a.config.Tenants.Get(ctx, unverified.Issuer)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return reject(auth.Unauthorized("missing_secret", auth.ErrMissingSecret))
	case err != nil:
		slog.Error("could not look up stored client data", "issuer", unverified.Issuer, "error", err)
		return reject(auth.ServerError("lookup_failure", errors.Join(auth.ErrLookupFailure, err)))
	}
	if settings.SharedSecret == "" {
		return reject(auth.Unauthorized("missing_secret", auth.ErrMissingSecret))
	}

	claims, err := token.Decode(tokenStr, []byte(settings.SharedSecret), false)
	if err != nil {
		return reject(auth.Unauthorized(codeFor(err), err))
	}

	now := a.config.Now()
	if claims.Expired(now) {
		return reject(auth.Unauthorized("expired", token.ErrExpired))
	}

	if a.config.VerifyQSH {
		if err := r.ParseForm(); err != nil {
			return reject(auth.BadRequest("malformed_request", err))
		}
		if claims.QSH != canonical.QueryStringHash(canonical.FromHTTPRequest(r), true) {
			return reject(auth.Unauthorized("qsh_mismatch", ErrQSHMismatch))
		}
	}

	derived, err := a.derive(claims, settings.SharedSecret, now)
	if err != nil {
		return reject(auth.ServerError("token_derivation", err))
	}

	debug.Log("auth", "token verified", "client_key", claims.Issuer)
	return auth.Accept(auth.SchemeJWT, &auth.Identity{
		ClientKey:     claims.Issuer,
		UserAccountID: claims.Subject,
		Token:         derived,
		Context:       claims.Context,
	})
}

// derive mints a token for handlers to make follow-up calls as the add-on
// for this tenant.
func (a *Authenticator) derive(verified *token.Claims, secret string, now time.Time) (string, error) {
	return token.Encode(&token.Claims{
		Issuer:    a.config.AddonKey,
		Subject:   verified.Issuer,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(a.config.TokenValidity).Unix(),
		Context:   verified.Context,
	}, []byte(secret), token.HS256)
}

// ExtractToken returns the token from the Authorization header or the jwt
// request parameter, or "" when neither is present.
func ExtractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); len(h) > len(HeaderScheme) && strings.EqualFold(h[:len(HeaderScheme)], HeaderScheme) {
		return strings.TrimSpace(h[len(HeaderScheme):])
	}
	if v := r.URL.Query().Get(canonical.TokenParam); v != "" {
		return v
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		if err := r.ParseForm(); err == nil {
			return r.PostForm.Get(canonical.TokenParam)
		}
	}
	return ""
}

func reject(err error) auth.AuthResult {
	return auth.Reject(auth.SchemeJWT, err)
}

// codeFor maps codec errors to stable error codes.
func codeFor(err error) string {
	switch {
	case errors.Is(err, token.ErrMalformedToken):
		return "malformed_token"
	case errors.Is(err, token.ErrUnsupportedAlgorithm):
		return "unsupported_algorithm"
	case errors.Is(err, token.ErrSignatureMismatch):
		return "signature_mismatch"
	case errors.Is(err, token.ErrMissingKey):
		return "missing_key"
	default:
		return "invalid_token"
	}
}
