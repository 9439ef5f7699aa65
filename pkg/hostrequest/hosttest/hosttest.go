// Package hosttest provides a fake host product for exercising add-ons
// end to end.
//
// A Host verifies the self-asserted tokens the add-on sends to it, serves
// the OAuth 2.0 JWT bearer grant used for user impersonation, and mints
// host-signed tokens for calling the add-on.
package hosttest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rhuss/connectauth/pkg/canonical"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/token"
)

// MyselfPath is the resource answered with the calling principal.
const MyselfPath = "/rest/api/latest/myself"

const (
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"
	clientIDPrefix     = "urn:atlassian:connect:clientid:"
	accountIDPrefix    = "urn:atlassian:connect:useraccountid:"
	userKeyPrefix      = "urn:atlassian:connect:userkey:"
	accessTokenTTL     = 15 * time.Minute
)

// Config describes the single tenant the host serves.
type Config struct {
	AddonKey      string
	ClientKey     string
	SharedSecret  string
	OAuthClientID string

	// Now overrides the clock (useful for testing).
	Now func() time.Time
}

// Principal is the body of a MyselfPath response.
type Principal struct {
	// Auth is "jwt" for add-on calls and "bearer" for impersonated calls.
	Auth string `json:"auth"`

	// Subject is the sub claim of the add-on token or the impersonated user.
	Subject string `json:"subject"`
}

// Host is a fake host product. The zero value is not usable; call New or
// NewServer.
type Host struct {
	config Config

	mu       sync.Mutex
	issued   map[string]string // access token -> user subject
	requests []*http.Request
	grants   int
}

// New creates a Host. Serve it with Handler.
func New(cfg Config) *Host {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Host{config: cfg, issued: make(map[string]string)}
}

// Server is a Host listening on a local httptest server.
type Server struct {
	*Host
	*httptest.Server
}

// NewServer starts a Host. Callers must Close it.
func NewServer(cfg Config) *Server {
	h := New(cfg)
	return &Server{Host: h, Server: httptest.NewServer(h.Handler())}
}

// Settings returns the tenant record an add-on stores for this host.
func (s *Server) Settings() storage.ClientSettings {
	return storage.ClientSettings{
		ClientKey:     s.config.ClientKey,
		SharedSecret:  s.config.SharedSecret,
		BaseURL:       s.URL,
		OAuthClientID: s.config.OAuthClientID,
	}
}

// Handler serves MyselfPath and the token endpoint.
func (h *Host) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+MyselfPath, h.handleMyself)
	mux.HandleFunc("POST /oauth2/token", h.handleToken)
	return h.record(mux)
}

// Requests returns the requests received so far.
func (h *Host) Requests() []*http.Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*http.Request(nil), h.requests...)
}

// Grants returns how many access tokens the token endpoint issued.
func (h *Host) Grants() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.grants
}

// SignedToken returns a token the host would attach when calling the
// add-on at method and target (path plus optional query), acting for the
// user sub.
func (h *Host) SignedToken(method, target, sub string) (string, error) {
	req, err := http.NewRequest(method, target, nil)
	if err != nil {
		return "", err
	}
	now := h.config.Now()
	return token.Encode(&token.Claims{
		Issuer:    h.config.ClientKey,
		Subject:   sub,
		QSH:       canonical.QueryStringHash(canonical.FromHTTPRequest(req), false),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(3 * time.Minute).Unix(),
	}, []byte(h.config.SharedSecret), token.HS256)
}

func (h *Host) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.requests = append(h.requests, r.Clone(r.Context()))
		h.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (h *Host) handleMyself(w http.ResponseWriter, r *http.Request) {
	authz := r.Header.Get("Authorization")
	switch {
	case strings.HasPrefix(authz, "JWT "):
		claims, err := h.verifyAddonToken(r, strings.TrimPrefix(authz, "JWT "))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, Principal{Auth: "jwt", Subject: claims.Subject})

	case strings.HasPrefix(authz, "Bearer "):
		h.mu.Lock()
		user, ok := h.issued[strings.TrimPrefix(authz, "Bearer ")]
		h.mu.Unlock()
		if !ok {
			writeError(w, http.StatusUnauthorized, "unknown access token")
			return
		}
		writeJSON(w, http.StatusOK, Principal{Auth: "bearer", Subject: user})

	default:
		writeError(w, http.StatusUnauthorized, "missing credentials")
	}
}

// verifyAddonToken checks a self-asserted add-on token the way a host does.
func (h *Host) verifyAddonToken(r *http.Request, tok string) (*token.Claims, error) {
	claims, err := token.Decode(tok, []byte(h.config.SharedSecret), false)
	if err != nil {
		return nil, err
	}
	if claims.Expired(h.config.Now()) {
		return nil, token.ErrExpired
	}
	if claims.Issuer != h.config.AddonKey {
		return nil, fmt.Errorf("unexpected issuer %q", claims.Issuer)
	}
	if want := canonical.QueryStringHash(canonical.FromHTTPRequest(r), false); claims.QSH != want {
		return nil, fmt.Errorf("qsh mismatch")
	}
	return claims, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

func (h *Host) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("grant_type") != grantTypeJWTBearer {
		writeOAuthError(w, "unsupported_grant_type")
		return
	}

	claims, err := token.Decode(r.PostForm.Get("assertion"), []byte(h.config.SharedSecret), false)
	if err != nil || claims.Expired(h.config.Now()) {
		writeOAuthError(w, "invalid_grant")
		return
	}
	if claims.Issuer != clientIDPrefix+h.config.OAuthClientID {
		writeOAuthError(w, "invalid_client")
		return
	}
	user := strings.TrimPrefix(strings.TrimPrefix(claims.Subject, accountIDPrefix), userKeyPrefix)
	if user == claims.Subject || user == "" {
		writeOAuthError(w, "invalid_grant")
		return
	}

	access := uuid.NewString()
	h.mu.Lock()
	h.issued[access] = user
	h.grants++
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(accessTokenTTL.Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func writeOAuthError(w http.ResponseWriter, code string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": code})
}
