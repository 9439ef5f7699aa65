// Package hostrequest signs and sends requests from the add-on to a
// tenant's host product.
//
// Every request is bound to one tenant. Without impersonation it carries a
// freshly minted "JWT <token>" whose qsh claim covers the method, path and
// query. With impersonation it carries a "Bearer <token>" obtained from the
// impersonation token source instead; the two are never combined. Failures
// to resolve the tenant or to obtain a token abort before anything is sent.
package hostrequest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rhuss/connectauth/pkg/canonical"
	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/impersonation"
	"github.com/rhuss/connectauth/pkg/observability"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/token"
)

// Version is reported in the default User-Agent.
var Version = "0.1.0"

// DefaultTokenValidity is the lifetime of self-asserted request tokens.
const DefaultTokenValidity = 3 * time.Minute

// ProductBitbucket selects Bitbucket's sub claim convention.
const ProductBitbucket = "bitbucket"

// Sentinel errors.
var (
	ErrUnresolvedTenant = errors.New("hostrequest: tenant could not be resolved")
	ErrForeignURL       = errors.New("hostrequest: URL is outside the tenant base URL")
	ErrNoTokenSource    = errors.New("hostrequest: impersonation is not configured")
)

// Doer sends HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds the outbound signer configuration.
type Config struct {
	// AddonKey is the iss claim of self-asserted tokens.
	AddonKey string

	// Product is the host product family, e.g. "jira" or "bitbucket".
	Product string

	// UserAgent replaces the default "connectauth/<version>".
	UserAgent string

	// TokenValidity defaults to DefaultTokenValidity.
	TokenValidity time.Duration

	// Scopes requested for impersonation tokens.
	Scopes []string

	// Now overrides the clock (useful for testing).
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.TokenValidity <= 0 {
		c.TokenValidity = DefaultTokenValidity
	}
	if c.UserAgent == "" {
		c.UserAgent = "connectauth/" + Version
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Client creates per-tenant host clients.
type Client struct {
	tenants storage.TenantStore
	tokens  *impersonation.TokenSource
	http    Doer
	config  Config
}

// New creates a Client. tokens may be nil when impersonation is not used.
func New(tenants storage.TenantStore, tokens *impersonation.TokenSource, httpClient Doer, cfg Config) *Client {
	cfg.applyDefaults()
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{tenants: tenants, tokens: tokens, http: httpClient, config: cfg}
}

// Tenant returns a client for the tenant identified by clientKey. An empty
// or unknown key is reported when the first request is made.
func (c *Client) Tenant(clientKey string) *HostClient {
	return &HostClient{client: c, clientKey: clientKey}
}

// FromContext returns a client for the tenant authenticated on ctx.
func (c *Client) FromContext(ctx context.Context) *HostClient {
	return c.Tenant(storage.GetTenant(ctx))
}

// HostClient sends requests to one tenant, optionally as a user.
type HostClient struct {
	client    *Client
	clientKey string
	subject   *impersonation.Subject
}

// AsUser returns a copy that impersonates the user with the given key.
func (h *HostClient) AsUser(userKey string) *HostClient {
	s := impersonation.UserKey(userKey)
	return &HostClient{client: h.client, clientKey: h.clientKey, subject: &s}
}

// AsUserByAccountID returns a copy that impersonates the user with the
// given account id.
func (h *HostClient) AsUserByAccountID(accountID string) *HostClient {
	s := impersonation.AccountID(accountID)
	return &HostClient{client: h.client, clientKey: h.clientKey, subject: &s}
}

// Request describes one call to the host.
type Request struct {
	Method string

	// URL is a path relative to the tenant base URL, optionally with a
	// query string, or an absolute URL below the base URL.
	URL string

	// Query is merged with any query string in URL.
	Query url.Values

	// Header holds extra headers. A User-Agent set here wins over the
	// configured one.
	Header http.Header

	Body Body
}

// Get sends a GET request.
func (h *HostClient) Get(ctx context.Context, path string) (*http.Response, error) {
	return h.Do(ctx, &Request{Method: http.MethodGet, URL: path})
}

// Post sends a POST request with body.
func (h *HostClient) Post(ctx context.Context, path string, body Body) (*http.Response, error) {
	return h.Do(ctx, &Request{Method: http.MethodPost, URL: path, Body: body})
}

// Put sends a PUT request with body.
func (h *HostClient) Put(ctx context.Context, path string, body Body) (*http.Response, error) {
	return h.Do(ctx, &Request{Method: http.MethodPut, URL: path, Body: body})
}

// Delete sends a DELETE request.
func (h *HostClient) Delete(ctx context.Context, path string) (*http.Response, error) {
	return h.Do(ctx, &Request{Method: http.MethodDelete, URL: path})
}

// Do signs and sends req. Transport errors are returned unchanged.
func (h *HostClient) Do(ctx context.Context, req *Request) (*http.Response, error) {
	httpReq, authKind, err := h.build(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := h.client.http.Do(httpReq)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	observability.HostRequestsTotal.WithLabelValues(httpReq.Method, observability.StatusClass(status), authKind).Inc()
	observability.HostRequestDuration.WithLabelValues(httpReq.Method).Observe(time.Since(start).Seconds())
	return resp, err
}

// build resolves the tenant, signs the request and encodes the body. No
// I/O towards the host happens here.
func (h *HostClient) build(ctx context.Context, req *Request) (*http.Request, string, error) {
	settings, err := h.resolve(ctx)
	if err != nil {
		return nil, "", err
	}

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, relPath, err := resolveURL(settings.NormalizedBaseURL(), req.URL)
	if err != nil {
		return nil, "", err
	}
	query := target.Query()
	for k, vs := range req.Query {
		query[k] = append(query[k], vs...)
	}
	target.RawQuery = query.Encode()

	authHeader, authKind, err := h.authorization(ctx, settings, method, relPath, query)
	if err != nil {
		return nil, "", err
	}

	var body io.Reader
	contentType := ""
	if req.Body != nil {
		body, contentType, err = req.Body.Encode()
		if err != nil {
			return nil, "", err
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, "", fmt.Errorf("creating host request: %w", err)
	}

	httpReq.Header.Set("User-Agent", h.client.config.UserAgent)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.Body != nil && isAttachment(req.Body) {
		httpReq.Header.Set("X-Atlassian-Token", "no-check")
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	// The signer owns the Authorization header.
	httpReq.Header.Set("Authorization", authHeader)

	debug.Log("outbound", "host request signed",
		"client_key", settings.ClientKey, "method", method, "path", relPath, "auth", authKind)
	return httpReq, authKind, nil
}

func (h *HostClient) resolve(ctx context.Context) (*storage.ClientSettings, error) {
	if h.clientKey == "" {
		return nil, fmt.Errorf("%w: no client key", ErrUnresolvedTenant)
	}
	settings, err := h.client.tenants.Get(ctx, h.clientKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("%w: %q is not installed", ErrUnresolvedTenant, h.clientKey)
	case err != nil:
		return nil, errors.Join(ErrUnresolvedTenant, err)
	}
	if err := settings.Validate(); err != nil {
		return nil, errors.Join(ErrUnresolvedTenant, err)
	}
	return settings, nil
}

// authorization returns the Authorization header value and its kind
// ("jwt" or "bearer").
func (h *HostClient) authorization(ctx context.Context, settings *storage.ClientSettings, method, relPath string, query url.Values) (string, string, error) {
	cfg := h.client.config

	if h.subject != nil {
		if h.client.tokens == nil {
			return "", "", ErrNoTokenSource
		}
		access, err := h.client.tokens.Token(ctx, settings, *h.subject, cfg.Scopes)
		if err != nil {
			return "", "", err
		}
		return "Bearer " + access, "bearer", nil
	}

	now := cfg.Now()
	claims := &token.Claims{
		Issuer:    cfg.AddonKey,
		Subject:   subjectFor(cfg.Product, settings),
		QSH:       canonical.QueryStringHash(canonical.Request{Method: method, Path: relPath, Query: query}, false),
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(cfg.TokenValidity).Unix(),
	}
	signed, err := token.Encode(claims, []byte(settings.SharedSecret), token.HS256)
	if err != nil {
		return "", "", fmt.Errorf("signing host request: %w", err)
	}
	return "JWT " + signed, "jwt", nil
}

// subjectFor picks the sub claim: the client key for Bitbucket, the OAuth
// client id when the tenant has one, else the client key.
func subjectFor(product string, settings *storage.ClientSettings) string {
	if !strings.EqualFold(product, ProductBitbucket) && settings.OAuthClientID != "" {
		return settings.OAuthClientID
	}
	return settings.ClientKey
}

// resolveURL turns a relative or absolute request URL into the target URL
// and the path relative to the base URL used for the qsh.
func resolveURL(baseURL, raw string) (*url.URL, string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("%w: invalid base URL: %w", ErrUnresolvedTenant, err)
	}
	basePath := strings.TrimRight(base.Path, "/")

	u, err := url.Parse(raw)
	if err != nil {
		return nil, "", fmt.Errorf("parsing request URL: %w", err)
	}

	if u.IsAbs() {
		if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
			return nil, "", fmt.Errorf("%w: %s", ErrForeignURL, u.Redacted())
		}
		if u.Path != basePath && !strings.HasPrefix(u.Path, basePath+"/") {
			return nil, "", fmt.Errorf("%w: %s", ErrForeignURL, u.Redacted())
		}
		rel := strings.TrimPrefix(u.Path, basePath)
		return u, rel, nil
	}

	rel := u.Path
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	target := *base
	target.Path = basePath + rel
	target.RawPath = ""
	target.RawQuery = u.RawQuery
	target.Fragment = ""
	return &target, rel, nil
}
