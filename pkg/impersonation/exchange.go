package impersonation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/storage"
	"github.com/rhuss/connectauth/pkg/token"
)

const (
	// DefaultAuthorizationServerURL is the host product's authorization server.
	DefaultAuthorizationServerURL = "https://oauth-2-authorization-server.services.atlassian.com"

	//nolint:gosec // G101: grant type URN, not a credential
	grantTypeJWTBearer = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	assertionLifetime  = 60 * time.Second
	defaultHTTPTimeout = 30 * time.Second
)

// ErrNoOAuthClient is returned when the tenant has no OAuth client id, so
// user impersonation is not available for it.
var ErrNoOAuthClient = errors.New("impersonation: tenant has no oauth client id")

// JWTBearerExchanger implements the OAuth 2.0 JWT bearer grant: it signs an
// assertion naming the user with the tenant's shared secret and posts it to
// the authorization server's token endpoint.
type JWTBearerExchanger struct {
	// AuthorizationServerURL defaults to DefaultAuthorizationServerURL.
	AuthorizationServerURL string

	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client

	// Now overrides the clock (useful for testing).
	Now func() time.Time
}

// Exchange requests an access token for subject.
func (x *JWTBearerExchanger) Exchange(ctx context.Context, settings *storage.ClientSettings, subject Subject, scopes []string) (*Entry, error) {
	if settings.OAuthClientID == "" {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailure, ErrNoOAuthClient)
	}

	serverURL := strings.TrimRight(x.AuthorizationServerURL, "/")
	if serverURL == "" {
		serverURL = DefaultAuthorizationServerURL
	}
	now := time.Now()
	if x.Now != nil {
		now = x.Now()
	}

	assertion, err := token.Encode(&token.Claims{
		Issuer:    "urn:atlassian:connect:clientid:" + settings.OAuthClientID,
		Subject:   subject.Claim(),
		Tenant:    settings.NormalizedBaseURL(),
		Audience:  serverURL,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(assertionLifetime).Unix(),
	}, []byte(settings.SharedSecret), token.HS256)
	if err != nil {
		return nil, fmt.Errorf("%w: signing assertion: %w", ErrExchangeFailure, err)
	}

	// clientcredentials lets EndpointParams replace grant_type, which turns
	// it into a JWT bearer client with form-encoded parameters.
	conf := clientcredentials.Config{
		TokenURL:  serverURL + "/oauth2/token",
		Scopes:    scopes,
		AuthStyle: oauth2.AuthStyleInParams,
		EndpointParams: url.Values{
			"grant_type": {grantTypeJWTBearer},
			"assertion":  {assertion},
		},
	}

	client := x.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)

	debug.Log("exchange", "requesting impersonation token",
		"client_key", settings.ClientKey, "token_url", conf.TokenURL, "scopes", strings.Join(scopes, " "))

	tok, err := conf.Token(ctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return nil, fmt.Errorf("%w: authorization server returned status %d: %s",
				ErrExchangeFailure, rerr.Response.StatusCode, rerr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailure, err)
	}

	return &Entry{AccessToken: tok.AccessToken, ExpiresAt: tok.Expiry}, nil
}

var _ Exchanger = (*JWTBearerExchanger)(nil)
