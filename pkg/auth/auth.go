package auth

import (
	"context"
	"net/http"
)

// AuthDecision represents the three possible outcomes of authentication.
type AuthDecision int

const (
	// Yes means credentials are valid. The chain stops and the identity is used.
	Yes AuthDecision = iota

	// No means credentials are present but invalid. The chain stops and the
	// request is rejected.
	No

	// Abstain means this authenticator cannot handle the credentials type.
	// The chain continues to the next authenticator.
	Abstain
)

// Scheme names used in identities and metrics.
const (
	SchemeJWT     = "jwt"
	SchemeOAuth1  = "oauth1"
	SchemeSession = "session"
	SchemeBypass  = "bypass"
)

// AuthResult carries the outcome of an authentication attempt.
type AuthResult struct {
	Decision AuthDecision
	Scheme   string
	Identity *Identity // populated only when Decision == Yes
	Err      error     // populated only when Decision == No
}

// Identity is a verified caller: a tenant, optionally acting for a user.
type Identity struct {
	// ClientKey is the tenant's client key (the verified iss claim or the
	// OAuth consumer key).
	ClientKey string

	// Scheme is the authenticator that produced the identity.
	Scheme string

	// UserAccountID is the sub claim of an inbound token, when the host
	// acted on behalf of a user.
	UserAccountID string

	// Token is a self-issued token for this tenant (iss = add-on key,
	// sub = ClientKey). Handlers pass it on to the browser or reuse it
	// for follow-up calls.
	Token string

	// Context carries the host-provided context claim of an inbound token.
	Context map[string]any
}

// Authenticator examines request credentials and returns a three-outcome vote.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) AuthResult
}

// AuthChain evaluates authenticators in order using three-outcome voting.
type AuthChain struct {
	// Authenticators are evaluated left to right.
	Authenticators []Authenticator
}

// Authenticate runs the chain. Stops on the first Yes or No.
// If all abstain, the request is rejected with ErrUnauthenticated.
func (c *AuthChain) Authenticate(ctx context.Context, r *http.Request) AuthResult {
	for _, authn := range c.Authenticators {
		result := authn.Authenticate(ctx, r)
		if result.Decision != Abstain {
			return result
		}
	}

	return AuthResult{
		Decision: No,
		Err:      Unauthorized("unauthenticated", ErrUnauthenticated),
	}
}

// Accept builds a Yes result.
func Accept(scheme string, id *Identity) AuthResult {
	id.Scheme = scheme
	return AuthResult{Decision: Yes, Scheme: scheme, Identity: id}
}

// Reject builds a No result carrying a classified error.
func Reject(scheme string, err error) AuthResult {
	return AuthResult{Decision: No, Scheme: scheme, Err: err}
}
