package token

import (
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Claims is the payload carried by a token. Numeric dates are Unix seconds.
type Claims struct {
	Issuer    string `json:"iss,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	QSH       string `json:"qsh,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`

	// Tenant names the tenant base URL in token exchange assertions.
	Tenant string `json:"tnt,omitempty"`

	// Context carries host-specific data such as the acting user.
	Context map[string]any `json:"context,omitempty"`
}

// Expired reports whether the exp claim is set and now is at or past it.
func (c *Claims) Expired(now time.Time) bool {
	return c.ExpiresAt != 0 && now.UTC().Unix() >= c.ExpiresAt
}

// The methods below satisfy jwtlib.Claims. The parser never validates claims
// itself (see Decode), so they only expose values.

func (c *Claims) GetExpirationTime() (*jwtlib.NumericDate, error) {
	return numericDate(c.ExpiresAt), nil
}

func (c *Claims) GetIssuedAt() (*jwtlib.NumericDate, error) {
	return numericDate(c.IssuedAt), nil
}

func (c *Claims) GetNotBefore() (*jwtlib.NumericDate, error) {
	return nil, nil
}

func (c *Claims) GetIssuer() (string, error) {
	return c.Issuer, nil
}

func (c *Claims) GetSubject() (string, error) {
	return c.Subject, nil
}

func (c *Claims) GetAudience() (jwtlib.ClaimStrings, error) {
	if c.Audience == "" {
		return nil, nil
	}
	return jwtlib.ClaimStrings{c.Audience}, nil
}

func numericDate(sec int64) *jwtlib.NumericDate {
	if sec == 0 {
		return nil
	}
	return jwtlib.NewNumericDate(time.Unix(sec, 0))
}
