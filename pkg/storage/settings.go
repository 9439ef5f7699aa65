package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ClientSettings is the per-tenant record written when the add-on is
// installed into a host instance.
type ClientSettings struct {
	// ClientKey identifies the tenant. Inbound tokens carry it as iss.
	ClientKey string `json:"clientKey" yaml:"client_key"`

	// SharedSecret signs tokens in both directions.
	SharedSecret string `json:"sharedSecret" yaml:"shared_secret"`

	// BaseURL is the tenant's host instance, e.g. https://example.atlassian.net/wiki.
	BaseURL string `json:"baseUrl" yaml:"base_url"`

	// OAuthClientID is set when the tenant supports user impersonation.
	OAuthClientID string `json:"oauthClientId,omitempty" yaml:"oauth_client_id"`

	// PublicKey is the PEM-encoded consumer key used by the signature scheme.
	PublicKey string `json:"publicKey,omitempty" yaml:"public_key"`
}

// Validate checks the fields every reader relies on.
func (s *ClientSettings) Validate() error {
	var errs []error
	if s.ClientKey == "" {
		errs = append(errs, errors.New("clientKey is required"))
	}
	if s.BaseURL == "" {
		errs = append(errs, errors.New("baseUrl is required"))
	} else if u, err := url.Parse(s.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("baseUrl %q is not an absolute URL", s.BaseURL))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, errors.Join(errs...))
	}
	return nil
}

// NormalizedBaseURL returns BaseURL without a trailing slash.
func (s *ClientSettings) NormalizedBaseURL() string {
	return strings.TrimRight(s.BaseURL, "/")
}

// TenantStore resolves tenant settings by client key. Get returns
// ErrNotFound when nothing is registered.
type TenantStore interface {
	Get(ctx context.Context, clientKey string) (*ClientSettings, error)
	Save(ctx context.Context, settings *ClientSettings) error
	Delete(ctx context.Context, clientKey string) error
	HealthCheck(ctx context.Context) error
	Close() error
}

// ConsumerStore resolves the PEM public key of a signature-scheme consumer.
// GetPublicKey returns ErrNotFound when the consumer is unknown.
type ConsumerStore interface {
	GetPublicKey(ctx context.Context, consumerKey string) (string, error)
}

// PublicKeyFromTenants adapts a TenantStore to ConsumerStore, treating the
// consumer key as a client key.
func PublicKeyFromTenants(ts TenantStore) ConsumerStore {
	return tenantConsumers{ts}
}

type tenantConsumers struct {
	ts TenantStore
}

func (c tenantConsumers) GetPublicKey(ctx context.Context, consumerKey string) (string, error) {
	s, err := c.ts.Get(ctx, consumerKey)
	if err != nil {
		return "", err
	}
	if s.PublicKey == "" {
		return "", ErrNotFound
	}
	return s.PublicKey, nil
}
