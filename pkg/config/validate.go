package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	// addon.key is the iss of every outbound token.
	if c.Addon.Key == "" {
		errs = append(errs, fmt.Errorf("addon.key is required"))
	}

	// server.port must be positive.
	if c.Server.Port <= 0 {
		errs = append(errs, fmt.Errorf("server.port must be > 0, got %d", c.Server.Port))
	}

	if c.Addon.JWT.Validity <= 0 {
		errs = append(errs, fmt.Errorf("addon.jwt.validity must be > 0, got %s", c.Addon.JWT.Validity))
	}

	// storage.type must be a known value.
	switch c.Storage.Type {
	case "memory", "postgres":
		// valid
	default:
		errs = append(errs, fmt.Errorf("storage.type must be \"memory\" or \"postgres\", got %q", c.Storage.Type))
	}

	// If storage.type is "postgres", DSN or DSNFile must be set.
	if c.Storage.Type == "postgres" {
		if c.Storage.Postgres.DSN == "" && c.Storage.Postgres.DSNFile == "" {
			errs = append(errs, fmt.Errorf("storage.postgres.dsn or storage.postgres.dsn_file is required when storage.type is \"postgres\""))
		}
	}

	for i := range c.Storage.Tenants {
		if err := c.Storage.Tenants[i].Validate(); err != nil {
			errs = append(errs, fmt.Errorf("storage.tenants[%d]: %w", i, err))
		}
	}

	if c.Auth.ReplayWindow <= 0 {
		errs = append(errs, fmt.Errorf("auth.replay_window must be > 0, got %s", c.Auth.ReplayWindow))
	}
	if err := validateBackend("auth.nonce", c.Auth.Nonce); err != nil {
		errs = append(errs, err)
	}
	if err := validateBackend("auth.session.store", c.Auth.Session.Store); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("auth.rate_limit.requests_per_minute must be >= 0, got %d", c.Auth.RateLimit.RequestsPerMinute))
	}

	if err := validateBackend("oauth2.cache", c.OAuth2.Cache); err != nil {
		errs = append(errs, err)
	}
	if c.OAuth2.AuthorizationServerURL != "" {
		if u, err := url.Parse(c.OAuth2.AuthorizationServerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("oauth2.authorization_server_url %q is not an absolute URL", c.OAuth2.AuthorizationServerURL))
		}
	}

	// redis.addr is required once any component selects redis.
	if c.UsesRedis() && c.Redis.Addr == "" {
		errs = append(errs, fmt.Errorf("redis.addr is required when a redis backend is selected"))
	}

	return errors.Join(errs...)
}

func validateBackend(field, value string) error {
	switch value {
	case "memory", "redis":
		return nil
	}
	return fmt.Errorf("%s must be \"memory\" or \"redis\", got %q", field, value)
}
