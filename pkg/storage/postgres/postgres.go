// Package postgres provides a PostgreSQL TenantStore on pgx/v5, for
// deployments where several add-on replicas share tenant registrations.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/storage"
)

// Store is a PostgreSQL-backed TenantStore.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements the storage contracts at compile time.
var (
	_ storage.TenantStore   = (*Store)(nil)
	_ storage.ConsumerStore = (*Store)(nil)
)

// New creates a new PostgreSQL store with the given configuration.
// If MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// Get returns the settings registered for clientKey.
func (s *Store) Get(ctx context.Context, clientKey string) (*storage.ClientSettings, error) {
	var (
		cs            storage.ClientSettings
		oauthClientID *string
		publicKey     *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT client_key, shared_secret, base_url, oauth_client_id, public_key
		FROM client_settings
		WHERE client_key = $1
	`, clientKey).Scan(&cs.ClientKey, &cs.SharedSecret, &cs.BaseURL, &oauthClientID, &publicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying client settings: %w", err)
	}

	if oauthClientID != nil {
		cs.OAuthClientID = *oauthClientID
	}
	if publicKey != nil {
		cs.PublicKey = *publicKey
	}
	return &cs, nil
}

// Save validates and upserts settings keyed by client key.
func (s *Store) Save(ctx context.Context, settings *storage.ClientSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO client_settings (client_key, shared_secret, base_url, oauth_client_id, public_key)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (client_key) DO UPDATE SET
			shared_secret   = EXCLUDED.shared_secret,
			base_url        = EXCLUDED.base_url,
			oauth_client_id = EXCLUDED.oauth_client_id,
			public_key      = EXCLUDED.public_key,
			updated_at      = now()
	`,
		settings.ClientKey, settings.SharedSecret, settings.BaseURL,
		nullString(settings.OAuthClientID), nullString(settings.PublicKey),
	)
	if err != nil {
		return fmt.Errorf("saving client settings: %w", err)
	}

	debug.Log("storage", "tenant saved", "backend", "postgres", "client_key", settings.ClientKey)
	return nil
}

// Delete removes the record for clientKey.
func (s *Store) Delete(ctx context.Context, clientKey string) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM client_settings WHERE client_key = $1", clientKey)
	if err != nil {
		return fmt.Errorf("deleting client settings: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetPublicKey returns the consumer public key kept on the tenant record.
func (s *Store) GetPublicKey(ctx context.Context, consumerKey string) (string, error) {
	var publicKey *string
	err := s.pool.QueryRow(ctx,
		"SELECT public_key FROM client_settings WHERE client_key = $1", consumerKey,
	).Scan(&publicKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("querying public key: %w", err)
	}
	if publicKey == nil || *publicKey == "" {
		return "", storage.ErrNotFound
	}
	return *publicKey, nil
}

// HealthCheck pings the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
