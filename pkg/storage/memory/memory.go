// Package memory provides an in-memory TenantStore for tests and
// single-replica deployments. Settings are lost when the process restarts.
package memory

import (
	"context"
	"sync"

	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/storage"
)

// Store is an in-memory TenantStore keyed by client key.
type Store struct {
	mu      sync.RWMutex
	tenants map[string]storage.ClientSettings
}

// Ensure Store implements the storage contracts at compile time.
var (
	_ storage.TenantStore   = (*Store)(nil)
	_ storage.ConsumerStore = (*Store)(nil)
)

// New creates a store seeded with the given settings. Invalid seeds are
// rejected.
func New(seed ...storage.ClientSettings) (*Store, error) {
	s := &Store{tenants: make(map[string]storage.ClientSettings, len(seed))}
	for i := range seed {
		if err := s.Save(context.Background(), &seed[i]); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Get returns a copy of the settings registered for clientKey.
func (s *Store) Get(_ context.Context, clientKey string) (*storage.ClientSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.tenants[clientKey]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &v, nil
}

// Save validates and stores a copy of settings, replacing any existing
// record for the same client key.
func (s *Store) Save(_ context.Context, settings *storage.ClientSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[settings.ClientKey] = *settings
	debug.Log("storage", "tenant saved", "backend", "memory", "client_key", settings.ClientKey)
	return nil
}

// Delete removes the record for clientKey.
func (s *Store) Delete(_ context.Context, clientKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tenants[clientKey]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tenants, clientKey)
	return nil
}

// GetPublicKey returns the consumer public key kept on the tenant record.
func (s *Store) GetPublicKey(ctx context.Context, consumerKey string) (string, error) {
	v, err := s.Get(ctx, consumerKey)
	if err != nil {
		return "", err
	}
	if v.PublicKey == "" {
		return "", storage.ErrNotFound
	}
	return v.PublicKey, nil
}

// Len returns the number of registered tenants.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tenants)
}

// HealthCheck always succeeds for the in-memory store.
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
