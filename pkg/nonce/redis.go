package nonce

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rhuss/connectauth/pkg/debug"
)

// minTTL keeps a just-recorded nonce alive even when its timestamp is at the
// edge of the window.
const minTTL = time.Second

// RedisLedger is a Ledger shared by several replicas. Each nonce is a key
// whose TTL ends when its timestamp leaves the replay window, so Redis does
// the compaction.
type RedisLedger struct {
	client    redis.UniversalClient
	keyPrefix string
	opts      options
}

// NewRedisLedger creates a ledger on an existing client. Keys are written
// as <keyPrefix>nonce:<nonce>.
func NewRedisLedger(client redis.UniversalClient, keyPrefix string, opts ...Option) *RedisLedger {
	return &RedisLedger{
		client:    client,
		keyPrefix: keyPrefix,
		opts:      newOptions(opts),
	}
}

func (l *RedisLedger) key(nonce string) string {
	return l.keyPrefix + "nonce:" + nonce
}

// ttl is the remaining lifetime of an entry stamped t.
func (l *RedisLedger) ttl(t time.Time) time.Duration {
	d := t.Sub(Cutoff(l.opts.now(), l.opts.window))
	if d < minTTL {
		return minTTL
	}
	return d
}

// IsUsed reports whether the nonce key exists.
func (l *RedisLedger) IsUsed(ctx context.Context, nonce string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(nonce)).Result()
	if err != nil {
		return false, fmt.Errorf("checking nonce: %w", err)
	}
	return n > 0, nil
}

// Record stores the nonce with a TTL derived from t.
func (l *RedisLedger) Record(ctx context.Context, nonce string, t time.Time) error {
	if err := l.client.Set(ctx, l.key(nonce), t.Unix(), l.ttl(t)).Err(); err != nil {
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}

// ExpireOlderThan is a no-op: entries expire through their TTL.
func (l *RedisLedger) ExpireOlderThan(context.Context, time.Time) error {
	return nil
}

// Use records the nonce with SET NX so that concurrent replicas cannot both
// accept it.
func (l *RedisLedger) Use(ctx context.Context, nonce string, t time.Time) error {
	ok, err := l.client.SetNX(ctx, l.key(nonce), t.Unix(), l.ttl(t)).Result()
	if err != nil {
		return fmt.Errorf("recording nonce: %w", err)
	}
	if !ok {
		debug.Log("nonce", "nonce replay rejected", "backend", "redis")
		return ErrNonceReused
	}
	return nil
}

var _ Ledger = (*RedisLedger)(nil)
