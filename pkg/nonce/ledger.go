package nonce

import (
	"context"
	"errors"
	"time"
)

// Replay window defaults. Grace is applied symmetrically around the window.
const (
	DefaultWindow = 5 * time.Minute
	Grace         = 500 * time.Millisecond
)

// ErrNonceReused is returned when a nonce is already present in the window.
var ErrNonceReused = errors.New("nonce: already used")

// Ledger records accepted nonces. Implementations must be safe for
// concurrent use.
type Ledger interface {
	// IsUsed reports whether nonce is held by the ledger.
	IsUsed(ctx context.Context, nonce string) (bool, error)

	// Record stores nonce with timestamp t.
	Record(ctx context.Context, nonce string, t time.Time) error

	// ExpireOlderThan removes entries whose timestamp is before cutoff.
	ExpireOlderThan(ctx context.Context, cutoff time.Time) error

	// Use checks and records nonce in one step, returning ErrNonceReused
	// when it is already held. Entries outside the window ending at t are
	// compacted first.
	Use(ctx context.Context, nonce string, t time.Time) error
}

// Cutoff returns the oldest timestamp still inside the replay window at now.
func Cutoff(now time.Time, window time.Duration) time.Time {
	if window <= 0 {
		window = DefaultWindow
	}
	return now.Add(-window - Grace)
}

// InWindow reports whether t lies within [now-window, now+window], widened
// by Grace on both sides.
func InWindow(t, now time.Time, window time.Duration) bool {
	if window <= 0 {
		window = DefaultWindow
	}
	lo := now.Add(-window - Grace)
	hi := now.Add(window + Grace)
	return !t.Before(lo) && !t.After(hi)
}
