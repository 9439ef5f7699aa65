package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/rhuss/connectauth/pkg/debug"
	"github.com/rhuss/connectauth/pkg/observability"
)

// MemoryLedger is a process-local Ledger backed by a mutex-guarded map.
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]time.Time
	opts    options
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger(opts ...Option) *MemoryLedger {
	return &MemoryLedger{
		entries: make(map[string]time.Time),
		opts:    newOptions(opts),
	}
}

// IsUsed reports whether nonce is held by the ledger.
func (l *MemoryLedger) IsUsed(_ context.Context, nonce string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.entries[nonce]
	return ok, nil
}

// Record stores nonce with timestamp t and compacts expired entries.
func (l *MemoryLedger) Record(_ context.Context, nonce string, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.compactLocked(Cutoff(l.opts.now(), l.opts.window))
	l.entries[nonce] = t
	observability.NonceLedgerEntries.Set(float64(len(l.entries)))
	return nil
}

// ExpireOlderThan removes entries whose timestamp is before cutoff.
func (l *MemoryLedger) ExpireOlderThan(_ context.Context, cutoff time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.compactLocked(cutoff)
	observability.NonceLedgerEntries.Set(float64(len(l.entries)))
	return nil
}

// Use atomically checks and records nonce. The window is measured back from
// t, so the caller's clock governs the whole check.
func (l *MemoryLedger) Use(_ context.Context, nonce string, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.compactLocked(Cutoff(t, l.opts.window))
	if _, ok := l.entries[nonce]; ok {
		return ErrNonceReused
	}
	l.entries[nonce] = t
	observability.NonceLedgerEntries.Set(float64(len(l.entries)))
	return nil
}

// Len returns the number of held nonces.
func (l *MemoryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// compactLocked drops entries older than cutoff. Caller must hold mu.
func (l *MemoryLedger) compactLocked(cutoff time.Time) {
	removed := 0
	for n, t := range l.entries {
		if t.Before(cutoff) {
			delete(l.entries, n)
			removed++
		}
	}
	if removed > 0 {
		debug.Log("nonce", "compacted ledger", "removed", removed, "remaining", len(l.entries))
	}
}

var _ Ledger = (*MemoryLedger)(nil)

