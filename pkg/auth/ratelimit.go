package auth

import (
	"context"
	"sync"
	"time"
)

// RateLimiter checks whether a request from an identity should be allowed.
type RateLimiter interface {
	Allow(ctx context.Context, identity *Identity) error
}

// InProcessLimiter is a fixed-window rate limiter that counts requests per
// tenant client key in memory.
type InProcessLimiter struct {
	tenants    map[string]int
	defaultRPM int
	nowFunc    func() time.Time

	mu       sync.Mutex
	counters map[string]*counter
}

type counter struct {
	count    int
	windowAt time.Time
}

// NewInProcessLimiter creates a limiter. tenants overrides the requests per
// minute for specific client keys; other tenants get defaultRPM. A limit
// of zero or less disables limiting.
func NewInProcessLimiter(tenants map[string]int, defaultRPM int) *InProcessLimiter {
	return &InProcessLimiter{
		tenants:    tenants,
		defaultRPM: defaultRPM,
		nowFunc:    time.Now,
		counters:   make(map[string]*counter),
	}
}

// Allow returns ErrTooManyRequests once the tenant exceeds its limit within
// the current minute.
func (l *InProcessLimiter) Allow(_ context.Context, identity *Identity) error {
	key := identity.ClientKey

	rpm := l.defaultRPM
	if v, ok := l.tenants[key]; ok {
		rpm = v
	}
	if rpm <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	c, ok := l.counters[key]
	if !ok || now.Sub(c.windowAt) >= time.Minute {
		l.counters[key] = &counter{count: 1, windowAt: now}
		l.sweepLocked(now)
		return nil
	}

	c.count++
	if c.count > rpm {
		return ErrTooManyRequests
	}
	return nil
}

// sweepLocked drops counters whose window has closed. Caller must hold mu.
func (l *InProcessLimiter) sweepLocked(now time.Time) {
	for k, c := range l.counters {
		if now.Sub(c.windowAt) >= time.Minute {
			delete(l.counters, k)
		}
	}
}
