// Package ratelimit implements the sliding-window counter that guards the
// login endpoint against brute-force attempts.
package ratelimit

import (
	"strings"
	"sync"
	"time"
)

// Reason identifies which ceiling rejected an attempt.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonIdentity Reason = "username"
	ReasonOrigin   Reason = "ip"
)

// Defaults match the production limits: 5 attempts per identity and 20 per
// origin within a trailing 300-second window.
const (
	DefaultIdentityLimit = 5
	DefaultOriginLimit   = 20
	DefaultWindow        = 300 * time.Second
)

// Limiter tracks recent login attempts in two independent keyspaces:
// account identity and network origin. State is process-lifetime only and
// guarded by a single mutex; throttling across replicas is deliberately
// approximate.
type Limiter struct {
	mu            sync.Mutex
	identityLimit int
	originLimit   int
	window        time.Duration
	now           func() time.Time
	identities    map[string][]time.Time
	origins       map[string][]time.Time
}

// New creates a limiter. Non-positive arguments fall back to the defaults.
func New(identityLimit, originLimit int, window time.Duration) *Limiter {
	if identityLimit <= 0 {
		identityLimit = DefaultIdentityLimit
	}
	if originLimit <= 0 {
		originLimit = DefaultOriginLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		identityLimit: identityLimit,
		originLimit:   originLimit,
		window:        window,
		now:           time.Now,
		identities:    map[string][]time.Time{},
		origins:       map[string][]time.Time{},
	}
}

// Allow prunes expired attempts from both buckets, then either rejects the
// attempt (reporting which ceiling tripped) without recording it, or
// records the current instant in both buckets and accepts.
func (l *Limiter) Allow(identity, origin string) (bool, Reason) {
	now := l.now()
	identityKey := strings.ToLower(identity)

	l.mu.Lock()
	defer l.mu.Unlock()

	idBucket := l.prune(l.identities, identityKey, now)
	origBucket := l.prune(l.origins, origin, now)

	if len(idBucket) >= l.identityLimit {
		return false, ReasonIdentity
	}
	if len(origBucket) >= l.originLimit {
		return false, ReasonOrigin
	}

	l.identities[identityKey] = append(idBucket, now)
	l.origins[origin] = append(origBucket, now)
	return true, ReasonNone
}

// Reset clears the identity's bucket after a successful login. The origin
// bucket is never reset by success, so guessing a password does not clear
// an origin-level counter.
func (l *Limiter) Reset(identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.identities, strings.ToLower(identity))
}

// prune drops attempts at or before the window cutoff and stores the
// trimmed bucket back.
func (l *Limiter) prune(store map[string][]time.Time, key string, now time.Time) []time.Time {
	bucket := store[key]
	cutoff := now.Add(-l.window)
	keep := bucket[:0]
	for _, ts := range bucket {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	if len(keep) == 0 {
		delete(store, key)
		return nil
	}
	store[key] = keep
	return keep
}
