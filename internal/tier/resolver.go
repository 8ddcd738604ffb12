// Package tier maps caller identities to subscription profiles. Lookups go
// to an external profile provider and are fronted by a short-TTL in-memory
// cache so the provider is off the hot path.
package tier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerlens/backend/internal/identity"
	"github.com/ledgerlens/backend/internal/models"
)

// ErrUnverifiable is returned when the profile provider cannot produce a
// profile. The resolver never substitutes a default tier; the caller decides
// fail-open vs fail-closed.
var ErrUnverifiable = errors.New("subscription unverifiable")

// ProfileProvider is the external source of subscription profiles.
type ProfileProvider interface {
	Profile(ctx context.Context, userID string) (models.TierProfile, error)
}

type cacheEntry struct {
	profile   models.TierProfile
	expiresAt time.Time
}

// Resolver resolves identities to tier profiles with TTL caching and
// explicit invalidation for tier-change push events.
type Resolver struct {
	provider ProfileProvider
	ttl      time.Duration
	now      func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the resolver's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver over the given provider.
func NewResolver(provider ProfileProvider, ttl time.Duration, opts ...Option) *Resolver {
	r := &Resolver{
		provider: provider,
		ttl:      ttl,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// anonymousProfile is what unauthenticated (ip:) identities resolve to.
// The tier set is closed at three; anonymous callers ride at basic limits.
var anonymousProfile = models.TierProfile{
	Tier:   models.TierBasic,
	Status: models.StatusActive,
}

// Resolve returns the profile for an identity. Cache hits within the TTL are
// served without touching the provider. Provider failures (including context
// cancellation) surface as ErrUnverifiable.
func (r *Resolver) Resolve(ctx context.Context, id string) (models.TierProfile, error) {
	if !identity.IsUser(id) {
		return anonymousProfile, nil
	}

	now := r.now()

	r.mu.RLock()
	entry, ok := r.cache[id]
	r.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.profile, nil
	}

	profile, err := r.provider.Profile(ctx, identity.UserID(id))
	if err != nil {
		return models.TierProfile{}, fmt.Errorf("%w: %v", ErrUnverifiable, err)
	}

	r.mu.Lock()
	r.cache[id] = cacheEntry{profile: profile, expiresAt: now.Add(r.ttl)}
	r.mu.Unlock()

	return profile, nil
}

// Invalidate drops the cached profile for one identity.
func (r *Resolver) Invalidate(id string) {
	r.mu.Lock()
	delete(r.cache, id)
	r.mu.Unlock()
}

// InvalidateAll drops every cached profile.
func (r *Resolver) InvalidateAll() {
	r.mu.Lock()
	r.cache = make(map[string]cacheEntry)
	r.mu.Unlock()
}

// Len returns the number of cached profiles.
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
