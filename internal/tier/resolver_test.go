package tier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/models"
)

type fakeProvider struct {
	profile models.TierProfile
	err     error
	calls   int
}

func (p *fakeProvider) Profile(ctx context.Context, userID string) (models.TierProfile, error) {
	p.calls++
	if p.err != nil {
		return models.TierProfile{}, p.err
	}
	return p.profile, nil
}

func proProfile() models.TierProfile {
	return models.TierProfile{Tier: models.TierProfessional, Status: models.StatusActive}
}

func TestResolveCachesWithinTTL(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{profile: proProfile()}
	r := NewResolver(provider, 5*time.Minute, WithClock(func() time.Time { return clock }))

	first, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierProfessional, first.Tier)

	// Second lookup inside the TTL is served from cache.
	clock = clock.Add(4 * time.Minute)
	_, err = r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 1, provider.calls)
}

func TestResolveRefreshesAfterTTL(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{profile: proProfile()}
	r := NewResolver(provider, 5*time.Minute, WithClock(func() time.Time { return clock }))

	_, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)

	clock = clock.Add(5*time.Minute + time.Second)
	provider.profile = models.TierProfile{Tier: models.TierEnterprise, Status: models.StatusActive}

	profile, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierEnterprise, profile.Tier)
	assert.Equal(t, 2, provider.calls)
}

func TestResolveProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("connection refused")}
	r := NewResolver(provider, 5*time.Minute)

	_, err := r.Resolve(context.Background(), "user:u1")
	assert.ErrorIs(t, err, ErrUnverifiable)
}

func TestResolveServesStaleUntilExpiry(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	provider := &fakeProvider{profile: proProfile()}
	r := NewResolver(provider, 5*time.Minute, WithClock(func() time.Time { return clock }))

	_, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)

	// The provider's view changes but the cached profile keeps being served
	// until the TTL lapses or the entry is invalidated.
	provider.profile = models.TierProfile{Tier: models.TierBasic, Status: models.StatusCanceled}
	clock = clock.Add(time.Minute)

	profile, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, models.TierProfessional, profile.Tier)
}

func TestInvalidate(t *testing.T) {
	provider := &fakeProvider{profile: proProfile()}
	r := NewResolver(provider, 5*time.Minute)

	_, err := r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	require.Equal(t, 1, r.Len())

	r.Invalidate("user:u1")
	assert.Zero(t, r.Len())

	_, err = r.Resolve(context.Background(), "user:u1")
	require.NoError(t, err)
	assert.Equal(t, 2, provider.calls)
}

func TestInvalidateAll(t *testing.T) {
	provider := &fakeProvider{profile: proProfile()}
	r := NewResolver(provider, 5*time.Minute)

	for _, id := range []string{"user:u1", "user:u2", "user:u3"} {
		_, err := r.Resolve(context.Background(), id)
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Len())

	r.InvalidateAll()
	assert.Zero(t, r.Len())
}

func TestAnonymousIdentitiesBypassProvider(t *testing.T) {
	provider := &fakeProvider{err: errors.New("should not be called")}
	r := NewResolver(provider, 5*time.Minute)

	profile, err := r.Resolve(context.Background(), "ip:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, models.TierBasic, profile.Tier)
	assert.Equal(t, models.StatusActive, profile.Status)
	assert.Zero(t, provider.calls)
}
