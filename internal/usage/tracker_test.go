package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/models"
)

func TestParsePeriodMode(t *testing.T) {
	mode, err := ParsePeriodMode("monthly")
	require.NoError(t, err)
	assert.Equal(t, PeriodMonthly, mode)

	mode, err = ParsePeriodMode("sliding30d")
	require.NoError(t, err)
	assert.Equal(t, PeriodSliding30d, mode)

	_, err = ParsePeriodMode("weekly")
	assert.Error(t, err)
}

func TestMonthlyUsageCounts(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(), PeriodMonthly).WithClock(func() time.Time { return now })
	ctx := context.Background()

	used, err := tracker.CurrentUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead)
	require.NoError(t, err)
	assert.Zero(t, used)

	for i := 0; i < 3; i++ {
		require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead, now))
	}

	used, err = tracker.CurrentUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead)
	require.NoError(t, err)
	assert.Equal(t, int64(3), used)
}

func TestMonthlyUsageIsolatedByDimension(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(), PeriodMonthly).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead, now))
	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureReports, models.ActionCreate, now))
	require.NoError(t, tracker.RecordUsage(ctx, "user:u2", models.FeatureReports, models.ActionRead, now))

	used, err := tracker.CurrentUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used)
}

func TestMonthlyRollover(t *testing.T) {
	now := time.Date(2026, 8, 31, 23, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(), PeriodMonthly).WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead, now))

	// A new calendar month means a new key, so usage restarts at zero.
	now = time.Date(2026, 9, 1, 0, 30, 0, 0, time.UTC)
	used, err := tracker.CurrentUsage(ctx, "user:u1", models.FeatureReports, models.ActionRead)
	require.NoError(t, err)
	assert.Zero(t, used)
}

func TestSlidingWindowAgesOut(t *testing.T) {
	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	tracker := NewTracker(NewMemoryStore(), PeriodSliding30d).WithClock(func() time.Time { return now })
	ctx := context.Background()

	old := now.Add(-31 * 24 * time.Hour)
	recent := now.Add(-5 * 24 * time.Hour)
	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureExports, models.ActionExport, old))
	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureExports, models.ActionExport, recent))
	require.NoError(t, tracker.RecordUsage(ctx, "user:u1", models.FeatureExports, models.ActionExport, now))

	used, err := tracker.CurrentUsage(ctx, "user:u1", models.FeatureExports, models.ActionExport)
	require.NoError(t, err)
	assert.Equal(t, int64(2), used)
}

func TestNextResetMonthly(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), PeriodMonthly)

	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), tracker.NextReset(now))

	// December rolls into January of the next year.
	now = time.Date(2026, 12, 31, 23, 59, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), tracker.NextReset(now))
}

func TestNextResetSliding(t *testing.T) {
	tracker := NewTracker(NewMemoryStore(), PeriodSliding30d)

	now := time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(30*24*time.Hour), tracker.NextReset(now))
}

func TestMemoryStoreCounterTTL(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	count, err := store.Incr(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = store.Incr(ctx, "k", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// An already-expired counter restarts from zero.
	_, err = store.Incr(ctx, "expired", -time.Second)
	require.NoError(t, err)
	got, err := store.Get(ctx, "expired")
	require.NoError(t, err)
	assert.Zero(t, got)
}
