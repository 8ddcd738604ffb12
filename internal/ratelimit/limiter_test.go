package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/models"
)

type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// testConfig shrinks the tier limits so windows are cheap to exhaust and
// raises the burst threshold out of the way; burst tests lower it explicitly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TierLimits = map[models.Tier]int{
		models.TierBasic:        10,
		models.TierProfessional: 60,
		models.TierEnterprise:   300,
	}
	cfg.BurstThreshold = 1000
	return cfg
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return New(cfg, WithClock(clock.Now)), clock
}

func TestCheckAllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
		require.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 10, res.Limit)
		assert.Equal(t, 10-(i+1), res.Remaining)
	}

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.Positive(t, res.RetryAfter)
}

func TestDeniedResultCarriesWindowReset(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())
	start := clock.Now()

	for i := 0; i < 10; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")

	require.False(t, res.Allowed)
	assert.Equal(t, start.Add(time.Minute), res.ResetTime)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestWindowRollover(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	for i := 0; i < 11; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	clock.Advance(time.Minute + time.Second)

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.Allowed)
}

func TestTierLimitsAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	basic := l.Check("user:b", models.TierBasic, "203.0.113.1")
	pro := l.Check("user:p", models.TierProfessional, "203.0.113.2")
	ent := l.Check("user:e", models.TierEnterprise, "203.0.113.3")

	assert.Equal(t, 10, basic.Limit)
	assert.Equal(t, 60, pro.Limit)
	assert.Equal(t, 300, ent.Limit)
}

func TestUnknownTierFallsBackToBasic(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	res := l.Check("ip:203.0.113.9", models.Tier("bogus"), "203.0.113.9")
	assert.Equal(t, 10, res.Limit)
}

func TestBurstDetection(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 1000
	cfg.BurstThreshold = 8
	l, clock := newTestLimiter(t, cfg)

	// Eight requests within the burst window stay under the threshold.
	for i := 0; i < 8; i++ {
		res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
		require.True(t, res.Allowed, "request %d", i+1)
		require.False(t, res.BurstDetected, "request %d", i+1)
		clock.Advance(100 * time.Millisecond)
	}

	// The ninth crosses it.
	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.False(t, res.Allowed)
	assert.True(t, res.BurstDetected)
}

func TestBurstResetWhenSpacedOut(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 1000
	cfg.BurstThreshold = 8
	l, clock := newTestLimiter(t, cfg)

	// Well-spaced requests never accumulate enough recent timestamps.
	for i := 0; i < 30; i++ {
		res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
		require.True(t, res.Allowed)
		require.False(t, res.BurstDetected)
		clock.Advance(time.Second)
	}
}

func TestRepeatedBurstsBlockIP(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 1000
	cfg.BurstThreshold = 8
	l, clock := newTestLimiter(t, cfg)

	// Requests 9, 10 and 11 inside the burst window each count as a burst;
	// the third triggers an IP block.
	for i := 0; i < 11; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}

	until, blocked := l.BlockedUntil("203.0.113.7")
	require.True(t, blocked)
	assert.Equal(t, clock.Now().Add(15*time.Minute), until)

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.IPBlocked)
	assert.Equal(t, "repeated burst activity", res.BlockReason)

	// The block lapses on its own.
	clock.Advance(15*time.Minute + time.Second)
	_, blocked = l.BlockedUntil("203.0.113.7")
	assert.False(t, blocked)
}

func TestWhitelistWinsOverBlock(t *testing.T) {
	cfg := testConfig()
	cfg.Whitelist = []string{"203.0.113.7"}
	cfg.Blacklist = []string{"203.0.113.7"}
	l, _ := newTestLimiter(t, cfg)

	require.NoError(t, l.BlockIP("203.0.113.7", time.Hour, "manual"))

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.Allowed)
	assert.True(t, res.Whitelisted)
	assert.False(t, res.IPBlocked)
}

func TestBlacklistDenies(t *testing.T) {
	cfg := testConfig()
	cfg.Blacklist = []string{"198.51.100.4"}
	l, _ := newTestLimiter(t, cfg)

	res := l.Check("ip:198.51.100.4", models.TierBasic, "198.51.100.4")
	assert.False(t, res.Allowed)
	assert.True(t, res.IPBlocked)
	assert.True(t, res.Blacklisted)
	assert.Equal(t, "blacklisted", res.BlockReason)
}

func TestPenaltyWeightAfterDenial(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	// Exhaust the window so the last request is denied.
	for i := 0; i < 11; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}

	// The first request of the next window carries the basic-tier penalty
	// weight of 3 instead of 1.
	clock.Advance(time.Minute + time.Second)
	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")

	require.True(t, res.Allowed)
	assert.True(t, res.PenaltyApplied)
	assert.Equal(t, 10-3, res.Remaining)

	// Back to weight 1 once a request has been allowed.
	res = l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.False(t, res.PenaltyApplied)
	assert.Equal(t, 10-4, res.Remaining)
}

func TestPenaltyScalesByTier(t *testing.T) {
	tests := []struct {
		tier      models.Tier
		limit     int
		remaining int
	}{
		{models.TierBasic, 10, 10 - 3},
		{models.TierProfessional, 60, 60 - 2},
		{models.TierEnterprise, 300, 300 - 2}, // ceil(1.5) = 2
	}

	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			l, clock := newTestLimiter(t, testConfig())
			id := "user:" + string(tt.tier)

			for i := 0; i < tt.limit+1; i++ {
				l.Check(id, tt.tier, "203.0.113.7")
			}
			clock.Advance(time.Minute + time.Second)

			res := l.Check(id, tt.tier, "203.0.113.7")
			require.True(t, res.Allowed)
			assert.True(t, res.PenaltyApplied)
			assert.Equal(t, tt.remaining, res.Remaining)
		})
	}
}

func TestAdaptiveLimitShrinksWhenSuspicious(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 100
	cfg.BurstThreshold = 8
	l, _ := newTestLimiter(t, cfg)

	// Trip burst detection to mark the identity suspicious.
	for i := 0; i < 9; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.AdaptiveLimit)
	assert.Equal(t, 80, res.Limit) // floor(100 * 0.8)
}

func TestAdaptiveMultiplierFloor(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 100
	cfg.BurstThreshold = 8
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 200; i++ {
		res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
		assert.GreaterOrEqual(t, res.Limit, 10, "limit must not fall below floor(base*0.1)")
	}
}

func TestAdaptiveDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Adaptive = false
	cfg.TierLimits[models.TierBasic] = 100
	l, _ := newTestLimiter(t, cfg)

	for i := 0; i < 12; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.Equal(t, 100, res.Limit)
	assert.False(t, res.AdaptiveLimit)
}

func TestSlidingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Sliding = true
	cfg.TierLimits[models.TierBasic] = 3
	cfg.TierPenalties = nil // isolate the window mechanics from penalties
	l, clock := newTestLimiter(t, cfg)

	for i := 0; i < 3; i++ {
		res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
		require.True(t, res.Allowed)
		clock.Advance(10 * time.Second)
	}

	// t=30s: all three timestamps are still inside the trailing minute.
	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.False(t, res.Allowed)

	// t=61s: the first request has aged out of the window.
	clock.Advance(31 * time.Second)
	res = l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.Allowed)
}

func TestObserveDenialMarksWithoutCounting(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	// A soft denial consumes nothing from the window.
	res := l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")
	require.True(t, res.Allowed)

	// Repeating it is idempotent: the window still has full capacity minus
	// the penalty weight the mark imposes on the next counted request.
	for i := 0; i < 5; i++ {
		l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")
	}

	counted := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	require.True(t, counted.Allowed)
	assert.True(t, counted.PenaltyApplied)
	assert.Equal(t, 10-3, counted.Remaining)
}

func TestObserveDenialRespectsExhaustedWindow(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 10; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}

	res := l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")
	assert.False(t, res.Allowed)
	assert.Positive(t, res.RetryAfter)
}

func TestObserveDenialRespectsIPBlock(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())
	require.NoError(t, l.BlockIP("203.0.113.7", time.Hour, "manual"))

	res := l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.IPBlocked)
	assert.Equal(t, "manual", res.BlockReason)
}

func TestBlockIPValidation(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	assert.ErrorIs(t, l.BlockIP("203.0.113.7", 0, "x"), ErrInvalidBlockDuration)
	assert.ErrorIs(t, l.BlockIP("203.0.113.7", -time.Minute, "x"), ErrInvalidBlockDuration)
}

func TestUnblockIP(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())
	require.NoError(t, l.BlockIP("203.0.113.7", time.Hour, "manual"))

	l.UnblockIP("203.0.113.7")

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.Allowed)
}

func TestResetIdentity(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 11; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	require.False(t, l.Check("user:u1", models.TierBasic, "203.0.113.7").Allowed)

	l.ResetIdentity("user:u1")

	res := l.Check("user:u1", models.TierBasic, "203.0.113.7")
	assert.True(t, res.Allowed)
	assert.Equal(t, 9, res.Remaining)
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 12; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	l.Check("user:u2", models.TierProfessional, "203.0.113.8")

	stats := l.Stats()
	assert.Equal(t, int64(13), stats.TotalRequests)
	assert.Equal(t, int64(11), stats.TotalAllowed)
	assert.Equal(t, int64(2), stats.TotalDenied)
	assert.Equal(t, int64(2), stats.DeniedByTier[models.TierBasic])
	require.NotEmpty(t, stats.TopDenied)
	assert.Equal(t, "user:u1", stats.TopDenied[0].Identity)
	assert.Equal(t, int64(2), stats.TopDenied[0].Denied)
}

func TestStatsBalanceWithObservedDenials(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	l.Check("user:u1", models.TierBasic, "203.0.113.7")
	l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")
	for i := 0; i < 12; i++ {
		l.Check("user:u1", models.TierBasic, "203.0.113.7")
	}
	l.ObserveDenial("user:u1", models.TierBasic, "203.0.113.7")

	// The penalized first loop request weighs 3, so the window admits 7 of
	// the 12 and the final soft denial finds it exhausted.
	stats := l.Stats()
	assert.Equal(t, int64(15), stats.TotalRequests)
	assert.Equal(t, int64(9), stats.TotalAllowed)
	assert.Equal(t, int64(6), stats.TotalDenied)
	assert.Equal(t, stats.TotalRequests, stats.TotalAllowed+stats.TotalDenied)
}

func TestStatsTopDeniedBounded(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())

	for i := 0; i < 15; i++ {
		id := fmt.Sprintf("user:u%d", i)
		for j := 0; j < 11; j++ {
			l.Check(id, models.TierBasic, "203.0.113.7")
		}
	}

	stats := l.Stats()
	assert.Len(t, stats.TopDenied, 10)
}

func TestClear(t *testing.T) {
	l, _ := newTestLimiter(t, testConfig())
	require.NoError(t, l.BlockIP("203.0.113.7", time.Hour, "manual"))
	l.Check("user:u1", models.TierBasic, "203.0.113.9")

	l.Clear()

	stats := l.Stats()
	assert.Zero(t, stats.TotalRequests)
	_, blocked := l.BlockedUntil("203.0.113.7")
	assert.False(t, blocked)
}

func TestSweepDropsExpiredState(t *testing.T) {
	l, clock := newTestLimiter(t, testConfig())

	l.Check("user:u1", models.TierBasic, "203.0.113.7")
	require.NoError(t, l.BlockIP("203.0.113.8", time.Minute, "manual"))

	clock.Advance(20 * time.Minute)

	entries, blocks := l.Sweep()
	assert.Equal(t, 1, entries)
	assert.Equal(t, 1, blocks)
}

func TestConcurrentChecks(t *testing.T) {
	cfg := testConfig()
	cfg.TierLimits[models.TierBasic] = 1000
	cfg.BurstThreshold = 0 // disable burst detection for this test
	l := New(cfg)

	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			id := fmt.Sprintf("user:g%d", n)
			for i := 0; i < 100; i++ {
				l.Check(id, models.TierBasic, "203.0.113.7")
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	stats := l.Stats()
	assert.Equal(t, int64(800), stats.TotalRequests)
}

func TestConcurrentSameIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.Sliding = true
	cfg.TierLimits[models.TierBasic] = 1000
	cfg.BurstThreshold = 0 // disable burst detection for this test
	l := New(cfg)

	// Checks and soft denials race on one identity's sliding window; the
	// stored entry must never be written through without a copy.
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 50; i++ {
				l.Check("user:shared", models.TierBasic, "203.0.113.7")
				l.ObserveDenial("user:shared", models.TierBasic, "203.0.113.7")
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-done
	}

	stats := l.Stats()
	assert.Equal(t, int64(800), stats.TotalRequests)
	assert.Equal(t, stats.TotalRequests, stats.TotalAllowed+stats.TotalDenied)
}
