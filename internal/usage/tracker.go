// Package usage tracks per-identity, per-feature, per-action counts within
// rolling accounting periods for quota enforcement. Counts only grow; a new
// period starts when its key rolls over and old keys age out via TTL.
package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/ledgerlens/backend/internal/models"
)

// PeriodMode selects how accounting periods are bounded.
type PeriodMode string

const (
	// PeriodMonthly aligns periods to calendar months (UTC).
	PeriodMonthly PeriodMode = "monthly"
	// PeriodSliding30d counts usage within a trailing 30-day window.
	PeriodSliding30d PeriodMode = "sliding30d"
)

const slidingWindow = 30 * 24 * time.Hour

// ParsePeriodMode validates a period mode name.
func ParsePeriodMode(s string) (PeriodMode, error) {
	switch PeriodMode(s) {
	case PeriodMonthly, PeriodSliding30d:
		return PeriodMode(s), nil
	default:
		return "", fmt.Errorf("invalid quota period: %q", s)
	}
}

// Store is the counter backend. The shipped implementations are Redis (for
// shared counters across instances) and in-memory (tests, Redis-less runs).
type Store interface {
	// Get returns the counter at key, 0 if absent.
	Get(ctx context.Context, key string) (int64, error)
	// Incr increments the counter at key, creating it with the given TTL.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// AddTimestamp records one occurrence at ts, retained for retain.
	AddTimestamp(ctx context.Context, key string, ts time.Time, retain time.Duration) error
	// CountSince returns the number of occurrences at or after since.
	CountSince(ctx context.Context, key string, since time.Time) (int64, error)
}

// Tracker answers quota questions for the gateway.
type Tracker struct {
	store Store
	mode  PeriodMode
	now   func() time.Time
}

// NewTracker creates a tracker in the given period mode.
func NewTracker(store Store, mode PeriodMode) *Tracker {
	return &Tracker{store: store, mode: mode, now: time.Now}
}

// WithClock overrides the tracker's time source. Test hook.
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// CurrentUsage returns the count for the period containing now.
func (t *Tracker) CurrentUsage(ctx context.Context, identity string, feature models.Feature, action models.Action) (int64, error) {
	now := t.now()
	switch t.mode {
	case PeriodSliding30d:
		count, err := t.store.CountSince(ctx, slidingKey(identity, feature, action), now.Add(-slidingWindow))
		if err != nil {
			return 0, fmt.Errorf("failed to read usage: %w", err)
		}
		return count, nil
	default:
		count, err := t.store.Get(ctx, monthlyKey(identity, feature, action, now))
		if err != nil {
			return 0, fmt.Errorf("failed to read usage: %w", err)
		}
		return count, nil
	}
}

// RecordUsage increments the count for the period containing at. Called by
// the orchestrator only after a request is ultimately admitted.
func (t *Tracker) RecordUsage(ctx context.Context, identity string, feature models.Feature, action models.Action, at time.Time) error {
	switch t.mode {
	case PeriodSliding30d:
		if err := t.store.AddTimestamp(ctx, slidingKey(identity, feature, action), at, slidingWindow+time.Hour); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
	default:
		// Keys live two full periods so a just-rolled-over period stays
		// readable while it is still being billed.
		if _, err := t.store.Incr(ctx, monthlyKey(identity, feature, action, at), 62*24*time.Hour); err != nil {
			return fmt.Errorf("failed to record usage: %w", err)
		}
	}
	return nil
}

// NextReset returns the start of the period after the one containing now.
// For sliding windows this is when the oldest counted occurrence ages out,
// approximated as now plus the window.
func (t *Tracker) NextReset(now time.Time) time.Time {
	if t.mode == PeriodSliding30d {
		return now.Add(slidingWindow)
	}
	y, m, _ := now.UTC().Date()
	return time.Date(y, m+1, 1, 0, 0, 0, 0, time.UTC)
}

func monthlyKey(identity string, feature models.Feature, action models.Action, at time.Time) string {
	return fmt.Sprintf("usage:%s:%s:%s:%s", identity, feature, action, at.UTC().Format("2006-01"))
}

func slidingKey(identity string, feature models.Feature, action models.Action) string {
	return fmt.Sprintf("usage:%s:%s:%s", identity, feature, action)
}
