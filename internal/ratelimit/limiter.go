// Package ratelimit implements the gateway's per-identity rate limiter:
// fixed or sliding request windows with per-tier limits, adaptive limit
// shrinking for suspicious callers, penalty weighting after denials, burst
// detection, and temporary IP blocks.
//
// State lives in a Store; the shipped store is in-memory, so enforcement is
// per-process. Under multi-instance deployment callers can exceed the
// nominal limits by a factor close to the instance count; a shared Store
// implementation is the upgrade path.
package ratelimit

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/ledgerlens/backend/internal/models"
)

const (
	// maxRecent bounds the burst-detection timestamp slice per entry.
	maxRecent = 64

	// minMultiplier floors the adaptive multiplier so an identity is never
	// limited to zero.
	minMultiplier = 0.1

	adaptiveShrink = 0.8
	adaptiveGrow   = 1.1

	// sweepProbability is the denominator of the per-request chance of an
	// inline housekeeping sweep (1/256). The sweep is O(entries); the low
	// trigger probability is what bounds its amortized cost. Hosts that
	// prefer deterministic cleanup can call Sweep from a ticker instead.
	sweepProbability = 256
)

// ErrInvalidBlockDuration is returned by BlockIP for non-positive durations.
var ErrInvalidBlockDuration = errors.New("block duration must be positive")

// Config is the limiter's construction-time configuration. It is not
// mutated at runtime.
type Config struct {
	Window             time.Duration
	Sliding            bool
	TierLimits         map[models.Tier]int
	TierPenalties      map[models.Tier]float64
	BurstThreshold     int
	BurstWindow        time.Duration
	BurstBlockAfter    int
	BurstBlockDuration time.Duration
	Adaptive           bool
	Whitelist          []string
	Blacklist          []string
}

// DefaultConfig returns the limiter defaults used when no host configuration
// is supplied.
func DefaultConfig() Config {
	return Config{
		Window: time.Minute,
		TierLimits: map[models.Tier]int{
			models.TierBasic:        100,
			models.TierProfessional: 600,
			models.TierEnterprise:   3000,
		},
		TierPenalties: map[models.Tier]float64{
			models.TierBasic:        3.0,
			models.TierProfessional: 2.0,
			models.TierEnterprise:   1.5,
		},
		BurstThreshold:     8,
		BurstWindow:        5 * time.Second,
		BurstBlockAfter:    3,
		BurstBlockDuration: 15 * time.Minute,
		Adaptive:           true,
	}
}

// Result is the rate-limit fragment of an admission decision.
type Result struct {
	Allowed   bool
	Limit     int // effective limit after adaptive scaling
	BaseLimit int
	Remaining int
	ResetTime time.Time

	RetryAfter time.Duration

	IPBlocked      bool
	BlockReason    string
	BurstDetected  bool
	AdaptiveLimit  bool
	PenaltyApplied bool
	Whitelisted    bool
	Blacklisted    bool
}

// Limiter enforces per-identity request rates. All methods are safe for
// concurrent use; per-identity updates replace whole entries rather than
// locking, so concurrent requests for one identity may each observe a
// slightly stale count.
type Limiter struct {
	cfg   Config
	store Store
	now   func() time.Time

	whitelist map[string]struct{}
	blacklist map[string]struct{}

	counters *counters
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithStore overrides the default in-memory store.
func WithStore(store Store) Option {
	return func(l *Limiter) { l.store = store }
}

// New creates a limiter with the given configuration.
func New(cfg Config, opts ...Option) *Limiter {
	l := &Limiter{
		cfg:       cfg,
		store:     NewMemoryStore(),
		now:       time.Now,
		whitelist: toSet(cfg.Whitelist),
		blacklist: toSet(cfg.Blacklist),
		counters:  newCounters(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func toSet(ips []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return set
}

// Check runs the full admission algorithm for one request and, when the
// request is admitted, counts it against the identity's window.
func (l *Limiter) Check(identity string, tier models.Tier, ip string) Result {
	now := l.now()
	l.maybeSweep(now)
	l.counters.request()

	// Whitelist wins over everything, including active blocks.
	if l.isWhitelisted(ip) {
		base := l.baseLimit(tier)
		l.counters.allow()
		return Result{
			Allowed:     true,
			Whitelisted: true,
			Limit:       base,
			BaseLimit:   base,
			Remaining:   base,
			ResetTime:   now.Add(l.cfg.Window),
		}
	}

	if blocked, res := l.checkBlocked(identity, tier, ip, now); blocked {
		return res
	}

	entry := l.windowEntry(identity, tier, now)

	base := l.baseLimit(tier)
	effective := l.adjustAdaptive(entry, base)

	weight, penalized := l.weightFor(entry, tier)
	burst := l.detectBurst(entry, ip, now)

	var current float64
	if l.cfg.Sliding {
		entry.Requests = pruneBefore(entry.Requests, now.Add(-l.cfg.Window))
		current = float64(len(entry.Requests))
	} else {
		current = entry.RequestCount
	}

	res := Result{
		Limit:          effective,
		BaseLimit:      base,
		ResetTime:      entry.WindowReset,
		BurstDetected:  burst,
		AdaptiveLimit:  entry.AdaptiveMultiplier < 1,
		PenaltyApplied: penalized,
	}

	if burst || current+weight > float64(effective) {
		entry.LastDenied = true
		entry.DeniedCount++
		l.store.SetEntry(identity, entry)
		l.counters.deny(identity, tier)

		res.Allowed = false
		res.Remaining = remaining(effective, current)
		res.RetryAfter = entry.WindowReset.Sub(now)
		return res
	}

	entry.RequestCount += weight
	if l.cfg.Sliding {
		for i := 0; i < int(math.Round(weight)); i++ {
			entry.Requests = append(entry.Requests, now)
		}
	}
	entry.LastDenied = false
	l.store.SetEntry(identity, entry)
	l.counters.allow()

	res.Allowed = true
	res.Remaining = remaining(effective, current+weight)
	return res
}

// ObserveDenial runs the rate-limit portion of a request that is being
// denied for permission or quota reasons. Active IP blocks and exhausted
// windows still take precedence over the softer denial; otherwise the
// identity is marked so its next counted request carries the penalty
// weight. The mark is idempotent: repeating an identical denied request
// yields an identical decision.
func (l *Limiter) ObserveDenial(identity string, tier models.Tier, ip string) Result {
	now := l.now()
	l.counters.request()

	if l.isWhitelisted(ip) {
		base := l.baseLimit(tier)
		l.counters.allow()
		return Result{Allowed: true, Whitelisted: true, Limit: base, BaseLimit: base, Remaining: base, ResetTime: now.Add(l.cfg.Window)}
	}

	if blocked, res := l.checkBlocked(identity, tier, ip, now); blocked {
		return res
	}

	entry, ok := l.store.GetEntry(identity)
	base := l.baseLimit(tier)
	if !ok || now.After(entry.WindowReset) {
		// Fresh window: nothing to exhaust, just mark the denial.
		fresh := l.freshEntry(identity, tier, entry, now)
		fresh.LastDenied = true
		l.store.SetEntry(identity, fresh)
		l.counters.allow()
		return Result{Allowed: true, Limit: base, BaseLimit: base, Remaining: base, ResetTime: fresh.WindowReset}
	}

	effective := effectiveLimit(base, entry.AdaptiveMultiplier)
	var current float64
	if l.cfg.Sliding {
		// Count without pruning: entry is shared until replaced, so it must
		// not be written here.
		current = float64(countAfter(entry.Requests, now.Add(-l.cfg.Window)))
	} else {
		current = entry.RequestCount
	}

	if current >= float64(effective) {
		updated := entry.clone()
		updated.LastDenied = true
		updated.DeniedCount++
		l.store.SetEntry(identity, updated)
		l.counters.deny(identity, tier)
		return Result{
			Limit:      effective,
			BaseLimit:  base,
			ResetTime:  entry.WindowReset,
			RetryAfter: entry.WindowReset.Sub(now),
		}
	}

	if !entry.LastDenied {
		updated := entry.clone()
		updated.LastDenied = true
		l.store.SetEntry(identity, updated)
	}
	l.counters.allow()
	return Result{
		Allowed:   true,
		Limit:     effective,
		BaseLimit: base,
		Remaining: remaining(effective, current),
		ResetTime: entry.WindowReset,
	}
}

// checkBlocked applies blacklist and active-block precedence.
func (l *Limiter) checkBlocked(identity string, tier models.Tier, ip string, now time.Time) (bool, Result) {
	if l.isBlacklisted(ip) {
		l.counters.deny(identity, tier)
		return true, Result{
			IPBlocked:   true,
			Blacklisted: true,
			BlockReason: "blacklisted",
		}
	}

	block, ok := l.store.GetBlock(ip)
	if !ok {
		return false, Result{}
	}
	if now.After(block.BlockedUntil) {
		l.store.DeleteBlock(ip)
		return false, Result{}
	}

	l.counters.deny(identity, tier)
	return true, Result{
		IPBlocked:   true,
		BlockReason: block.Reason,
		ResetTime:   block.BlockedUntil,
		RetryAfter:  block.BlockedUntil.Sub(now),
	}
}

// windowEntry returns a mutable copy of the identity's entry, replacing it
// with a fresh one when its window has expired.
func (l *Limiter) windowEntry(identity string, tier models.Tier, now time.Time) *Entry {
	prev, ok := l.store.GetEntry(identity)
	if !ok || now.After(prev.WindowReset) {
		return l.freshEntry(identity, tier, prev, now)
	}
	e := prev.clone()
	e.Tier = tier
	return e
}

// freshEntry starts a new window. Behavioral state (adaptive multiplier,
// burst history) carries across windows so abusive callers cannot launder
// their reputation by waiting out one window.
func (l *Limiter) freshEntry(identity string, tier models.Tier, prev *Entry, now time.Time) *Entry {
	e := &Entry{
		Identity:           identity,
		Tier:               tier,
		WindowReset:        now.Add(l.cfg.Window),
		AdaptiveMultiplier: 1.0,
	}
	if prev == nil {
		return e
	}

	e.AdaptiveMultiplier = prev.AdaptiveMultiplier
	e.LastDenied = prev.LastDenied

	// Burst history ages out after the block duration. prev may still be
	// visible to concurrent requests, so prune a copy of its timestamps.
	if now.Sub(prev.LastBurst) <= l.cfg.BurstBlockDuration {
		e.BurstCount = prev.BurstCount
		e.LastBurst = prev.LastBurst
		e.Suspicious = prev.Suspicious
		e.Recent = pruneBefore(append([]time.Time(nil), prev.Recent...), now.Add(-l.cfg.BurstWindow))
	}
	return e
}

// adjustAdaptive updates the entry's multiplier for this request and returns
// the effective limit.
func (l *Limiter) adjustAdaptive(e *Entry, base int) int {
	if !l.cfg.Adaptive {
		e.AdaptiveMultiplier = 1.0
		return base
	}
	if e.Suspicious {
		e.AdaptiveMultiplier = math.Max(minMultiplier, e.AdaptiveMultiplier*adaptiveShrink)
		// A fully recovered window of good behavior clears suspicion at the
		// next window roll; within the window the shrink keeps applying.
	} else if e.AdaptiveMultiplier < 1 {
		e.AdaptiveMultiplier = math.Min(1.0, e.AdaptiveMultiplier*adaptiveGrow)
	}
	return effectiveLimit(base, e.AdaptiveMultiplier)
}

func effectiveLimit(base int, multiplier float64) int {
	limit := int(math.Floor(float64(base) * multiplier))
	if limit < 1 {
		limit = 1
	}
	return limit
}

// weightFor returns this request's accounting weight: 1, or the tier's
// penalty factor when the identity's previous request was denied.
func (l *Limiter) weightFor(e *Entry, tier models.Tier) (float64, bool) {
	if !e.LastDenied {
		return 1.0, false
	}
	penalty, ok := l.cfg.TierPenalties[tier]
	if !ok || penalty <= 1.0 {
		return 1.0, false
	}
	return penalty, true
}

// detectBurst records this request's timestamp and reports whether the
// caller exceeded the burst threshold within the burst window. A third
// burst within the tracking horizon blocks the caller's IP outright.
func (l *Limiter) detectBurst(e *Entry, ip string, now time.Time) bool {
	if l.cfg.BurstThreshold <= 0 {
		return false
	}

	e.Recent = pruneBefore(e.Recent, now.Add(-l.cfg.BurstWindow))
	e.Recent = append(e.Recent, now)
	if len(e.Recent) > maxRecent {
		e.Recent = e.Recent[len(e.Recent)-maxRecent:]
	}

	if len(e.Recent) <= l.cfg.BurstThreshold {
		return false
	}

	e.Suspicious = true
	e.BurstCount++
	e.LastBurst = now

	if e.BurstCount >= l.cfg.BurstBlockAfter && ip != "" && ip != "unknown" {
		l.store.SetBlock(BlockEntry{
			IP:           ip,
			BlockedUntil: now.Add(l.cfg.BurstBlockDuration),
			Reason:       "repeated burst activity",
		})
	}
	return true
}

func (l *Limiter) baseLimit(tier models.Tier) int {
	if limit, ok := l.cfg.TierLimits[tier]; ok {
		return limit
	}
	return l.cfg.TierLimits[models.TierBasic]
}

func (l *Limiter) isWhitelisted(ip string) bool {
	_, ok := l.whitelist[ip]
	return ok
}

func (l *Limiter) isBlacklisted(ip string) bool {
	_, ok := l.blacklist[ip]
	return ok
}

// maybeSweep triggers housekeeping with probability 1/sweepProbability.
func (l *Limiter) maybeSweep(now time.Time) {
	if rand.Intn(sweepProbability) == 0 {
		l.sweep(now)
	}
}

// Sweep removes expired window entries and lapsed IP blocks, returning how
// many of each were dropped. Safe to call from a host-owned ticker.
func (l *Limiter) Sweep() (entries, blocks int) {
	return l.sweep(l.now())
}

func (l *Limiter) sweep(now time.Time) (int, int) {
	return l.store.SweepExpired(now)
}

// ResetIdentity drops all rate-limit state for one identity.
func (l *Limiter) ResetIdentity(identity string) {
	l.store.DeleteEntry(identity)
}

// BlockIP blocks an IP for the given duration with a reason.
func (l *Limiter) BlockIP(ip string, duration time.Duration, reason string) error {
	if duration <= 0 {
		return ErrInvalidBlockDuration
	}
	l.store.SetBlock(BlockEntry{
		IP:           ip,
		BlockedUntil: l.now().Add(duration),
		Reason:       reason,
	})
	return nil
}

// UnblockIP removes any block on an IP.
func (l *Limiter) UnblockIP(ip string) {
	l.store.DeleteBlock(ip)
}

// BlockedUntil returns the active block expiry for an IP, if any.
func (l *Limiter) BlockedUntil(ip string) (time.Time, bool) {
	block, ok := l.store.GetBlock(ip)
	if !ok || l.now().After(block.BlockedUntil) {
		return time.Time{}, false
	}
	return block.BlockedUntil, true
}

// Clear drops all limiter state and statistics. Test/ops utility.
func (l *Limiter) Clear() {
	l.store.Clear()
	l.counters.reset()
}

// pruneBefore filters in place; the caller must own the slice's backing
// array (a clone or a fresh copy, never a slice still held in the store).
func pruneBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	kept := stamps[:0]
	for _, t := range stamps {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}

func countAfter(stamps []time.Time, cutoff time.Time) int {
	n := 0
	for _, t := range stamps {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}

func remaining(limit int, used float64) int {
	r := limit - int(math.Ceil(used))
	if r < 0 {
		return 0
	}
	return r
}
