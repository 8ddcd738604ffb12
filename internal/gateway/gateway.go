// Package gateway is the admission orchestrator: for every inbound request
// it resolves the caller's identity and tier, checks permissions and quota,
// applies rate limiting, and produces exactly one decision and one
// best-effort audit record. All gateway work runs inline on the request
// path; the only suspending step is the tier-profile lookup on cache miss.
package gateway

import (
	"log"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/ledgerlens/backend/internal/identity"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/permissions"
	"github.com/ledgerlens/backend/internal/ratelimit"
	"github.com/ledgerlens/backend/internal/tier"
	"github.com/ledgerlens/backend/internal/usage"
)

// Config is the orchestrator's policy configuration.
type Config struct {
	// AuthRequired denies unauthenticated callers outright instead of
	// admitting them at anonymous (basic) limits.
	AuthRequired bool
	// FailOpen admits callers at basic-tier limits when the profile
	// provider is unavailable. Default is fail-closed.
	FailOpen bool
	// UpgradeURL is included in tier/permission/quota denials.
	UpgradeURL string
}

// Gateway sequences admission control for one request at a time.
type Gateway struct {
	cfg     Config
	tiers   *tier.Resolver
	matrix  *permissions.Matrix
	tracker *usage.Tracker
	limiter *ratelimit.Limiter
	audit   AuditSink
	now     func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithClock overrides the gateway's time source.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithAuditSink overrides the default log-based audit sink.
func WithAuditSink(sink AuditSink) Option {
	return func(g *Gateway) { g.audit = sink }
}

// New assembles a gateway from its components.
func New(cfg Config, tiers *tier.Resolver, matrix *permissions.Matrix, tracker *usage.Tracker, limiter *ratelimit.Limiter, opts ...Option) *Gateway {
	g := &Gateway{
		cfg:     cfg,
		tiers:   tiers,
		matrix:  matrix,
		tracker: tracker,
		limiter: limiter,
		audit:   LogSink{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// failOpenProfile is used when the provider is down and FailOpen is set.
var failOpenProfile = models.TierProfile{
	Tier:   models.TierBasic,
	Status: models.StatusActive,
}

// Admit produces the admission decision for one request against one
// feature/action. Exactly one decision is returned and exactly one audit
// record is attempted, whatever the outcome. Panics during admission are
// converted to fail-closed InternalError denials.
func (g *Gateway) Admit(r *http.Request, feature models.Feature, action models.Action) (decision Decision) {
	ip := identity.ClientIP(r)

	defer func() {
		if err := g.audit.Emit(newRecord(decision, ip, r.URL.Path, r.UserAgent(), g.now())); err != nil {
			log.Printf("[gateway] audit emit failed (decision unaffected): %v", err)
		}
	}()
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("[gateway] panic during admission: %v\n%s", rec, debug.Stack())
			decision.Allowed = false
			decision.Kind = KindInternalError
			decision.Reason = KindInternalError.Message()
		}
	}()

	decision = g.admit(r, feature, action, ip)
	return decision
}

func (g *Gateway) admit(r *http.Request, feature models.Feature, action models.Action, ip string) Decision {
	now := g.now()
	id := identity.Resolve(r)

	d := Decision{
		Identity: id,
		Feature:  feature,
		Action:   action,
	}

	// Step 1: identity.
	if g.cfg.AuthRequired && !identity.IsUser(id) {
		return g.deny(d, KindAuthenticationRequired, "")
	}

	// Step 2: tier. Provider failures never default silently; the policy
	// decides between a 403 and explicit fail-open.
	profile, err := g.tiers.Resolve(r.Context(), id)
	if err != nil {
		if !g.cfg.FailOpen {
			return g.deny(d, KindSubscriptionUnverifiable, "")
		}
		log.Printf("[gateway] tier resolution failed, failing open at basic limits: %v", err)
		profile = failOpenProfile
	}
	d.Tier = profile.Tier

	// Step 3: permission + quota pre-check. Denials here still pass through
	// denied-request rate limiting so abusive retry loops exhaust their
	// window.
	entry := g.matrix.Lookup(profile.Tier, feature, action)
	capability := entry.Capability
	if !profile.Entitled(now) {
		capability = permissions.CapabilityNone
	}

	if capability == permissions.CapabilityNone {
		if blocked, dd := g.observeDenied(d, profile.Tier, ip); blocked {
			return dd
		}
		if required, ok := g.matrix.MinimumTierFor(feature, action); ok {
			d.RequiredTier = required
		}
		reason := ""
		if !profile.Entitled(now) {
			reason = "subscription is not active"
		}
		return g.deny(d, KindPermissionDenied, reason)
	}

	if capability == permissions.CapabilityLimited && entry.Quota > 0 {
		used, err := g.tracker.CurrentUsage(r.Context(), id, feature, action)
		if err != nil {
			log.Printf("[gateway] usage lookup failed: %v", err)
			return g.deny(d, KindInternalError, "")
		}
		if used >= int64(entry.Quota) {
			if blocked, dd := g.observeDenied(d, profile.Tier, ip); blocked {
				return dd
			}
			d.Limit = entry.Quota
			d.Remaining = 0
			d.ResetDate = g.tracker.NextReset(now)
			d.RetryAfter = d.ResetDate.Sub(now)
			return g.deny(d, KindQuotaExceeded, "")
		}
	}

	// Step 4: rate limit.
	res := g.limiter.Check(id, profile.Tier, ip)
	d.Limit = res.Limit
	d.Remaining = res.Remaining
	d.ResetTime = res.ResetTime
	d.RetryAfter = res.RetryAfter
	d.Diagnostics = Diagnostics{
		BurstDetected:  res.BurstDetected,
		AdaptiveLimit:  res.AdaptiveLimit,
		PenaltyApplied: res.PenaltyApplied,
		Blacklisted:    res.Blacklisted,
		Whitelisted:    res.Whitelisted,
	}
	if res.IPBlocked {
		return g.deny(d, KindIPBlocked, res.BlockReason)
	}
	if !res.Allowed {
		if res.BurstDetected {
			return g.deny(d, KindBurstDetected, "")
		}
		return g.deny(d, KindRateLimited, "")
	}

	// Step 5: record usage only after the request is ultimately admitted,
	// so rate-limited attempts are never double-charged against quota.
	if capability == permissions.CapabilityLimited {
		if err := g.tracker.RecordUsage(r.Context(), id, feature, action, now); err != nil {
			// The decision is already made; a counting failure under-counts
			// rather than denying a legitimate request.
			log.Printf("[gateway] usage record failed: %v", err)
		}
	}

	d.Allowed = true
	return d
}

// observeDenied runs denied-request rate limiting for a permission or quota
// denial. An active IP block or an exhausted window upgrades the denial.
func (g *Gateway) observeDenied(d Decision, t models.Tier, ip string) (bool, Decision) {
	res := g.limiter.ObserveDenial(d.Identity, t, ip)
	if res.IPBlocked {
		d.RetryAfter = res.RetryAfter
		d.ResetTime = res.ResetTime
		d.Diagnostics.Blacklisted = res.Blacklisted
		return true, g.deny(d, KindIPBlocked, res.BlockReason)
	}
	if !res.Allowed {
		d.Limit = res.Limit
		d.Remaining = 0
		d.ResetTime = res.ResetTime
		d.RetryAfter = res.RetryAfter
		return true, g.deny(d, KindRateLimited, "")
	}
	return false, d
}

func (g *Gateway) deny(d Decision, kind ErrorKind, reason string) Decision {
	d.Allowed = false
	d.Kind = kind
	if reason == "" {
		reason = kind.Message()
	}
	d.Reason = reason
	return d
}

// Admin surface. These delegate to the components so the HTTP layer has a
// single dependency.

// ResetIdentity drops rate-limit state for one identity.
func (g *Gateway) ResetIdentity(id string) { g.limiter.ResetIdentity(id) }

// BlockIP blocks an IP for the given duration.
func (g *Gateway) BlockIP(ip string, d time.Duration, reason string) error {
	return g.limiter.BlockIP(ip, d, reason)
}

// UnblockIP removes any block on an IP.
func (g *Gateway) UnblockIP(ip string) { g.limiter.UnblockIP(ip) }

// Stats returns aggregate limiter counters.
func (g *Gateway) Stats() ratelimit.Stats { return g.limiter.Stats() }

// Clear drops all limiter state. Test/ops utility.
func (g *Gateway) Clear() { g.limiter.Clear() }

// InvalidateTier drops the cached profile for one identity (tier-change
// push event).
func (g *Gateway) InvalidateTier(id string) { g.tiers.Invalidate(id) }

// InvalidateAllTiers drops every cached profile.
func (g *Gateway) InvalidateAllTiers() { g.tiers.InvalidateAll() }
