package gateway

import (
	"context"
	"time"

	"github.com/ledgerlens/backend/internal/models"
)

// Diagnostics carries the rate limiter's behavioral signals through the
// decision for auditing and debugging.
type Diagnostics struct {
	BurstDetected  bool `json:"burst_detected,omitempty"`
	AdaptiveLimit  bool `json:"adaptive_limit,omitempty"`
	PenaltyApplied bool `json:"penalty_applied,omitempty"`
	Blacklisted    bool `json:"blacklisted,omitempty"`
	Whitelisted    bool `json:"whitelisted,omitempty"`
}

// Decision is the single allow/deny verdict produced per request. It is the
// gateway's output, never persisted as mutable state.
type Decision struct {
	Allowed bool      `json:"allowed"`
	Kind    ErrorKind `json:"kind,omitempty"`
	Reason  string    `json:"reason,omitempty"`

	Identity string         `json:"identity"`
	Tier     models.Tier    `json:"tier,omitempty"`
	Feature  models.Feature `json:"feature"`
	Action   models.Action  `json:"action"`

	Limit      int           `json:"limit,omitempty"`
	Remaining  int           `json:"remaining,omitempty"`
	ResetTime  time.Time     `json:"reset_time,omitempty"`
	RetryAfter time.Duration `json:"-"`

	// ResetDate is the start of the next accounting period; set on
	// QuotaExceeded denials.
	ResetDate time.Time `json:"reset_date,omitempty"`

	// RequiredTier is the lowest tier that would allow the operation; set
	// on PermissionDenied denials when one exists.
	RequiredTier models.Tier `json:"required_tier,omitempty"`

	Diagnostics Diagnostics `json:"diagnostics"`
}

type decisionKey struct{}

// WithDecision attaches an admission decision to a context for downstream
// handlers.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the admission decision for this request, if
// the gateway admitted it.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}
