package gateway

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/ledgerlens/backend/internal/models"
)

// denialResponse is the wire shape of a denied request.
type denialResponse struct {
	Error      string         `json:"error"`
	Code       ErrorKind      `json:"code"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    *denialDetails `json:"details,omitempty"`
	UpgradeURL string         `json:"upgrade_url,omitempty"`
	RetryAfter int64          `json:"retry_after,omitempty"`
}

type denialDetails struct {
	Feature      models.Feature `json:"feature"`
	Action       models.Action  `json:"action"`
	RequiredTier models.Tier    `json:"required_tier,omitempty"`
	CurrentTier  models.Tier    `json:"current_tier,omitempty"`
	Limitation   string         `json:"limitation,omitempty"`
	ResetDate    *time.Time     `json:"reset_date,omitempty"`
}

// Require returns middleware gating a route on one feature/action. Denials
// are written as structured JSON with the taxonomy's status code; admitted
// requests are enriched with the decision in context and response headers.
func (g *Gateway) Require(feature models.Feature, action models.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision := g.Admit(r, feature, action)

			if !decision.Allowed {
				g.writeDenial(w, decision)
				return
			}

			setRateLimitHeaders(w, decision)
			w.Header().Set("X-LedgerLens-Tier", string(decision.Tier))
			w.Header().Set("X-LedgerLens-Identity", decision.Identity)

			next.ServeHTTP(w, r.WithContext(WithDecision(r.Context(), decision)))
		})
	}
}

func (g *Gateway) writeDenial(w http.ResponseWriter, d Decision) {
	status := d.Kind.HTTPStatus()

	if status == http.StatusTooManyRequests {
		setRateLimitHeaders(w, d)
	}
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retryAfterSeconds(d.RetryAfter), 10))
	}

	resp := denialResponse{
		Error:      d.Reason,
		Code:       d.Kind,
		Timestamp:  g.now().UTC(),
		RetryAfter: retryAfterSeconds(d.RetryAfter),
	}

	switch d.Kind {
	case KindPermissionDenied, KindQuotaExceeded, KindSubscriptionUnverifiable:
		resp.UpgradeURL = g.cfg.UpgradeURL
	}

	switch d.Kind {
	case KindPermissionDenied:
		resp.Details = &denialDetails{
			Feature:      d.Feature,
			Action:       d.Action,
			RequiredTier: d.RequiredTier,
			CurrentTier:  d.Tier,
			Limitation:   "tier does not include this operation",
		}
	case KindQuotaExceeded:
		reset := d.ResetDate
		resp.Details = &denialDetails{
			Feature:     d.Feature,
			Action:      d.Action,
			CurrentTier: d.Tier,
			Limitation:  "quota for the current period is exhausted",
			ResetDate:   &reset,
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func setRateLimitHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetTime.IsZero() {
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetTime.Unix(), 10))
	}
}

func retryAfterSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(math.Ceil(d.Seconds()))
}
