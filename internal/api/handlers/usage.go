package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/ledgerlens/backend/internal/api/response"
	"github.com/ledgerlens/backend/internal/identity"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/permissions"
	"github.com/ledgerlens/backend/internal/tier"
	"github.com/ledgerlens/backend/internal/usage"
)

// UsageHandler reports quota consumption and tier capabilities
type UsageHandler struct {
	tracker    *usage.Tracker
	matrix     *permissions.Matrix
	tiers      *tier.Resolver
	rateLimits map[models.Tier]int
}

// NewUsageHandler creates a new usage handler
func NewUsageHandler(tracker *usage.Tracker, matrix *permissions.Matrix, tiers *tier.Resolver, rateLimits map[models.Tier]int) *UsageHandler {
	return &UsageHandler{
		tracker:    tracker,
		matrix:     matrix,
		tiers:      tiers,
		rateLimits: rateLimits,
	}
}

// UsageEntry is one feature/action quota line for the caller
type UsageEntry struct {
	Feature    models.Feature         `json:"feature"`
	Action     models.Action          `json:"action"`
	Capability permissions.Capability `json:"capability"`
	Quota      int                    `json:"quota,omitempty"`
	Used       int64                  `json:"used"`
	Remaining  *int64                 `json:"remaining,omitempty"`
}

// UsageReport is the response for GET /usage
type UsageReport struct {
	Identity  string       `json:"identity"`
	Tier      models.Tier  `json:"tier"`
	Period    string       `json:"period"`
	ResetDate time.Time    `json:"reset_date"`
	Entries   []UsageEntry `json:"entries"`
}

// Usage handles GET /api/v1/usage. It reports quota consumption for the
// caller's identity: the authenticated user if present, the client IP
// otherwise, mirroring how the gateway accounts for them.
func (h *UsageHandler) Usage(w http.ResponseWriter, r *http.Request) {
	id := identity.Resolve(r)
	now := time.Now()

	profile, err := h.tiers.Resolve(r.Context(), id)
	if err != nil {
		log.Printf("[usage] tier resolution failed for %s: %v", id, err)
		response.Error(w, http.StatusServiceUnavailable, "Unable to verify subscription")
		return
	}

	report := UsageReport{
		Identity:  id,
		Tier:      profile.Tier,
		ResetDate: h.tracker.NextReset(now),
	}

	for _, feature := range models.Features {
		for _, action := range models.Actions {
			entry := h.matrix.Lookup(profile.Tier, feature, action)
			if entry.Capability == permissions.CapabilityNone {
				continue
			}

			line := UsageEntry{
				Feature:    feature,
				Action:     action,
				Capability: entry.Capability,
				Quota:      entry.Quota,
			}

			if entry.Capability == permissions.CapabilityLimited && entry.Quota > 0 {
				used, err := h.tracker.CurrentUsage(r.Context(), id, feature, action)
				if err != nil {
					log.Printf("[usage] usage lookup failed: %v", err)
					response.InternalError(w, "")
					return
				}
				line.Used = used
				remaining := int64(entry.Quota) - used
				if remaining < 0 {
					remaining = 0
				}
				line.Remaining = &remaining
			}

			report.Entries = append(report.Entries, line)
		}
	}

	response.Success(w, report)
}

// TierCapability is one feature/action cell in the tier listing
type TierCapability struct {
	Feature    models.Feature         `json:"feature"`
	Action     models.Action          `json:"action"`
	Capability permissions.Capability `json:"capability"`
	Quota      int                    `json:"quota,omitempty"`
}

// TierInfo describes one tier's limits and capabilities
type TierInfo struct {
	Tier         models.Tier      `json:"tier"`
	RateLimit    int              `json:"rate_limit_per_window"`
	Capabilities []TierCapability `json:"capabilities"`
}

// Tiers handles GET /api/v1/tiers - the public tier comparison listing
func (h *UsageHandler) Tiers(w http.ResponseWriter, r *http.Request) {
	infos := make([]TierInfo, 0, len(models.Tiers))
	for _, t := range models.Tiers {
		info := TierInfo{
			Tier:      t,
			RateLimit: h.rateLimits[t],
		}
		for _, feature := range models.Features {
			for _, action := range models.Actions {
				entry := h.matrix.Lookup(t, feature, action)
				if entry.Capability == permissions.CapabilityNone {
					continue
				}
				info.Capabilities = append(info.Capabilities, TierCapability{
					Feature:    feature,
					Action:     action,
					Capability: entry.Capability,
					Quota:      entry.Quota,
				})
			}
		}
		infos = append(infos, info)
	}

	response.Success(w, infos)
}
