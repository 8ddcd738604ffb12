package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/ledgerlens/backend/internal/api/request"
	"github.com/ledgerlens/backend/internal/api/response"
	"github.com/ledgerlens/backend/internal/gateway"
	"github.com/ledgerlens/backend/internal/identity"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/ratelimit"
	"github.com/ledgerlens/backend/internal/repository"
)

// AdminHandler exposes gateway operations to administrators
type AdminHandler struct {
	gw    *gateway.Gateway
	users *repository.UserRepository
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(gw *gateway.Gateway, users *repository.UserRepository) *AdminHandler {
	return &AdminHandler{gw: gw, users: users}
}

// ResetIdentity handles POST /admin/gateway/identities/{identity}/reset.
// Clears rate-limit state for one identity so a legitimate caller can
// recover from an adaptive penalty immediately.
func (h *AdminHandler) ResetIdentity(w http.ResponseWriter, r *http.Request) {
	id := request.GetURLParam(r, "identity")
	if id == "" {
		response.BadRequest(w, "Identity is required")
		return
	}

	h.gw.ResetIdentity(id)
	response.Success(w, map[string]string{
		"identity": id,
		"result":   "reset",
	})
}

// BlockIPRequest is the body for POST /admin/gateway/blocks
type BlockIPRequest struct {
	IP       string `json:"ip"`
	Duration string `json:"duration"`
	Reason   string `json:"reason"`
}

// BlockIP handles POST /admin/gateway/blocks
func (h *AdminHandler) BlockIP(w http.ResponseWriter, r *http.Request) {
	var req BlockIPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.IP == "" {
		response.BadRequest(w, "IP is required")
		return
	}

	duration := 15 * time.Minute
	if req.Duration != "" {
		d, err := time.ParseDuration(req.Duration)
		if err != nil {
			response.BadRequest(w, "Invalid duration")
			return
		}
		duration = d
	}

	if err := h.gw.BlockIP(req.IP, duration, req.Reason); err != nil {
		if errors.Is(err, ratelimit.ErrInvalidBlockDuration) {
			response.BadRequest(w, err.Error())
			return
		}
		log.Printf("[admin] failed to block ip: %v", err)
		response.InternalError(w, "")
		return
	}

	response.Success(w, map[string]interface{}{
		"ip":            req.IP,
		"blocked_until": time.Now().Add(duration).UTC(),
		"reason":        req.Reason,
	})
}

// UnblockIP handles DELETE /admin/gateway/blocks/{ip}
func (h *AdminHandler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	ip := request.GetURLParam(r, "ip")
	if ip == "" {
		response.BadRequest(w, "IP is required")
		return
	}

	h.gw.UnblockIP(ip)
	response.NoContent(w)
}

// Stats handles GET /admin/gateway/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	response.Success(w, h.gw.Stats())
}

// Clear handles POST /admin/gateway/clear. Drops all limiter state,
// including manual blocks.
func (h *AdminHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.gw.Clear()
	response.Success(w, map[string]string{"result": "cleared"})
}

// InvalidateTier handles POST /admin/tiers/{identity}/invalidate. Used by
// billing webhooks so a tier change takes effect before the cache TTL lapses.
func (h *AdminHandler) InvalidateTier(w http.ResponseWriter, r *http.Request) {
	id := request.GetURLParam(r, "identity")
	if id == "" {
		response.BadRequest(w, "Identity is required")
		return
	}

	h.gw.InvalidateTier(id)
	response.Success(w, map[string]string{
		"identity": id,
		"result":   "invalidated",
	})
}

// InvalidateAllTiers handles POST /admin/tiers/invalidate
func (h *AdminHandler) InvalidateAllTiers(w http.ResponseWriter, r *http.Request) {
	h.gw.InvalidateAllTiers()
	response.Success(w, map[string]string{"result": "invalidated"})
}

// UpdateSubscriptionRequest is the body for PUT /admin/users/{userID}/subscription
type UpdateSubscriptionRequest struct {
	Tier   string `json:"tier"`
	Status string `json:"status"`
}

// UpdateSubscription handles PUT /admin/users/{userID}/subscription. The
// cached profile is invalidated so the gateway sees the change on the next
// request rather than at TTL expiry.
func (h *AdminHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	userID := request.GetURLParam(r, "userID")
	if userID == "" {
		response.BadRequest(w, "User ID is required")
		return
	}

	var req UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	tier, err := models.ParseTier(req.Tier)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	if err := h.users.UpdateSubscription(r.Context(), userID, tier, status); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		log.Printf("[admin] failed to update subscription: %v", err)
		response.InternalError(w, "")
		return
	}

	h.gw.InvalidateTier(identity.ForUser(userID))

	response.Success(w, map[string]string{
		"user_id": userID,
		"tier":    string(tier),
		"status":  string(status),
	})
}
