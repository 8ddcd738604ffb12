package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/gateway"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/permissions"
	"github.com/ledgerlens/backend/internal/ratelimit"
	"github.com/ledgerlens/backend/internal/tier"
	"github.com/ledgerlens/backend/internal/usage"
)

func newAdminFixture() (*AdminHandler, *gateway.Gateway) {
	resolver := tier.NewResolver(staticProvider{profile: models.TierProfile{
		Tier:   models.TierBasic,
		Status: models.StatusActive,
	}}, 5*time.Minute)
	tracker := usage.NewTracker(usage.NewMemoryStore(), usage.PeriodMonthly)

	// A tiny window and no burst detection keep the tests deterministic.
	limitCfg := ratelimit.DefaultConfig()
	limitCfg.TierLimits[models.TierBasic] = 5
	limitCfg.BurstThreshold = 1000
	limiter := ratelimit.New(limitCfg)

	gw := gateway.New(gateway.Config{}, resolver, permissions.Defaults(), tracker, limiter)
	return NewAdminHandler(gw, nil), gw
}

func adminRouter(h *AdminHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/gateway/stats", h.Stats)
	r.Post("/gateway/clear", h.Clear)
	r.Post("/gateway/identities/{identity}/reset", h.ResetIdentity)
	r.Post("/gateway/blocks", h.BlockIP)
	r.Delete("/gateway/blocks/{ip}", h.UnblockIP)
	r.Post("/tiers/{identity}/invalidate", h.InvalidateTier)
	return r
}

func gatedRequest() *http.Request {
	r := httptest.NewRequest("GET", "/api/v1/reports", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	return r
}

func TestAdminStats(t *testing.T) {
	h, gw := newAdminFixture()
	gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)

	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, httptest.NewRequest("GET", "/gateway/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_requests":1`)
}

func TestAdminBlockAndUnblockIP(t *testing.T) {
	h, gw := newAdminFixture()
	router := adminRouter(h)

	body := strings.NewReader(`{"ip":"203.0.113.7","duration":"30m","reason":"abuse"}`)
	req := httptest.NewRequest("POST", "/gateway/blocks", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	d := gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)
	assert.Equal(t, gateway.KindIPBlocked, d.Kind)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/gateway/blocks/203.0.113.7", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	d = gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)
	assert.True(t, d.Allowed)
}

func TestAdminBlockIPRejectsBadDuration(t *testing.T) {
	h, _ := newAdminFixture()

	body := strings.NewReader(`{"ip":"203.0.113.7","duration":"shortly"}`)
	req := httptest.NewRequest("POST", "/gateway/blocks", body)
	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminResetIdentity(t *testing.T) {
	h, gw := newAdminFixture()

	// Exhaust the anonymous window (5 per window in this fixture).
	var d gateway.Decision
	for i := 0; i < 6; i++ {
		d = gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)
	}
	require.False(t, d.Allowed)

	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec,
		httptest.NewRequest("POST", "/gateway/identities/ip:203.0.113.7/reset", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	d = gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)
	assert.True(t, d.Allowed)
}

func TestAdminClear(t *testing.T) {
	h, gw := newAdminFixture()
	gw.Admit(gatedRequest(), models.FeatureReports, models.ActionRead)

	rec := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rec, httptest.NewRequest("POST", "/gateway/clear", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Zero(t, gw.Stats().TotalRequests)
}
