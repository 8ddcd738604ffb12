package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/permissions"
	"github.com/ledgerlens/backend/internal/tier"
	"github.com/ledgerlens/backend/internal/usage"
)

type staticProvider struct {
	profile models.TierProfile
}

func (p staticProvider) Profile(ctx context.Context, userID string) (models.TierProfile, error) {
	return p.profile, nil
}

func testRateLimits() map[models.Tier]int {
	return map[models.Tier]int{
		models.TierBasic:        100,
		models.TierProfessional: 600,
		models.TierEnterprise:   3000,
	}
}

func newUsageHandler(profile models.TierProfile) (*UsageHandler, *usage.Tracker) {
	tracker := usage.NewTracker(usage.NewMemoryStore(), usage.PeriodMonthly)
	resolver := tier.NewResolver(staticProvider{profile: profile}, 5*time.Minute)
	return NewUsageHandler(tracker, permissions.Defaults(), resolver, testRateLimits()), tracker
}

func TestUsageAnonymousCaller(t *testing.T) {
	h, _ := newUsageHandler(models.TierProfile{})

	r := httptest.NewRequest("GET", "/api/v1/usage", nil)
	r.RemoteAddr = "203.0.113.7:51234"
	rec := httptest.NewRecorder()

	h.Usage(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data UsageReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ip:203.0.113.7", body.Data.Identity)
	assert.Equal(t, models.TierBasic, body.Data.Tier)
	assert.NotEmpty(t, body.Data.Entries)
}

func TestUsageReportsConsumption(t *testing.T) {
	profile := models.TierProfile{Tier: models.TierProfessional, Status: models.StatusActive}
	h, tracker := newUsageHandler(profile)

	now := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, tracker.RecordUsage(context.Background(), "user:u1",
			models.FeatureExports, models.ActionExport, now))
	}

	r := httptest.NewRequest("GET", "/api/v1/usage?user_id=u1", nil)
	rec := httptest.NewRecorder()

	h.Usage(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data UsageReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "user:u1", body.Data.Identity)

	var exports *UsageEntry
	for i := range body.Data.Entries {
		e := &body.Data.Entries[i]
		if e.Feature == models.FeatureExports && e.Action == models.ActionExport {
			exports = e
		}
	}
	require.NotNil(t, exports)
	assert.Equal(t, int64(4), exports.Used)
	require.NotNil(t, exports.Remaining)
	assert.Equal(t, int64(25-4), *exports.Remaining)
}

func TestTiersListing(t *testing.T) {
	h, _ := newUsageHandler(models.TierProfile{})

	r := httptest.NewRequest("GET", "/api/v1/tiers", nil)
	rec := httptest.NewRecorder()

	h.Tiers(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []TierInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 3)

	assert.Equal(t, models.TierBasic, body.Data[0].Tier)
	assert.Equal(t, 100, body.Data[0].RateLimit)
	assert.Equal(t, 3000, body.Data[2].RateLimit)

	// Enterprise has every mapped capability unmetered.
	for _, c := range body.Data[2].Capabilities {
		assert.Equal(t, permissions.CapabilityFull, c.Capability)
	}
}
