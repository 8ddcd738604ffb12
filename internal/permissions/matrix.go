// Package permissions holds the static (tier × feature × action) capability
// table. The matrix is built once at startup and is immutable afterwards;
// lookups are pure and any unmapped combination denies.
package permissions

import (
	"fmt"

	"github.com/ledgerlens/backend/internal/models"
)

// Capability is the permission level for a (tier, feature, action) cell.
type Capability string

const (
	CapabilityNone    Capability = "none"
	CapabilityLimited Capability = "limited"
	CapabilityFull    Capability = "full"
)

// Entry is one cell of the matrix. Quota applies only to limited
// capabilities; 0 means no quota is attached.
type Entry struct {
	Capability Capability `json:"capability"`
	Quota      int        `json:"quota,omitempty"`
}

// Rule is the loadable form of a matrix cell. Names are validated against
// the closed enums when the matrix is built.
type Rule struct {
	Tier       string
	Feature    string
	Action     string
	Capability Capability
	Quota      int
}

type key struct {
	tier    models.Tier
	feature models.Feature
	action  models.Action
}

// Matrix maps (tier, feature, action) to capability and quota.
type Matrix struct {
	entries map[key]Entry
}

// New builds a matrix from rules, validating every name at load time.
func New(rules []Rule) (*Matrix, error) {
	m := &Matrix{entries: make(map[key]Entry, len(rules))}
	for _, rule := range rules {
		tier, err := models.ParseTier(rule.Tier)
		if err != nil {
			return nil, fmt.Errorf("permission rule: %w", err)
		}
		feature, err := models.ParseFeature(rule.Feature)
		if err != nil {
			return nil, fmt.Errorf("permission rule: %w", err)
		}
		action, err := models.ParseAction(rule.Action)
		if err != nil {
			return nil, fmt.Errorf("permission rule: %w", err)
		}
		switch rule.Capability {
		case CapabilityNone, CapabilityLimited, CapabilityFull:
		default:
			return nil, fmt.Errorf("permission rule: invalid capability %q", rule.Capability)
		}
		if rule.Quota < 0 {
			return nil, fmt.Errorf("permission rule: negative quota %d", rule.Quota)
		}
		k := key{tier: tier, feature: feature, action: action}
		if _, dup := m.entries[k]; dup {
			return nil, fmt.Errorf("permission rule: duplicate entry for %s/%s/%s", tier, feature, action)
		}
		m.entries[k] = Entry{Capability: rule.Capability, Quota: rule.Quota}
	}
	return m, nil
}

// MustNew is New for static rule tables known to be valid.
func MustNew(rules []Rule) *Matrix {
	m, err := New(rules)
	if err != nil {
		panic(err)
	}
	return m
}

// Lookup returns the entry for a combination. Unmapped combinations return
// CapabilityNone: unknown means deny.
func (m *Matrix) Lookup(tier models.Tier, feature models.Feature, action models.Action) Entry {
	if entry, ok := m.entries[key{tier: tier, feature: feature, action: action}]; ok {
		return entry
	}
	return Entry{Capability: CapabilityNone}
}

// MinimumTierFor returns the lowest tier with a non-none capability for a
// feature/action, used to suggest an upgrade target in denial responses.
func (m *Matrix) MinimumTierFor(feature models.Feature, action models.Action) (models.Tier, bool) {
	for _, tier := range models.Tiers {
		if m.Lookup(tier, feature, action).Capability != CapabilityNone {
			return tier, true
		}
	}
	return "", false
}

// Defaults is the shipped permission table.
func Defaults() *Matrix {
	return MustNew([]Rule{
		// basic: read-only reports with a tight quota, API access metered
		{Tier: "basic", Feature: "reports", Action: "read", Capability: CapabilityLimited, Quota: 50},
		{Tier: "basic", Feature: "api_access", Action: "read", Capability: CapabilityLimited, Quota: 1000},

		// professional: adds authoring and exports
		{Tier: "professional", Feature: "reports", Action: "read", Capability: CapabilityFull},
		{Tier: "professional", Feature: "reports", Action: "create", Capability: CapabilityLimited, Quota: 100},
		{Tier: "professional", Feature: "exports", Action: "export", Capability: CapabilityLimited, Quota: 25},
		{Tier: "professional", Feature: "api_access", Action: "read", Capability: CapabilityLimited, Quota: 50000},
		{Tier: "professional", Feature: "valuations", Action: "read", Capability: CapabilityLimited, Quota: 200},

		// enterprise: everything, unmetered
		{Tier: "enterprise", Feature: "reports", Action: "read", Capability: CapabilityFull},
		{Tier: "enterprise", Feature: "reports", Action: "create", Capability: CapabilityFull},
		{Tier: "enterprise", Feature: "exports", Action: "export", Capability: CapabilityFull},
		{Tier: "enterprise", Feature: "api_access", Action: "read", Capability: CapabilityFull},
		{Tier: "enterprise", Feature: "valuations", Action: "read", Capability: CapabilityFull},
	})
}
