package models

import (
	"fmt"
	"time"
)

// Tier is a subscription level. The set is closed; configuration that names
// an unknown tier is rejected at load time.
type Tier string

const (
	TierBasic        Tier = "basic"
	TierProfessional Tier = "professional"
	TierEnterprise   Tier = "enterprise"
)

// Tiers lists all valid tiers in ascending order of privilege.
var Tiers = []Tier{TierBasic, TierProfessional, TierEnterprise}

// ParseTier validates a tier name
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierBasic, TierProfessional, TierEnterprise:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("invalid tier: %q", s)
	}
}

// IsValidTier checks if a tier name is valid
func IsValidTier(s string) bool {
	_, err := ParseTier(s)
	return err == nil
}

// TierHierarchy returns the hierarchy level of a tier (higher = more privileges)
func TierHierarchy(tier Tier) int {
	switch tier {
	case TierEnterprise:
		return 3
	case TierProfessional:
		return 2
	case TierBasic:
		return 1
	default:
		return 0
	}
}

// SubscriptionStatus is the billing state of a subscription.
type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusTrialing SubscriptionStatus = "trialing"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
)

// ParseStatus validates a subscription status name
func ParseStatus(s string) (SubscriptionStatus, error) {
	switch SubscriptionStatus(s) {
	case StatusActive, StatusTrialing, StatusPastDue, StatusCanceled:
		return SubscriptionStatus(s), nil
	default:
		return "", fmt.Errorf("invalid subscription status: %q", s)
	}
}

// TierProfile is a caller's resolved subscription state. It is sourced from
// the profile provider and cached by the tier resolver.
type TierProfile struct {
	Tier               Tier               `json:"tier"`
	Status             SubscriptionStatus `json:"status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty"`
	SubscriptionEndsAt *time.Time         `json:"subscription_ends_at,omitempty"`
}

// Entitled reports whether the profile currently grants access to its tier.
// Trialing profiles lose entitlement when the trial lapses; canceled
// subscriptions keep it until their paid-through date.
func (p TierProfile) Entitled(now time.Time) bool {
	switch p.Status {
	case StatusActive:
		return true
	case StatusTrialing:
		return p.TrialEndsAt == nil || now.Before(*p.TrialEndsAt)
	case StatusCanceled:
		return p.SubscriptionEndsAt != nil && now.Before(*p.SubscriptionEndsAt)
	default:
		return false
	}
}
