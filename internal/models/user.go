package models

import (
	"time"
)

// User represents an account in the system
type User struct {
	ID                 string             `json:"id" db:"id"`
	Email              string             `json:"email" db:"email"`
	PasswordHash       string             `json:"-" db:"password_hash"`
	Tier               Tier               `json:"tier" db:"tier"`
	Status             SubscriptionStatus `json:"status" db:"status"`
	TrialEndsAt        *time.Time         `json:"trial_ends_at,omitempty" db:"trial_ends_at"`
	SubscriptionEndsAt *time.Time         `json:"subscription_ends_at,omitempty" db:"subscription_ends_at"`
	IsAdmin            bool               `json:"is_admin" db:"is_admin"`
	CreatedAt          time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at" db:"updated_at"`
}

// Profile returns the user's subscription state as the gateway sees it.
func (u *User) Profile() TierProfile {
	return TierProfile{
		Tier:               u.Tier,
		Status:             u.Status,
		TrialEndsAt:        u.TrialEndsAt,
		SubscriptionEndsAt: u.SubscriptionEndsAt,
	}
}

// APIKey represents an API key for a user
type APIKey struct {
	ID        string    `json:"id" db:"id"`
	UserID    string    `json:"user_id" db:"user_id"`
	KeyHash   string    `json:"-" db:"key_hash"`
	KeyPrefix string    `json:"key_prefix" db:"key_prefix"`
	Name      string    `json:"name" db:"name"`
	IsActive  bool      `json:"is_active" db:"is_active"`
	LastUsed  time.Time `json:"last_used,omitempty" db:"last_used"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
