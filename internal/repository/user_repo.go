package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ledgerlens/backend/internal/database"
	"github.com/ledgerlens/backend/internal/models"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when trying to create a user that already exists
	ErrUserExists = errors.New("user already exists")
)

const userColumns = `id, email, password_hash, tier, status, trial_ends_at, subscription_ends_at, is_admin, created_at, updated_at`

// UserRepository handles user database operations. It also serves as the
// gateway's external profile provider.
type UserRepository struct {
	db *database.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

// Create creates a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Tier == "" {
		user.Tier = models.TierBasic
	}
	if user.Status == "" {
		user.Status = models.StatusActive
	}
	now := time.Now()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Tier, user.Status,
		user.TrialEndsAt, user.SubscriptionEndsAt, user.IsAdmin,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Tier, &user.Status,
		&user.TrialEndsAt, &user.SubscriptionEndsAt, &user.IsAdmin,
		&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByID retrieves a user by ID
func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := r.scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}
	return user, nil
}

// GetByEmail retrieves a user by email
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := r.scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

// Profile returns the subscription profile for a user id. This is the
// tier.ProfileProvider implementation used by the gateway; it is the only
// potentially-suspending call on the admission path and inherits the
// request's deadline through ctx.
func (r *UserRepository) Profile(ctx context.Context, userID string) (models.TierProfile, error) {
	query := `SELECT tier, status, trial_ends_at, subscription_ends_at FROM users WHERE id = $1`
	var profile models.TierProfile
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&profile.Tier, &profile.Status, &profile.TrialEndsAt, &profile.SubscriptionEndsAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.TierProfile{}, ErrUserNotFound
		}
		return models.TierProfile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return profile, nil
}

// Update updates a user
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET email = $2, password_hash = $3, tier = $4, status = $5,
		    trial_ends_at = $6, subscription_ends_at = $7, is_admin = $8, updated_at = $9
		WHERE id = $1
	`
	rowsAffected, err := r.db.Exec(ctx, query,
		user.ID, user.Email, user.PasswordHash, user.Tier, user.Status,
		user.TrialEndsAt, user.SubscriptionEndsAt, user.IsAdmin, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// UpdateSubscription updates a user's tier and status. Callers should follow
// up with a tier-cache invalidation so the gateway sees the change promptly.
func (r *UserRepository) UpdateSubscription(ctx context.Context, userID string, tier models.Tier, status models.SubscriptionStatus) error {
	query := `UPDATE users SET tier = $2, status = $3, updated_at = $4 WHERE id = $1`
	rowsAffected, err := r.db.Exec(ctx, query, userID, tier, status, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if rowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Delete deletes a user
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM api_keys WHERE user_id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user api keys: %w", err)
	}

	rowsAffected, err := r.db.Exec(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if rowsAffected == 0 {
		return ErrUserNotFound
	}

	return nil
}

// isUniqueViolation checks if an error is a unique constraint violation
func isUniqueViolation(err error) bool {
	// PostgreSQL unique violation error code is 23505
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return strings.Contains(errMsg, "duplicate key") || strings.Contains(errMsg, "23505")
}
