package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerlens/backend/internal/database"
	"github.com/ledgerlens/backend/internal/models"
)

const (
	// APIKeyPrefix is the prefix for all API keys
	APIKeyPrefix = "llx_live_"
	// APIKeyLength is the length of the random part of the API key
	APIKeyLength = 32
)

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("api key not found")
	// ErrAPIKeyRevoked is returned when an API key has been revoked
	ErrAPIKeyRevoked = errors.New("api key has been revoked")
	// ErrAPIKeyInvalid is returned when an API key format is invalid
	ErrAPIKeyInvalid = errors.New("invalid api key format")
)

// APIKeyService handles API key operations
type APIKeyService struct {
	db *database.DB
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(db *database.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// GeneratedKey contains both the plain text key (shown once) and the stored key info
type GeneratedKey struct {
	PlainTextKey string         `json:"key"`
	KeyInfo      *models.APIKey `json:"key_info"`
}

// Generate creates a new API key for a user
func (s *APIKeyService) Generate(ctx context.Context, userID string, name string) (*GeneratedKey, error) {
	plainKey, err := generateAPIKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate api key: %w", err)
	}

	keyHash := hashAPIKey(plainKey)

	// Keep a short prefix for identification in listings.
	keyPrefix := plainKey[:len(APIKeyPrefix)+7]

	apiKey := &models.APIKey{
		ID:        uuid.New().String(),
		UserID:    userID,
		KeyHash:   keyHash,
		KeyPrefix: keyPrefix,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO api_keys (id, user_id, key_hash, key_prefix, name, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.Exec(ctx, query,
		apiKey.ID, apiKey.UserID, apiKey.KeyHash, apiKey.KeyPrefix, apiKey.Name, apiKey.IsActive, apiKey.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}

	return &GeneratedKey{
		PlainTextKey: plainKey,
		KeyInfo:      apiKey,
	}, nil
}

// Validate validates an API key and returns the associated user
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.User, error) {
	if len(key) < len(APIKeyPrefix) || key[:len(APIKeyPrefix)] != APIKeyPrefix {
		return nil, ErrAPIKeyInvalid
	}

	keyHash := hashAPIKey(key)

	query := `
		SELECT u.id, u.email, u.password_hash, u.tier, u.status,
		       u.trial_ends_at, u.subscription_ends_at, u.is_admin,
		       u.created_at, u.updated_at, ak.is_active
		FROM api_keys ak
		JOIN users u ON ak.user_id = u.id
		WHERE ak.key_hash = $1
	`
	var user models.User
	var isActive bool
	err := s.db.QueryRow(ctx, query, keyHash).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Tier, &user.Status,
		&user.TrialEndsAt, &user.SubscriptionEndsAt, &user.IsAdmin,
		&user.CreatedAt, &user.UpdatedAt, &isActive,
	)
	if err != nil {
		return nil, ErrAPIKeyNotFound
	}
	if !isActive {
		return nil, ErrAPIKeyRevoked
	}

	// Best effort; a failed touch must not fail validation.
	s.touchLastUsed(ctx, keyHash)

	return &user, nil
}

// List returns all API keys for a user
func (s *APIKeyService) List(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_prefix, name, is_active, last_used, created_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var key models.APIKey
		if err := rows.Scan(&key.ID, &key.UserID, &key.KeyPrefix, &key.Name, &key.IsActive, &key.LastUsed, &key.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		keys = append(keys, &key)
	}
	return keys, rows.Err()
}

// Revoke deactivates an API key owned by the user
func (s *APIKeyService) Revoke(ctx context.Context, userID, keyID string) error {
	query := `UPDATE api_keys SET is_active = false WHERE id = $1 AND user_id = $2`
	affected, err := s.db.Exec(ctx, query, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if affected == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

func (s *APIKeyService) touchLastUsed(ctx context.Context, keyHash string) {
	query := `UPDATE api_keys SET last_used = $2 WHERE key_hash = $1`
	s.db.Exec(ctx, query, keyHash, time.Now()) //nolint:errcheck
}

// generateAPIKey creates a cryptographically random key with the service prefix
func generateAPIKey() (string, error) {
	buf := make([]byte, APIKeyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(buf), nil
}

// hashAPIKey returns the hex SHA-256 digest used for storage and lookup
func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
