package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"regexp"
	"time"

	"github.com/ledgerlens/backend/internal/api/request"
	"github.com/ledgerlens/backend/internal/api/response"
	"github.com/ledgerlens/backend/internal/auth"
	"github.com/ledgerlens/backend/internal/models"
	"github.com/ledgerlens/backend/internal/repository"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	users   *repository.UserRepository
	jwt     *auth.JWTService
	apiKeys *auth.APIKeyService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *repository.UserRepository, jwt *auth.JWTService, apiKeys *auth.APIKeyService) *AuthHandler {
	return &AuthHandler{
		users:   users,
		jwt:     jwt,
		apiKeys: apiKeys,
	}
}

// RegisterRequest is the body for POST /auth/register
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginRequest is the body for POST /auth/login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest is the body for POST /auth/refresh
type RefreshRequest struct {
	Token string `json:"token"`
}

// AuthResponse is returned on successful register/login/refresh
type AuthResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse is the public view of a user
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Tier      string    `json:"tier"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Tier:      string(u.Tier),
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	}
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	if !isValidEmail(req.Email) {
		response.BadRequest(w, "Invalid email address")
		return
	}
	if err := auth.ValidatePasswordStrength(req.Password); err != nil {
		response.BadRequest(w, err.Error())
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		log.Printf("[auth] failed to hash password: %v", err)
		response.InternalError(w, "")
		return
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Tier:         models.TierBasic,
		Status:       models.StatusActive,
	}
	if err := h.users.Create(r.Context(), user); err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			response.Error(w, http.StatusConflict, "An account with this email already exists")
			return
		}
		log.Printf("[auth] failed to create user: %v", err)
		response.InternalError(w, "")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		log.Printf("[auth] failed to generate token: %v", err)
		response.InternalError(w, "")
		return
	}

	response.Created(w, AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.jwt.GetExpiration()),
		User:      toUserResponse(user),
	})
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		// The same answer for unknown emails and wrong passwords.
		response.Error(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	if !auth.VerifyPassword(req.Password, user.PasswordHash) {
		response.Error(w, http.StatusUnauthorized, "Invalid email or password")
		return
	}

	token, err := h.jwt.Generate(user)
	if err != nil {
		log.Printf("[auth] failed to generate token: %v", err)
		response.InternalError(w, "")
		return
	}

	response.Success(w, AuthResponse{
		Token:     token,
		ExpiresAt: time.Now().Add(h.jwt.GetExpiration()),
		User:      toUserResponse(user),
	})
}

// Refresh handles POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Token == "" {
		response.BadRequest(w, "Token is required")
		return
	}

	token, err := h.jwt.Refresh(req.Token)
	if err != nil {
		response.Error(w, http.StatusUnauthorized, "Unable to refresh token")
		return
	}

	response.Success(w, map[string]interface{}{
		"token":      token,
		"expires_at": time.Now().Add(h.jwt.GetExpiration()),
	})
}

// Me handles GET /user/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.NotFound(w, "User not found")
			return
		}
		log.Printf("[auth] failed to load user: %v", err)
		response.InternalError(w, "")
		return
	}

	response.Success(w, toUserResponse(user))
}

// CreateAPIKeyRequest is the body for POST /user/api-keys
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateAPIKey handles POST /user/api-keys
func (h *AuthHandler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid request body")
		return
	}
	if req.Name == "" {
		response.BadRequest(w, "Key name is required")
		return
	}

	key, err := h.apiKeys.Generate(r.Context(), userID, req.Name)
	if err != nil {
		log.Printf("[auth] failed to generate api key: %v", err)
		response.InternalError(w, "")
		return
	}

	response.Created(w, key)
}

// ListAPIKeys handles GET /user/api-keys
func (h *AuthHandler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keys, err := h.apiKeys.List(r.Context(), userID)
	if err != nil {
		log.Printf("[auth] failed to list api keys: %v", err)
		response.InternalError(w, "")
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}

	response.Success(w, keys)
}

// RevokeAPIKey handles DELETE /user/api-keys/{keyID}
func (h *AuthHandler) RevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUserID(r.Context())
	if userID == "" {
		response.Error(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	keyID := request.GetURLParam(r, "keyID")
	if keyID == "" {
		response.BadRequest(w, "Key ID is required")
		return
	}

	if err := h.apiKeys.Revoke(r.Context(), userID, keyID); err != nil {
		if errors.Is(err, auth.ErrAPIKeyNotFound) {
			response.NotFound(w, "API key not found")
			return
		}
		log.Printf("[auth] failed to revoke api key: %v", err)
		response.InternalError(w, "")
		return
	}

	response.NoContent(w)
}

func isValidEmail(email string) bool {
	return len(email) <= 254 && emailRegex.MatchString(email)
}
