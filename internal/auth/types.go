package auth

import (
	"time"
)

// DefaultUserID is the identity every request runs under when
// authentication is disabled (single-tenant mode).
const DefaultUserID = "default"

// UserClaims represents the JWT claims for a user
type UserClaims struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// TokenResponse is returned by register and login
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Always "bearer"
	ExpiresIn   int64  `json:"expires_in"` // Access token expiry in seconds
}

// RegisterRequest represents a user registration request
type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents a user login request
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// MeResponse represents the authenticated user returned by /auth/me
type MeResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Config holds authentication configuration
type Config struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
	BcryptCost          int           `json:"bcrypt_cost"`
	MinPasswordLength   int           `json:"min_password_length"`
}

// DefaultConfig returns default authentication configuration
func DefaultConfig() Config {
	return Config{
		Enabled:             false,
		JWTSecret:           "", // Must be set when enabled
		AccessTokenDuration: 15 * time.Minute,
		BcryptCost:          DefaultBcryptCost,
		MinPasswordLength:   MinPasswordLength,
	}
}

// AuthError is a typed authentication failure with a stable code
type AuthError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e AuthError) Error() string {
	return e.Message
}

// Common authentication errors
var (
	ErrInvalidCredentials = AuthError{Code: "INVALID_CREDENTIALS", Message: "invalid username or password"}
	ErrUserNotFound       = AuthError{Code: "USER_NOT_FOUND", Message: "user not found"}
	ErrUsernameExists     = AuthError{Code: "USERNAME_EXISTS", Message: "username already registered"}
	ErrInvalidToken       = AuthError{Code: "INVALID_TOKEN", Message: "invalid or expired token"}
	ErrTokenExpired       = AuthError{Code: "TOKEN_EXPIRED", Message: "token has expired"}
	ErrUnauthorized       = AuthError{Code: "UNAUTHORIZED", Message: "unauthorized access"}
	ErrWeakPassword       = AuthError{Code: "WEAK_PASSWORD", Message: "password does not meet requirements"}
)
