// Package auth provides username/password authentication for the
// dashboard: bcrypt password handling, HS256 access tokens and the gin
// middleware that puts the authenticated user on the request context.
// Authentication is optional; with it disabled every request acts as
// the default user.
package auth

import (
	"context"
	"fmt"
	"time"

	"nifty-insight-server/internal/database"
)

// UserStore is the slice of the repository the auth service needs.
type UserStore interface {
	CreateUser(ctx context.Context, user *database.User) error
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
	GetUserByID(ctx context.Context, userID string) (*database.User, error)
}

// Service handles authentication operations
type Service struct {
	store           UserStore
	jwtManager      *JWTManager
	passwordManager *PasswordManager
	config          Config
}

// NewService creates a new authentication service
func NewService(store UserStore, config Config) *Service {
	if config.AccessTokenDuration == 0 {
		config.AccessTokenDuration = 15 * time.Minute
	}

	return &Service{
		store:           store,
		jwtManager:      NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwordManager: NewPasswordManager(config.BcryptCost, config.MinPasswordLength),
		config:          config,
	}
}

// GetJWTManager returns the JWT manager for use in middleware
func (s *Service) GetJWTManager() *JWTManager {
	return s.jwtManager
}

// Register creates a new user account and returns a token for it
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*TokenResponse, error) {
	existing, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if existing != nil {
		return nil, ErrUsernameExists
	}

	if err := s.passwordManager.ValidatePasswordStrength(req.Password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	passwordHash, err := s.passwordManager.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Username:     req.Username,
		PasswordHash: passwordHash,
	}

	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return s.tokenFor(user)
}

// Login authenticates a user and returns an access token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*TokenResponse, error) {
	user, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}

	if !s.passwordManager.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return s.tokenFor(user)
}

// Me retrieves the authenticated user's profile
func (s *Service) Me(ctx context.Context, userID string) (*MeResponse, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return &MeResponse{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
	}, nil
}

func (s *Service) tokenFor(user *database.User) (*TokenResponse, error) {
	claims := UserClaims{
		UserID:   user.ID,
		Username: user.Username,
	}

	accessToken, err := s.jwtManager.GenerateAccessToken(claims)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "bearer",
		ExpiresIn:   s.jwtManager.GetAccessTokenDuration(),
	}, nil
}
