package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/skillbay/chatsync/internal/server/storage"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registering an existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when the username misses constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when the password misses constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations for the chat server.
type Service struct {
	store     storage.UserStore
	jwtConfig *JWTConfig
}

// NewService creates an authentication service.
func NewService(userStore storage.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{store: userStore, jwtConfig: jwtConfig}
}

// Register creates a user and returns a signed token plus the user record.
func (s *Service) Register(ctx context.Context, username, displayName, password string) (string, *storage.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", nil, ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", nil, ErrInvalidPassword
	}
	if displayName == "" {
		displayName = username
	}

	if existing, err := s.store.GetUserByUsername(ctx, username); err == nil && existing != nil {
		return "", nil, ErrUserExists
	}

	hashed, err := HashPassword(password)
	if err != nil {
		return "", nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, displayName, "", hashed)
	if err != nil {
		return "", nil, fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.DisplayName, user.AvatarURL)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// Login validates credentials and returns a signed token plus the user.
func (s *Service) Login(ctx context.Context, username, password string) (string, *storage.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.DisplayName, user.AvatarURL)
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	return token, user, nil
}

// ValidateToken validates a token string and returns its claims.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
