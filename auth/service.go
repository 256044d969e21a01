package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cardiovision/db"
	"go.uber.org/zap"
)

var (
	// ErrInvalidCredentials hides whether the username or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUsernameTaken      = errors.New("username already taken")
	ErrUsernameRequired   = errors.New("username required")
)

// UserStore is the part of the database the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, name, passwordHash string) (*db.User, error)
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	GetUserByID(ctx context.Context, id string) (*db.User, error)
}

type Service struct {
	users  UserStore
	tokens *TokenService
	logger *zap.Logger
}

func NewService(users UserStore, tokens *TokenService, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{users: users, tokens: tokens, logger: logger}
}

// Tokens exposes the token service for middleware.
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

func (s *Service) Register(ctx context.Context, username, name, password string) (*db.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrUsernameRequired
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := s.users.CreateUser(ctx, username, name, hash)
	if errors.Is(err, db.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.logger.Info("user registered", zap.String("user_id", user.ID), zap.String("username", user.Username))
	return user, nil
}

// Login checks credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, *db.User, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if errors.Is(err, db.ErrNotFound) {
		s.logger.Warn("login with unknown username", zap.String("username", username))
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := CheckPassword(user.PasswordHash, password); err != nil {
		s.logger.Warn("invalid password attempt", zap.String("user_id", user.ID))
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return "", nil, fmt.Errorf("issue token: %w", err)
	}
	return token, user, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*db.User, error) {
	return s.users.GetUserByID(ctx, userID)
}
