// Package service holds the user-account surface around the gateway core:
// registration and login.
package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/model"
	"github.com/wagate/gateway-server-go/internal/repository"
	"github.com/wagate/gateway-server-go/internal/token"
	"github.com/wagate/gateway-server-go/internal/util"
)

const minPasswordLength = 8

type AuthService struct {
	users  repository.UserRepository
	tokens *token.Manager
}

func NewAuthService(users repository.UserRepository, tokens *token.Manager) *AuthService {
	return &AuthService{users: users, tokens: tokens}
}

type AuthResult struct {
	UserID      string `json:"userId"`
	Username    string `json:"username"`
	AccessToken string `json:"accessToken"`
}

func (s *AuthService) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, apperrors.MissingRequired("username")
	}
	if len(password) < minPasswordLength {
		return nil, apperrors.InvalidInput("password", "must be at least 8 characters")
	}

	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if existing != nil {
		return nil, apperrors.AlreadyExists("Username")
	}

	hash, err := util.HashPassword(password)
	if err != nil {
		return nil, apperrors.Internal("failed to hash password").WithCause(err)
	}

	user, err := s.users.Create(ctx, model.CreateUserParams{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	accessToken, err := s.tokens.NewAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Internal("failed to mint access token").WithCause(err)
	}

	log.Info().Str("userId", user.ID).Str("username", user.Username).Msg("user registered")
	return &AuthResult{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: accessToken,
	}, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	user, err := s.users.FindByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if user == nil || !util.CheckPasswordHash(password, user.PasswordHash) {
		return nil, apperrors.Unauthorized("Invalid username or password")
	}

	accessToken, err := s.tokens.NewAccessToken(user.ID, user.Username)
	if err != nil {
		return nil, apperrors.Internal("failed to mint access token").WithCause(err)
	}

	return &AuthResult{
		UserID:      user.ID,
		Username:    user.Username,
		AccessToken: accessToken,
	}, nil
}
