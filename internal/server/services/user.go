// Package services contains the business logic of the reference server.
// This file implements UserService: registration, password sign-in and
// rotation of server-stored refresh tokens.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/dbx"
	"github.com/dmitrijs2005/ledgersync/internal/server/auth"
	"github.com/dmitrijs2005/ledgersync/internal/server/config"
	"github.com/dmitrijs2005/ledgersync/internal/server/models"
	"github.com/dmitrijs2005/ledgersync/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/ledgersync/internal/shared"
	"golang.org/x/crypto/bcrypt"
)

// ProviderPassword is the only sign-in provider the server accepts.
const ProviderPassword = "password"

// TokenPair bundles a short-lived access token and a long-lived refresh
// token issued to UserID.
type TokenPair struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type UserService struct {
	repomanager                  repomanager.RepositoryManager
	jwtSecret                    []byte
	accessTokenValidityDuration  time.Duration
	refreshTokenValidityDuration time.Duration
	bcryptCost                   int
	now                          func() time.Time
}

func NewUserService(m repomanager.RepositoryManager, cfg *config.Config) *UserService {
	return &UserService{
		repomanager:                  m,
		jwtSecret:                    []byte(cfg.SecretKey),
		accessTokenValidityDuration:  cfg.AccessTokenValidityDuration,
		refreshTokenValidityDuration: cfg.RefreshTokenValidityDuration,
		bcryptCost:                   bcrypt.DefaultCost,
		now:                          time.Now,
	}
}

// Register creates an account and signs it in.
func (s *UserService) Register(ctx context.Context, username, password string) (*TokenPair, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", common.ErrorValidation)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	var pair *TokenPair
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).Create(ctx, &models.User{UserName: username, PasswordHash: hash})
		if err != nil {
			return err
		}
		pair, err = s.generateTokenPair(ctx, user.ID, tx)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrUserAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return pair, nil
}

// SignIn verifies the credentials and mints a token pair. Unknown users and
// wrong passwords both yield common.ErrInvalidCredentials.
func (s *UserService) SignIn(ctx context.Context, provider, username, password string) (*TokenPair, error) {
	if provider != "" && provider != ProviderPassword {
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownProvider, provider)
	}

	user, err := s.repomanager.Users(s.repomanager.DB()).GetUserByLogin(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidCredentials
		}
		return nil, common.ErrorInternal
	}
	if bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(password)) != nil {
		return nil, common.ErrInvalidCredentials
	}
	return s.generateTokenPair(ctx, user.ID, s.repomanager.DB())
}

// RefreshToken validates a refresh token, rotates it transactionally and
// returns a fresh TokenPair.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	repo := s.repomanager.RefreshTokens(s.repomanager.DB())
	hash := shared.HashToken(refreshToken)

	token, err := repo.Find(ctx, hash)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching refresh token: %w", err)
	}
	if token.Expired(s.now()) {
		_ = repo.Delete(ctx, hash)
		return nil, common.ErrRefreshTokenExpired
	}

	var pair *TokenPair
	err = s.repomanager.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.RefreshTokens(tx).Delete(ctx, hash); err != nil {
			return fmt.Errorf("error deleting refresh token: %w", err)
		}
		var genErr error
		pair, genErr = s.generateTokenPair(ctx, token.UserID, tx)
		return genErr
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// Authenticate resolves an access token to its user id.
func (s *UserService) Authenticate(accessToken string) (string, error) {
	return auth.GetUserIDFromToken(accessToken, s.jwtSecret)
}

func (s *UserService) generateTokenPair(ctx context.Context, userID string, tx dbx.DBTX) (*TokenPair, error) {
	access, expires, err := auth.GenerateToken(userID, s.jwtSecret, s.accessTokenValidityDuration)
	if err != nil {
		return nil, common.ErrorInternal
	}
	refresh, err := shared.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}
	grant := &models.RefreshToken{
		TokenHash: shared.HashToken(refresh),
		UserID:    userID,
		ExpiresAt: s.now().Add(s.refreshTokenValidityDuration),
	}
	if err := s.repomanager.RefreshTokens(tx).Create(ctx, grant); err != nil {
		return nil, common.ErrorInternal
	}
	return &TokenPair{UserID: userID, AccessToken: access, RefreshToken: refresh, ExpiresAt: expires}, nil
}
