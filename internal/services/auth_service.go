// internal/services/auth_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/javajoker/marketsync/internal/models"
	"github.com/javajoker/marketsync/internal/store"
	"github.com/javajoker/marketsync/internal/utils"
)

var ErrInvalidCredentials = errors.New("invalid username or password")

type AuthService struct {
	store    store.CatalogStore
	tokenTTL int // hours
	now      func() time.Time
}

type LoginRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required"`
}

type AuthResponse struct {
	Operator    *models.Operator `json:"operator"`
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int              `json:"expires_in"` // in seconds
}

func NewAuthService(st store.CatalogStore, tokenTTLHours int) *AuthService {
	if tokenTTLHours <= 0 {
		tokenTTLHours = 24
	}
	return &AuthService{
		store:    st,
		tokenTTL: tokenTTLHours,
		now:      time.Now,
	}
}

func (s *AuthService) Login(ctx context.Context, req *LoginRequest) (*AuthResponse, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	operator, err := s.store.GetOperatorByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load operator: %w", err)
	}

	if err := operator.CheckPassword(req.Password); err != nil {
		return nil, ErrInvalidCredentials
	}

	accessToken, err := utils.GenerateJWT(
		operator.ID,
		operator.AccountID,
		operator.Username,
		string(operator.Role),
		s.tokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := s.now()
	operator.LastLoginAt = &now
	if err := s.store.SaveOperator(ctx, operator); err != nil {
		logrus.WithError(err).WithField("operator", operator.Username).Warn("Failed to record last login")
	}

	return &AuthResponse{
		Operator:    operator,
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   s.tokenTTL * 3600,
	}, nil
}
