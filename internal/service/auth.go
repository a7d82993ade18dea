package service

import (
	"fmt"

	"github.com/Rrens/chatnil/internal/domain"
	"github.com/Rrens/chatnil/internal/security"
)

// AuthService issues and verifies bearer tokens
type AuthService struct {
	jwtManager *security.JWTManager
}

// NewAuthService creates a new auth service
func NewAuthService(jwtManager *security.JWTManager) *AuthService {
	return &AuthService{jwtManager: jwtManager}
}

// IssueToken creates an access token for a user
func (s *AuthService) IssueToken(req domain.TokenRequest) (*domain.TokenPair, error) {
	token, err := s.jwtManager.GenerateAccessToken(req.UserID, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	return &domain.TokenPair{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.jwtManager.AccessTokenTTL().Seconds()),
	}, nil
}

// Verify validates a token and returns its principal
func (s *AuthService) Verify(token string) (*domain.Principal, error) {
	claims, err := s.jwtManager.ValidateAccessToken(token)
	if err != nil {
		return nil, err
	}
	return &domain.Principal{UserID: claims.UserID(), Email: claims.Email}, nil
}
