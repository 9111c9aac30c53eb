package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"netspace-tracker/internal/core"
)

// Service authenticates the single configured administrator
type Service struct {
	tokens   *TokenModel
	logger   *core.Logger
	email    string
	password Password
	ttl      time.Duration
	enabled  bool
}

// NewService creates a new authentication service. The configured password is
// hashed once here; an empty password disables admin access.
func NewService(db *core.Database, logger *core.Logger, config core.AuthConfig) (*Service, error) {
	s := &Service{
		tokens:  NewTokenModel(db, logger),
		logger:  logger,
		email:   strings.ToLower(strings.TrimSpace(config.AdminEmail)),
		ttl:     config.TokenTTL,
		enabled: config.AdminEnabled(),
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}

	if s.enabled {
		if err := s.password.Set(config.AdminPassword); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Enabled reports whether admin access is configured
func (s *Service) Enabled() bool {
	return s.enabled
}

// Authenticate checks the admin credentials
func (s *Service) Authenticate(email, password string) error {
	if !s.enabled {
		return ErrAdminDisabled
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(strings.TrimSpace(email))), []byte(s.email)) == 1

	// Always compare the password so timing does not reveal a wrong email
	match, err := s.password.Matches(password)
	if err != nil {
		return err
	}

	if !emailOK || !match {
		return ErrInvalidCredentials
	}
	return nil
}

// CreateAuthenticationToken issues a new bearer token
func (s *Service) CreateAuthenticationToken(ctx context.Context) (*Token, error) {
	if n, err := s.tokens.DeleteExpired(ctx); err != nil {
		s.logger.Warn("Failed to prune expired tokens", "error", err)
	} else if n > 0 {
		s.logger.Debug("Pruned expired tokens", "count", n)
	}

	token, err := s.tokens.New(ctx, s.ttl)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Created admin token", "expiry", token.Expiry)
	return token, nil
}

// ValidateToken checks a bearer token
func (s *Service) ValidateToken(ctx context.Context, tokenPlaintext string) error {
	if !s.enabled {
		return ErrAdminDisabled
	}

	ok, err := s.tokens.Valid(ctx, tokenPlaintext)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidToken
	}
	return nil
}

// Logout invalidates a bearer token
func (s *Service) Logout(ctx context.Context, tokenPlaintext string) error {
	if err := s.tokens.Delete(ctx, tokenPlaintext); err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return ErrInvalidToken
		}
		return err
	}

	s.logger.Info("Admin logged out")
	return nil
}

// Common authentication errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrAdminDisabled      = errors.New("admin access is disabled")
)
