package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
)

// dummyPassword is hashed once at startup so that logins for unknown users
// still pay for one hash comparison.
const dummyPassword = "dummy-password-for-timing-equalization"

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type AuthService struct {
	users     storage.UserRepository
	hasher    PasswordHasher
	signer    *TokenSigner
	refresh   *RefreshTokenManager
	dummyHash string
	clock     func() time.Time
	log       *zap.SugaredLogger
}

func NewAuthService(
	users storage.UserRepository,
	hasher PasswordHasher,
	signer *TokenSigner,
	refresh *RefreshTokenManager,
	clock func() time.Time,
	log *zap.SugaredLogger,
) (*AuthService, error) {
	dummyHash, err := hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("prepare dummy hash: %w", err)
	}
	if clock == nil {
		clock = time.Now
	}
	return &AuthService{
		users:     users,
		hasher:    hasher,
		signer:    signer,
		refresh:   refresh,
		dummyHash: dummyHash,
		clock:     clock,
		log:       log,
	}, nil
}

func (s *AuthService) AccessTTL() time.Duration {
	return s.signer.AccessTTL()
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// Register hashes the password before looking at the email so a taken
// address costs the same as a free one.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.Session, error) {
	email := normalizeEmail(in.Email)

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}
	if exists {
		s.log.Infow("registration rejected", "reason", "email_taken")
		return nil, ErrRegistrationFailed
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: digest,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Role:         models.RoleUser,
		Provider:     models.ProviderLocal,
		Timestamps:   models.NewTimestamps(s.clock()),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			s.log.Infow("registration rejected", "reason", "email_taken")
			return nil, ErrRegistrationFailed
		}
		return nil, fmt.Errorf("register: %w", err)
	}

	s.log.Infow("user registered", "userID", user.ID)
	return s.issueSession(ctx, user)
}

// Login returns ErrInvalidCredentials for an unknown user, an OAuth-only user
// and a wrong password alike. A hash comparison runs in every case.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.Session, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil && !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("login: %w", err)
	}

	digest := s.dummyHash
	if user != nil && user.PasswordHash != "" {
		digest = user.PasswordHash
	}
	matched := s.hasher.Verify(password, digest)

	if user == nil || user.PasswordHash == "" || !matched {
		s.log.Infow("login rejected", "reason", "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	return s.issueSession(ctx, user)
}

// LoginWithOAuth treats a verified provider identity like a password login.
// The email joins it to an existing principal or creates a new one.
func (s *AuthService) LoginWithOAuth(ctx context.Context, profile models.OAuthProfile) (*models.Session, error) {
	email := normalizeEmail(profile.Email)
	if email == "" {
		return nil, ErrOAuthFailed
	}

	user, err := s.users.GetUserByEmail(ctx, email)
	if errors.Is(err, storage.ErrUserNotFound) {
		user = &models.User{
			ID:         uuid.New(),
			Email:      email,
			FirstName:  profile.GivenName,
			LastName:   profile.FamilyName,
			Role:       models.RoleUser,
			Provider:   profile.Provider,
			Timestamps: models.NewTimestamps(s.clock()),
		}
		err = s.users.CreateUser(ctx, user)
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			user, err = s.users.GetUserByEmail(ctx, email)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("oauth login: %w", err)
	}

	return s.issueSession(ctx, user)
}

// Refresh rotates the refresh token and mints a new access token for its
// owner. Rotation failures come back as *RefreshTokenError. An owner whose
// role lacks CapRefreshSession gets ErrInsufficientCapability and the
// rotated token is revoked.
func (s *AuthService) Refresh(ctx context.Context, presented string) (*models.Session, error) {
	next, err := s.refresh.Rotate(ctx, presented)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUserByID(ctx, next.UserID)
	if err != nil {
		return nil, fmt.Errorf("refresh: %w", err)
	}
	if !user.Role.Can(models.CapRefreshSession) {
		s.log.Infow("refresh rejected", "reason", "missing_capability", "userID", user.ID)
		if err := s.refresh.RevokeByValue(ctx, next.Token); err != nil {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		return nil, ErrInsufficientCapability
	}

	return s.sessionFor(user, next)
}

// Logout never fails because of the token itself.
func (s *AuthService) Logout(ctx context.Context, presented string) error {
	return s.refresh.RevokeByValue(ctx, presented)
}

// Authenticate verifies an access token and returns its principal.
func (s *AuthService) Authenticate(accessToken string) (*models.Principal, error) {
	claims, err := s.signer.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	return &models.Principal{
		UserID:       claims.Subject,
		Email:        claims.Email,
		Role:         claims.Role,
		Provider:     claims.Provider,
		Capabilities: claims.Role.Capabilities(),
	}, nil
}

func (s *AuthService) CurrentUser(ctx context.Context, principal *models.Principal) (*models.User, error) {
	if !principal.Can(models.CapReadOwnProfile) {
		return nil, ErrInsufficientCapability
	}
	user, err := s.users.GetUserByID(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}
	return user, nil
}

func (s *AuthService) issueSession(ctx context.Context, user *models.User) (*models.Session, error) {
	token, err := s.refresh.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return s.sessionFor(user, token)
}

func (s *AuthService) sessionFor(user *models.User, refresh *models.RefreshToken) (*models.Session, error) {
	access, claims, err := s.signer.SignAccess(AccessClaims{
		Subject:  user.ID,
		Email:    user.Email,
		Role:     user.Role,
		Provider: user.Provider,
	})
	if err != nil {
		return nil, err
	}
	return &models.Session{
		AccessToken:     access,
		AccessExpiresAt: claims.ExpiresAt,
		RefreshToken:    refresh.Token,
		User:            user,
	}, nil
}
