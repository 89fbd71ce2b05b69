package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/util"
)

const minSecretBytes = 32

// AccessClaims is the content of an access token.
type AccessClaims struct {
	Subject   uuid.UUID
	Email     string
	Role      models.Role
	Provider  models.AuthProvider
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type jwtClaims struct {
	Email    string `json:"email"`
	Role     string `json:"role"`
	Provider string `json:"provider"`
	jwt.RegisteredClaims
}

// TokenSigner issues and verifies HS256 access tokens. It holds no state
// beyond the secret and never does I/O.
type TokenSigner struct {
	secret    []byte
	issuer    string
	accessTTL time.Duration
	clock     func() time.Time
}

func NewTokenSigner(cfg *util.TokenConfig, clock func() time.Time) (*TokenSigner, error) {
	if cfg == nil || cfg.JwtSecretKey == "" {
		return nil, fmt.Errorf("%w: JWT_SECRET is not set", ErrConfiguration)
	}
	if len(cfg.JwtSecretKey) < minSecretBytes {
		return nil, fmt.Errorf("%w: JWT_SECRET must be at least %d bytes", ErrConfiguration, minSecretBytes)
	}
	if cfg.AccessTTL <= 0 {
		return nil, fmt.Errorf("%w: ACCESS_TOKEN_TTL must be positive", ErrConfiguration)
	}
	if clock == nil {
		clock = time.Now
	}
	return &TokenSigner{
		secret:    []byte(cfg.JwtSecretKey),
		issuer:    cfg.Issuer,
		accessTTL: cfg.AccessTTL,
		clock:     clock,
	}, nil
}

func (ts *TokenSigner) AccessTTL() time.Duration {
	return ts.accessTTL
}

// Sign mints a token valid for ttl from now. IssuedAt and ExpiresAt of the
// input are ignored and filled in on the returned claims.
func (ts *TokenSigner) Sign(claims AccessClaims, ttl time.Duration) (string, *AccessClaims, error) {
	if ttl <= 0 {
		return "", nil, fmt.Errorf("%w: non-positive ttl", ErrConfiguration)
	}
	now := ts.clock().Truncate(time.Second)

	out := claims
	out.IssuedAt = now
	out.ExpiresAt = now.Add(ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwtClaims{
		Email:    claims.Email,
		Role:     string(claims.Role),
		Provider: string(claims.Provider),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    ts.issuer,
			Subject:   claims.Subject.String(),
			IssuedAt:  jwt.NewNumericDate(out.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(out.ExpiresAt),
		},
	})

	signed, err := token.SignedString(ts.secret)
	if err != nil {
		return "", nil, fmt.Errorf("signed string: %w", err)
	}
	return signed, &out, nil
}

// SignAccess signs claims for the configured access TTL.
func (ts *TokenSigner) SignAccess(claims AccessClaims) (string, *AccessClaims, error) {
	return ts.Sign(claims, ts.accessTTL)
}

// Verify checks the signature, expiry and issuer of token. Any altered byte
// of a three-segment token reports ErrInvalidSignature, whether it breaks the
// MAC or the encoding. ErrTokenInvalid covers a wrong segment count, a
// foreign algorithm and bad claim values.
func (ts *TokenSigner) Verify(token string) (*AccessClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(ts.clock),
	}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}

	parsed, err := jwt.ParseWithClaims(
		token,
		&jwtClaims{},
		func(*jwt.Token) (interface{}, error) { return ts.secret, nil },
		opts...,
	)
	if err != nil {
		return nil, classifyParseError(parsed, err)
	}

	c, ok := parsed.Claims.(*jwtClaims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}

	subject, err := uuid.Parse(c.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject", ErrTokenInvalid)
	}
	role, err := models.ParseRole(c.Role)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	provider, err := models.ParseAuthProvider(c.Provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	return &AccessClaims{
		Subject:   subject,
		Email:     c.Email,
		Role:      role,
		Provider:  provider,
		IssuedAt:  c.IssuedAt.Time,
		ExpiresAt: c.ExpiresAt.Time,
	}, nil
}

// classifyParseError maps a jwt parse failure onto the signer's errors. A nil
// token means the segment count was wrong.
func classifyParseError(parsed *jwt.Token, err error) error {
	switch {
	case parsed == nil:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if parsed.Method != nil && parsed.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return fmt.Errorf("%w: algorithm %s", ErrTokenInvalid, parsed.Method.Alg())
		}
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenMalformed), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	default:
		return fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
}
