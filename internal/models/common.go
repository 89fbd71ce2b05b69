package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

//nolint:gosec //file not handles sensitive data
const (
	MwAuthorizationHeader = "Authorization"
	MwBearerPrefix        = "Bearer "

	MwPrincipalKey = "principal"
)

var (
	ErrUnknownRole     = errors.New("unknown role")
	ErrUnknownProvider = errors.New("unknown auth provider")
)

// Timestamps is embedded by every persisted record.
type Timestamps struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewTimestamps(now time.Time) Timestamps {
	return Timestamps{CreatedAt: now, UpdatedAt: now}
}

type Role string

const (
	RoleAdmin Role = "ADMIN"
	RoleUser  Role = "USER"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin:
		return RoleAdmin, nil
	case RoleUser:
		return RoleUser, nil
	default:
		return "", ErrUnknownRole
	}
}

type Capability string

const (
	CapReadOwnProfile Capability = "profile:read"
	CapRefreshSession Capability = "session:refresh"
)

//nolint:gochecknoglobals // fixed role table
var roleCapabilities = map[Role][]Capability{
	RoleUser:  {CapReadOwnProfile, CapRefreshSession},
	RoleAdmin: {CapReadOwnProfile, CapRefreshSession},
}

func (r Role) Can(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}

// Capabilities returns the capability set granted by the role.
func (r Role) Capabilities() []Capability {
	caps := roleCapabilities[r]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

type AuthProvider string

const (
	ProviderLocal  AuthProvider = "LOCAL"
	ProviderGoogle AuthProvider = "GOOGLE"
)

func ParseAuthProvider(s string) (AuthProvider, error) {
	switch AuthProvider(s) {
	case ProviderLocal:
		return ProviderLocal, nil
	case ProviderGoogle:
		return ProviderGoogle, nil
	default:
		return "", ErrUnknownProvider
	}
}

// Principal is the authenticated caller reconstructed from an access token.
type Principal struct {
	UserID       uuid.UUID
	Email        string
	Role         Role
	Provider     AuthProvider
	Capabilities []Capability
}

func (p *Principal) Can(c Capability) bool {
	for _, granted := range p.Capabilities {
		if granted == c {
			return true
		}
	}
	return false
}
