package util

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	RateLimitBackendRedis  = "redis"
	RateLimitBackendMemory = "memory"

	ScopeRegister     = "register"
	ScopeLogin        = "login"
	ScopeRefreshToken = "refresh-token"
	ScopeLogout       = "logout"
	ScopeOAuth        = "oauth"

	defaultRateWindow = time.Minute

	RawTokenLength = 32
)

var ErrMissingConfig = errors.New("missing required configuration")

// LoadDotEnv loads .env into the process environment if the file exists.
func LoadDotEnv(path string, logger *zap.SugaredLogger) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("could not load %s file: %v", path, err)
	}
}

func parse[T any](opts env.Options) (*T, error) {
	var cfg T
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

type ServerConfig struct {
	ServerAddr         string        `env:"SERVER_ADDRESS"       envDefault:"localhost:8080"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT"        envDefault:"10s"`
	ReadTimeout        time.Duration `env:"READ_TIMEOUT"         envDefault:"10s"`
	IdleTimeout        time.Duration `env:"IDLE_TIMEOUT"         envDefault:"30s"`
	GracefulTimeout    time.Duration `env:"GRACEFUL_TIMEOUT"     envDefault:"5s"`
	CORSAllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	// TrustedProxies lists the CIDRs whose X-Forwarded-For header is believed.
	// Empty means the client address is the TCP peer.
	TrustedProxies     []string      `env:"TRUSTED_PROXIES"      envSeparator:","`
	TrustedProxyNets   []*net.IPNet  `env:"-"`
}

func NewServerConfig() (*ServerConfig, error) {
	return NewServerConfigFrom(env.Options{})
}

func NewServerConfigFrom(opts env.Options) (*ServerConfig, error) {
	cfg, err := parse[ServerConfig](opts)
	if err != nil {
		return nil, err
	}
	for _, cidr := range cfg.TrustedProxies {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
		cfg.TrustedProxyNets = append(cfg.TrustedProxyNets, ipNet)
	}
	return cfg, nil
}

type TokenConfig struct {
	JwtSecretKey  string        `env:"JWT_SECRET"`
	Issuer        string        `env:"JWT_ISSUER"             envDefault:"finance-auth"`
	AccessTTL     time.Duration `env:"ACCESS_TOKEN_TTL"       envDefault:"15m"`
	RefreshTTL    time.Duration `env:"REFRESH_TOKEN_TTL"      envDefault:"168h"`
	SweepInterval time.Duration `env:"REFRESH_SWEEP_INTERVAL" envDefault:"1h"`
}

// NewTokenConfig does not validate the secret; the token signer rejects a
// missing or weak one at construction.
func NewTokenConfig() (*TokenConfig, error) {
	return NewTokenConfigFrom(env.Options{})
}

func NewTokenConfigFrom(opts env.Options) (*TokenConfig, error) {
	return parse[TokenConfig](opts)
}

type StorageConfig struct {
	Driver           string `env:"STORAGE_DRIVER"     envDefault:"postgres"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"redis"`
}

func NewStorageConfig() (*StorageConfig, error) {
	return NewStorageConfigFrom(env.Options{})
}

func NewStorageConfigFrom(opts env.Options) (*StorageConfig, error) {
	cfg, err := parse[StorageConfig](opts)
	if err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.Driver)
	}
	switch cfg.RateLimitBackend {
	case RateLimitBackendRedis, RateLimitBackendMemory:
	default:
		return nil, fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", cfg.RateLimitBackend)
	}
	return cfg, nil
}

type RateLimitPolicy struct {
	Capacity int           `env:"CAPACITY"`
	Window   time.Duration `env:"WINDOW"`
}

type RateLimitConfig struct {
	Register        RateLimitPolicy `envPrefix:"RATE_LIMIT_REGISTER_"`
	Login           RateLimitPolicy `envPrefix:"RATE_LIMIT_LOGIN_"`
	RefreshToken    RateLimitPolicy `envPrefix:"RATE_LIMIT_REFRESH_TOKEN_"`
	Logout          RateLimitPolicy `envPrefix:"RATE_LIMIT_LOGOUT_"`
	OAuth           RateLimitPolicy `envPrefix:"RATE_LIMIT_OAUTH_"`
	JanitorInterval time.Duration   `env:"RATE_LIMIT_JANITOR_INTERVAL" envDefault:"1m"`
}

func NewRateLimitConfig() (*RateLimitConfig, error) {
	return NewRateLimitConfigFrom(env.Options{})
}

func NewRateLimitConfigFrom(opts env.Options) (*RateLimitConfig, error) {
	cfg, err := parse[RateLimitConfig](opts)
	if err != nil {
		return nil, err
	}
	cfg.Register = withDefaults(cfg.Register, 3)
	cfg.Login = withDefaults(cfg.Login, 5)
	cfg.RefreshToken = withDefaults(cfg.RefreshToken, 10)
	cfg.Logout = withDefaults(cfg.Logout, 10)
	cfg.OAuth = withDefaults(cfg.OAuth, 10)
	return cfg, nil
}

// Policy returns the policy for a scope, or false for an unknown scope.
func (c *RateLimitConfig) Policy(scope string) (RateLimitPolicy, bool) {
	switch scope {
	case ScopeRegister:
		return c.Register, true
	case ScopeLogin:
		return c.Login, true
	case ScopeRefreshToken:
		return c.RefreshToken, true
	case ScopeLogout:
		return c.Logout, true
	case ScopeOAuth:
		return c.OAuth, true
	default:
		return RateLimitPolicy{}, false
	}
}

func withDefaults(p RateLimitPolicy, capacity int) RateLimitPolicy {
	if p.Capacity <= 0 {
		p.Capacity = capacity
	}
	if p.Window <= 0 {
		p.Window = defaultRateWindow
	}
	return p
}

type PasswordConfig struct {
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`
}

func NewPasswordConfig() (*PasswordConfig, error) {
	return parse[PasswordConfig](env.Options{})
}

type OAuthConfig struct {
	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	GoogleAuthURL      string        `env:"GOOGLE_AUTH_URL"      envDefault:"https://accounts.google.com/o/oauth2/v2/auth"`
	GoogleTokenURL     string        `env:"GOOGLE_TOKEN_URL"     envDefault:"https://oauth2.googleapis.com/token"`
	GoogleUserInfoURL  string        `env:"GOOGLE_USERINFO_URL"  envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`
	StateTTL           time.Duration `env:"OAUTH_STATE_TTL"      envDefault:"10m"`
}

func NewOAuthConfig() (*OAuthConfig, error) {
	return NewOAuthConfigFrom(env.Options{})
}

func NewOAuthConfigFrom(opts env.Options) (*OAuthConfig, error) {
	return parse[OAuthConfig](opts)
}

// GoogleEnabled reports whether every Google credential is present.
func (c *OAuthConfig) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

func GetAlertWebhookURL() string {
	return os.Getenv("ALERT_WEBHOOK_URL")
}

func GetLogLevel() string {
	return os.Getenv("LOG_LEVEL")
}
