package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/storage"
	"github.com/rryowa/finance-auth/internal/util"
)

const stateLength = 32

var googleScopes = []string{"openid", "email", "profile"}

// GoogleProvider runs the authorization-code flow with PKCE against Google
// and reads the verified email from the userinfo endpoint.
type GoogleProvider struct {
	cfg         *oauth2.Config
	userInfoURL string
}

func NewGoogleProvider(cfg *util.OAuthConfig) (*GoogleProvider, error) {
	if !cfg.GoogleEnabled() {
		return nil, ErrOAuthNotConfigured
	}
	return &GoogleProvider{
		cfg: &oauth2.Config{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			Scopes:       googleScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.GoogleAuthURL,
				TokenURL: cfg.GoogleTokenURL,
			},
		},
		userInfoURL: cfg.GoogleUserInfoURL,
	}, nil
}

func (p *GoogleProvider) AuthCodeURL(state, codeVerifier string) string {
	return p.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(codeVerifier))
}

type googleUserInfo struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code, codeVerifier string) (*models.OAuthProfile, error) {
	token, err := p.cfg.Exchange(ctx, code, oauth2.VerifierOption(codeVerifier))
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch userinfo: status %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Email == "" || !info.EmailVerified {
		return nil, errors.New("google account email is missing or unverified")
	}

	return &models.OAuthProfile{
		Email:      info.Email,
		GivenName:  info.GivenName,
		FamilyName: info.FamilyName,
		Provider:   models.ProviderGoogle,
	}, nil
}

// OAuthService binds an IdentityProvider to session issuance. A nil provider
// means OAuth login is switched off.
type OAuthService struct {
	provider IdentityProvider
	states   storage.OAuthStateStore
	auth     *AuthService
	stateTTL time.Duration
	log      *zap.SugaredLogger
}

func NewOAuthService(
	provider IdentityProvider,
	states storage.OAuthStateStore,
	auth *AuthService,
	stateTTL time.Duration,
	log *zap.SugaredLogger,
) *OAuthService {
	return &OAuthService{
		provider: provider,
		states:   states,
		auth:     auth,
		stateTTL: stateTTL,
		log:      log,
	}
}

// Start stores a fresh state with its PKCE verifier and returns the provider
// URL to redirect the browser to.
func (s *OAuthService) Start(ctx context.Context) (string, error) {
	if s.provider == nil {
		return "", ErrOAuthNotConfigured
	}

	raw := make([]byte, stateLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	state := models.OAuthState{
		State:        base64.RawURLEncoding.EncodeToString(raw),
		CodeVerifier: oauth2.GenerateVerifier(),
	}
	if err := s.states.SaveState(ctx, state, s.stateTTL); err != nil {
		return "", err
	}
	return s.provider.AuthCodeURL(state.State, state.CodeVerifier), nil
}

// Callback consumes the state, exchanges the code and logs the user in.
// Every provider-side failure is reported as ErrOAuthFailed.
func (s *OAuthService) Callback(ctx context.Context, code, state string) (*models.Session, error) {
	if s.provider == nil {
		return nil, ErrOAuthNotConfigured
	}
	if code == "" || state == "" {
		return nil, ErrOAuthFailed
	}

	saved, err := s.states.ConsumeState(ctx, state)
	if errors.Is(err, storage.ErrOAuthStateNotFound) {
		s.log.Infow("oauth callback rejected", "reason", "unknown_state")
		return nil, ErrOAuthFailed
	} else if err != nil {
		return nil, err
	}

	profile, err := s.provider.Exchange(ctx, code, saved.CodeVerifier)
	if err != nil {
		s.log.Warnw("oauth callback rejected", "reason", "exchange_failed", "error", err)
		return nil, ErrOAuthFailed
	}

	return s.auth.LoginWithOAuth(ctx, *profile)
}
