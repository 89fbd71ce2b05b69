package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/rryowa/finance-auth/internal/controller"
	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/storage/memory"
	"github.com/rryowa/finance-auth/internal/util"
)

const registerBody = `{"email":"a@x.com","password":"Secur3P@ss","first_name":"Ada","last_name":"Lovelace"}`

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	return newTestHandlerWith(t, &util.ServerConfig{ServerAddr: "localhost:0", GracefulTimeout: time.Second})
}

func newTestHandlerWith(t *testing.T, sc *util.ServerConfig) http.Handler {
	t.Helper()

	log := zap.NewNop().Sugar()
	tokenCfg := &util.TokenConfig{
		JwtSecretKey: "0123456789abcdef0123456789abcdef-test",
		Issuer:       "finance-auth",
		AccessTTL:    15 * time.Minute,
		RefreshTTL:   7 * 24 * time.Hour,
	}

	signer, err := service.NewTokenSigner(tokenCfg, nil)
	require.NoError(t, err)
	hasher, err := service.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)

	store := memory.NewStorage(log)
	refresh := service.NewRefreshTokenManager(store, tokenCfg, service.NewAlertService(log, ""), nil, log)
	auth, err := service.NewAuthService(store, hasher, signer, refresh, nil, log)
	require.NoError(t, err)
	oauth := service.NewOAuthService(nil, memory.NewOAuthStateStore(nil), auth, time.Minute, log)

	rateCfg, err := util.NewRateLimitConfigFrom(envOptions(nil))
	require.NoError(t, err)
	limiter := service.NewRateLimiter(memory.NewRateLimitStore(), nil, log)

	a := NewAPI(
		controller.NewController(log, auth, oauth),
		auth,
		limiter,
		rateCfg,
		sc,
		log,
	)
	require.NoError(t, a.Setup())
	return a.Handler()
}

func do(t *testing.T, h http.Handler, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_Ping(t *testing.T) {
	h := newTestHandler(t)
	rec := do(t, h, http.MethodGet, "/api/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_RegisterAndLogin(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	session := decode[models.AuthResponse](t, rec)
	assert.Equal(t, "Bearer", session.TokenType)
	assert.Equal(t, int64(900), session.ExpiresIn)
	assert.Equal(t, "LOCAL", session.Provider)
	assert.NotEmpty(t, session.AccessToken)
	assert.NotEmpty(t, session.RefreshToken)
	assert.Equal(t, "3", rec.Header().Get(HeaderRateLimit))
	assert.Equal(t, "2", rec.Header().Get(HeaderRateRemaining))

	rec = do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Secur3P@ss"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"wrong-pass"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, http.StatusUnauthorized, body.Status)
	assert.Equal(t, "Unauthorized", body.Error)
	assert.Equal(t, "invalid email or password", body.Reason)

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"email":"ghost@x.com","password":"wrong-pass"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, body, decode[models.ErrorResponse](t, rec), "unknown user looks like a wrong password")
}

func TestAPI_RegisterValidation(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/auth/register", `{"email":"not-an-email","password":"short","first_name":""}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "validation failed", body.Reason)
	assert.Equal(t, map[string]string{
		"email":      "Email should be valid",
		"password":   "Password must be at least 8 characters",
		"first_name": "First name is required",
	}, body.Details)

	rec = do(t, h, http.MethodPost, "/api/auth/register", `{"email":"a@x.com"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "schema requires password and first_name")
}

func TestAPI_RefreshRotationAndReuse(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[models.AuthResponse](t, rec)

	rec = do(t, h, http.MethodPost, "/api/auth/refresh-token", `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	second := decode[models.AuthResponse](t, rec)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	rec = do(t, h, http.MethodPost, "/api/auth/refresh-token", `{"refresh_token":"`+first.RefreshToken+`"}`, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid refresh token, please log in again", decode[models.ErrorResponse](t, rec).Reason)
	assert.NotContains(t, rec.Body.String(), first.RefreshToken)

	rec = do(t, h, http.MethodPost, "/api/auth/refresh-token", `{"refresh_token":"`+second.RefreshToken+`"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "reuse revoked the whole chain")
}

func TestAPI_Logout(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[models.AuthResponse](t, rec)

	logout := `{"refresh_token":"` + session.RefreshToken + `"}`
	rec = do(t, h, http.MethodPost, "/api/auth/logout", logout, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodPost, "/api/auth/logout", logout, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/auth/refresh-token", logout, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_CurrentUser(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	session := decode[models.AuthResponse](t, rec)

	rec = do(t, h, http.MethodGet, "/api/users/me", "", http.Header{
		"Authorization": {"bearer " + session.AccessToken},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	user := decode[models.UserResponse](t, rec)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, "USER", user.Role)

	rec = do(t, h, http.MethodGet, "/api/users/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/users/me", "", http.Header{
		"Authorization": {"Bearer " + session.AccessToken + "x"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = do(t, h, http.MethodGet, "/api/users/me", "", http.Header{
		"Authorization": {"Basic dXNlcjpwYXNz"},
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_RateLimited(t *testing.T) {
	h := newTestHandler(t)

	for i := 0; i < 3; i++ {
		rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/api/auth/register", registerBody, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(HeaderRetryAfter))
	assert.Equal(t, rec.Header().Get(HeaderRetryAfter), rec.Header().Get(HeaderRetryAfterSeconds))
	assert.Equal(t, "0", rec.Header().Get(HeaderRateRemaining))
	body := decode[models.ErrorResponse](t, rec)
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.Contains(t, body.Reason, "rate limit exceeded")

	rec = do(t, h, http.MethodPost, "/api/auth/register", registerBody, http.Header{
		"X-Forwarded-For": {"203.0.113.9"},
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "forwarded header from an untrusted peer is ignored")

	other := registerFrom(h, "198.51.100.7:4000", "")
	assert.NotEqual(t, http.StatusTooManyRequests, other.Code, "another client has its own bucket")

	rec = do(t, h, http.MethodPost, "/api/auth/login", `{"email":"a@x.com","password":"Secur3P@ss"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "scopes do not share buckets")
}

func registerFrom(h http.Handler, remoteAddr, forwardedFor string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(registerBody))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_RateLimitBehindTrustedProxy(t *testing.T) {
	sc, err := util.NewServerConfigFrom(envOptions(map[string]string{
		"SERVER_ADDRESS":  "localhost:0",
		"TRUSTED_PROXIES": "10.0.0.0/8",
	}))
	require.NoError(t, err)
	h := newTestHandlerWith(t, sc)

	const proxy = "10.1.2.3:5000"
	for i := 0; i < 3; i++ {
		rec := registerFrom(h, proxy, "203.0.113.9")
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, registerFrom(h, proxy, "203.0.113.9").Code)
	assert.NotEqual(t, http.StatusTooManyRequests, registerFrom(h, proxy, "203.0.113.10").Code,
		"clients behind the proxy are told apart by the forwarded address")

	for i := 0; i < 3; i++ {
		registerFrom(h, "192.0.2.50:1234", "203.0.113.11")
	}
	assert.Equal(t, http.StatusTooManyRequests, registerFrom(h, "192.0.2.50:1234", "203.0.113.12").Code,
		"an untrusted peer cannot pick its own key")
}

func TestAPI_OAuthNotConfigured(t *testing.T) {
	h := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/oauth2/google/start", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/oauth2/google/callback?error=access_denied", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
