package controller

import (
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/util"
)

const (
	tokenTypeBearer   = "Bearer"
	minPasswordLength = 8
	maxNameLength     = 100
)

type Controller struct {
	zapLogger    *zap.SugaredLogger
	authService  *service.AuthService
	oauthService *service.OAuthService
}

func NewController(logger *zap.SugaredLogger, authService *service.AuthService, oauthService *service.OAuthService) *Controller {
	return &Controller{
		zapLogger:    logger,
		authService:  authService,
		oauthService: oauthService,
	}
}

// (GET /api/ping).
func (c *Controller) CheckServer(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, "ok")
}

// (POST /api/auth/register).
func (c *Controller) Register(ctx echo.Context) error {
	var req models.RegisterRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(http.StatusBadRequest, "malformed request body")
	}
	if err := validateRegister(req); err != nil {
		return err
	}

	session, err := c.authService.Register(ctx.Request().Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, c.authResponse(session))
}

// (POST /api/auth/login).
func (c *Controller) Login(ctx echo.Context) error {
	var req models.LoginRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(http.StatusBadRequest, "malformed request body")
	}
	details := map[string]string{}
	if strings.TrimSpace(req.Email) == "" {
		details["email"] = "Email is required"
	}
	if req.Password == "" {
		details["password"] = "Password is required"
	}
	if len(details) > 0 {
		return util.NewValidationError(http.StatusBadRequest, details)
	}

	session, err := c.authService.Login(ctx.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c.authResponse(session))
}

// (POST /api/auth/refresh-token).
func (c *Controller) RefreshToken(ctx echo.Context) error {
	var req models.RefreshTokenRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(http.StatusBadRequest, "malformed request body")
	}
	if req.RefreshToken == "" {
		return util.NewValidationError(http.StatusBadRequest, map[string]string{
			"refresh_token": "Refresh token is required",
		})
	}

	session, err := c.authService.Refresh(ctx.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c.authResponse(session))
}

// (POST /api/auth/logout).
func (c *Controller) Logout(ctx echo.Context) error {
	var req models.LogoutRequest
	if err := ctx.Bind(&req); err != nil {
		return util.NewResponseError(http.StatusBadRequest, "malformed request body")
	}
	if req.RefreshToken == "" {
		return util.NewValidationError(http.StatusBadRequest, map[string]string{
			"refresh_token": "Refresh token is required",
		})
	}

	if err := c.authService.Logout(ctx.Request().Context(), req.RefreshToken); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

// (GET /api/users/me).
func (c *Controller) GetCurrentUser(ctx echo.Context) error {
	principal, ok := ctx.Get(models.MwPrincipalKey).(*models.Principal)
	if !ok {
		return service.ErrTokenInvalid
	}

	user, err := c.authService.CurrentUser(ctx.Request().Context(), principal)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, models.UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
		Provider:  string(user.Provider),
	})
}

// (GET /oauth2/google/start).
func (c *Controller) GoogleStart(ctx echo.Context) error {
	target, err := c.oauthService.Start(ctx.Request().Context())
	if err != nil {
		return err
	}
	return ctx.Redirect(http.StatusFound, target)
}

// (GET /oauth2/google/callback).
func (c *Controller) GoogleCallback(ctx echo.Context, params GoogleCallbackParams) error {
	if params.Error != nil && *params.Error != "" {
		c.zapLogger.Infow("oauth callback rejected", "reason", "provider_error", "providerError", *params.Error)
		return service.ErrOAuthFailed
	}

	var code, state string
	if params.Code != nil {
		code = *params.Code
	}
	if params.State != nil {
		state = *params.State
	}

	session, err := c.oauthService.Callback(ctx.Request().Context(), code, state)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, c.authResponse(session))
}

func (c *Controller) authResponse(session *models.Session) models.AuthResponse {
	return models.AuthResponse{
		AccessToken:  session.AccessToken,
		TokenType:    tokenTypeBearer,
		ExpiresIn:    int64(c.authService.AccessTTL().Seconds()),
		RefreshToken: session.RefreshToken,
		Email:        session.User.Email,
		FirstName:    session.User.FirstName,
		LastName:     session.User.LastName,
		Provider:     string(session.User.Provider),
	}
}

func validateRegister(req models.RegisterRequest) error {
	details := map[string]string{}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		details["email"] = "Email is required"
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		details["email"] = "Email should be valid"
	}

	switch {
	case req.Password == "":
		details["password"] = "Password is required"
	case utf8.RuneCountInString(req.Password) < minPasswordLength:
		details["password"] = "Password must be at least 8 characters"
	}

	if strings.TrimSpace(req.FirstName) == "" {
		details["first_name"] = "First name is required"
	} else if utf8.RuneCountInString(req.FirstName) > maxNameLength {
		details["first_name"] = "First name is too long"
	}
	if utf8.RuneCountInString(req.LastName) > maxNameLength {
		details["last_name"] = "Last name is too long"
	}

	if len(details) > 0 {
		return util.NewValidationError(http.StatusBadRequest, details)
	}
	return nil
}
