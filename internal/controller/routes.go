package controller

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

const (
	OpCheckServer    = "CheckServer"
	OpRegister       = "Register"
	OpLogin          = "Login"
	OpRefreshToken   = "RefreshToken"
	OpLogout         = "Logout"
	OpGetCurrentUser = "GetCurrentUser"
	OpGoogleStart    = "GoogleStart"
	OpGoogleCallback = "GoogleCallback"
)

// GoogleCallbackParams defines parameters for GoogleCallback.
type GoogleCallbackParams struct {
	Code  *string `form:"code,omitempty"  json:"code,omitempty"`
	State *string `form:"state,omitempty" json:"state,omitempty"`
	Error *string `form:"error,omitempty" json:"error,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /api/ping)
	CheckServer(ctx echo.Context) error
	// (POST /api/auth/register)
	Register(ctx echo.Context) error
	// (POST /api/auth/login)
	Login(ctx echo.Context) error
	// (POST /api/auth/refresh-token)
	RefreshToken(ctx echo.Context) error
	// (POST /api/auth/logout)
	Logout(ctx echo.Context) error
	// (GET /api/users/me)
	GetCurrentUser(ctx echo.Context) error
	// (GET /oauth2/google/start)
	GoogleStart(ctx echo.Context) error
	// (GET /oauth2/google/callback)
	GoogleCallback(ctx echo.Context, params GoogleCallbackParams) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (w *ServerInterfaceWrapper) CheckServer(ctx echo.Context) error {
	return w.Handler.CheckServer(ctx)
}

func (w *ServerInterfaceWrapper) Register(ctx echo.Context) error {
	return w.Handler.Register(ctx)
}

func (w *ServerInterfaceWrapper) Login(ctx echo.Context) error {
	return w.Handler.Login(ctx)
}

func (w *ServerInterfaceWrapper) RefreshToken(ctx echo.Context) error {
	return w.Handler.RefreshToken(ctx)
}

func (w *ServerInterfaceWrapper) Logout(ctx echo.Context) error {
	return w.Handler.Logout(ctx)
}

func (w *ServerInterfaceWrapper) GetCurrentUser(ctx echo.Context) error {
	return w.Handler.GetCurrentUser(ctx)
}

func (w *ServerInterfaceWrapper) GoogleStart(ctx echo.Context) error {
	return w.Handler.GoogleStart(ctx)
}

func (w *ServerInterfaceWrapper) GoogleCallback(ctx echo.Context) error {
	var params GoogleCallbackParams

	for name, dest := range map[string]**string{
		"code":  &params.Code,
		"state": &params.State,
		"error": &params.Error,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, ctx.QueryParams(), dest); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("Invalid format for parameter %s: %s", name, err))
		}
	}

	return w.Handler.GoogleCallback(ctx, params)
}

// EchoRouter is satisfied by both *echo.Echo and *echo.Group.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RouteMiddleware returns the middleware chain for an operation id.
type RouteMiddleware func(operationID string) []echo.MiddlewareFunc

// RegisterAPIHandlers registers the /api operations on a router already
// mounted at /api.
func RegisterAPIHandlers(router EchoRouter, si ServerInterface, mw RouteMiddleware) {
	w := &ServerInterfaceWrapper{Handler: si}
	if mw == nil {
		mw = func(string) []echo.MiddlewareFunc { return nil }
	}

	router.GET("/ping", w.CheckServer, mw(OpCheckServer)...)
	router.POST("/auth/register", w.Register, mw(OpRegister)...)
	router.POST("/auth/login", w.Login, mw(OpLogin)...)
	router.POST("/auth/refresh-token", w.RefreshToken, mw(OpRefreshToken)...)
	router.POST("/auth/logout", w.Logout, mw(OpLogout)...)
	router.GET("/users/me", w.GetCurrentUser, mw(OpGetCurrentUser)...)
}

// RegisterOAuthHandlers registers the browser-facing OAuth2 routes on a
// router mounted at /oauth2.
func RegisterOAuthHandlers(router EchoRouter, si ServerInterface, mw RouteMiddleware) {
	w := &ServerInterfaceWrapper{Handler: si}
	if mw == nil {
		mw = func(string) []echo.MiddlewareFunc { return nil }
	}

	router.GET("/google/start", w.GoogleStart, mw(OpGoogleStart)...)
	router.GET("/google/callback", w.GoogleCallback, mw(OpGoogleCallback)...)
}
