package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/util"
)

// RateLimitMiddleware takes one token from the caller's bucket for scope.
// The caller is identified by echo's RealIP, which follows the server's
// IPExtractor. If the bucket store fails the request is let through.
func RateLimitMiddleware(
	limiter *service.RateLimiter,
	scope string,
	policy util.RateLimitPolicy,
	log *zap.SugaredLogger,
) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			decision, err := limiter.TryAcquire(c.Request().Context(), scope, c.RealIP(), policy.Capacity, policy.Window)
			if err != nil {
				log.Warnw("rate limiter unavailable, allowing request", "scope", scope, "error", err)
				return next(c)
			}
			if !decision.Allowed {
				return &service.RateLimitExceededError{
					Scope:      scope,
					Limit:      decision.Limit,
					RetryAfter: decision.RetryAfter,
				}
			}

			h := c.Response().Header()
			h.Set(HeaderRateLimit, strconv.Itoa(decision.Limit))
			h.Set(HeaderRateRemaining, strconv.FormatInt(decision.Remaining, 10))
			return next(c)
		}
	}
}

// BearerAuthMiddleware verifies the access token and stores the principal
// under models.MwPrincipalKey.
func BearerAuthMiddleware(auth *service.AuthService, log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, err := bearerToken(c.Request().Header.Get(models.MwAuthorizationHeader))
			if err != nil {
				return err
			}

			principal, err := auth.Authenticate(token)
			if err != nil {
				log.Debugw("access token rejected", "reason", tokenFailureReason(err))
				return err
			}

			c.Set(models.MwPrincipalKey, principal)
			return next(c)
		}
	}
}

// RequireCapability must run after BearerAuthMiddleware.
func RequireCapability(capability models.Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := c.Get(models.MwPrincipalKey).(*models.Principal)
			if !ok {
				return service.ErrTokenInvalid
			}
			if !principal.Can(capability) {
				return service.ErrInsufficientCapability
			}
			return next(c)
		}
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("%w: missing authorization header", service.ErrTokenInvalid)
	}
	prefixLen := len(models.MwBearerPrefix)
	if len(header) <= prefixLen || !strings.EqualFold(header[:prefixLen], models.MwBearerPrefix) {
		return "", fmt.Errorf("%w: not a bearer token", service.ErrTokenInvalid)
	}
	return strings.TrimSpace(header[prefixLen:]), nil
}

func tokenFailureReason(err error) string {
	switch {
	case errors.Is(err, service.ErrTokenExpired):
		return "expired"
	case errors.Is(err, service.ErrInvalidSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}

func GetLoggerMiddlewareConfig(a *API) echomiddleware.RequestLoggerConfig {
	return echomiddleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogError:    true,
		LogLatency:  true,
		LogRemoteIP: true,
		HandleError: true,

		LogValuesFunc: func(c echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := []interface{}{
				"method", v.Method,
				"path", c.Request().URL.Path,
				"status", v.Status,
				"latency", v.Latency,
				"remoteIP", v.RemoteIP,
			}
			if v.Error != nil {
				fields = append(fields, "error", v.Error)
			}
			if v.Status >= 500 {
				a.log.Errorw("Request", fields...)
			} else {
				a.log.Infow("Request", fields...)
			}
			return nil
		},
	}
}
