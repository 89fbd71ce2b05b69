package api

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/util"
)

const (
	HeaderRetryAfter        = "Retry-After"
	HeaderRetryAfterSeconds = "X-Rate-Limit-Retry-After-Seconds"
	HeaderRateLimit         = "X-Rate-Limit-Limit"
	HeaderRateRemaining     = "X-Rate-Limit-Remaining"
)

//nolint:gochecknoglobals // fixed error table
var errorTable = []struct {
	target error
	status int
	reason string
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid email or password"},
	{service.ErrRegistrationFailed, http.StatusConflict, "registration failed"},
	{service.ErrRefreshTokenInvalid, http.StatusUnauthorized, "invalid refresh token, please log in again"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "unauthorized"},
	{service.ErrInvalidSignature, http.StatusUnauthorized, "unauthorized"},
	{service.ErrTokenInvalid, http.StatusUnauthorized, "unauthorized"},
	{service.ErrInsufficientCapability, http.StatusForbidden, "forbidden"},
	{service.ErrOAuthFailed, http.StatusUnauthorized, "oauth login failed"},
	{service.ErrOAuthNotConfigured, http.StatusNotFound, "oauth provider is not configured"},
}

func ErrorHandler(log *zap.SugaredLogger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, reason, details := classify(err, c)
		if status >= http.StatusInternalServerError {
			log.Errorw("unhandled error", "error", err, "uri", c.Request().URL.Path)
		}
		if status == http.StatusUnauthorized && c.Request().Header.Get(models.MwAuthorizationHeader) != "" {
			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		}

		resp := models.ErrorResponse{
			Status:  status,
			Error:   http.StatusText(status),
			Reason:  reason,
			Details: details,
		}
		if err := c.JSON(status, resp); err != nil {
			log.Errorw("failed to write json response", "error", err)
		}
	}
}

func classify(err error, c echo.Context) (int, string, map[string]string) {
	var rateErr *service.RateLimitExceededError
	if errors.As(err, &rateErr) {
		seconds := strconv.FormatInt(retryAfterSeconds(rateErr.RetryAfter), 10)
		h := c.Response().Header()
		h.Set(HeaderRetryAfter, seconds)
		h.Set(HeaderRetryAfterSeconds, seconds)
		h.Set(HeaderRateLimit, strconv.Itoa(rateErr.Limit))
		h.Set(HeaderRateRemaining, "0")
		return http.StatusTooManyRequests, "rate limit exceeded, try again in " + seconds + " seconds", nil
	}

	if errors.Is(err, service.ErrPasswordTooLong) {
		return http.StatusBadRequest, "validation failed", map[string]string{"password": "Password is too long"}
	}

	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.status, e.reason, nil
		}
	}

	var respErr util.ResponseError
	if errors.As(err, &respErr) {
		return respErr.Status, respErr.Msg, respErr.Details
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		if he.Code >= http.StatusInternalServerError {
			return he.Code, "internal server error", nil
		}
		return he.Code, fmt.Sprint(he.Message), nil
	}

	return http.StatusInternalServerError, "internal server error", nil
}

// retryAfterSeconds rounds up so a client waiting the advertised time is
// never denied again for the same bucket.
func retryAfterSeconds(d time.Duration) int64 {
	s := int64(math.Ceil(d.Seconds()))
	if s < 1 {
		s = 1
	}
	return s
}
