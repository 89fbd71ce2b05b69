// Command alert-receiver prints security alerts posted by the auth server.
// It is meant for local development only.
package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/util"
)

type receiverConfig struct {
	Addr string `env:"ALERT_RECEIVER_ADDR" envDefault:":9090"`
}

type alert struct {
	Event         string    `json:"event"`
	UserID        string    `json:"user_id"`
	RevokedTokens int64     `json:"revoked_tokens"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func main() {
	logger := util.NewZapLogger(util.GetLogLevel())

	var cfg receiverConfig
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal(zap.Error(err))
	}

	e := echo.New()
	e.HideBanner = true
	e.POST("/", func(c echo.Context) error {
		var a alert
		if err := c.Bind(&a); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "error parsing JSON")
		}
		logger.Infow("Received alert",
			"event", a.Event,
			"userID", a.UserID,
			"revokedTokens", a.RevokedTokens,
			"occurredAt", a.OccurredAt,
		)
		return c.String(http.StatusOK, "alert received")
	})

	logger.Infof("Alert receiver listening on %s", cfg.Addr)
	if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Failed to start server: %v", err)
	}
}
