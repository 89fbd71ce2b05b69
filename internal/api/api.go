package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	middleware "github.com/oapi-codegen/echo-middleware"
	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/controller"
	"github.com/rryowa/finance-auth/internal/models"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/util"
)

type API struct {
	server          *echo.Echo
	controller      *controller.Controller
	authService     *service.AuthService
	limiter         *service.RateLimiter
	rateCfg         *util.RateLimitConfig
	log             *zap.SugaredLogger
	gracefulTimeout time.Duration
	corsOrigins     []string
	workers         []func(ctx context.Context)
	cleanupFuncs    []func()
}

func NewAPI(
	c *controller.Controller,
	authService *service.AuthService,
	limiter *service.RateLimiter,
	rateCfg *util.RateLimitConfig,
	sc *util.ServerConfig,
	l *zap.SugaredLogger,
) *API {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.Addr = sc.ServerAddr
	e.Server.WriteTimeout = sc.WriteTimeout
	e.Server.ReadTimeout = sc.ReadTimeout
	e.Server.IdleTimeout = sc.IdleTimeout
	e.HTTPErrorHandler = ErrorHandler(l)
	e.IPExtractor = ipExtractor(sc.TrustedProxyNets)

	return &API{
		server:          e,
		controller:      c,
		authService:     authService,
		limiter:         limiter,
		rateCfg:         rateCfg,
		log:             l,
		gracefulTimeout: sc.GracefulTimeout,
		corsOrigins:     sc.CORSAllowedOrigins,
	}
}

// ipExtractor reads X-Forwarded-For only behind the configured proxies.
// Without any, the TCP peer address identifies the client.
func ipExtractor(trusted []*net.IPNet) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, ipNet := range trusted {
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// AddWorker registers a background job that runs until the server stops.
func (a *API) AddWorker(fn func(ctx context.Context)) {
	a.workers = append(a.workers, fn)
}

// AddCleanup registers a function called after shutdown, in reverse order.
func (a *API) AddCleanup(fn func()) {
	a.cleanupFuncs = append(a.cleanupFuncs, fn)
}

// Setup installs middleware and routes. It is called once before serving.
func (a *API) Setup() error {
	swagger, err := controller.GetSwagger()
	if err != nil {
		return err
	}
	swagger.Servers = nil

	a.server.Use(echomiddleware.Recover())
	a.server.Use(echomiddleware.RequestLoggerWithConfig(GetLoggerMiddlewareConfig(a)))
	if len(a.corsOrigins) > 0 {
		a.server.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
			AllowOrigins:     a.corsOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{echo.HeaderAuthorization, echo.HeaderContentType},
			ExposeHeaders:    []string{HeaderRateLimit, HeaderRateRemaining, HeaderRetryAfter, HeaderRetryAfterSeconds},
			AllowCredentials: true,
		}))
	}

	g := a.server.Group("/api")
	g.Use(middleware.OapiRequestValidator(swagger))
	controller.RegisterAPIHandlers(g, a.controller, a.routeMiddleware)

	controller.RegisterOAuthHandlers(a.server.Group("/oauth2"), a.controller, a.routeMiddleware)
	return nil
}

func (a *API) Handler() http.Handler {
	return a.server
}

func (a *API) routeMiddleware(operationID string) []echo.MiddlewareFunc {
	switch operationID {
	case controller.OpRegister:
		return a.rateLimited(util.ScopeRegister)
	case controller.OpLogin:
		return a.rateLimited(util.ScopeLogin)
	case controller.OpRefreshToken:
		return a.rateLimited(util.ScopeRefreshToken)
	case controller.OpLogout:
		return a.rateLimited(util.ScopeLogout)
	case controller.OpGoogleStart, controller.OpGoogleCallback:
		return a.rateLimited(util.ScopeOAuth)
	case controller.OpGetCurrentUser:
		return []echo.MiddlewareFunc{
			BearerAuthMiddleware(a.authService, a.log),
			RequireCapability(models.CapReadOwnProfile),
		}
	default:
		return nil
	}
}

func (a *API) rateLimited(scope string) []echo.MiddlewareFunc {
	policy, ok := a.rateCfg.Policy(scope)
	if !ok {
		a.log.Fatalf("no rate limit policy for scope %q", scope)
	}
	return []echo.MiddlewareFunc{RateLimitMiddleware(a.limiter, scope, policy, a.log)}
}

func (a *API) Run(ctxBackground context.Context) {
	ctx, stop := signal.NotifyContext(ctxBackground, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Setup(); err != nil {
		a.log.Fatalf("Failed to set up HTTP server: %v", err)
	}

	var wg sync.WaitGroup
	for _, worker := range a.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker(ctx)
		}()
	}

	a.ListenGracefulShutdown(ctx)

	wg.Wait()
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
}

func (a *API) ListenGracefulShutdown(ctx context.Context) {
	go func() {
		err := a.server.Start(a.server.Server.Addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()
	a.log.Infof("Listening on: %s", a.server.Server.Addr)

	<-ctx.Done()
	a.log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.log.Errorf("shutdown: %v", err)
		return
	}
	a.log.Info("server shutdown completed")
}
