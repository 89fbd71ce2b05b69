package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/finance-auth/internal/api"
	"github.com/rryowa/finance-auth/internal/controller"
	"github.com/rryowa/finance-auth/internal/migrations"
	"github.com/rryowa/finance-auth/internal/service"
	"github.com/rryowa/finance-auth/internal/storage"
	"github.com/rryowa/finance-auth/internal/storage/memory"
	"github.com/rryowa/finance-auth/internal/storage/postgres"
	"github.com/rryowa/finance-auth/internal/storage/redis"
	"github.com/rryowa/finance-auth/internal/util"
)

func main() {
	ctx := context.Background()
	logger := util.NewZapLogger(util.GetLogLevel())
	defer logger.Sync() //nolint:errcheck // stdout sync

	util.LoadDotEnv(".env", logger)

	serverCfg := must(logger, util.NewServerConfig)
	tokenCfg := must(logger, util.NewTokenConfig)
	storageCfg := must(logger, util.NewStorageConfig)
	rateCfg := must(logger, util.NewRateLimitConfig)
	passwordCfg := must(logger, util.NewPasswordConfig)
	oauthCfg := must(logger, util.NewOAuthConfig)

	var cleanupFuncs []func()

	var store storage.Storage
	switch storageCfg.Driver {
	case util.StorageDriverPostgres:
		dbCfg := must(logger, util.NewDBConfig)
		db, dbCleanup, err := util.NewDBConnection(logger, dbCfg)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, dbCleanup)
		if err := migrations.RunMigrations(db, logger); err != nil {
			logger.Fatal(zap.Error(err))
		}
		store = postgres.NewStorage(db)
	case util.StorageDriverMemory:
		logger.Warn("using in-memory storage, sessions do not survive a restart")
		store = memory.NewStorage(logger)
	}

	var (
		buckets     service.BucketStore
		oauthStates storage.OAuthStateStore
		workers     []func(context.Context)
	)
	switch storageCfg.RateLimitBackend {
	case util.RateLimitBackendRedis:
		redisCfg := must(logger, util.NewRedisConfig)
		redisClient, redisCleanup, err := util.NewRedisClient(logger, redisCfg)
		if err != nil {
			logger.Fatal(zap.Error(err))
		}
		cleanupFuncs = append(cleanupFuncs, redisCleanup)
		buckets = redis.NewRateLimitStore(redisClient)
		oauthStates = redis.NewOAuthStateStore(redisClient)
	case util.RateLimitBackendMemory:
		memBuckets := memory.NewRateLimitStore()
		buckets = memBuckets
		oauthStates = memory.NewOAuthStateStore(time.Now)
		workers = append(workers, func(ctx context.Context) {
			memBuckets.RunJanitor(ctx, rateCfg.JanitorInterval)
		})
	}

	signer, err := service.NewTokenSigner(tokenCfg, time.Now)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	hasher, err := service.NewBcryptHasher(passwordCfg.BcryptCost)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	alertService := service.NewAlertService(logger, util.GetAlertWebhookURL())
	cleanupFuncs = append(cleanupFuncs, alertService.Wait)

	refreshManager := service.NewRefreshTokenManager(store, tokenCfg, alertService, time.Now, logger)
	workers = append(workers, func(ctx context.Context) {
		refreshManager.RunSweeper(ctx, tokenCfg.SweepInterval)
	})

	authService, err := service.NewAuthService(store, hasher, signer, refreshManager, time.Now, logger)
	if err != nil {
		logger.Fatal(zap.Error(err))
	}

	var provider service.IdentityProvider
	if google, err := service.NewGoogleProvider(oauthCfg); err == nil {
		provider = google
	} else {
		logger.Info("google oauth login disabled: credentials are not configured")
	}
	oauthService := service.NewOAuthService(provider, oauthStates, authService, oauthCfg.StateTTL, logger)

	limiter := service.NewRateLimiter(buckets, time.Now, logger)

	ctrl := controller.NewController(logger, authService, oauthService)

	apiServer := api.NewAPI(ctrl, authService, limiter, rateCfg, serverCfg, logger)
	for _, w := range workers {
		apiServer.AddWorker(w)
	}
	for _, fn := range cleanupFuncs {
		apiServer.AddCleanup(fn)
	}
	apiServer.Run(ctx)
}

func must[T any](logger *zap.SugaredLogger, load func() (*T, error)) *T {
	cfg, err := load()
	if err != nil {
		logger.Fatal(zap.Error(err))
	}
	return cfg
}
