// Command server starts the survey response pipeline's HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/fieldops/surveypipe/internal/adapter/audiostore"
	httpserver "github.com/fieldops/surveypipe/internal/adapter/httpserver"
	redislease "github.com/fieldops/surveypipe/internal/adapter/leasestore/redis"
	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/adapter/queue/redpanda"
	"github.com/fieldops/surveypipe/internal/adapter/repo/postgres"
	"github.com/fieldops/surveypipe/internal/adapter/telephony"
	"github.com/fieldops/surveypipe/internal/app"
	"github.com/fieldops/surveypipe/internal/config"
	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/service/ratelimiter"
	"github.com/fieldops/surveypipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		logger.Error("setup tracing failed", slog.Any("error", err))
		os.Exit(1)
	}
	if shutdownTracing != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("connect to postgres failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	leases := redislease.NewLeaseStore(redisClient, "lease:review:")

	producer, err := redpanda.NewProducer(cfg.RedpandaBrokers)
	if err != nil {
		logger.Error("connect to redpanda failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	sessionRepo := postgres.NewSessionRepo(pool)
	responseRepo := postgres.NewResponseRepo(pool)
	batchRepo := postgres.NewBatchRepo(pool)
	setDataRepo := postgres.NewSetDataRepo(pool)
	surveyRepo := postgres.NewSurveyRepo(pool)
	tenantRepo := postgres.NewTenantRepo(pool)

	sessions := usecase.NewSessionService(sessionRepo, surveyRepo, responseRepo)
	batches := usecase.NewBatchService(batchRepo, responseRepo, producer)
	setData := usecase.NewSetDataService(setDataRepo, surveyRepo)
	completion := usecase.NewCompletionService(sessionRepo, surveyRepo, responseRepo, batches, setData)
	reviewLeaseDuration := time.Duration(cfg.LeaseDurationSeconds) * time.Second
	reviews := usecase.NewReviewService(responseRepo, leases, reviewLeaseDuration)

	telephonyFactory := buildTelephonyFactory(cfg)
	telephonyLimiter := ratelimiter.NewRedisLuaLimiter(redisClient, nil, map[string]ratelimiter.BucketConfig{
		"provider_a": ratelimiter.NewBucketConfigFromPerMinute(cfg.TelephonyProviderRateLimitPerMin),
		"provider_b": ratelimiter.NewBucketConfigFromPerMinute(cfg.TelephonyProviderRateLimitPerMin),
	})
	telephonySvc := usecase.NewTelephonyService(tenantRepo, telephonyFactory).WithRateLimiter(telephonyLimiter)

	audioStore, err := audiostore.NewLocalStore(cfg.AudioStoreDir)
	if err != nil {
		logger.Error("init audio store failed", slog.Any("error", err))
		os.Exit(1)
	}

	dbCheck := func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}

	srv := httpserver.NewServer(cfg, sessions, completion, reviews, telephonySvc, audioStore, producer, dbCheck, redisCheck)
	tokens := httpserver.NewPrincipalTokenManager(cfg.PrincipalTokenSecret)
	handler := app.BuildRouter(cfg, srv, tokens)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	go func() {
		logger.Info("http server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.Any("error", err))
			stop()
		}
	}()

	cleanup := postgres.NewCleanupService(pool, 90)
	go cleanup.RunPeriodic(ctx, 24*time.Hour)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
}

// buildTelephonyFactory wires the two concrete providers behind the
// resilience wrapper, lazily constructed per company/provider pair the
// first time TelephonyService needs one.
func buildTelephonyFactory(cfg config.Config) usecase.ProviderFactory {
	backoffCfg := telephony.BackoffConfig{
		InitialInterval: cfg.TelephonyBackoffInitial,
		MaxInterval:     cfg.TelephonyBackoffMax,
		MaxRetries:      cfg.TelephonyBackoffMaxRetries,
	}
	return func(companyID, providerName string) (domain.TelephonyProvider, error) {
		var inner domain.TelephonyProvider
		switch providerName {
		case "provider_a":
			inner = telephony.NewProviderA(cfg.ProviderABaseURL, cfg.ProviderAAPIKey, cfg.TelephonyCallTimeout)
		case "provider_b":
			inner = telephony.NewProviderB(cfg.ProviderBBaseURL, cfg.ProviderBAccountSID, cfg.ProviderBAuthToken, cfg.TelephonyCallTimeout)
		default:
			return nil, fmt.Errorf("unknown telephony provider %q", providerName)
		}
		return telephony.NewResilientProvider(inner, companyID+"/"+providerName, backoffCfg), nil
	}
}
