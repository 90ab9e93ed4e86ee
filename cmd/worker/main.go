// Package main provides the worker process entry point. The worker
// consumes duplicate-detector reconcile triggers and raw CATI webhook
// payloads off Redpanda so the HTTP handlers that produce them never
// block on downstream processing.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/adapter/queue/redpanda"
	"github.com/fieldops/surveypipe/internal/adapter/repo/postgres"
	"github.com/fieldops/surveypipe/internal/adapter/telephony"
	"github.com/fieldops/surveypipe/internal/config"
	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(":9091", mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracing, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("setup tracing failed", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracing != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("connect to postgres failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	responseRepo := postgres.NewResponseRepo(pool)
	tenantRepo := postgres.NewTenantRepo(pool)

	duplicates := usecase.NewDuplicateDetectorService(responseRepo, usecase.DuplicateTolerances{
		GPSTolerance:        cfg.DuplicateGPSTolerance,
		TimeTolerance:       cfg.DuplicateTimeTolerance,
		AudioDurationTol:    cfg.DuplicateAudioDurationTol,
		AudioBitrateTolKbps: cfg.DuplicateAudioBitrateTol,
		AudioSizeTolBytes:   cfg.DuplicateAudioSizeTolBytes,
	})

	telephonyFactory := buildTelephonyFactory(cfg)
	telephonySvc := usecase.NewTelephonyService(tenantRepo, telephonyFactory)

	consumer, err := redpanda.NewConsumer(
		cfg.RedpandaBrokers,
		"surveypipe-workers",
		[]string{redpanda.TopicReconcileTrigger, redpanda.TopicCATIWebhookRaw},
	)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer consumer.Close()

	go func() {
		if err := consumer.Run(ctx, func(ctx context.Context, rec redpanda.Record) error {
			switch rec.Topic {
			case redpanda.TopicReconcileTrigger:
				return handleReconcileTrigger(ctx, duplicates, rec)
			case redpanda.TopicCATIWebhookRaw:
				return handleCATIWebhookRaw(ctx, telephonySvc, rec)
			default:
				slog.Warn("unhandled topic", slog.String("topic", rec.Topic))
				return nil
			}
		}); err != nil && ctx.Err() == nil {
			slog.Error("consumer loop exited", slog.Any("error", err))
			stop()
		}
	}()

	slog.Info("worker started, waiting for shutdown signal")
	<-ctx.Done()
	slog.Info("shutdown signal received, worker stopping")
}

type reconcileTriggerMessage struct {
	SurveyMode string    `json:"survey_mode"`
	From       time.Time `json:"from"`
	To         time.Time `json:"to"`
}

func handleReconcileTrigger(ctx context.Context, duplicates usecase.DuplicateDetectorService, rec redpanda.Record) error {
	var msg reconcileTriggerMessage
	if err := json.Unmarshal(rec.Value, &msg); err != nil {
		slog.Error("reconcile trigger decode failed", slog.Any("error", err))
		return nil // malformed message, nothing to retry
	}
	groups, err := duplicates.Run(ctx, domain.SurveyMode(msg.SurveyMode), msg.From, msg.To)
	if err != nil {
		slog.Error("duplicate detector run failed", slog.Any("error", err))
		return err
	}
	slog.Info("duplicate detector run complete",
		slog.String("survey_mode", msg.SurveyMode),
		slog.Int("groups_with_duplicates", len(groups)))
	return nil
}

func handleCATIWebhookRaw(ctx context.Context, telephonySvc *usecase.TelephonyService, rec redpanda.Record) error {
	companyID := string(rec.Key)
	event, err := telephonySvc.NormalizeWebhook(ctx, companyID, "POST", nil, rec.Value)
	if err != nil {
		slog.Error("normalize webhook failed", slog.String("company_id", companyID), slog.Any("error", err))
		return err
	}
	slog.Info("cati webhook normalized",
		slog.String("company_id", companyID),
		slog.String("call_id", event.CallID),
		slog.String("status", string(event.Status)))
	return nil
}

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
			return nil, domain.ErrProviderError
		}
		return telephony.NewResilientProvider(inner, companyID+"/"+providerName, backoffCfg), nil
	}
}
