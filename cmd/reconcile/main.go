// Command reconcile runs an on-demand duplicate-detector sweep over a
// survey mode and date window, the same scan the reconcile-trigger worker
// consumer runs off Redpanda, for ad-hoc operator use.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/adapter/repo/postgres"
	"github.com/fieldops/surveypipe/internal/config"
	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/usecase"
)

func main() {
	mode := flag.String("mode", "capi", "survey mode to scan: capi, cati, or multi_mode")
	fromStr := flag.String("from", "", "RFC3339 start of the scan window (defaults to 24h ago)")
	toStr := flag.String("to", "", "RFC3339 end of the scan window (defaults to now)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	to := time.Now().UTC()
	if *toStr != "" {
		to, err = time.Parse(time.RFC3339, *toStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -to:", err)
			os.Exit(1)
		}
	}
	from := to.Add(-24 * time.Hour)
	if *fromStr != "" {
		from, err = time.Parse(time.RFC3339, *fromStr)
		if err != nil {
			fmt.Fprintln(os.Stderr, "invalid -from:", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		logger.Error("connect to postgres failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	responseRepo := postgres.NewResponseRepo(pool)
	duplicates := usecase.NewDuplicateDetectorService(responseRepo, usecase.DuplicateTolerances{
		GPSTolerance:        cfg.DuplicateGPSTolerance,
		TimeTolerance:       cfg.DuplicateTimeTolerance,
		AudioDurationTol:    cfg.DuplicateAudioDurationTol,
		AudioBitrateTolKbps: cfg.DuplicateAudioBitrateTol,
		AudioSizeTolBytes:   cfg.DuplicateAudioSizeTolBytes,
	})

	groups, err := duplicates.Run(ctx, domain.SurveyMode(*mode), from, to)
	if err != nil {
		logger.Error("reconcile run failed", slog.Any("error", err))
		os.Exit(1)
	}

	removed := 0
	for _, g := range groups {
		removed += len(g.Removed)
		logger.Info("duplicate group",
			slog.String("kept", g.Kept),
			slog.Any("removed", g.Removed))
	}
	logger.Info("reconcile complete",
		slog.String("mode", *mode),
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Int("groups", len(groups)),
		slog.Int("responses_marked_duplicate", removed))
}
