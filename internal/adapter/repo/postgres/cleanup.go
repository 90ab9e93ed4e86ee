package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// CleanupService handles data retention and cleanup
type CleanupService struct {
	Pool       *pgxpool.Pool
	RetentionDays int
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(pool *pgxpool.Pool, retentionDays int) *CleanupService {
	if retentionDays <= 0 {
		retentionDays = 90 // default 90 days
	}
	return &CleanupService{Pool: pool, RetentionDays: retentionDays}
}

// CleanupOldData removes, in one transaction, everything older than the
// retention period: terminal responses (by created_at), abandoned or
// completed interview sessions (by last_activity_at), and set-rotation
// history rows (by created_at).
func (s *CleanupService) CleanupOldData(ctx context.Context) error {
	cutoff := time.Now().AddDate(0, 0, -s.RetentionDays)

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cleanup begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var deletedResponses int64
	err = tx.QueryRow(ctx, `
		WITH d AS (
			DELETE FROM responses
			WHERE created_at < $1
			AND status IN ('Approved', 'Rejected', 'Terminated', 'abandoned')
			RETURNING 1
		) SELECT count(*) FROM d
	`, cutoff).Scan(&deletedResponses)
	if err != nil {
		slog.Debug("no responses to delete", slog.Any("error", err))
	}

	var deletedSessions int64
	err = tx.QueryRow(ctx, `
		WITH d AS (
			DELETE FROM interview_sessions
			WHERE state IN ('abandoned', 'completed')
			AND last_activity_at < $1
			RETURNING 1
		) SELECT count(*) FROM d
	`, cutoff).Scan(&deletedSessions)
	if err != nil {
		slog.Debug("no sessions to delete", slog.Any("error", err))
	}

	var deletedSetData int64
	err = tx.QueryRow(ctx, `
		WITH d AS (
			DELETE FROM set_data
			WHERE created_at < $1
			RETURNING 1
		) SELECT count(*) FROM d
	`, cutoff).Scan(&deletedSetData)
	if err != nil {
		slog.Debug("no set data to delete", slog.Any("error", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cleanup commit: %w", err)
	}

	slog.Info("data cleanup completed",
		slog.Int64("deleted_responses", deletedResponses),
		slog.Int64("deleted_sessions", deletedSessions),
		slog.Int64("deleted_set_data", deletedSetData),
		slog.Time("cutoff", cutoff),
	)

	return nil
}

// RunPeriodic starts a periodic cleanup job
func (s *CleanupService) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour // daily by default
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial cleanup
	if err := s.CleanupOldData(ctx); err != nil {
		slog.Error("initial cleanup failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("cleanup service stopping")
			return
		case <-ticker.C:
			if err := s.CleanupOldData(ctx); err != nil {
				slog.Error("periodic cleanup failed", slog.Any("error", err))
			}
		}
	}
}
