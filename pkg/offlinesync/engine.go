package offlinesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Config controls the engine's retry/backoff/trigger knobs; the zero value
// is invalid, use DefaultConfig as a base.
type Config struct {
	// PeriodicInterval is how often a background sync is attempted while
	// the device reports itself online (spec default: 5 minutes).
	PeriodicInterval time.Duration
	// MinGapBetweenSyncs throttles focus-triggered syncs (spec default:
	// 30 seconds).
	MinGapBetweenSyncs time.Duration
	// MaxAudioUploadAttempts bounds the audio upload retry budget (spec
	// default: 3).
	MaxAudioUploadAttempts int
	// AudioBackoffInitial/Max are the exponential backoff bounds for audio
	// upload retries (spec default: 1s initial, 10s cap).
	AudioBackoffInitial time.Duration
	AudioBackoffMax     time.Duration
	// Repeated500Threshold is how many prior HTTP 500 completion failures
	// for the same sessionID (counted since its last success or duplicate)
	// make a further 500 count as a server-side duplicate (spec default: 2).
	Repeated500Threshold int
}

// DefaultConfig returns the spec's default tuning.
func DefaultConfig() Config {
	return Config{
		PeriodicInterval:        5 * time.Minute,
		MinGapBetweenSyncs:      30 * time.Second,
		MaxAudioUploadAttempts:  3,
		AudioBackoffInitial:     1 * time.Second,
		AudioBackoffMax:         10 * time.Second,
		Repeated500Threshold:    2,
	}
}

// ProgressFunc receives per-interview progress updates during a sync run.
type ProgressFunc func(Progress)

// Engine is the client-side Offline Sync Engine. It is explicitly
// constructed (no module-level singleton) and safe to use from one
// goroutine at a time for triggers; SyncAll itself guards against
// concurrent runs so multiple trigger sources (connectivity, focus,
// periodic timer, foreground) can call it without coordination.
type Engine struct {
	Transport Transport
	Store     Store
	Files     FileSystem
	Logger    *slog.Logger
	Progress  ProgressFunc
	Config    Config
	// Sleep is injected so tests can run backoff delays instantly; defaults
	// to time.Sleep.
	Sleep func(time.Duration)
	// Now is injected for deterministic tests; defaults to time.Now.
	Now func() time.Time

	running    atomic.Bool
	mu         sync.Mutex
	lastSyncAt time.Time
	stopCh     chan struct{}
	serverErrs map[string]int // sessionID -> HTTP 500 count since last success
}

// NewEngine constructs an Engine. transport, store, and files must be
// non-nil; logger/progress may be nil (progress updates are then dropped).
func NewEngine(transport Transport, store Store, files FileSystem, logger *slog.Logger, progress ProgressFunc, cfg Config) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		Transport:  transport,
		Store:      store,
		Files:      files,
		Logger:     logger,
		Progress:   progress,
		Config:     cfg,
		Sleep:      time.Sleep,
		Now:        time.Now,
		serverErrs: map[string]int{},
	}
}

// Start launches the periodic background sync timer; call Stop to tear it
// down. Safe to call once per Engine lifetime.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.stopCh != nil {
		e.mu.Unlock()
		return
	}
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	interval := e.Config.PeriodicInterval
	if interval <= 0 {
		interval = DefaultConfig().PeriodicInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-e.stopCh:
				return
			case <-ticker.C:
				if _, err := e.SyncAll(ctx); err != nil {
					e.Logger.Error("periodic sync failed", slog.Any("error", err))
				}
			}
		}
	}()
}

// Stop tears down the periodic timer goroutine started by Start.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
}

// OnConnectivityChange triggers an immediate sync when the device comes
// online; idempotent with respect to repeated "online" notifications since
// SyncAll itself guards against overlap.
func (e *Engine) OnConnectivityChange(ctx context.Context, online bool) {
	if !online {
		return
	}
	go func() {
		if _, err := e.SyncAll(ctx); err != nil {
			e.Logger.Error("connectivity-triggered sync failed", slog.Any("error", err))
		}
	}()
}

// OnForeground triggers an immediate sync on app foregrounding.
func (e *Engine) OnForeground(ctx context.Context) {
	go func() {
		if _, err := e.SyncAll(ctx); err != nil {
			e.Logger.Error("foreground-triggered sync failed", slog.Any("error", err))
		}
	}()
}

// OnDashboardFocus triggers a sync when the dashboard screen is focused and
// there are pending interviews, throttled to at most one sync per
// MinGapBetweenSyncs.
func (e *Engine) OnDashboardFocus(ctx context.Context) {
	e.mu.Lock()
	now := e.now()
	gap := e.Config.MinGapBetweenSyncs
	if gap <= 0 {
		gap = DefaultConfig().MinGapBetweenSyncs
	}
	if !e.lastSyncAt.IsZero() && now.Sub(e.lastSyncAt) < gap {
		e.mu.Unlock()
		return
	}
	e.lastSyncAt = now
	e.mu.Unlock()

	go func() {
		if _, err := e.SyncAll(ctx); err != nil {
			e.Logger.Error("focus-triggered sync failed", slog.Any("error", err))
		}
	}()
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// SyncAll drives one sync pass over every locally queued interview. At most
// one run is active at a time: a trigger that arrives while a run is in
// flight returns immediately with a zero Summary rather than queueing up.
func (e *Engine) SyncAll(ctx context.Context) (Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return Summary{}, nil
	}
	defer e.running.Store(false)

	interviews, err := e.Store.List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("op=SyncAll list: %w", err)
	}

	var summary Summary
	total := len(interviews)
	for idx, iv := range interviews {
		if iv.Status == StatusSynced {
			summary.Skipped++
			continue
		}
		e.publish(Progress{CurrentInterview: idx + 1, TotalInterviews: total, InterviewPercent: 0, Stage: StageUploadingData, InterviewID: iv.ID, SyncedCount: summary.Synced, FailedCount: summary.Failed})

		if err := e.syncOne(ctx, iv, idx+1, total, &summary); err != nil {
			e.Logger.Error("interview sync failed", slog.String("interview_id", iv.ID), slog.Any("error", err))
		}
	}
	return summary, nil
}

// syncOne implements the per-interview sync algorithm from spec.md §4.8.
func (e *Engine) syncOne(ctx context.Context, iv *Interview, position, total int, summary *Summary) error {
	// Step 1: already synced server-side.
	if iv.Metadata.ResponseID != "" {
		summary.Synced++
		return e.finishSynced(ctx, iv, position, total, summary)
	}

	iv.Status = StatusSyncing
	iv.SyncAttempts++
	if err := e.Store.Save(ctx, iv); err != nil {
		return fmt.Errorf("op=syncOne persist syncing: %w", err)
	}

	// Step 2: exchange a local offline_ session id for a server one.
	if iv.IsOfflineSession() {
		sid, err := e.Transport.StartInterview(ctx, iv.SurveyID)
		if err != nil {
			return e.markFailed(ctx, iv, position, total, summary, fmt.Errorf("start interview: %w", err))
		}
		iv.SessionID = sid
		if err := e.Store.Save(ctx, iv); err != nil {
			return fmt.Errorf("op=syncOne persist session id: %w", err)
		}
	}

	// Step 5: upload audio with retry, best-effort (failure does not fail
	// the sync; it is retried on the next full sync).
	if iv.AudioPath != "" && iv.AudioStatus != AudioUploaded {
		e.publish(Progress{CurrentInterview: position, TotalInterviews: total, InterviewPercent: 40, Stage: StageUploadingAudio, InterviewID: iv.ID, SyncedCount: summary.Synced, FailedCount: summary.Failed})
		e.uploadAudioWithRetry(ctx, iv)
		if err := e.Store.Save(ctx, iv); err != nil {
			return fmt.Errorf("op=syncOne persist audio state: %w", err)
		}
	}

	e.publish(Progress{CurrentInterview: position, TotalInterviews: total, InterviewPercent: 70, Stage: StageVerifying, InterviewID: iv.ID, SyncedCount: summary.Synced, FailedCount: summary.Failed})

	// Step 6: submit completion. Fatal and retryable failures both leave
	// the interview queued with status=failed; only a retryable failure is
	// expected to clear on its own on a future run, but the local state
	// left behind is the same either way — the caller (or the next full
	// sync) decides whether to try again.
	result, err := e.complete(ctx, iv)
	if err != nil {
		return e.markFailed(ctx, iv, position, total, summary, err)
	}

	// Duplicate (including direct success) is treated identically: the
	// server already has this submission.
	if result.ResponseID != "" {
		iv.Metadata.ResponseID = result.ResponseID
	}
	summary.Synced++
	return e.finishSynced(ctx, iv, position, total, summary)
}

// complete submits the completion request appropriate to the interview's
// mode. A server-detected duplicate (§7: classified by ClassifyCompletion)
// is returned as success, matching the client's "duplicate is success"
// policy; any other failure is returned as an error, fatal or retryable
// alike, since both leave the interview queued with status=failed.
func (e *Engine) complete(ctx context.Context, iv *Interview) (CompleteResult, error) {
	var result CompleteResult
	var err error
	if iv.IsCatiMode {
		result, err = e.Transport.CompleteCATI(ctx, CompleteCATIRequest{
			SessionID:   iv.SessionID,
			CatiQueueID: iv.CatiQueueID,
			Responses:   iv.Responses,
			Metadata:    iv.Metadata,
		})
	} else {
		result, err = e.Transport.Complete(ctx, CompleteRequest{
			SessionID: iv.SessionID,
			Responses: iv.Responses,
			Metadata:  iv.Metadata,
		})
	}

	if err == nil && !result.IsDuplicate && result.StatusCode < 300 {
		e.mu.Lock()
		delete(e.serverErrs, iv.SessionID)
		e.mu.Unlock()
		return result, nil
	}

	e.mu.Lock()
	prior := e.serverErrs[iv.SessionID]
	if result.StatusCode == 500 {
		e.serverErrs[iv.SessionID] = prior + 1
	}
	e.mu.Unlock()

	class := ClassifyCompletion(result.StatusCode, result.IsDuplicate, errOrText(err, result.ErrorText), prior, e.Config.Repeated500Threshold)
	if class == ClassDuplicate {
		e.mu.Lock()
		delete(e.serverErrs, iv.SessionID)
		e.mu.Unlock()
		return result, nil
	}
	if err == nil {
		err = fmt.Errorf("completion rejected: status=%d %s", result.StatusCode, result.ErrorText)
	}
	return result, err
}

func errOrText(err error, text string) string {
	if err != nil {
		return err.Error()
	}
	return text
}

// uploadAudioWithRetry attempts the audio upload with exponential backoff
// (1s, 2s, 4s capped at 10s), verifying the local file still exists and has
// non-zero size before each attempt. On terminal failure it leaves
// AudioStatus=failed and the interview proceeds to payload submission
// without audio; the audio retries on a future full sync.
func (e *Engine) uploadAudioWithRetry(ctx context.Context, iv *Interview) {
	iv.AudioStatus = AudioUploading
	maxAttempts := e.Config.MaxAudioUploadAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultConfig().MaxAudioUploadAttempts
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		size, exists, err := e.Files.Stat(iv.AudioPath)
		if err != nil || !exists || size <= 0 {
			e.Logger.Error("audio file missing or empty, skipping upload", slog.String("interview_id", iv.ID), slog.String("path", iv.AudioPath))
			iv.AudioStatus = AudioFailed
			return
		}

		result, err := e.Transport.UploadAudio(ctx, iv.AudioPath, iv.SessionID, iv.SurveyID)
		if err == nil {
			iv.Metadata.AudioURL = result.AudioURL
			iv.Metadata.AudioFileSize = result.FileSize
			iv.AudioStatus = AudioUploaded
			return
		}

		e.Logger.Error("audio upload attempt failed", slog.String("interview_id", iv.ID), slog.Int("attempt", attempt+1), slog.Any("error", err))
		if attempt == maxAttempts-1 {
			break
		}
		delay := audioUploadBackoff(attempt, e.Config.AudioBackoffInitial, e.Config.AudioBackoffMax)
		e.sleep(delay)
	}
	iv.AudioStatus = AudioFailed
}

func (e *Engine) sleep(d time.Duration) {
	if e.Sleep != nil {
		e.Sleep(d)
		return
	}
	time.Sleep(d)
}

// finishSynced stores responseId atomically with status=synced, then
// deletes the local interview and its audio file — in that order, per
// spec.md §9 Design Notes (do not infer any other ordering).
func (e *Engine) finishSynced(ctx context.Context, iv *Interview, position, total int, summary *Summary) error {
	iv.Status = StatusSynced
	if err := e.Store.Save(ctx, iv); err != nil {
		return fmt.Errorf("op=finishSynced persist synced state: %w", err)
	}
	e.publish(Progress{CurrentInterview: position, TotalInterviews: total, InterviewPercent: 100, Stage: StageSynced, InterviewID: iv.ID, SyncedCount: summary.Synced, FailedCount: summary.Failed})

	if err := e.Store.Delete(ctx, iv.ID); err != nil {
		e.Logger.Error("failed to delete synced interview from local queue", slog.String("interview_id", iv.ID), slog.Any("error", err))
		return nil
	}
	if iv.AudioPath != "" {
		if err := e.Files.Remove(iv.AudioPath); err != nil {
			e.Logger.Error("failed to delete local audio file", slog.String("interview_id", iv.ID), slog.Any("error", err))
		}
	}
	return nil
}

func (e *Engine) markFailed(ctx context.Context, iv *Interview, position, total int, summary *Summary, err error) error {
	iv.Status = StatusFailed
	iv.Error = err.Error()
	_ = e.Store.Save(ctx, iv)
	summary.Failed++
	e.publish(Progress{CurrentInterview: position, TotalInterviews: total, InterviewPercent: 100, Stage: StageFailed, InterviewID: iv.ID, SyncedCount: summary.Synced, FailedCount: summary.Failed})
	return err
}

func (e *Engine) publish(p Progress) {
	if e.Progress != nil {
		e.Progress(p)
	}
}
