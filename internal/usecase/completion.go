package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"go.opentelemetry.io/otel"
)

// AutoRejectRule is a pluggable, survey-driven predicate evaluated against a
// built Response before it is handed to the Batch Manager.
type AutoRejectRule func(survey *domain.Survey, resp *domain.Response) bool

// MinDurationRule rejects responses whose total time spent falls below the
// survey-configured minimum.
func MinDurationRule(minSeconds int) AutoRejectRule {
	return func(_ *domain.Survey, resp *domain.Response) bool {
		return resp.TotalTimeSpent < minSeconds
	}
}

// SkipRateRule rejects responses whose fraction of skipped required
// questions exceeds threshold.
func SkipRateRule(threshold float64) AutoRejectRule {
	return func(_ *domain.Survey, resp *domain.Response) bool {
		required, skipped := 0, 0
		for _, a := range resp.Answers {
			if a.IsRequired {
				required++
				if a.IsSkipped {
					skipped++
				}
			}
		}
		if required == 0 {
			return false
		}
		return float64(skipped)/float64(required) > threshold
	}
}

// StraightLiningRule rejects responses where every answer is the identical
// fixed value (a classic low-effort / fraudulent interview signature).
func StraightLiningRule() AutoRejectRule {
	return func(_ *domain.Survey, resp *domain.Response) bool {
		if len(resp.Answers) < 2 {
			return false
		}
		first := resp.Answers[0].Value.Str
		for _, a := range resp.Answers[1:] {
			if a.Value.Kind != domain.KindStr || a.Value.Str != first {
				return false
			}
		}
		return first != ""
	}
}

// CompletionMetadata carries the optional fields of the complete() input
// contract.
type CompletionMetadata struct {
	StartTime        *time.Time
	EndTime          *time.Time
	TotalTimeSpent   *int
	SelectedAC       string
	PollingStation   string
	Gender           string
	Age              int
	Location         *domain.GeoPoint
	SetNumber        *int
	Audio            *domain.AudioRecording
	Abandoned        bool
	AbandonedReason  string
	AbandonmentNotes string
}

// CompletionResult is the outcome of Complete.
type CompletionResult struct {
	ResponseID  string
	IsDuplicate bool
	Status      domain.ResponseStatus // always Pending_Approval from the interviewer's perspective
}

// CompletionService implements the Completion Ingestor.
type CompletionService struct {
	Sessions  domain.SessionRepository
	Surveys   domain.SurveyRepository
	Responses domain.ResponseRepository
	Batch     BatchService
	SetData   SetDataService
	Rules     []AutoRejectRule
}

// NewCompletionService constructs a CompletionService with a default rule
// set (min duration, skip rate, straight-lining), overridable per survey by
// callers that need different thresholds.
func NewCompletionService(sessions domain.SessionRepository, surveys domain.SurveyRepository, responses domain.ResponseRepository, batch BatchService, setData SetDataService) CompletionService {
	return CompletionService{
		Sessions:  sessions,
		Surveys:   surveys,
		Responses: responses,
		Batch:     batch,
		SetData:   setData,
		Rules: []AutoRejectRule{
			MinDurationRule(30),
			SkipRateRule(0.5),
			StraightLiningRule(),
		},
	}
}

// Complete ingests a final response payload.
func (s CompletionService) Complete(ctx domain.Context, sessionID, interviewerID string, answers []domain.AnsweredQuestion, qualityMetrics map[string]float64, meta CompletionMetadata) (CompletionResult, error) {
	tr := otel.Tracer("usecase.completion")
	ctx, span := tr.Start(ctx, "CompletionService.Complete")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("op=Complete get session: %w", err)
	}
	if sess.InterviewerID != interviewerID {
		return CompletionResult{}, fmt.Errorf("op=Complete owner mismatch: %w", domain.ErrForbidden)
	}

	// Idempotency: a terminal Response already exists for this session.
	if existing, err := s.Responses.FindBySessionID(ctx, sessionID); err == nil && existing != nil {
		lg.Info("duplicate completion detected", slog.String("session_id", sessionID), slog.String("response_id", existing.ID))
		return CompletionResult{ResponseID: existing.ID, IsDuplicate: true, Status: domain.StatusPendingApproval}, fmt.Errorf("op=Complete: %w", domain.ErrDuplicateSubmission)
	}

	survey, err := s.Surveys.Get(ctx, sess.SurveyID)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("op=Complete get survey: %w", err)
	}

	totalTimeSpent := resolveTotalTimeSpent(meta, sess.StartTime)
	actualStart := sess.StartTime
	if meta.StartTime != nil {
		actualStart = *meta.StartTime
	}
	endTime := actualStart.Add(time.Duration(totalTimeSpent) * time.Second)
	if meta.EndTime != nil {
		endTime = *meta.EndTime
	}

	resp := &domain.Response{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		SurveyID:       sess.SurveyID,
		InterviewerID:  interviewerID,
		Mode:           sess.Mode,
		StartTime:      actualStart,
		EndTime:        endTime,
		TotalTimeSpent: totalTimeSpent,
		Answers:        answers,
		SelectedAC:     meta.SelectedAC,
		PollingStation: meta.PollingStation,
		RespondentGender: meta.Gender,
		RespondentAge:    meta.Age,
		Location:       meta.Location,
		Audio:          meta.Audio,
		QualityMetrics: qualityMetrics,
		Status:         domain.StatusPendingApproval,
		CreatedAt:      time.Now().UTC(),
	}

	autoRejected := false
	for _, rule := range s.Rules {
		if rule(survey, resp) {
			autoRejected = true
			break
		}
	}
	if autoRejected {
		resp.Status = domain.StatusRejected
		resp.Verification = &domain.VerificationData{AutoRejected: true}
		lg.Info("response auto-rejected", slog.String("session_id", sessionID))
	}

	if err := s.Responses.Create(ctx, resp); err != nil {
		return CompletionResult{}, fmt.Errorf("op=Complete create response: %w", err)
	}

	if !autoRejected {
		if err := s.Batch.Enroll(ctx, survey.BatchConfig, resp); err != nil {
			lg.Error("batch enroll failed", slog.String("response_id", resp.ID), slog.Any("error", err))
			return CompletionResult{}, fmt.Errorf("op=Complete enroll: %w", err)
		}
	}

	if survey.Mode == domain.ModeCATI && meta.SetNumber != nil {
		if err := s.SetData.RecordCompletion(ctx, sess.SurveyID, *meta.SetNumber); err != nil {
			lg.Error("failed to record set rotation data", slog.Any("error", err))
		}
	}

	// Completion is cleanup, not a terminal state of its own: the session's
	// data has already been promoted to the Response above, so the session
	// itself is done the same way an abandon-with-data is (spec.md §4.2
	// step 7, scenario 1).
	if err := s.Sessions.SetState(ctx, sessionID, domain.SessionAbandoned); err != nil {
		lg.Error("failed to mark session abandoned", slog.Any("error", err))
	}

	lg.Info("completion ingested", slog.String("response_id", resp.ID), slog.Bool("auto_rejected", autoRejected))
	// The interviewer-visible status always hides auto-rejection.
	return CompletionResult{ResponseID: resp.ID, Status: domain.StatusPendingApproval}, nil
}

// resolveTotalTimeSpent prefers metadata.totalTimeSpent, else computes
// endTime-startTime, clamping to a minimum of 1 second.
func resolveTotalTimeSpent(meta CompletionMetadata, sessionStart time.Time) int {
	if meta.TotalTimeSpent != nil {
		if *meta.TotalTimeSpent < 1 {
			return 1
		}
		return *meta.TotalTimeSpent
	}
	start := sessionStart
	if meta.StartTime != nil {
		start = *meta.StartTime
	}
	end := time.Now().UTC()
	if meta.EndTime != nil {
		end = *meta.EndTime
	}
	secs := int(end.Sub(start).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

// IsDuplicateSubmission reports whether err represents the idempotent
// duplicate-completion case the HTTP layer must render as 409.
func IsDuplicateSubmission(err error) bool {
	return errors.Is(err, domain.ErrDuplicateSubmission)
}
