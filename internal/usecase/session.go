// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"go.opentelemetry.io/otel"
)

// SessionService implements the Session Manager.
type SessionService struct {
	Sessions  domain.SessionRepository
	Surveys   domain.SurveyRepository
	Responses domain.ResponseRepository
}

// NewSessionService constructs a SessionService.
func NewSessionService(sessions domain.SessionRepository, surveys domain.SurveyRepository, responses domain.ResponseRepository) SessionService {
	return SessionService{Sessions: sessions, Surveys: surveys, Responses: responses}
}

// StartResult is the outcome of StartInterview.
type StartResult struct {
	Session              *domain.InterviewSession
	RequiresACSelection  bool
	AssignedACs          []string
}

// StartInterview validates interviewer assignment, abandons any existing
// non-terminal session for the pair, and creates a fresh session
// per (survey, interviewer) pair.
func (s SessionService) StartInterview(ctx domain.Context, surveyID, interviewerID string) (StartResult, error) {
	tr := otel.Tracer("usecase.session")
	ctx, span := tr.Start(ctx, "SessionService.StartInterview")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	survey, err := s.Surveys.Get(ctx, surveyID)
	if err != nil {
		return StartResult{}, fmt.Errorf("op=StartInterview get survey: %w", err)
	}
	if !assignedTo(survey.AssignedInterv, interviewerID) {
		return StartResult{}, fmt.Errorf("op=StartInterview interviewer not assigned: %w", domain.ErrForbidden)
	}

	if existing, err := s.Sessions.FindActiveByOwner(ctx, surveyID, interviewerID); err == nil && existing != nil {
		lg.Info("abandoning existing non-terminal session", slog.String("session_id", existing.ID))
		if err := s.Sessions.SetState(ctx, existing.ID, domain.SessionAbandoned); err != nil {
			return StartResult{}, fmt.Errorf("op=StartInterview abandon existing: %w", err)
		}
	}

	now := time.Now().UTC()
	sess := &domain.InterviewSession{
		ID:             uuid.NewString(),
		SurveyID:       surveyID,
		InterviewerID:  interviewerID,
		Mode:           survey.Mode,
		Current:        domain.Position{Section: 0, Question: 0},
		StartTime:      now,
		LastActivityAt: now,
		State:          domain.SessionActive,
	}
	sess.MarkReached(domain.Position{Section: 0, Question: 0})
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return StartResult{}, fmt.Errorf("op=StartInterview create: %w", err)
	}

	acs := survey.AssignedReviewers[interviewerID]
	lg.Info("session started", slog.String("session_id", sess.ID), slog.String("survey_id", surveyID), slog.String("interviewer_id", interviewerID))
	return StartResult{Session: sess, RequiresACSelection: len(acs) != 1, AssignedACs: acs}, nil
}

// GetSession returns session state iff owner matches.
func (s SessionService) GetSession(ctx domain.Context, sessionID, interviewerID string) (*domain.InterviewSession, error) {
	sess, err := s.Sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("op=GetSession: %w", err)
	}
	if sess.InterviewerID != interviewerID {
		return nil, fmt.Errorf("op=GetSession owner mismatch: %w", domain.ErrForbidden)
	}
	return sess, nil
}

// UpdateResponse overwrites the tentative answer for a question
// without advancing position.
func (s SessionService) UpdateResponse(ctx domain.Context, sessionID, interviewerID, questionID string, v domain.ResponseValue) error {
	if _, err := s.GetSession(ctx, sessionID, interviewerID); err != nil {
		return err
	}
	if err := s.Sessions.UpdateTentative(ctx, sessionID, questionID, v); err != nil {
		return fmt.Errorf("op=UpdateResponse: %w", err)
	}
	return nil
}

// NavigateTo permits navigation only to an already-reached question or the
// immediate next one.
func (s SessionService) NavigateTo(ctx domain.Context, sessionID, interviewerID string, target domain.Position) error {
	sess, err := s.GetSession(ctx, sessionID, interviewerID)
	if err != nil {
		return err
	}
	next := domain.Position{Section: sess.Current.Section, Question: sess.Current.Question + 1}
	if !sess.HasReached(target) && target != next {
		return fmt.Errorf("op=NavigateTo disallowed position: %w", domain.ErrForbidden)
	}
	if err := s.Sessions.UpdatePosition(ctx, sessionID, target); err != nil {
		return fmt.Errorf("op=NavigateTo: %w", err)
	}
	return nil
}

// MarkReached idempotently records a position as displayed
// so navigation rules can reference it later.
func (s SessionService) MarkReached(ctx domain.Context, sessionID, interviewerID string, pos domain.Position) error {
	if _, err := s.GetSession(ctx, sessionID, interviewerID); err != nil {
		return err
	}
	if err := s.Sessions.MarkReached(ctx, sessionID, pos); err != nil {
		return fmt.Errorf("op=MarkReached: %w", err)
	}
	return nil
}

// Pause flips state from active to paused.
func (s SessionService) Pause(ctx domain.Context, sessionID, interviewerID string) error {
	return s.setState(ctx, sessionID, interviewerID, domain.SessionPaused)
}

// Resume flips state from paused to active.
func (s SessionService) Resume(ctx domain.Context, sessionID, interviewerID string) error {
	return s.setState(ctx, sessionID, interviewerID, domain.SessionActive)
}

func (s SessionService) setState(ctx domain.Context, sessionID, interviewerID string, state domain.SessionState) error {
	if _, err := s.GetSession(ctx, sessionID, interviewerID); err != nil {
		return err
	}
	if err := s.Sessions.SetState(ctx, sessionID, state); err != nil {
		return fmt.Errorf("op=setState: %w", err)
	}
	return nil
}

// Non-substantive questions excluded from the "at least one valid answer"
// check on abandonment.
const (
	questionKindACSelection   = "ac_selection"
	questionKindPollingStation = "polling_station"
)

// Abandon promotes in-flight data to a Terminated Response when at least
// one valid answer exists; otherwise it marks the session abandoned with no
// Response created.
func (s SessionService) Abandon(ctx domain.Context, sessionID, interviewerID string, abandonedReason string) (*domain.Response, error) {
	tr := otel.Tracer("usecase.session")
	ctx, span := tr.Start(ctx, "SessionService.Abandon")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	sess, err := s.GetSession(ctx, sessionID, interviewerID)
	if err != nil {
		return nil, err
	}

	survey, err := s.Surveys.Get(ctx, sess.SurveyID)
	if err != nil {
		return nil, fmt.Errorf("op=Abandon get survey: %w", err)
	}

	hasValid := false
	answers := make([]domain.AnsweredQuestion, 0, len(sess.Tentative))
	for qid, v := range sess.Tentative {
		q, _ := survey.QuestionByID(qid)
		if q.Type != questionKindACSelection && q.Type != questionKindPollingStation && !v.IsEmpty() {
			hasValid = true
		}
		answers = append(answers, domain.AnsweredQuestion{QuestionID: qid, QuestionType: q.Type, Value: v})
	}

	if !hasValid {
		if err := s.Sessions.SetState(ctx, sessionID, domain.SessionAbandoned); err != nil {
			return nil, fmt.Errorf("op=Abandon set abandoned: %w", err)
		}
		lg.Info("session abandoned with no valid answers, no response created", slog.String("session_id", sessionID))
		return nil, nil
	}

	now := time.Now().UTC()
	totalSeconds := int(now.Sub(sess.StartTime).Seconds())
	if totalSeconds < 1 {
		totalSeconds = 1
	}
	resp := &domain.Response{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		SurveyID:      sess.SurveyID,
		InterviewerID: interviewerID,
		Mode:          sess.Mode,
		StartTime:     sess.StartTime,
		EndTime:       now,
		TotalTimeSpent: totalSeconds,
		Answers:       answers,
		Status:        domain.StatusTerminated,
		AbandonedReason: abandonedReason,
		CreatedAt:     now,
	}
	if err := s.Responses.Create(ctx, resp); err != nil {
		return nil, fmt.Errorf("op=Abandon create response: %w", err)
	}
	if err := s.Sessions.SetState(ctx, sessionID, domain.SessionAbandoned); err != nil {
		return nil, fmt.Errorf("op=Abandon set abandoned: %w", err)
	}
	lg.Info("session abandoned with terminated response", slog.String("session_id", sessionID), slog.String("response_id", resp.ID))
	return resp, nil
}

// AbandonCATI mirrors Abandon for CATI sessions; abandonment is handled
// symmetrically across both modes rather than left unsupported for CATI.
func (s SessionService) AbandonCATI(ctx domain.Context, sessionID, interviewerID, abandonedReason string) (*domain.Response, error) {
	return s.Abandon(ctx, sessionID, interviewerID, abandonedReason)
}

func assignedTo(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
