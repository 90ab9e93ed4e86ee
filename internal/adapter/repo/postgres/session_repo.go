package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// SessionRepo persists InterviewSession aggregates. Flexible per-interview
// state (reached questions, tentative answers, device info) lives in JSONB
// columns; fields the Session Manager filters or orders by are plain
// columns, the same split the teacher uses between its typed job columns
// and free-form error/payload text.
type SessionRepo struct{ Pool PgxPool }

// NewSessionRepo constructs a SessionRepo.
func NewSessionRepo(p PgxPool) *SessionRepo { return &SessionRepo{Pool: p} }

type deviceWire struct {
	Platform string `json:"platform"`
	Model    string `json:"model"`
	AppBuild string `json:"app_build"`
}

type positionWire struct {
	Section  int `json:"section"`
	Question int `json:"question"`
}

func reachedToWire(m map[domain.Position]struct{}) []positionWire {
	out := make([]positionWire, 0, len(m))
	for p := range m {
		out = append(out, positionWire{Section: p.Section, Question: p.Question})
	}
	return out
}

func reachedFromWire(w []positionWire) map[domain.Position]struct{} {
	out := make(map[domain.Position]struct{}, len(w))
	for _, p := range w {
		out[domain.Position{Section: p.Section, Question: p.Question}] = struct{}{}
	}
	return out
}

// Create inserts a new session.
func (r *SessionRepo) Create(ctx domain.Context, s *domain.InterviewSession) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "interview_sessions"))

	reached, err := json.Marshal(reachedToWire(s.ReachedQuestions))
	if err != nil {
		return fmt.Errorf("op=session.create marshal reached: %w", err)
	}
	tentative, err := json.Marshal(s.Tentative)
	if err != nil {
		return fmt.Errorf("op=session.create marshal tentative: %w", err)
	}
	device, err := json.Marshal(deviceWire{Platform: s.Device.Platform, Model: s.Device.Model, AppBuild: s.Device.AppBuild})
	if err != nil {
		return fmt.Errorf("op=session.create marshal device: %w", err)
	}

	q := `INSERT INTO interview_sessions
		(id, survey_id, interviewer_id, mode, current_section, current_question,
		 reached_questions, tentative, device, start_time, last_activity_at, state)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err = r.Pool.Exec(ctx, q, s.ID, s.SurveyID, s.InterviewerID, s.Mode,
		s.Current.Section, s.Current.Question, reached, tentative, device,
		s.StartTime, s.LastActivityAt, s.State)
	if err != nil {
		return fmt.Errorf("op=session.create: %w", err)
	}
	return nil
}

func (r *SessionRepo) scanSession(row pgx.Row) (*domain.InterviewSession, error) {
	var s domain.InterviewSession
	var reachedRaw, tentativeRaw, deviceRaw []byte
	if err := row.Scan(&s.ID, &s.SurveyID, &s.InterviewerID, &s.Mode,
		&s.Current.Section, &s.Current.Question, &reachedRaw, &tentativeRaw, &deviceRaw,
		&s.StartTime, &s.LastActivityAt, &s.State); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var reachedWire []positionWire
	if len(reachedRaw) > 0 {
		if err := json.Unmarshal(reachedRaw, &reachedWire); err != nil {
			return nil, fmt.Errorf("unmarshal reached questions: %w", err)
		}
	}
	s.ReachedQuestions = reachedFromWire(reachedWire)
	if len(tentativeRaw) > 0 {
		if err := json.Unmarshal(tentativeRaw, &s.Tentative); err != nil {
			return nil, fmt.Errorf("unmarshal tentative: %w", err)
		}
	}
	var device deviceWire
	if len(deviceRaw) > 0 {
		if err := json.Unmarshal(deviceRaw, &device); err != nil {
			return nil, fmt.Errorf("unmarshal device: %w", err)
		}
	}
	s.Device = domain.DeviceInfo{Platform: device.Platform, Model: device.Model, AppBuild: device.AppBuild}
	return &s, nil
}

const sessionColumns = `id, survey_id, interviewer_id, mode, current_section, current_question,
	reached_questions, tentative, device, start_time, last_activity_at, state`

// Get loads a session by id.
func (r *SessionRepo) Get(ctx domain.Context, id string) (*domain.InterviewSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.Get")
	defer span.End()

	q := `SELECT ` + sessionColumns + ` FROM interview_sessions WHERE id=$1`
	s, err := r.scanSession(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("op=session.get: %w", err)
	}
	return s, nil
}

// FindActiveByOwner returns the non-terminal session for (surveyID,
// interviewerID), if any.
func (r *SessionRepo) FindActiveByOwner(ctx domain.Context, surveyID, interviewerID string) (*domain.InterviewSession, error) {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.FindActiveByOwner")
	defer span.End()

	q := `SELECT ` + sessionColumns + ` FROM interview_sessions
		WHERE survey_id=$1 AND interviewer_id=$2 AND state IN ('active','paused')
		ORDER BY start_time DESC LIMIT 1`
	s, err := r.scanSession(r.Pool.QueryRow(ctx, q, surveyID, interviewerID))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("op=session.find_active: %w", err)
	}
	return s, nil
}

// UpdateTentative overwrites the tentative answer for a question via an
// atomic jsonb_set rather than a read-modify-write round trip.
func (r *SessionRepo) UpdateTentative(ctx domain.Context, sessionID, questionID string, v domain.ResponseValue) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.UpdateTentative")
	defer span.End()

	valBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=session.update_tentative marshal: %w", err)
	}
	q := `UPDATE interview_sessions
		SET tentative = jsonb_set(coalesce(tentative,'{}'::jsonb), ARRAY[$2], $3::jsonb, true),
		    last_activity_at = $4
		WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, sessionID, questionID, valBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.update_tentative: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.update_tentative: %w", domain.ErrNotFound)
	}
	return nil
}

// UpdatePosition advances current (section, question).
func (r *SessionRepo) UpdatePosition(ctx domain.Context, sessionID string, pos domain.Position) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.UpdatePosition")
	defer span.End()

	q := `UPDATE interview_sessions SET current_section=$2, current_question=$3, last_activity_at=$4 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, sessionID, pos.Section, pos.Question, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.update_position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.update_position: %w", domain.ErrNotFound)
	}
	return nil
}

// MarkReached idempotently appends a position to reached_questions: the
// jsonb containment check in the WHERE clause makes the append a no-op
// (and a no-write) when the position is already present.
func (r *SessionRepo) MarkReached(ctx domain.Context, sessionID string, pos domain.Position) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.MarkReached")
	defer span.End()

	entry, err := json.Marshal([]positionWire{{Section: pos.Section, Question: pos.Question}})
	if err != nil {
		return fmt.Errorf("op=session.mark_reached marshal: %w", err)
	}
	q := `UPDATE interview_sessions
		SET reached_questions = coalesce(reached_questions,'[]'::jsonb) || $2::jsonb,
		    last_activity_at = $3
		WHERE id=$1 AND NOT (coalesce(reached_questions,'[]'::jsonb) @> $2::jsonb)`
	if _, err := r.Pool.Exec(ctx, q, sessionID, entry, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=session.mark_reached: %w", err)
	}
	return nil
}

// SetState transitions the session lifecycle state.
func (r *SessionRepo) SetState(ctx domain.Context, sessionID string, state domain.SessionState) error {
	tracer := otel.Tracer("repo.sessions")
	ctx, span := tracer.Start(ctx, "sessions.SetState")
	defer span.End()

	q := `UPDATE interview_sessions SET state=$2, last_activity_at=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, sessionID, state, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=session.set_state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=session.set_state: %w", domain.ErrNotFound)
	}
	return nil
}
