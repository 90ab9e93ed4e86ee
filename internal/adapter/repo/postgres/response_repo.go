package postgres

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// ResponseRepo persists Response records: atomic field updates (set/unset)
// rather than read-modify-write, per spec, plus the compare-and-set lease
// columns the Review Queue depends on.
type ResponseRepo struct{ Pool PgxPool }

// NewResponseRepo constructs a ResponseRepo.
func NewResponseRepo(p PgxPool) *ResponseRepo { return &ResponseRepo{Pool: p} }

const responseColumns = `id, response_number, session_id, survey_id, interviewer_id, mode,
	start_time, end_time, total_time_spent, answers, selected_ac, polling_station,
	respondent_gender, respondent_age, location, audio, quality_metrics, status,
	abandoned_reason, verification, review_assigned_to, review_assigned_at, review_expires_at,
	qc_batch_id, is_sample_response, call_id, created_at`

// Create inserts a new Response.
func (r *ResponseRepo) Create(ctx domain.Context, resp *domain.Response) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "responses"))

	answers, err := json.Marshal(resp.Answers)
	if err != nil {
		return fmt.Errorf("op=response.create marshal answers: %w", err)
	}
	location, err := json.Marshal(resp.Location)
	if err != nil {
		return fmt.Errorf("op=response.create marshal location: %w", err)
	}
	audio, err := json.Marshal(resp.Audio)
	if err != nil {
		return fmt.Errorf("op=response.create marshal audio: %w", err)
	}
	metrics, err := json.Marshal(resp.QualityMetrics)
	if err != nil {
		return fmt.Errorf("op=response.create marshal metrics: %w", err)
	}
	verification, err := json.Marshal(resp.Verification)
	if err != nil {
		return fmt.Errorf("op=response.create marshal verification: %w", err)
	}

	q := `INSERT INTO responses
		(id, session_id, survey_id, interviewer_id, mode, start_time, end_time, total_time_spent,
		 answers, selected_ac, polling_station, respondent_gender, respondent_age, location, audio,
		 quality_metrics, status, abandoned_reason, verification, qc_batch_id, is_sample_response,
		 call_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
		RETURNING response_number`
	row := r.Pool.QueryRow(ctx, q, resp.ID, resp.SessionID, resp.SurveyID, resp.InterviewerID, resp.Mode,
		resp.StartTime, resp.EndTime, resp.TotalTimeSpent, answers, resp.SelectedAC, resp.PollingStation,
		resp.RespondentGender, resp.RespondentAge, location, audio, metrics, resp.Status, resp.AbandonedReason,
		verification, resp.QCBatchID, resp.IsSampleResponse, resp.CallID, resp.CreatedAt)
	if err := row.Scan(&resp.ResponseNumber); err != nil {
		// Duplicate key on session_id (the client retried a completion) must
		// surface as the same DuplicateSubmission shape as the usecase-level
		// idempotency check.
		if isUniqueViolation(err, "responses_session_id_key") {
			return fmt.Errorf("op=response.create: %w", domain.ErrDuplicateSubmission)
		}
		return fmt.Errorf("op=response.create: %w", err)
	}
	return nil
}

func (r *ResponseRepo) scanResponse(row pgx.Row) (*domain.Response, error) {
	var resp domain.Response
	var answersRaw, locationRaw, audioRaw, metricsRaw, verificationRaw []byte
	var reviewAssignedTo *string
	var reviewAssignedAt, reviewExpiresAt *time.Time
	if err := row.Scan(&resp.ID, &resp.ResponseNumber, &resp.SessionID, &resp.SurveyID, &resp.InterviewerID,
		&resp.Mode, &resp.StartTime, &resp.EndTime, &resp.TotalTimeSpent, &answersRaw, &resp.SelectedAC,
		&resp.PollingStation, &resp.RespondentGender, &resp.RespondentAge, &locationRaw, &audioRaw, &metricsRaw,
		&resp.Status, &resp.AbandonedReason, &verificationRaw, &reviewAssignedTo, &reviewAssignedAt,
		&reviewExpiresAt, &resp.QCBatchID, &resp.IsSampleResponse, &resp.CallID, &resp.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &resp.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	if len(locationRaw) > 0 && string(locationRaw) != "null" {
		if err := json.Unmarshal(locationRaw, &resp.Location); err != nil {
			return nil, fmt.Errorf("unmarshal location: %w", err)
		}
	}
	if len(audioRaw) > 0 && string(audioRaw) != "null" {
		if err := json.Unmarshal(audioRaw, &resp.Audio); err != nil {
			return nil, fmt.Errorf("unmarshal audio: %w", err)
		}
	}
	if len(metricsRaw) > 0 {
		if err := json.Unmarshal(metricsRaw, &resp.QualityMetrics); err != nil {
			return nil, fmt.Errorf("unmarshal quality metrics: %w", err)
		}
	}
	if len(verificationRaw) > 0 && string(verificationRaw) != "null" {
		if err := json.Unmarshal(verificationRaw, &resp.Verification); err != nil {
			return nil, fmt.Errorf("unmarshal verification: %w", err)
		}
	}
	if reviewAssignedTo != nil {
		resp.ReviewAssignment = &domain.ReviewAssignment{AssignedTo: *reviewAssignedTo}
		if reviewAssignedAt != nil {
			resp.ReviewAssignment.AssignedAt = *reviewAssignedAt
		}
		if reviewExpiresAt != nil {
			resp.ReviewAssignment.ExpiresAt = *reviewExpiresAt
		}
	}
	return &resp, nil
}

// Get loads a Response by id.
func (r *ResponseRepo) Get(ctx domain.Context, id string) (*domain.Response, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.Get")
	defer span.End()

	q := `SELECT ` + responseColumns + ` FROM responses WHERE id=$1`
	resp, err := r.scanResponse(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("op=response.get: %w", err)
	}
	return resp, nil
}

// FindBySessionID supports completion idempotency.
func (r *ResponseRepo) FindBySessionID(ctx domain.Context, sessionID string) (*domain.Response, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.FindBySessionID")
	defer span.End()

	q := `SELECT ` + responseColumns + ` FROM responses WHERE session_id=$1`
	resp, err := r.scanResponse(r.Pool.QueryRow(ctx, q, sessionID))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("op=response.find_by_session: %w", err)
	}
	return resp, nil
}

// SetStatus performs an atomic status transition, optionally recording a
// reason (abandonment/duplicate-detector reason).
func (r *ResponseRepo) SetStatus(ctx domain.Context, id string, status domain.ResponseStatus, reason string) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.SetStatus")
	defer span.End()

	q := `UPDATE responses SET status=$2, abandoned_reason=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, status, reason)
	if err != nil {
		return fmt.Errorf("op=response.set_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=response.set_status: %w", domain.ErrNotFound)
	}
	return nil
}

// SetSampleFlag marks a response as drawn into (or out of) the QC sample.
func (r *ResponseRepo) SetSampleFlag(ctx domain.Context, id string, sample bool, batchID string) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.SetSampleFlag")
	defer span.End()

	q := `UPDATE responses SET is_sample_response=$2, qc_batch_id=$3 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, sample, batchID)
	if err != nil {
		return fmt.Errorf("op=response.set_sample_flag: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=response.set_sample_flag: %w", domain.ErrNotFound)
	}
	return nil
}

// SetQCBatch records the batch a response was enrolled into.
func (r *ResponseRepo) SetQCBatch(ctx domain.Context, id string, batchID string) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.SetQCBatch")
	defer span.End()

	q := `UPDATE responses SET qc_batch_id=$2 WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, id, batchID)
	if err != nil {
		return fmt.Errorf("op=response.set_qc_batch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=response.set_qc_batch: %w", domain.ErrNotFound)
	}
	return nil
}

// AcquireLease atomically claims the review lease iff absent or expired.
func (r *ResponseRepo) AcquireLease(ctx domain.Context, id, reviewer string, now, expiresAt time.Time) (bool, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.AcquireLease")
	defer span.End()

	q := `UPDATE responses
		SET review_assigned_to=$2, review_assigned_at=$3, review_expires_at=$4
		WHERE id=$1 AND (review_assigned_to IS NULL OR review_expires_at < $3)`
	tag, err := r.Pool.Exec(ctx, q, id, reviewer, now, expiresAt)
	if err != nil {
		return false, fmt.Errorf("op=response.acquire_lease: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLease clears reviewAssignment iff caller is holder.
func (r *ResponseRepo) ReleaseLease(ctx domain.Context, id, reviewer string) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.ReleaseLease")
	defer span.End()

	q := `UPDATE responses SET review_assigned_to=NULL, review_assigned_at=NULL, review_expires_at=NULL
		WHERE id=$1 AND review_assigned_to=$2`
	tag, err := r.Pool.Exec(ctx, q, id, reviewer)
	if err != nil {
		return fmt.Errorf("op=response.release_lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=response.release_lease: %w", domain.ErrForbidden)
	}
	return nil
}

// SubmitVerification atomically transitions status, persists verification
// data, and clears the review lease, guarded by the same CAS the lease
// acquisition uses: the response must still be Pending_Approval and either
// unassigned or assigned to reviewerID.
func (r *ResponseRepo) SubmitVerification(ctx domain.Context, id, reviewerID string, status domain.ResponseStatus, v domain.VerificationData) error {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.SubmitVerification")
	defer span.End()

	verification, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("op=response.submit_verification marshal: %w", err)
	}
	q := `UPDATE responses
		SET status=$2, verification=$3, review_assigned_to=NULL, review_assigned_at=NULL, review_expires_at=NULL
		WHERE id=$1 AND status='Pending_Approval' AND (review_assigned_to IS NULL OR review_assigned_to=$4)`
	tag, err := r.Pool.Exec(ctx, q, id, status, verification, reviewerID)
	if err != nil {
		return fmt.Errorf("op=response.submit_verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.diagnoseSubmitVerificationConflict(ctx, id, reviewerID)
	}
	return nil
}

// diagnoseSubmitVerificationConflict re-reads the response to tell apart the
// three reasons the CAS in SubmitVerification can match zero rows.
func (r *ResponseRepo) diagnoseSubmitVerificationConflict(ctx domain.Context, id, reviewerID string) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("op=response.submit_verification: %w", err)
	}
	if current.Status != domain.StatusPendingApproval {
		return fmt.Errorf("op=response.submit_verification: %w", domain.ErrConflict)
	}
	if current.ReviewAssignment != nil && current.ReviewAssignment.AssignedTo != reviewerID {
		return fmt.Errorf("op=response.submit_verification: %w", domain.ErrForbidden)
	}
	return fmt.Errorf("op=response.submit_verification: %w", domain.ErrConflict)
}

// FindActiveLease returns a response the reviewer currently holds a
// non-expired lease on, if any.
func (r *ResponseRepo) FindActiveLease(ctx domain.Context, reviewer string, now time.Time) (*domain.Response, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.FindActiveLease")
	defer span.End()

	q := `SELECT ` + responseColumns + ` FROM responses
		WHERE status='Pending_Approval' AND review_assigned_to=$1 AND review_expires_at >= $2
		ORDER BY created_at ASC LIMIT 1`
	resp, err := r.scanResponse(r.Pool.QueryRow(ctx, q, reviewer, now))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("op=response.find_active_lease: %w", err)
	}
	return resp, nil
}

// NextForReview returns the oldest visible, unassigned-or-expired
// Pending_Approval response matching the reviewer's scope and filters.
func (r *ResponseRepo) NextForReview(ctx domain.Context, scope domain.ReviewScope, filters domain.ReviewFilters, now time.Time) (*domain.Response, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.NextForReview")
	defer span.End()

	if len(scope.SurveyACs) == 0 {
		return nil, nil
	}

	args := []any{now}
	argIdx := 2
	var scopeOrs []string
	for surveyID, acs := range scope.SurveyACs {
		if len(acs) == 0 {
			scopeOrs = append(scopeOrs, fmt.Sprintf("r.survey_id = $%d", argIdx))
			args = append(args, surveyID)
			argIdx++
			continue
		}
		scopeOrs = append(scopeOrs, fmt.Sprintf("(r.survey_id = $%d AND r.selected_ac = ANY($%d))", argIdx, argIdx+1))
		args = append(args, surveyID, acs)
		argIdx += 2
	}

	var filterClauses []string
	if filters.Search != "" {
		filterClauses = append(filterClauses, fmt.Sprintf("(r.id ILIKE $%d OR r.session_id ILIKE $%d OR r.response_number::text ILIKE $%d)", argIdx, argIdx, argIdx))
		args = append(args, "%"+filters.Search+"%")
		argIdx++
	}
	if filters.Gender != "" {
		filterClauses = append(filterClauses, fmt.Sprintf("r.respondent_gender = $%d", argIdx))
		args = append(args, filters.Gender)
		argIdx++
	}
	if filters.AgeMin > 0 {
		filterClauses = append(filterClauses, fmt.Sprintf("r.respondent_age >= $%d", argIdx))
		args = append(args, filters.AgeMin)
		argIdx++
	}
	if filters.AgeMax > 0 {
		filterClauses = append(filterClauses, fmt.Sprintf("r.respondent_age <= $%d", argIdx))
		args = append(args, filters.AgeMax)
		argIdx++
	}

	q := `SELECT ` + prefixed(responseColumns, "r") + ` FROM responses r
		LEFT JOIN qc_batches b ON r.qc_batch_id = b.id
		WHERE r.status = 'Pending_Approval'
		  AND (r.review_assigned_to IS NULL OR r.review_expires_at < $1)
		  AND (r.qc_batch_id = '' OR r.is_sample_response = true OR b.state = 'collecting'
		       OR (b.state IN ('processing','qc_in_progress') AND b.remaining_decision = ''))
		  AND (` + strings.Join(scopeOrs, " OR ") + `)`
	if len(filterClauses) > 0 {
		q += " AND " + strings.Join(filterClauses, " AND ")
	}
	q += " ORDER BY r.created_at ASC LIMIT 1"

	resp, err := r.scanResponse(r.Pool.QueryRow(ctx, q, args...))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("op=response.next_for_review: %w", err)
	}
	return resp, nil
}

// ListForDuplicateScan returns candidate responses in a date window for the
// Duplicate Detector.
func (r *ResponseRepo) ListForDuplicateScan(ctx domain.Context, surveyMode domain.SurveyMode, from, to time.Time) ([]domain.Response, error) {
	tracer := otel.Tracer("repo.responses")
	ctx, span := tracer.Start(ctx, "responses.ListForDuplicateScan")
	defer span.End()

	q := `SELECT ` + responseColumns + ` FROM responses
		WHERE mode=$1 AND created_at BETWEEN $2 AND $3
		  AND status NOT IN ('abandoned')
		ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, surveyMode, from, to)
	if err != nil {
		return nil, fmt.Errorf("op=response.list_for_duplicate_scan: %w", err)
	}
	defer rows.Close()

	var out []domain.Response
	for rows.Next() {
		resp, err := r.scanResponse(rows)
		if err != nil {
			return nil, fmt.Errorf("op=response.list_for_duplicate_scan scan: %w", err)
		}
		out = append(out, *resp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=response.list_for_duplicate_scan rows: %w", err)
	}
	return out, nil
}

// prefixed rewrites a flat "a, b, c" column list into "t.a, t.b, t.c" for use
// in joined queries.
func prefixed(columns, table string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation on the given constraint name (pgcode 23505).
func isUniqueViolation(err error, constraint string) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") && (constraint == "" || strings.Contains(msg, constraint))
}
