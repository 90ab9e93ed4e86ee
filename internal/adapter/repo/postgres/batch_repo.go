package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// BatchRepo persists QCBatch aggregates, table qc_batches.
type BatchRepo struct{ Pool PgxPool }

// NewBatchRepo constructs a BatchRepo.
func NewBatchRepo(p PgxPool) *BatchRepo { return &BatchRepo{Pool: p} }

const batchColumns = `id, survey_id, interviewer_id, batch_size, sample_fraction, remainder_policy,
	response_ids, state, remaining_decision, created_at`

func (r *BatchRepo) scanBatch(row pgx.Row) (*domain.QCBatch, error) {
	var b domain.QCBatch
	var responseIDsRaw []byte
	if err := row.Scan(&b.ID, &b.SurveyID, &b.InterviewerID, &b.Config.BatchSize, &b.Config.SampleFraction,
		&b.Config.RemainderPolicy, &responseIDsRaw, &b.State, &b.RemainingDecision, &b.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(responseIDsRaw) > 0 {
		if err := json.Unmarshal(responseIDsRaw, &b.ResponseIDs); err != nil {
			return nil, fmt.Errorf("unmarshal response ids: %w", err)
		}
	}
	return &b, nil
}

// FindCollecting returns the open batch for (surveyID, interviewerID), if any.
func (r *BatchRepo) FindCollecting(ctx domain.Context, surveyID, interviewerID string) (*domain.QCBatch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.FindCollecting")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "qc_batches"))

	q := `SELECT ` + batchColumns + ` FROM qc_batches
		WHERE survey_id=$1 AND interviewer_id=$2 AND state='collecting'
		ORDER BY created_at DESC LIMIT 1`
	b, err := r.scanBatch(r.Pool.QueryRow(ctx, q, surveyID, interviewerID))
	if err != nil {
		if err == domain.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("op=batch.find_collecting: %w", err)
	}
	return b, nil
}

// Create inserts a new collecting batch.
func (r *BatchRepo) Create(ctx domain.Context, b *domain.QCBatch) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Create")
	defer span.End()

	responseIDs, err := json.Marshal(b.ResponseIDs)
	if err != nil {
		return fmt.Errorf("op=batch.create marshal response ids: %w", err)
	}
	q := `INSERT INTO qc_batches
		(id, survey_id, interviewer_id, batch_size, sample_fraction, remainder_policy,
		 response_ids, state, remaining_decision, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`
	_, err = r.Pool.Exec(ctx, q, b.ID, b.SurveyID, b.InterviewerID, b.Config.BatchSize, b.Config.SampleFraction,
		b.Config.RemainderPolicy, responseIDs, b.State, b.RemainingDecision, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("op=batch.create: %w", err)
	}
	return nil
}

// AppendResponse atomically appends a response id and returns the new size.
func (r *BatchRepo) AppendResponse(ctx domain.Context, batchID, responseID string) (int, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.AppendResponse")
	defer span.End()

	entry, err := json.Marshal([]string{responseID})
	if err != nil {
		return 0, fmt.Errorf("op=batch.append_response marshal: %w", err)
	}
	q := `UPDATE qc_batches
		SET response_ids = coalesce(response_ids,'[]'::jsonb) || $2::jsonb
		WHERE id=$1
		RETURNING jsonb_array_length(response_ids)`
	var size int
	if err := r.Pool.QueryRow(ctx, q, batchID, entry).Scan(&size); err != nil {
		if err == pgx.ErrNoRows {
			return 0, fmt.Errorf("op=batch.append_response: %w", domain.ErrNotFound)
		}
		return 0, fmt.Errorf("op=batch.append_response: %w", err)
	}
	return size, nil
}

// TransitionToProcessing is the compare-and-set that serializes sampling:
// only one caller observes true for a given batch.
func (r *BatchRepo) TransitionToProcessing(ctx domain.Context, batchID string) (bool, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.TransitionToProcessing")
	defer span.End()

	q := `UPDATE qc_batches SET state='processing' WHERE id=$1 AND state='collecting'`
	tag, err := r.Pool.Exec(ctx, q, batchID)
	if err != nil {
		return false, fmt.Errorf("op=batch.transition_to_processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetRemainingDecision records the disposition for the unsampled remainder.
func (r *BatchRepo) SetRemainingDecision(ctx domain.Context, batchID string, policy domain.RemainderPolicy) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.SetRemainingDecision")
	defer span.End()

	q := `UPDATE qc_batches SET remaining_decision=$2, state='qc_in_progress' WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, batchID, policy)
	if err != nil {
		return fmt.Errorf("op=batch.set_remaining_decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=batch.set_remaining_decision: %w", domain.ErrNotFound)
	}
	return nil
}

// Close marks the batch closed. It does not look at the status of the
// enrolled responses; BatchService calls it right after the sample is drawn
// and the remainder decision recorded.
func (r *BatchRepo) Close(ctx domain.Context, batchID string) error {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Close")
	defer span.End()

	q := `UPDATE qc_batches SET state='closed' WHERE id=$1`
	tag, err := r.Pool.Exec(ctx, q, batchID)
	if err != nil {
		return fmt.Errorf("op=batch.close: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=batch.close: %w", domain.ErrNotFound)
	}
	return nil
}

// Get loads a batch by id.
func (r *BatchRepo) Get(ctx domain.Context, id string) (*domain.QCBatch, error) {
	tracer := otel.Tracer("repo.batches")
	ctx, span := tracer.Start(ctx, "batches.Get")
	defer span.End()

	q := `SELECT ` + batchColumns + ` FROM qc_batches WHERE id=$1`
	b, err := r.scanBatch(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		return nil, fmt.Errorf("op=batch.get: %w", err)
	}
	return b, nil
}
