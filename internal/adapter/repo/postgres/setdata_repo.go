package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// SetDataRepo persists CATI set-rotation history, table set_data.
type SetDataRepo struct{ Pool PgxPool }

// NewSetDataRepo constructs a SetDataRepo.
func NewSetDataRepo(p PgxPool) *SetDataRepo { return &SetDataRepo{Pool: p} }

// LastSetNumber returns the most recently recorded set number for a survey.
func (r *SetDataRepo) LastSetNumber(ctx domain.Context, surveyID string, mode domain.SurveyMode) (int, bool, error) {
	tracer := otel.Tracer("repo.setdata")
	ctx, span := tracer.Start(ctx, "setdata.LastSetNumber")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "set_data"))

	q := `SELECT set_number FROM set_data
		WHERE survey_id=$1 AND mode=$2
		ORDER BY created_at DESC LIMIT 1`
	var n int
	err := r.Pool.QueryRow(ctx, q, surveyID, mode).Scan(&n)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("op=setdata.last_set_number: %w", err)
	}
	return n, true, nil
}

// Append records a completion's chosen set number.
func (r *SetDataRepo) Append(ctx domain.Context, d *domain.SetData) error {
	tracer := otel.Tracer("repo.setdata")
	ctx, span := tracer.Start(ctx, "setdata.Append")
	defer span.End()

	q := `INSERT INTO set_data (id, survey_id, mode, set_number, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := r.Pool.Exec(ctx, q, d.ID, d.SurveyID, d.Mode, d.SetNumber, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("op=setdata.append: %w", err)
	}
	return nil
}
