package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fieldops/surveypipe/internal/domain"
)

// SurveyRepo resolves Survey definitions, table surveys. The definition
// itself (sections, batch config, quotas, reviewer/interviewer assignment)
// is stored as one JSONB document since it is written once by survey
// authoring tooling and only ever read here.
type SurveyRepo struct{ Pool PgxPool }

// NewSurveyRepo constructs a SurveyRepo.
func NewSurveyRepo(p PgxPool) *SurveyRepo { return &SurveyRepo{Pool: p} }

type surveyDefinitionWire struct {
	Sections          []domain.Section          `json:"sections"`
	BatchConfig       domain.BatchConfig        `json:"batch_config"`
	TargetQuotas      map[string]float64         `json:"target_quotas"`
	AssignedReviewers map[string][]string        `json:"assigned_reviewers"`
	AssignedInterv    []string                   `json:"assigned_interviewers"`
}

// Get loads a survey by id.
func (r *SurveyRepo) Get(ctx domain.Context, id string) (*domain.Survey, error) {
	tracer := otel.Tracer("repo.surveys")
	ctx, span := tracer.Start(ctx, "surveys.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.sql.table", "surveys"))

	q := `SELECT id, name, mode, definition FROM surveys WHERE id=$1`
	var s domain.Survey
	var defRaw []byte
	err := r.Pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.Name, &s.Mode, &defRaw)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("op=survey.get: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("op=survey.get: %w", err)
	}
	var def surveyDefinitionWire
	if len(defRaw) > 0 {
		if err := json.Unmarshal(defRaw, &def); err != nil {
			return nil, fmt.Errorf("op=survey.get unmarshal definition: %w", err)
		}
	}
	s.Sections = def.Sections
	s.BatchConfig = def.BatchConfig
	s.TargetQuotas = def.TargetQuotas
	s.AssignedReviewers = def.AssignedReviewers
	s.AssignedInterv = def.AssignedInterv
	return &s, nil
}
