package usecase

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/surveypipe/internal/domain"
)

// SetDataService implements strict round-robin CATI set rotation.
type SetDataService struct {
	SetData domain.SetDataRepository
	Surveys domain.SurveyRepository
}

// NewSetDataService constructs a SetDataService.
func NewSetDataService(setData domain.SetDataRepository, surveys domain.SurveyRepository) SetDataService {
	return SetDataService{SetData: setData, Surveys: surveys}
}

// NextSetNumber computes the next question set via strict round-robin over
// the survey's sorted distinct set numbers.
func (s SetDataService) NextSetNumber(ctx domain.Context, surveyID string) (next, last int, hasLast bool, err error) {
	survey, err := s.Surveys.Get(ctx, surveyID)
	if err != nil {
		return 0, 0, false, fmt.Errorf("op=NextSetNumber get survey: %w", err)
	}
	sets := survey.SetNumbers()
	if len(sets) == 0 {
		return 0, 0, false, nil
	}

	last, hasLast, err = s.SetData.LastSetNumber(ctx, surveyID, domain.ModeCATI)
	if err != nil {
		return 0, 0, false, fmt.Errorf("op=NextSetNumber last: %w", err)
	}
	if !hasLast {
		return sets[0], 0, false, nil
	}

	idx := -1
	for i, n := range sets {
		if n == last {
			idx = i
			break
		}
	}
	if idx == -1 {
		return sets[0], last, true, nil
	}
	return sets[(idx+1)%len(sets)], last, true, nil
}

// RecordCompletion appends a new SetData entry for the set used on a
// successful CATI completion.
func (s SetDataService) RecordCompletion(ctx domain.Context, surveyID string, setNumber int) error {
	d := &domain.SetData{
		ID:        uuid.NewString(),
		SurveyID:  surveyID,
		Mode:      domain.ModeCATI,
		SetNumber: setNumber,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SetData.Append(ctx, d); err != nil {
		return fmt.Errorf("op=RecordCompletion: %w", err)
	}
	return nil
}
