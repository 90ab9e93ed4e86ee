package httpserver

import (
	"time"

	"github.com/fieldops/surveypipe/internal/domain"
)

// responseDTO is the wire shape for a Response shown to a reviewer or
// returned from completion.
type responseDTO struct {
	ID               string                 `json:"id"`
	ResponseNumber   int64                  `json:"responseNumber"`
	SessionID        string                 `json:"sessionId"`
	SurveyID         string                 `json:"surveyId"`
	InterviewerID    string                 `json:"interviewerId"`
	Mode             string                 `json:"mode"`
	StartTime        time.Time              `json:"startTime"`
	EndTime          time.Time              `json:"endTime"`
	TotalTimeSpent   int                    `json:"totalTimeSpent"`
	Answers          []answeredQuestionDTO  `json:"answers"`
	SelectedAC       string                 `json:"selectedAC"`
	PollingStation   string                 `json:"pollingStation"`
	RespondentGender string                 `json:"respondentGender,omitempty"`
	RespondentAge    int                    `json:"respondentAge,omitempty"`
	Location         *geoPointDTO           `json:"location,omitempty"`
	Audio            *audioRecordingDTO     `json:"audio,omitempty"`
	QualityMetrics   map[string]float64     `json:"qualityMetrics,omitempty"`
	Status           string                 `json:"status"`
	CreatedAt        time.Time              `json:"createdAt"`
}

func responseToDTO(r *domain.Response) responseDTO {
	dto := responseDTO{
		ID:               r.ID,
		ResponseNumber:   r.ResponseNumber,
		SessionID:        r.SessionID,
		SurveyID:         r.SurveyID,
		InterviewerID:    r.InterviewerID,
		Mode:             string(r.Mode),
		StartTime:        r.StartTime,
		EndTime:          r.EndTime,
		TotalTimeSpent:   r.TotalTimeSpent,
		SelectedAC:       r.SelectedAC,
		PollingStation:   r.PollingStation,
		RespondentGender: r.RespondentGender,
		RespondentAge:    r.RespondentAge,
		QualityMetrics:   r.QualityMetrics,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
	}
	for _, a := range r.Answers {
		dto.Answers = append(dto.Answers, answeredQuestionDTO{
			SectionIndex: a.SectionIndex, QuestionIdx: a.QuestionIdx, QuestionID: a.QuestionID,
			QuestionType: a.QuestionType, Text: a.Text, Description: a.Description,
			Options: a.Options, Value: a.Value, IsRequired: a.IsRequired, IsSkipped: a.IsSkipped,
		})
	}
	if r.Location != nil {
		dto.Location = &geoPointDTO{Lat: r.Location.Lat, Lng: r.Location.Lng}
	}
	if r.Audio != nil {
		dto.Audio = &audioRecordingDTO{
			URL: r.Audio.URL, Duration: r.Audio.Duration, Format: r.Audio.Format,
			Codec: r.Audio.Codec, Bitrate: r.Audio.Bitrate, FileSize: r.Audio.FileSize,
		}
	}
	return dto
}
