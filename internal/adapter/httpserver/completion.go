package httpserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/usecase"
)

type answeredQuestionDTO struct {
	SectionIndex int                  `json:"sectionIndex"`
	QuestionIdx  int                  `json:"questionIdx"`
	QuestionID   string               `json:"questionId"`
	QuestionType string               `json:"questionType"`
	Text         string               `json:"text"`
	Description  string               `json:"description"`
	Options      []string             `json:"options"`
	Value        domain.ResponseValue `json:"value"`
	IsRequired   bool                 `json:"isRequired"`
	IsSkipped    bool                 `json:"isSkipped"`
}

func (d answeredQuestionDTO) toDomain() domain.AnsweredQuestion {
	return domain.AnsweredQuestion{
		SectionIndex: d.SectionIndex,
		QuestionIdx:  d.QuestionIdx,
		QuestionID:   d.QuestionID,
		QuestionType: d.QuestionType,
		Text:         d.Text,
		Description:  d.Description,
		Options:      d.Options,
		Value:        d.Value,
		IsRequired:   d.IsRequired,
		IsSkipped:    d.IsSkipped,
	}
}

type geoPointDTO struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type audioRecordingDTO struct {
	URL      string  `json:"url"`
	Duration float64 `json:"duration"`
	Format   string  `json:"format"`
	Codec    string  `json:"codec"`
	Bitrate  int     `json:"bitrate"`
	FileSize int64   `json:"fileSize"`
}

type completionMetadataDTO struct {
	StartTime        *time.Time         `json:"startTime"`
	EndTime          *time.Time         `json:"endTime"`
	TotalTimeSpent   *int               `json:"totalTimeSpent"`
	SelectedAC       string             `json:"selectedAC"`
	PollingStation   string             `json:"pollingStation"`
	Gender           string             `json:"gender"`
	Age              int                `json:"age"`
	Location         *geoPointDTO       `json:"location"`
	SetNumber        *int               `json:"setNumber"`
	Audio            *audioRecordingDTO `json:"audio"`
}

func (d completionMetadataDTO) toDomain() usecase.CompletionMetadata {
	meta := usecase.CompletionMetadata{
		StartTime:      d.StartTime,
		EndTime:        d.EndTime,
		TotalTimeSpent: d.TotalTimeSpent,
		SelectedAC:     d.SelectedAC,
		PollingStation: d.PollingStation,
		Gender:         d.Gender,
		Age:            d.Age,
		SetNumber:      d.SetNumber,
	}
	if d.Location != nil {
		meta.Location = &domain.GeoPoint{Lat: d.Location.Lat, Lng: d.Location.Lng}
	}
	if d.Audio != nil {
		meta.Audio = &domain.AudioRecording{
			URL: d.Audio.URL, Duration: d.Audio.Duration, Format: d.Audio.Format,
			Codec: d.Audio.Codec, Bitrate: d.Audio.Bitrate, FileSize: d.Audio.FileSize,
		}
	}
	return meta
}

type completeRequest struct {
	Responses      []answeredQuestionDTO  `json:"responses"`
	QualityMetrics map[string]float64     `json:"qualityMetrics"`
	Metadata       completionMetadataDTO  `json:"metadata"`
}

type completeResponse struct {
	ResponseID  string `json:"responseId"`
	Status      string `json:"status"`
	Summary     string `json:"summary,omitempty"`
	IsDuplicate bool   `json:"isDuplicate,omitempty"`
}

// CompleteHandler handles POST /sessions/:sessionId/complete.
func (s *Server) CompleteHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		var req completeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		answers := make([]domain.AnsweredQuestion, 0, len(req.Responses))
		for _, a := range req.Responses {
			answers = append(answers, a.toDomain())
		}

		result, err := s.Completion.Complete(r.Context(), sessionID, u.ID, answers, req.QualityMetrics, req.Metadata.toDomain())
		if err != nil {
			if usecase.IsDuplicateSubmission(err) {
				observability.OfflineSyncAttemptsTotal.WithLabelValues("duplicate").Inc()
				writeJSON(w, http.StatusConflict, completeResponse{ResponseID: result.ResponseID, IsDuplicate: true})
				return
			}
			observability.OfflineSyncAttemptsTotal.WithLabelValues("failed").Inc()
			writeError(w, r, err, nil)
			return
		}
		observability.OfflineSyncAttemptsTotal.WithLabelValues("synced").Inc()
		writeJSON(w, http.StatusOK, completeResponse{
			ResponseID: result.ResponseID,
			Status:     string(result.Status),
			Summary:    "response recorded and queued for quality control",
		})
	}
}
