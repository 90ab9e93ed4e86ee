package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/surveypipe/internal/domain"
)

type positionDTO struct {
	SectionIndex  int `json:"sectionIndex"`
	QuestionIndex int `json:"questionIndex"`
}

func (p positionDTO) toPosition() domain.Position {
	return domain.Position{Section: p.SectionIndex, Question: p.QuestionIndex}
}

func positionToDTO(p domain.Position) positionDTO {
	return positionDTO{SectionIndex: p.Section, QuestionIndex: p.Question}
}

type startSessionResponse struct {
	SessionID           string      `json:"sessionId"`
	SurveyID            string      `json:"surveyId"`
	Mode                string      `json:"mode"`
	CurrentPosition     positionDTO `json:"currentPosition"`
	RequiresACSelection bool        `json:"requiresACSelection"`
	AssignedACs         []string    `json:"assignedACs"`
}

// StartSessionHandler handles POST /sessions/:surveyId/start.
func (s *Server) StartSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		surveyID := chi.URLParam(r, "surveyId")
		if res := ValidateResourceID("surveyId", surveyID); !res.Valid {
			writeJSON(w, http.StatusBadRequest, res)
			return
		}
		u, _ := PrincipalFromContext(r.Context())

		result, err := s.Sessions.StartInterview(r.Context(), surveyID, u.ID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, startSessionResponse{
			SessionID:           result.Session.ID,
			SurveyID:            result.Session.SurveyID,
			Mode:                string(result.Session.Mode),
			CurrentPosition:     positionToDTO(result.Session.Current),
			RequiresACSelection: result.RequiresACSelection,
			AssignedACs:         result.AssignedACs,
		})
	}
}

type sessionStateResponse struct {
	SessionID       string          `json:"sessionId"`
	SurveyID        string          `json:"surveyId"`
	Mode            string          `json:"mode"`
	CurrentPosition positionDTO     `json:"currentPosition"`
	Tentative       map[string]any  `json:"tentative"`
	State           string          `json:"state"`
}

// GetSessionHandler handles GET /sessions/:sessionId.
func (s *Server) GetSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		sess, err := s.Sessions.GetSession(r.Context(), sessionID, u.ID)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		tentative := make(map[string]any, len(sess.Tentative))
		for qid, v := range sess.Tentative {
			tentative[qid] = v
		}
		writeJSON(w, http.StatusOK, sessionStateResponse{
			SessionID:       sess.ID,
			SurveyID:        sess.SurveyID,
			Mode:            string(sess.Mode),
			CurrentPosition: positionToDTO(sess.Current),
			Tentative:       tentative,
			State:           string(sess.State),
		})
	}
}

type updateResponseRequest struct {
	QuestionID string              `json:"questionId" validate:"required"`
	Response   domain.ResponseValue `json:"response"`
}

// UpdateResponseHandler handles PUT /sessions/:sessionId/responses.
func (s *Server) UpdateResponseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		var req updateResponseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		if err := s.Sessions.UpdateResponse(r.Context(), sessionID, u.ID, req.QuestionID, req.Response); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// NavigateHandler handles PUT /sessions/:sessionId/navigate.
func (s *Server) NavigateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		var req positionDTO
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		if err := s.Sessions.NavigateTo(r.Context(), sessionID, u.ID, req.toPosition()); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type reachRequest struct {
	SectionIndex  int    `json:"sectionIndex"`
	QuestionIndex int    `json:"questionIndex"`
	QuestionID    string `json:"questionId"`
}

// ReachHandler handles PUT /sessions/:sessionId/reach.
func (s *Server) ReachHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		var req reachRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		pos := domain.Position{Section: req.SectionIndex, Question: req.QuestionIndex}
		if err := s.Sessions.MarkReached(r.Context(), sessionID, u.ID, pos); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// PauseHandler handles PUT /sessions/:sessionId/pause.
func (s *Server) PauseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())
		if err := s.Sessions.Pause(r.Context(), sessionID, u.ID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// ResumeHandler handles PUT /sessions/:sessionId/resume.
func (s *Server) ResumeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())
		if err := s.Sessions.Resume(r.Context(), sessionID, u.ID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type abandonRequest struct {
	AbandonedReason  string `json:"abandonedReason"`
	AbandonmentNotes string `json:"abandonmentNotes"`
}

type abandonResponse struct {
	ResponseID string `json:"responseId,omitempty"`
	Created    bool   `json:"created"`
}

// AbandonHandler handles PUT /sessions/:sessionId/abandon.
func (s *Server) AbandonHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "sessionId")
		u, _ := PrincipalFromContext(r.Context())

		var req abandonRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		reason := SanitizeString(req.AbandonedReason)

		var (
			resp *domain.Response
			err  error
		)
		sess, sessErr := s.Sessions.GetSession(r.Context(), sessionID, u.ID)
		if sessErr != nil {
			writeError(w, r, sessErr, nil)
			return
		}
		if sess.Mode == domain.ModeCATI {
			resp, err = s.Sessions.AbandonCATI(r.Context(), sessionID, u.ID, reason)
		} else {
			resp, err = s.Sessions.Abandon(r.Context(), sessionID, u.ID, reason)
		}
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if resp == nil {
			writeJSON(w, http.StatusOK, abandonResponse{Created: false})
			return
		}
		writeJSON(w, http.StatusOK, abandonResponse{ResponseID: resp.ID, Created: true})
	}
}
