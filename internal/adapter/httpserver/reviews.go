package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/surveypipe/internal/domain"
	"github.com/fieldops/surveypipe/internal/usecase"
)

type nextReviewResponse struct {
	Interview *responseDTO `json:"interview"`
	ExpiresAt *time.Time   `json:"expiresAt,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// NextReviewHandler handles GET /reviews/next.
func (s *Server) NextReviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := PrincipalFromContext(r.Context())
		scope := reviewScopeFor(u)

		ageMin, _ := strconv.Atoi(r.URL.Query().Get("ageMin"))
		ageMax, _ := strconv.Atoi(r.URL.Query().Get("ageMax"))
		filters := domain.ReviewFilters{
			Search: ValidateAndGet(r, "search"),
			Gender: r.URL.Query().Get("gender"),
			AgeMin: ageMin,
			AgeMax: ageMax,
		}

		result, err := s.Reviews.GetNext(r.Context(), scope, filters)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if result.Response == nil {
			writeJSON(w, http.StatusOK, nextReviewResponse{Message: result.Message})
			return
		}
		dto := responseToDTO(result.Response)
		writeJSON(w, http.StatusOK, nextReviewResponse{Interview: &dto, ExpiresAt: &result.ExpiresAt})
	}
}

// ValidateAndGet is a thin query-param reader that sanitizes free-text search
// input before it reaches the repository layer.
func ValidateAndGet(r *http.Request, key string) string {
	return SanitizeString(r.URL.Query().Get(key))
}

// ReleaseReviewHandler handles POST /reviews/:responseId/release.
func (s *Server) ReleaseReviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responseID := chi.URLParam(r, "responseId")
		u, _ := PrincipalFromContext(r.Context())

		if err := s.Reviews.ReleaseAssignment(r.Context(), responseID, u.ID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

type submitVerificationRequest struct {
	ResponseID           string            `json:"responseId" validate:"required"`
	Status               string            `json:"status" validate:"required,oneof=approved rejected"`
	VerificationCriteria map[string]string `json:"verificationCriteria"`
	Feedback             string            `json:"feedback"`
}

// SubmitVerificationHandler handles POST /reviews/submit.
func (s *Server) SubmitVerificationHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, _ := PrincipalFromContext(r.Context())

		var req submitVerificationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		if err := getValidator().Struct(req); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}

		verdict := usecase.VerdictApproved
		if req.Status == "rejected" {
			verdict = usecase.VerdictRejected
		}
		feedback := SanitizeString(req.Feedback)
		if err := s.Reviews.SubmitVerification(r.Context(), req.ResponseID, verdict, req.VerificationCriteria, feedback, u.ID); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
