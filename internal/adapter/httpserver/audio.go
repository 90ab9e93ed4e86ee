package httpserver

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fieldops/surveypipe/internal/domain"
)

const maxAudioUploadBytes = 64 << 20 // 64 MiB, generous for a single interview recording

type audioUploadResponse struct {
	AudioURL    string `json:"audioUrl"`
	Size        int64  `json:"size"`
	Mimetype    string `json:"mimetype"`
	StorageType string `json:"storageType"`
}

// AudioUploadHandler handles POST /audio/upload.
func (s *Server) AudioUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Audio == nil {
			writeError(w, r, domain.ErrInternal, "audio storage not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxAudioUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}
		sessionID := SanitizeResourceID(r.FormValue("sessionId"))
		surveyID := SanitizeResourceID(r.FormValue("surveyId"))

		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, domain.ErrBadRequest, "missing file part")
			return
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, domain.ErrBadRequest, err.Error())
			return
		}

		key, size, mimetype, storageType, err := s.Audio.Upload(r.Context(), sessionID, surveyID, header.Filename, data)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, audioUploadResponse{AudioURL: key, Size: size, Mimetype: mimetype, StorageType: storageType})
	}
}

const audioSignedURLTTL = 15 * time.Minute

type audioSignedURLResponse struct {
	SignedURL string `json:"signedUrl"`
	ExpiresIn int    `json:"expiresIn"`
	IsMock    bool   `json:"isMock,omitempty"`
}

// AudioSignedURLHandler handles GET /responses/:id/audio-signed-url.
func (s *Server) AudioSignedURLHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Audio == nil {
			writeError(w, r, domain.ErrInternal, "audio storage not configured")
			return
		}
		id := chi.URLParam(r, "id")
		storageKey := r.URL.Query().Get("storageKey")
		if storageKey == "" {
			storageKey = id
		}
		if strings.HasPrefix(storageKey, "mock://") {
			writeJSON(w, http.StatusOK, audioSignedURLResponse{IsMock: true})
			return
		}

		signedURL, isMock, err := s.Audio.SignedURL(r.Context(), storageKey, audioSignedURLTTL)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		if isMock {
			writeJSON(w, http.StatusOK, audioSignedURLResponse{IsMock: true})
			return
		}
		writeJSON(w, http.StatusOK, audioSignedURLResponse{SignedURL: signedURL, ExpiresIn: int(audioSignedURLTTL.Seconds())})
	}
}
