package httpserver

import (
	"io"
	"net/http"

	"github.com/fieldops/surveypipe/internal/domain"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MiB, a telephony callback payload is never larger

// CATIWebhookHandler handles GET or POST /cati/webhook. Telephony vendors
// call this directly, unauthenticated by a principal, so the tenant is
// resolved from the companyId the webhook URL was provisioned with.
// The raw payload is published to the queue and normalized downstream by
// the worker, off the request path, so the vendor gets a fast ack
// regardless of backlog.
func (s *Server) CATIWebhookHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		companyID := r.URL.Query().Get("companyId")
		if companyID == "" {
			companyID = r.Header.Get("X-Company-Id")
		}
		if companyID == "" {
			writeError(w, r, domain.ErrBadRequest, "companyId is required")
			return
		}

		var raw []byte
		if r.Method == http.MethodPost {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
			if err != nil {
				writeError(w, r, domain.ErrBadRequest, err.Error())
				return
			}
			raw = body
		} else {
			raw = []byte(r.URL.RawQuery)
		}

		if s.Events != nil {
			if err := s.Events.PublishCATIWebhookRaw(r.Context(), companyID, raw, r.Header.Get("Content-Type")); err != nil {
				writeError(w, r, err, nil)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
