package httpserver

import (
	"context"
	"net/http"
	"time"
)

// HealthzHandler is a liveness probe: it never touches dependencies.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

type dependencyCheck struct {
	Name    string `json:"name"`
	OK      bool   `json:"ok"`
	Details string `json:"details,omitempty"`
}

// ReadyzHandler probes Postgres and Redis before reporting ready.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make([]dependencyCheck, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, dependencyCheck{Name: "postgres", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, dependencyCheck{Name: "postgres", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, dependencyCheck{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, dependencyCheck{Name: "redis", OK: true})
			}
		}

		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		status := http.StatusOK
		if !ok {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]any{"checks": checks})
	}
}
