// Package domain holds the entities, value objects, and repository/provider
// ports for the survey response pipeline. It has no dependency on any
// adapter package.
package domain

import "errors"

// Sentinel errors returned by usecases and wrapped with operation context by
// adapters (fmt.Errorf("op=...: %w", ...)). httpserver.writeError maps these
// to HTTP status codes.
var (
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrConflict            = errors.New("conflict")
	ErrDuplicateSubmission = errors.New("duplicate submission")
	ErrBadRequest          = errors.New("bad request")
	ErrProviderError       = errors.New("upstream provider error")
	ErrInternal            = errors.New("internal error")
)
