package offlinesync

import "strings"

// ErrorClass is the outcome of classifying a completion failure.
type ErrorClass int

const (
	// ClassDuplicate means the server has already accepted this
	// submission; the client must treat it as success.
	ClassDuplicate ErrorClass = iota
	// ClassRetryable means the failure may clear on a future sync run;
	// the interview stays queued with status=failed for retry.
	ClassRetryable
	// ClassFatal means the failure will not clear; syncing this
	// interview stops for the remainder of the run.
	ClassFatal
)

// duplicateMarkers are the substrings (matched case-insensitively) that,
// found in a completion error's text, indicate the server already has this
// submission. This list is deliberately broad: imperfect server-side error
// categorization means the client has to recognize the server's duplicate
// case from several different vocabularies.
var duplicateMarkers = []string{
	"duplicate_submission",
	"already exists",
	"already submitted",
	"already completed",
	"duplicate",
	"e11000", // MongoDB-style duplicate key error code 11000
}

// ClassifyCompletion determines how a completion attempt's outcome should be
// treated, given the HTTP status, explicit isDuplicate flag, error text, and
// how many prior attempts for this sessionID returned HTTP 500.
//
// "Two prior 500s with the same sessionID" is treated as a server-side
// duplicate: a coping mechanism for servers whose error categorization
// sometimes surfaces a completed-but-retried submission as an opaque 500
// rather than a proper 409. The threshold is configurable via
// repeated500Threshold (spec default: 2).
func ClassifyCompletion(statusCode int, isDuplicate bool, errText string, priorServerErrors, repeated500Threshold int) ErrorClass {
	if isDuplicate || statusCode == 409 {
		return ClassDuplicate
	}
	lower := strings.ToLower(errText)
	for _, marker := range duplicateMarkers {
		if strings.Contains(lower, marker) {
			return ClassDuplicate
		}
	}
	if statusCode == 500 && repeated500Threshold > 0 && priorServerErrors >= repeated500Threshold {
		return ClassDuplicate
	}
	if statusCode == 0 {
		// Network-level error (no response reached the server at all):
		// always worth retrying later.
		return ClassRetryable
	}
	if statusCode >= 500 || statusCode == 429 {
		return ClassRetryable
	}
	return ClassFatal
}
