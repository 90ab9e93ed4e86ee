package httpserver

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fieldops/surveypipe/pkg/textx"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

var validResourceID = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateResourceID validates a path-segment identifier (session id,
// response id, survey id, batch id).
func ValidateResourceID(field, id string) ValidationResult {
	if id == "" {
		return invalid(field, "REQUIRED", field+" is required")
	}
	if len(id) > 100 {
		return invalid(field, "TOO_LONG", field+" is too long (max 100 characters)")
	}
	if !validResourceID.MatchString(id) {
		return invalid(field, "INVALID_FORMAT", field+" contains invalid characters")
	}
	return ValidationResult{Valid: true}
}

// ValidatePagination validates pagination parameters.
func ValidatePagination(page, limit string) ValidationResult {
	var errors []ValidationError

	if page != "" {
		pageNum, err := strconv.Atoi(page)
		if err != nil || pageNum < 1 {
			errors = append(errors, ValidationError{
				Field: "page", Code: "INVALID_FORMAT", Message: "Page must be a positive integer",
			})
		}
	}
	if limit != "" {
		limitNum, err := strconv.Atoi(limit)
		if err != nil || limitNum < 1 || limitNum > 100 {
			errors = append(errors, ValidationError{
				Field: "limit", Code: "INVALID_FORMAT", Message: "Limit must be between 1 and 100",
			})
		}
	}
	if len(errors) > 0 {
		return ValidationResult{Valid: false, Errors: errors}
	}
	return ValidationResult{Valid: true}
}

var validSearchQuery = regexp.MustCompile(`^[a-zA-Z0-9\s_-]+$`)

// ValidateSearchQuery validates the review queue's free-text search filter.
func ValidateSearchQuery(query string) ValidationResult {
	if query == "" {
		return ValidationResult{Valid: true}
	}
	if len(query) > 200 {
		return invalid("search", "TOO_LONG", "Search query is too long (max 200 characters)")
	}
	if !validSearchQuery.MatchString(query) {
		return invalid("search", "INVALID_FORMAT", "Search query contains invalid characters")
	}
	return ValidationResult{Valid: true}
}

var validResponseStatuses = []string{"Pending_Approval", "Approved", "Rejected", "Terminated", "abandoned"}

// ValidateResponseStatus validates a response status filter.
func ValidateResponseStatus(status string) ValidationResult {
	if status == "" {
		return ValidationResult{Valid: true}
	}
	for _, s := range validResponseStatuses {
		if status == s {
			return ValidationResult{Valid: true}
		}
	}
	return invalid("status", "INVALID_VALUE", "status must be one of: "+strings.Join(validResponseStatuses, ", "))
}

// SanitizeString trims, strips control characters, and caps length on
// free-text input (review feedback, abandonment notes).
func SanitizeString(input string) string {
	input = textx.SanitizeText(input)
	if len(input) > 1000 {
		input = input[:1000]
	}
	if !utf8.ValidString(input) {
		input = strings.ToValidUTF8(input, "")
	}
	return input
}

// SanitizeResourceID strips characters that are not valid in a resource id.
func SanitizeResourceID(id string) string {
	id = regexp.MustCompile(`[^a-zA-Z0-9_-]`).ReplaceAllString(id, "")
	if len(id) > 100 {
		id = id[:100]
	}
	return id
}

func invalid(field, code, message string) ValidationResult {
	return ValidationResult{Valid: false, Errors: []ValidationError{{Field: field, Code: code, Message: message}}}
}
