package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"go.opentelemetry.io/otel"
)

// LeaseDuration is the exclusive reviewer lease window.
const LeaseDuration = 30 * time.Minute

// ReviewService implements the review queue's lease-based assignment.
// Leases is an optional fast-path concurrency gate: when present, a
// candidate is only carried to the durable Postgres compare-and-set once
// the distributed lock in Leases has been won, sparing Postgres from
// contention among reviewers racing the same candidate. Postgres remains
// the source of truth; a nil or failing Leases never blocks assignment.
type ReviewService struct {
	Responses     domain.ResponseRepository
	Leases        domain.LeaseStore
	LeaseDuration time.Duration
}

// NewReviewService constructs a ReviewService.
func NewReviewService(responses domain.ResponseRepository, leases domain.LeaseStore, leaseDuration time.Duration) ReviewService {
	if leaseDuration <= 0 {
		leaseDuration = LeaseDuration
	}
	return ReviewService{Responses: responses, Leases: leases, LeaseDuration: leaseDuration}
}

// NextResult is the outcome of GetNext.
type NextResult struct {
	Response *domain.Response
	ExpiresAt time.Time
	Message  string
}

// GetNext serves "next response to review" with an atomic lease claim.
func (s ReviewService) GetNext(ctx domain.Context, scope domain.ReviewScope, filters domain.ReviewFilters) (NextResult, error) {
	tr := otel.Tracer("usecase.review")
	ctx, span := tr.Start(ctx, "ReviewService.GetNext")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	now := time.Now().UTC()

	// Step 1: resume an already-held non-expired lease.
	if held, err := s.Responses.FindActiveLease(ctx, scope.ReviewerID, now); err == nil && held != nil {
		lg.Info("resuming existing review lease", slog.String("response_id", held.ID), slog.String("reviewer_id", scope.ReviewerID))
		observability.ReviewLeaseAcquisitions.WithLabelValues("granted").Inc()
		return NextResult{Response: held, ExpiresAt: held.ReviewAssignment.ExpiresAt}, nil
	}

	// Steps 2-5: serializable claim with contention retry.
	const maxAttempts = 10
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate, err := s.Responses.NextForReview(ctx, scope, filters, now)
		if err != nil {
			return NextResult{}, fmt.Errorf("op=GetNext query candidate: %w", err)
		}
		if candidate == nil {
			observability.ReviewLeaseAcquisitions.WithLabelValues("none_available").Inc()
			return NextResult{Message: "no response available for review"}, nil
		}
		wasExpiredSteal := candidate.ReviewAssignment != nil && candidate.ReviewAssignment.ExpiresAt.Before(now)

		if s.Leases != nil {
			gotFast, err := s.Leases.TryAcquire(ctx, "review:"+candidate.ID, scope.ReviewerID, s.LeaseDuration)
			if err == nil && !gotFast {
				// Another reviewer already holds the fast-path lock; skip
				// the Postgres lease write and re-query for a candidate.
				continue
			}
		}

		expiresAt := now.Add(s.LeaseDuration)
		won, err := s.Responses.AcquireLease(ctx, candidate.ID, scope.ReviewerID, now, expiresAt)
		if err != nil {
			return NextResult{}, fmt.Errorf("op=GetNext acquire lease: %w", err)
		}
		if !won {
			// Another reviewer won the race; loop to re-query.
			continue
		}
		result := "granted"
		if wasExpiredSteal {
			result = "expired_steal"
		}
		observability.ReviewLeaseAcquisitions.WithLabelValues(result).Inc()
		lg.Info("review lease granted", slog.String("response_id", candidate.ID), slog.String("reviewer_id", scope.ReviewerID), slog.Time("expires_at", expiresAt))
		return NextResult{Response: candidate, ExpiresAt: expiresAt}, nil
	}
	observability.ReviewLeaseAcquisitions.WithLabelValues("none_available").Inc()
	return NextResult{Message: "no response available for review"}, nil
}

// ReleaseAssignment clears reviewAssignment iff caller is holder.
func (s ReviewService) ReleaseAssignment(ctx domain.Context, responseID, reviewerID string) error {
	if err := s.Responses.ReleaseLease(ctx, responseID, reviewerID); err != nil {
		if errors.Is(err, domain.ErrForbidden) {
			return fmt.Errorf("op=ReleaseAssignment: %w", domain.ErrForbidden)
		}
		return fmt.Errorf("op=ReleaseAssignment: %w", err)
	}
	if s.Leases != nil {
		_ = s.Leases.Release(ctx, "review:"+responseID, reviewerID)
	}
	return nil
}

// Verdict is the reviewer's decision.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictRejected Verdict = "rejected"
)

// rejectionSentences maps failing criterion codes to human-readable
// sentences, joined to derive a structured rejection reason when the
// reviewer supplies no free-text feedback.
var rejectionSentences = map[string]string{
	"audio_quality_poor":     "Audio quality was too poor to verify.",
	"gender_mismatch":        "Respondent gender did not match the expected quota.",
	"election_response_bad":  "Election-related responses could not be verified.",
	"name_age_mismatch":      "Respondent name or age did not match records.",
	"phone_not_asked":        "The phone number question was not asked.",
}

// DeriveRejectionReason joins the human-readable sentences for each failing
// criterion code. The sentences follow map iteration order, which is not
// defined.
func DeriveRejectionReason(criteria map[string]string) string {
	reason := ""
	for code, result := range criteria {
		if result == "pass" || result == "" {
			continue
		}
		if s, ok := rejectionSentences[code]; ok {
			if reason != "" {
				reason += " "
			}
			reason += s
		}
	}
	return reason
}

// SubmitVerification atomically transitions status, persists verification
// data, and clears reviewAssignment, retrying once on unconfirmed writes.
func (s ReviewService) SubmitVerification(ctx domain.Context, responseID string, verdict Verdict, criteria map[string]string, feedback, reviewerID string) error {
	tr := otel.Tracer("usecase.review")
	ctx, span := tr.Start(ctx, "ReviewService.SubmitVerification")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	status := domain.StatusApproved
	if verdict == VerdictRejected {
		status = domain.StatusRejected
		if feedback == "" {
			feedback = DeriveRejectionReason(criteria)
		}
	}

	v := domain.VerificationData{
		Reviewer:   reviewerID,
		ReviewedAt: time.Now().UTC(),
		Criteria:   criteria,
		Feedback:   feedback,
	}

	if err := s.Responses.SubmitVerification(ctx, responseID, reviewerID, status, v); err != nil {
		return fmt.Errorf("op=SubmitVerification: %w", err)
	}

	confirmed, err := s.Responses.Get(ctx, responseID)
	if err != nil {
		return fmt.Errorf("op=SubmitVerification reload: %w", err)
	}
	if confirmed.Status != status {
		lg.Error("verification write not confirmed, retrying with a direct status write", slog.String("response_id", responseID))
		// The CAS in SubmitVerification already matched once, so the
		// response is no longer Pending_Approval: a second SubmitVerification
		// call would now (correctly) reject on its own CAS. Fall back to an
		// unconditional status write to close the gap instead.
		if err := s.Responses.SetStatus(ctx, responseID, status, ""); err != nil {
			return fmt.Errorf("op=SubmitVerification retry: %w", err)
		}
		confirmed, err = s.Responses.Get(ctx, responseID)
		if err != nil {
			return fmt.Errorf("op=SubmitVerification reload after retry: %w", err)
		}
		if confirmed.Status != status {
			return fmt.Errorf("op=SubmitVerification status not confirmed after retry: %w", domain.ErrInternal)
		}
	}

	if s.Leases != nil {
		_ = s.Leases.Release(ctx, "review:"+responseID, reviewerID)
	}

	observability.ReviewDecisionsTotal.WithLabelValues(string(verdict)).Inc()
	lg.Info("verification submitted", slog.String("response_id", responseID), slog.String("status", string(status)), slog.String("reviewer_id", reviewerID))
	return nil
}
