package domain

import "time"

// SessionRepository persists InterviewSession aggregates.
type SessionRepository interface {
	Create(ctx Context, s *InterviewSession) error
	Get(ctx Context, id string) (*InterviewSession, error)
	// FindActiveByOwner returns the non-terminal session for (surveyID,
	// interviewerID), if any. At most one non-terminal session may exist
	// per (survey, interviewer) pair.
	FindActiveByOwner(ctx Context, surveyID, interviewerID string) (*InterviewSession, error)
	UpdateTentative(ctx Context, sessionID, questionID string, v ResponseValue) error
	UpdatePosition(ctx Context, sessionID string, pos Position) error
	MarkReached(ctx Context, sessionID string, pos Position) error
	SetState(ctx Context, sessionID string, state SessionState) error
}

// ResponseRepository persists Response records with atomic field updates
// rather than read-modify-write.
type ResponseRepository interface {
	Create(ctx Context, r *Response) error
	Get(ctx Context, id string) (*Response, error)
	// FindBySessionID supports completion idempotency.
	FindBySessionID(ctx Context, sessionID string) (*Response, error)
	SetStatus(ctx Context, id string, status ResponseStatus, reason string) error
	SetSampleFlag(ctx Context, id string, sample bool, batchID string) error
	SetQCBatch(ctx Context, id string, batchID string) error
	// AcquireLease atomically claims the lease iff absent or expired,
	// returning false (no error) on lost contention.
	AcquireLease(ctx Context, id, reviewer string, now, expiresAt time.Time) (bool, error)
	ReleaseLease(ctx Context, id, reviewer string) error
	// SubmitVerification atomically transitions status iff the response is
	// still Pending_Approval and reviewerID is either the current lease
	// holder or no lease is held; otherwise it returns ErrConflict (status
	// already terminal) or ErrForbidden (another reviewer holds the lease).
	SubmitVerification(ctx Context, id, reviewerID string, status ResponseStatus, v VerificationData) error
	// NextForReview returns the oldest visible, unassigned-or-expired
	// Pending_Approval response matching the given scope/filters.
	NextForReview(ctx Context, scope ReviewScope, filters ReviewFilters, now time.Time) (*Response, error)
	// FindActiveLease returns a response the reviewer currently holds a
	// non-expired lease on, if any.
	FindActiveLease(ctx Context, reviewer string, now time.Time) (*Response, error)
	// ListForDuplicateScan returns candidate responses in a date window for
	// the Duplicate Detector, grouped by the caller via (interviewer, survey)
	// or (interviewer, callID).
	ListForDuplicateScan(ctx Context, surveyMode SurveyMode, from, to time.Time) ([]Response, error)
}

// ReviewScope is the reviewer's visibility scope computed from role and
// survey/AC assignment.
type ReviewScope struct {
	ReviewerID string
	Role       UserRole
	CompanyID  string
	// SurveyACs maps surveyID -> allowed ACs; empty slice means all ACs.
	SurveyACs map[string][]string
}

// ReviewFilters are the optional getNext query refinements.
type ReviewFilters struct {
	Search  string
	Gender  string
	AgeMin  int
	AgeMax  int
}

// BatchRepository persists QCBatch aggregates.
type BatchRepository interface {
	FindCollecting(ctx Context, surveyID, interviewerID string) (*QCBatch, error)
	Create(ctx Context, b *QCBatch) error
	AppendResponse(ctx Context, batchID, responseID string) (size int, err error)
	// TransitionToProcessing performs the compare-and-set from collecting to
	// processing that serializes sampling.
	TransitionToProcessing(ctx Context, batchID string) (bool, error)
	SetRemainingDecision(ctx Context, batchID string, policy RemainderPolicy) error
	Close(ctx Context, batchID string) error
	Get(ctx Context, id string) (*QCBatch, error)
}

// SetDataRepository persists CATI set-rotation history.
type SetDataRepository interface {
	LastSetNumber(ctx Context, surveyID string, mode SurveyMode) (int, bool, error)
	Append(ctx Context, d *SetData) error
}

// SurveyRepository resolves Survey definitions and per-tenant config.
type SurveyRepository interface {
	Get(ctx Context, id string) (*Survey, error)
}

// TenantConfigRepository resolves telephony configuration per company.
type TenantConfigRepository interface {
	Get(ctx Context, companyID string) (*TenantConfig, error)
}

// LeaseStore is an optional fast-path exclusive lock used by the Review
// Queue ahead of the Response Store (e.g. Redis compare-and-set); a nil
// LeaseStore means leases are only enforced by ResponseRepository.AcquireLease.
type LeaseStore interface {
	// TryAcquire attempts to set key=holder with the given TTL iff the key
	// is unset or already held by holder; returns false on contention.
	TryAcquire(ctx Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx Context, key, holder string) error
}

// EventPublisher decouples producers of domain events from the transport
// used to carry them (Redpanda in this repo).
type EventPublisher interface {
	PublishBatchClosed(ctx Context, batchID, surveyID string) error
	PublishReconcileTrigger(ctx Context, surveyMode SurveyMode, from, to time.Time) error
	PublishCATIWebhookRaw(ctx Context, companyID string, raw []byte, contentType string) error
}

// CallStatus is the normalized status of a telephony call.
type CallStatus string

const (
	CallAnswered  CallStatus = "answered"
	CallBusy      CallStatus = "busy"
	CallNoAnswer  CallStatus = "no-answer"
	CallCancelled CallStatus = "cancelled"
	CallFailed    CallStatus = "failed"
	CallCompleted CallStatus = "completed"
)

// CallRequest is the parameters to makeCall.
type CallRequest struct {
	FromNumber   string
	ToNumber     string
	FromType     string
	ToType       string
	FromRingTime int
	ToRingTime   int
	TimeLimit    int
	UID          string
}

// CallResult is the outcome of makeCall.
type CallResult struct {
	CallID      string
	Provider    string
	RawResponse []byte
}

// WebhookEvent is the normalized telephony callback.
type WebhookEvent struct {
	CallID        string
	UID           string
	FromNumber    string
	ToNumber      string
	AnsweredNumber string
	Status        CallStatus
	DurationSec   int
	StartTime     *time.Time
	EndTime       *time.Time
	RecordingURL  string
	Direction     string
}

// TelephonyProvider is the uniform interface over calling vendors.
type TelephonyProvider interface {
	Name() string
	MakeCall(ctx Context, req CallRequest) (CallResult, error)
	NormalizeWebhook(ctx Context, httpMethod string, query map[string][]string, body []byte) (WebhookEvent, error)
	RegisterAgent(ctx Context, agentNumber, agentName string) error
}
