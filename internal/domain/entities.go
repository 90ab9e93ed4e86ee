package domain

import (
	"context"
	"math"
	"time"
)

// Context is a local alias kept for parity with the rest of the codebase's
// signatures; it carries request-scoped deadlines/cancellation and, via
// internal/observability, the request logger and request id.
type Context = context.Context

// SurveyMode identifies how a survey is administered.
type SurveyMode string

const (
	ModeCAPI      SurveyMode = "capi"
	ModeCATI      SurveyMode = "cati"
	ModeMultiMode SurveyMode = "multi_mode"
)

// UserRole identifies a principal's capability within the system.
type UserRole string

const (
	RoleInterviewer   UserRole = "interviewer"
	RoleQualityAgent  UserRole = "reviewer" // reviewer / quality_agent
	RoleCompanyAdmin  UserRole = "company_admin"
	RoleProjectManger UserRole = "project_manager"
)

// User is a principal of the system, assumed to already be authenticated by
// the time it reaches the pipeline (auth/authz is out of scope per spec).
type User struct {
	ID            string
	CompanyID     string
	Role          UserRole
	AssignedACs   map[string][]string // surveyID -> ACs; empty slice means "all ACs"
	AssignedToSvy []string            // surveyIDs this user may act on
}

// Question is one item of a Survey section.
type Question struct {
	ID          string
	Text        string
	Type        string
	Required    bool
	DisplayIf   string // optional conditional-display predicate, opaque to this layer
	SetNumber   *int   // CATI question-set rotation tag
}

// Section is an ordered group of Questions.
type Section struct {
	Questions []Question
}

// BatchConfig controls Batch Manager behavior for a Survey.
type BatchConfig struct {
	BatchSize       int
	SampleFraction  float64
	RemainderPolicy RemainderPolicy
}

// Survey is the logical definition of a questionnaire.
type Survey struct {
	ID                string
	Name              string
	Mode              SurveyMode
	Sections          []Section
	BatchConfig       BatchConfig
	TargetQuotas      map[string]float64
	AssignedReviewers map[string][]string // reviewerID -> ACs (empty = all)
	AssignedInterv    []string
}

// QuestionByID looks up a question across all sections.
func (s Survey) QuestionByID(id string) (Question, bool) {
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.ID == id {
				return q, true
			}
		}
	}
	return Question{}, false
}

// SetNumbers returns the sorted distinct set numbers tagged on the survey's
// questions, used for CATI set rotation.
func (s Survey) SetNumbers() []int {
	seen := map[int]struct{}{}
	for _, sec := range s.Sections {
		for _, q := range sec.Questions {
			if q.SetNumber != nil {
				seen[*q.SetNumber] = struct{}{}
			}
		}
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SessionState is the lifecycle state of an InterviewSession.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionPaused    SessionState = "paused"
	SessionAbandoned SessionState = "abandoned"
	SessionCompleted SessionState = "completed"
)

// Position identifies a (section, question) slot within a Survey.
type Position struct {
	Section  int
	Question int
}

// DeviceInfo is opaque device metadata attached at session start.
type DeviceInfo struct {
	Platform string
	Model    string
	AppBuild string
}

// InterviewSession is the in-progress interview state owned by one
// interviewer. At most one non-terminal session may exist per
// (survey, interviewer) pair.
type InterviewSession struct {
	ID               string
	SurveyID         string
	InterviewerID    string
	Mode             SurveyMode
	Current          Position
	ReachedQuestions map[Position]struct{}
	Tentative        map[string]ResponseValue // questionID -> value
	Device           DeviceInfo
	StartTime        time.Time
	LastActivityAt   time.Time
	State            SessionState
}

// HasReached reports whether a position has ever been displayed.
func (s *InterviewSession) HasReached(p Position) bool {
	if s.ReachedQuestions == nil {
		return false
	}
	_, ok := s.ReachedQuestions[p]
	return ok
}

// MarkReached idempotently records a position as having been displayed.
func (s *InterviewSession) MarkReached(p Position) {
	if s.ReachedQuestions == nil {
		s.ReachedQuestions = map[Position]struct{}{}
	}
	s.ReachedQuestions[p] = struct{}{}
}

// ResponseKind discriminates the ResponseValue tagged union.
type ResponseKind int

const (
	KindNull ResponseKind = iota
	KindStr
	KindNum
	KindBool
	KindList
	KindMap
)

// ResponseValue is a statically-typed stand-in for the loosely typed value a
// mobile client submits per question. Exactly one of the typed fields is
// meaningful, selected by Kind.
type ResponseValue struct {
	Kind ResponseKind
	Str  string
	Num  float64
	Bool bool
	List []ResponseValue
	Map  map[string]ResponseValue
}

// IsEmpty reports whether the value counts as "no answer" for the purposes
// of auto-rejection / abandonment valid-answer checks.
func (v ResponseValue) IsEmpty() bool {
	switch v.Kind {
	case KindNull:
		return true
	case KindStr:
		return v.Str == ""
	case KindList:
		return len(v.List) == 0
	case KindMap:
		return len(v.Map) == 0
	default:
		return false
	}
}

// AnsweredQuestion is one normalized entry of a completed Response.
type AnsweredQuestion struct {
	SectionIndex int
	QuestionIdx  int
	QuestionID   string
	QuestionType string
	Text         string
	Description  string
	Options      []string
	Value        ResponseValue
	IsRequired   bool
	IsSkipped    bool
}

// AudioRecording describes an uploaded audio artifact.
type AudioRecording struct {
	URL      string
	Duration float64 // seconds
	Format   string
	Codec    string
	Bitrate  int // kbps
	FileSize int64
}

// ReviewAssignment is the exclusive, time-bounded lease a reviewer holds on
// a Response.
type ReviewAssignment struct {
	AssignedTo string
	AssignedAt time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the lease has passed its expiry at t.
func (a ReviewAssignment) Expired(t time.Time) bool {
	return !t.Before(a.ExpiresAt)
}

// VerificationData is the record of a reviewer's verdict.
type VerificationData struct {
	Reviewer     string
	ReviewedAt   time.Time
	Criteria     map[string]string // criterion code -> result code
	Feedback     string
	AutoRejected bool
}

// ResponseStatus is the lifecycle state of a completed Response.
type ResponseStatus string

const (
	StatusPendingApproval ResponseStatus = "Pending_Approval"
	StatusApproved        ResponseStatus = "Approved"
	StatusRejected        ResponseStatus = "Rejected"
	StatusTerminated      ResponseStatus = "Terminated"
	StatusAbandoned       ResponseStatus = "abandoned"
)

// IsTerminal reports whether a status is final.
func (s ResponseStatus) IsTerminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusTerminated, StatusAbandoned:
		return true
	default:
		return false
	}
}

// RemainderPolicy is the explicit enum for unsampled-batch-remainder
// disposition.
type RemainderPolicy string

const (
	RemainderQueueForQC  RemainderPolicy = "queued_for_qc"
	RemainderAutoApprove RemainderPolicy = "auto_approved"
	RemainderAutoReject  RemainderPolicy = "auto_rejected"
)

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64
	Lng float64
}

// Response is the central durable record produced by a completed interview.
type Response struct {
	ID               string
	ResponseNumber   int64
	SessionID        string
	SurveyID         string
	InterviewerID    string
	Mode             SurveyMode
	StartTime        time.Time
	EndTime          time.Time
	TotalTimeSpent   int // seconds, >= 1 for terminal responses
	Answers          []AnsweredQuestion
	SelectedAC       string
	PollingStation   string
	RespondentGender string // derived from the survey's gender question, for quota tracking and review filters
	RespondentAge    int    // derived from the survey's age question, for review filters
	Location         *GeoPoint
	Audio            *AudioRecording
	QualityMetrics   map[string]float64
	Status           ResponseStatus
	AbandonedReason  string
	Verification     *VerificationData
	ReviewAssignment *ReviewAssignment
	QCBatchID        string
	IsSampleResponse bool
	CallID           string // CATI only, used by the duplicate detector
	CreatedAt        time.Time
}

// VisibleToReviewer implements the Batch Manager's visibility contract:
// reviewable iff it has no batch, its batch is still collecting, it's in a
// batch still accepting reviews (remainder not yet resolved), or it was
// drawn into the sample.
func (r Response) VisibleToReviewer(batch *QCBatch) bool {
	if r.QCBatchID == "" {
		return true
	}
	if r.IsSampleResponse {
		return true
	}
	if batch == nil {
		return false
	}
	switch batch.State {
	case BatchCollecting:
		return true
	case BatchProcessing, BatchQCInProgress:
		return batch.RemainingDecision == ""
	default:
		return false
	}
}

// BatchState is the lifecycle state of a QCBatch.
type BatchState string

const (
	BatchCollecting   BatchState = "collecting"
	BatchProcessing   BatchState = "processing"
	BatchQCInProgress BatchState = "qc_in_progress"
	BatchClosed       BatchState = "closed"
)

// QCBatch accumulates completed Responses for one (survey, interviewer)
// pair until it reaches configured size, at which point a sample is drawn
// exactly once.
type QCBatch struct {
	ID                string
	SurveyID          string
	InterviewerID     string
	Config            BatchConfig
	ResponseIDs       []string
	State             BatchState
	RemainingDecision RemainderPolicy
	CreatedAt         time.Time
}

// SampleSize returns ceil(batchSize * sampleFraction).
func (c BatchConfig) SampleSize() int {
	n := int(math.Ceil(float64(c.BatchSize) * c.SampleFraction))
	if n > c.BatchSize {
		n = c.BatchSize
	}
	if n < 0 {
		n = 0
	}
	return n
}

// SetData records one CATI completion's chosen question set, used only to
// compute the next set via strict rotation.
type SetData struct {
	ID         string
	SurveyID   string
	Mode       SurveyMode
	SetNumber  int
	CreatedAt  time.Time
}

// TelephonySelectionMethod picks the active provider for a tenant.
type TelephonySelectionMethod string

const (
	SelectionSwitch     TelephonySelectionMethod = "switch"
	SelectionRandom     TelephonySelectionMethod = "random"
	SelectionPercentage TelephonySelectionMethod = "percentage"
)

// TenantConfig is the per-company telephony configuration.
type TenantConfig struct {
	CompanyID        string
	EnabledProviders []string
	SelectionMethod  TelephonySelectionMethod
	ActiveProvider   string
	FallbackProvider string
	Weights          map[string]float64 // providerName -> weight, percentage method
}
