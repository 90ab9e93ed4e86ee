package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/surveypipe/internal/domain"
)

func newCompletionHarness(survey *domain.Survey) (CompletionService, *memSessionRepo, *memResponseRepo, *memBatchRepo) {
	sessions := newMemSessionRepo()
	responses := newMemResponseRepo()
	surveys := newMemSurveyRepo(survey)
	batches := newMemBatchRepo()
	batchSvc := NewBatchService(batches, responses, nil)
	setDataSvc := NewSetDataService(newMemSetDataRepo(), surveys)
	return NewCompletionService(sessions, surveys, responses, batchSvc, setDataSvc), sessions, responses, batches
}

func startedSession(t *testing.T, sessions *memSessionRepo, survey *domain.Survey, id string) *domain.InterviewSession {
	t.Helper()
	sess := &domain.InterviewSession{
		ID:            id,
		SurveyID:      survey.ID,
		InterviewerID: "alice",
		Mode:          survey.Mode,
		StartTime:     time.Now().UTC().Add(-10 * time.Minute),
		State:         domain.SessionActive,
	}
	require.NoError(t, sessions.Create(context.Background(), sess))
	return sess
}

func TestComplete_HappyPath(t *testing.T) {
	survey := testSurvey()
	svc, sessions, responses, _ := newCompletionHarness(survey)
	ctx := context.Background()
	sess := startedSession(t, sessions, survey, "sess-1")

	totalTime := 600
	result, err := svc.Complete(ctx, sess.ID, "alice",
		[]domain.AnsweredQuestion{{QuestionID: "q1", Value: domain.ResponseValue{Kind: domain.KindStr, Str: "a"}}},
		nil,
		CompletionMetadata{TotalTimeSpent: &totalTime},
	)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, result.Status)
	assert.False(t, result.IsDuplicate)

	stored, err := responses.Get(ctx, result.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, 600, stored.TotalTimeSpent)
	assert.Equal(t, domain.StatusPendingApproval, stored.Status)

	storedSession, err := sessions.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionAbandoned, storedSession.State, "completion cleans up the session as abandoned, not a separate completed state")
}

func TestComplete_DuplicateSubmissionReturnsExistingResponseID(t *testing.T) {
	survey := testSurvey()
	svc, sessions, _, _ := newCompletionHarness(survey)
	ctx := context.Background()
	sess := startedSession(t, sessions, survey, "sess-1")

	totalTime := 60
	first, err := svc.Complete(ctx, sess.ID, "alice", nil, nil, CompletionMetadata{TotalTimeSpent: &totalTime})
	require.NoError(t, err)

	second, err := svc.Complete(ctx, sess.ID, "alice", nil, nil, CompletionMetadata{TotalTimeSpent: &totalTime})
	require.Error(t, err)
	assert.True(t, IsDuplicateSubmission(err))
	assert.Equal(t, first.ResponseID, second.ResponseID)
	assert.True(t, second.IsDuplicate)
}

func TestComplete_OwnerMismatchForbidden(t *testing.T) {
	survey := testSurvey()
	svc, sessions, _, _ := newCompletionHarness(survey)
	ctx := context.Background()
	sess := startedSession(t, sessions, survey, "sess-1")

	_, err := svc.Complete(ctx, sess.ID, "mallory", nil, nil, CompletionMetadata{})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestComplete_AutoRejectionHiddenFromInterviewer(t *testing.T) {
	survey := testSurvey()
	svc, sessions, responses, _ := newCompletionHarness(survey)
	ctx := context.Background()
	sess := startedSession(t, sessions, survey, "sess-1")

	tooShort := 5 // below the 30s MinDurationRule threshold
	result, err := svc.Complete(ctx, sess.ID, "alice", nil, nil, CompletionMetadata{TotalTimeSpent: &tooShort})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingApproval, result.Status, "interviewer must always see Pending_Approval")

	stored, err := responses.Get(ctx, result.ResponseID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, stored.Status, "actual status is Rejected internally")
	require.NotNil(t, stored.Verification)
	assert.True(t, stored.Verification.AutoRejected)
}

func TestComplete_AutoRejectedResponseSkipsBatchEnrollment(t *testing.T) {
	survey := testSurvey()
	svc, sessions, responses, batches := newCompletionHarness(survey)
	ctx := context.Background()
	sess := startedSession(t, sessions, survey, "sess-1")

	tooShort := 5
	result, err := svc.Complete(ctx, sess.ID, "alice", nil, nil, CompletionMetadata{TotalTimeSpent: &tooShort})
	require.NoError(t, err)

	stored, err := responses.Get(ctx, result.ResponseID)
	require.NoError(t, err)
	assert.Empty(t, stored.QCBatchID)
	_, ok := batches.collecting[survey.ID+"/alice"]
	assert.False(t, ok)
}

func TestResolveTotalTimeSpent_ClampsToMinimumOneSecond(t *testing.T) {
	start := time.Now().UTC()
	end := start // zero duration
	got := resolveTotalTimeSpent(CompletionMetadata{StartTime: &start, EndTime: &end}, start)
	assert.Equal(t, 1, got)

	negative := -5
	got = resolveTotalTimeSpent(CompletionMetadata{TotalTimeSpent: &negative}, start)
	assert.Equal(t, 1, got)
}
