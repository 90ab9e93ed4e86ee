package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResponseStatus_IsTerminal(t *testing.T) {
	assert.True(t, StatusApproved.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusTerminated.IsTerminal())
	assert.True(t, StatusAbandoned.IsTerminal())
	assert.False(t, StatusPendingApproval.IsTerminal())
}

func TestReviewAssignment_Expired(t *testing.T) {
	now := time.Now().UTC()
	a := ReviewAssignment{AssignedAt: now, ExpiresAt: now.Add(30 * time.Minute)}
	assert.False(t, a.Expired(now.Add(29*time.Minute)))
	assert.True(t, a.Expired(now.Add(31*time.Minute)))
	assert.True(t, a.Expired(now.Add(30*time.Minute)), "expiry boundary itself counts as expired")
}

func TestResponse_VisibleToReviewer(t *testing.T) {
	noBatch := Response{}
	assert.True(t, noBatch.VisibleToReviewer(nil), "no batch means legacy/always visible")

	sampled := Response{QCBatchID: "b1", IsSampleResponse: true}
	assert.True(t, sampled.VisibleToReviewer(&QCBatch{State: BatchQCInProgress, RemainingDecision: RemainderAutoApprove}))

	collecting := Response{QCBatchID: "b1"}
	assert.True(t, collecting.VisibleToReviewer(&QCBatch{State: BatchCollecting}))

	notYetResolved := Response{QCBatchID: "b1"}
	assert.True(t, notYetResolved.VisibleToReviewer(&QCBatch{State: BatchProcessing}))

	resolved := Response{QCBatchID: "b1"}
	assert.False(t, resolved.VisibleToReviewer(&QCBatch{State: BatchQCInProgress, RemainingDecision: RemainderAutoApprove}), "remainder resolved and not sampled means no longer visible")

	closed := Response{QCBatchID: "b1"}
	assert.False(t, closed.VisibleToReviewer(&QCBatch{State: BatchClosed, RemainingDecision: RemainderQueueForQC}))
}

func TestSurvey_SetNumbersSortedDistinct(t *testing.T) {
	one, two := 1, 2
	s := Survey{Sections: []Section{{Questions: []Question{
		{ID: "q1", SetNumber: &two},
		{ID: "q2", SetNumber: &one},
		{ID: "q3", SetNumber: &two},
		{ID: "q4"},
	}}}}
	assert.Equal(t, []int{1, 2}, s.SetNumbers())
}

func TestInterviewSession_ReachedQuestionsIdempotent(t *testing.T) {
	s := InterviewSession{}
	p := Position{Section: 0, Question: 1}
	assert.False(t, s.HasReached(p))
	s.MarkReached(p)
	s.MarkReached(p)
	assert.True(t, s.HasReached(p))
}

func TestResponseValue_IsEmpty(t *testing.T) {
	assert.True(t, ResponseValue{Kind: KindNull}.IsEmpty())
	assert.True(t, ResponseValue{Kind: KindStr, Str: ""}.IsEmpty())
	assert.False(t, ResponseValue{Kind: KindStr, Str: "x"}.IsEmpty())
	assert.True(t, ResponseValue{Kind: KindList}.IsEmpty())
	assert.False(t, ResponseValue{Kind: KindBool, Bool: false}.IsEmpty(), "booleans are never considered empty")
}
