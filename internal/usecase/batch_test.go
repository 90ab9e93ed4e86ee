package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldops/surveypipe/internal/domain"
)

func makeResponse(surveyID, interviewerID string) *domain.Response {
	return &domain.Response{
		ID:            uuid.NewString(),
		SurveyID:      surveyID,
		InterviewerID: interviewerID,
		Status:        domain.StatusPendingApproval,
		CreatedAt:     time.Now().UTC(),
	}
}

func TestEnroll_ClosesBatchAtConfiguredSizeWithCorrectSampleCount(t *testing.T) {
	responses := newMemResponseRepo()
	batches := newMemBatchRepo()
	events := &fakeEventPublisher{}
	svc := NewBatchService(batches, responses, events)
	ctx := context.Background()
	cfg := domain.BatchConfig{BatchSize: 5, SampleFraction: 0.4, RemainderPolicy: domain.RemainderAutoApprove}

	var ids []string
	for i := 0; i < 5; i++ {
		r := makeResponse("s1", "alice")
		require.NoError(t, responses.Create(ctx, r))
		ids = append(ids, r.ID)
		require.NoError(t, svc.Enroll(ctx, cfg, r))
	}

	sampled := 0
	approved := 0
	for _, id := range ids {
		stored, err := responses.Get(ctx, id)
		require.NoError(t, err)
		if stored.IsSampleResponse {
			sampled++
			assert.NotEmpty(t, stored.QCBatchID)
			assert.Equal(t, domain.StatusPendingApproval, stored.Status)
		} else {
			approved++
			assert.Equal(t, domain.StatusApproved, stored.Status)
		}
	}
	assert.Equal(t, 2, sampled, "ceil(5*0.4) = 2")
	assert.Equal(t, 3, approved)
	assert.Len(t, events.batchClosed, 1)
}

func TestEnroll_RemainderQueuedForQCStaysPending(t *testing.T) {
	responses := newMemResponseRepo()
	batches := newMemBatchRepo()
	svc := NewBatchService(batches, responses, nil)
	ctx := context.Background()
	cfg := domain.BatchConfig{BatchSize: 5, SampleFraction: 0.4, RemainderPolicy: domain.RemainderQueueForQC}

	var ids []string
	for i := 0; i < 5; i++ {
		r := makeResponse("s1", "alice")
		require.NoError(t, responses.Create(ctx, r))
		ids = append(ids, r.ID)
		require.NoError(t, svc.Enroll(ctx, cfg, r))
	}

	for _, id := range ids {
		stored, err := responses.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPendingApproval, stored.Status)
	}
}

func TestEnroll_NeverExceedsConfiguredBatchSize(t *testing.T) {
	responses := newMemResponseRepo()
	batches := newMemBatchRepo()
	svc := NewBatchService(batches, responses, nil)
	ctx := context.Background()
	cfg := domain.BatchConfig{BatchSize: 3, SampleFraction: 0.4, RemainderPolicy: domain.RemainderQueueForQC}

	for i := 0; i < 3; i++ {
		r := makeResponse("s1", "alice")
		require.NoError(t, responses.Create(ctx, r))
		require.NoError(t, svc.Enroll(ctx, cfg, r))
	}
	// A new response enrolls into a fresh batch, not the closed one.
	r := makeResponse("s1", "alice")
	require.NoError(t, responses.Create(ctx, r))
	require.NoError(t, svc.Enroll(ctx, cfg, r))

	batchID := r.QCBatchID
	b, err := batches.Get(context.Background(), batchID)
	require.NoError(t, err)
	assert.Len(t, b.ResponseIDs, 1)
	assert.Equal(t, domain.BatchCollecting, b.State)
}

func TestSampleIndices_DistinctAndWithinBounds(t *testing.T) {
	idx, err := sampleIndices(10, 4)
	require.NoError(t, err)
	assert.Len(t, idx, 4)
	seen := map[int]bool{}
	for _, i := range idx {
		assert.False(t, seen[i], "indices must be distinct")
		seen[i] = true
		assert.True(t, i >= 0 && i < 10)
	}
}

func TestSampleIndices_NGreaterThanTotalReturnsAll(t *testing.T) {
	idx, err := sampleIndices(3, 10)
	require.NoError(t, err)
	assert.Len(t, idx, 3)
}

func TestBatchConfig_SampleSizeRounding(t *testing.T) {
	assert.Equal(t, 2, domain.BatchConfig{BatchSize: 5, SampleFraction: 0.4}.SampleSize())
	assert.Equal(t, 1, domain.BatchConfig{BatchSize: 2, SampleFraction: 0.4}.SampleSize())
	assert.Equal(t, 0, domain.BatchConfig{BatchSize: 0, SampleFraction: 0.4}.SampleSize())
}
