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

func sameAnswers() []domain.AnsweredQuestion {
	return []domain.AnsweredQuestion{
		{QuestionID: "q1", QuestionType: "text", Value: domain.ResponseValue{Kind: domain.KindStr, Str: "Yes"}},
		{QuestionID: "q2", QuestionType: "text", Value: domain.ResponseValue{Kind: domain.KindNum, Num: 42}},
	}
}

func TestDuplicateDetector_CAPI_KeepsEarliestMarksRestAbandoned(t *testing.T) {
	responses := newMemResponseRepo()
	ctx := context.Background()
	base := time.Now().UTC()

	early := &domain.Response{
		ID: uuid.NewString(), SurveyID: "s1", InterviewerID: "alice", Mode: domain.ModeCAPI,
		StartTime: base, Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.5726, Lng: 88.3639},
		Audio: &domain.AudioRecording{Duration: 89, Format: "m4a", Codec: "aac", Bitrate: 64},
		CreatedAt: base,
	}
	late := &domain.Response{
		ID: uuid.NewString(), SurveyID: "s1", InterviewerID: "alice", Mode: domain.ModeCAPI,
		StartTime: base.Add(500 * time.Millisecond), Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.5726, Lng: 88.3640},
		Audio: &domain.AudioRecording{Duration: 90, Format: "m4a", Codec: "aac", Bitrate: 64},
		CreatedAt: base.Add(time.Minute),
	}
	notDup := &domain.Response{
		ID: uuid.NewString(), SurveyID: "s1", InterviewerID: "alice", Mode: domain.ModeCAPI,
		StartTime: base, Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.5726, Lng: 88.3660},
		CreatedAt: base.Add(2 * time.Minute),
	}
	require.NoError(t, responses.Create(ctx, early))
	require.NoError(t, responses.Create(ctx, late))
	require.NoError(t, responses.Create(ctx, notDup))

	svc := NewDuplicateDetectorService(responses, DefaultDuplicateTolerances())
	groups, err := svc.Run(ctx, domain.ModeCAPI, base.Add(-time.Hour), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, early.ID, groups[0].Kept)
	assert.Equal(t, []string{late.ID}, groups[0].Removed)

	storedLate, err := responses.Get(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAbandoned, storedLate.Status)
	assert.Equal(t, "Duplicate response", storedLate.AbandonedReason)

	storedEarly, err := responses.Get(ctx, early.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusAbandoned, storedEarly.Status)

	storedNotDup, err := responses.Get(ctx, notDup.ID)
	require.NoError(t, err)
	assert.NotEqual(t, domain.StatusAbandoned, storedNotDup.Status)
}

func TestIsDuplicateCAPI_GPSBoundary(t *testing.T) {
	tol := DefaultDuplicateTolerances()
	base := time.Now().UTC()
	a := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.5726, Lng: 88.3639}}

	withinTol := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.57265, Lng: 88.3639}}
	assert.True(t, isDuplicateCAPI(a, withinTol, tol), "0.00005 deg (~5.5m) must be within tolerance")

	outsideTol := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Location: &domain.GeoPoint{Lat: 22.5728, Lng: 88.3639}}
	assert.False(t, isDuplicateCAPI(a, outsideTol, tol), "0.0002 deg (~22m) must exceed tolerance")
}

func TestIsDuplicateCAPI_AudioDurationBoundary(t *testing.T) {
	tol := DefaultDuplicateTolerances()
	base := time.Now().UTC()
	a := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Audio: &domain.AudioRecording{Duration: 90, Format: "m4a", Codec: "aac"}}

	within := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Audio: &domain.AudioRecording{Duration: 89, Format: "m4a", Codec: "aac"}}
	assert.True(t, isDuplicateCAPI(a, within, tol), "1s duration difference is a duplicate")

	outside := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), Audio: &domain.AudioRecording{Duration: 88, Format: "m4a", Codec: "aac"}}
	assert.False(t, isDuplicateCAPI(a, outside, tol), "2s duration difference is not a duplicate")
}

func TestIsDuplicateCAPI_BothMissingAudioTreatedEqual(t *testing.T) {
	tol := DefaultDuplicateTolerances()
	base := time.Now().UTC()
	a := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers()}
	b := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers()}
	assert.True(t, isDuplicateCAPI(a, b, tol))
}

func TestIsDuplicateCATI_RequiresSameNonEmptyCallID(t *testing.T) {
	tol := DefaultDuplicateTolerances()
	base := time.Now().UTC()
	a := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), CallID: "call-1"}
	b := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), CallID: "call-1"}
	assert.True(t, isDuplicateCATI(a, b, tol))

	noCallID := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers()}
	assert.False(t, isDuplicateCATI(a, noCallID, tol), "empty call id never matches")

	diffCallID := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers(), CallID: "call-2"}
	assert.False(t, isDuplicateCATI(a, diffCallID, tol))
}

func TestIsDuplicateCAPI_DifferentInterviewerNeverMatches(t *testing.T) {
	tol := DefaultDuplicateTolerances()
	base := time.Now().UTC()
	a := domain.Response{InterviewerID: "alice", StartTime: base, Answers: sameAnswers()}
	b := domain.Response{InterviewerID: "bob", StartTime: base, Answers: sameAnswers()}
	assert.False(t, isDuplicateCAPI(a, b, tol))
}
