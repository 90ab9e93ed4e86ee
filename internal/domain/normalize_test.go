package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_StringsTrimmedAndLowercased(t *testing.T) {
	got := Normalize(ResponseValue{Kind: KindStr, Str: "  Yes  "})
	assert.Equal(t, "yes", got.Str)
}

func TestNormalize_NumbersAndBoolsUnchanged(t *testing.T) {
	assert.Equal(t, 42.0, Normalize(ResponseValue{Kind: KindNum, Num: 42}).Num)
	assert.Equal(t, true, Normalize(ResponseValue{Kind: KindBool, Bool: true}).Bool)
}

func TestNormalize_ListsSortedAfterNormalization(t *testing.T) {
	v := ResponseValue{Kind: KindList, List: []ResponseValue{
		{Kind: KindStr, Str: "Banana"},
		{Kind: KindStr, Str: "apple"},
	}}
	got := Normalize(v)
	assert.Len(t, got.List, 2)
	assert.Equal(t, "apple", got.List[0].Str)
	assert.Equal(t, "banana", got.List[1].Str)
}

func TestNormalize_MapsRecursivelyNormalized(t *testing.T) {
	v := ResponseValue{Kind: KindMap, Map: map[string]ResponseValue{
		"a": {Kind: KindStr, Str: " X "},
	}}
	got := Normalize(v)
	assert.Equal(t, "x", got.Map["a"].Str)
}

func TestNormalizedTriples_SortedByQuestionID(t *testing.T) {
	answers := []AnsweredQuestion{
		{QuestionID: "q2", QuestionType: "text", Value: ResponseValue{Kind: KindStr, Str: "b"}},
		{QuestionID: "q1", QuestionType: "text", Value: ResponseValue{Kind: KindStr, Str: "a"}},
	}
	triples := NormalizedTriples(answers)
	assert.Equal(t, "q1", triples[0].QuestionID)
	assert.Equal(t, "q2", triples[1].QuestionID)
}

func TestTriplesEqual_RoundTripIdempotent(t *testing.T) {
	answers := []AnsweredQuestion{
		{QuestionID: "q1", QuestionType: "text", Value: ResponseValue{Kind: KindStr, Str: "Yes"}},
		{QuestionID: "q2", QuestionType: "number", Value: ResponseValue{Kind: KindNum, Num: 7}},
	}
	a := NormalizedTriples(answers)
	b := NormalizedTriples(answers)
	assert.True(t, TriplesEqual(a, b), "normalizing twice must produce byte-identical triples")
}

func TestTriplesEqual_DifferByCaseButEqualAfterNormalization(t *testing.T) {
	a := NormalizedTriples([]AnsweredQuestion{{QuestionID: "q1", QuestionType: "text", Value: ResponseValue{Kind: KindStr, Str: "YES"}}})
	b := NormalizedTriples([]AnsweredQuestion{{QuestionID: "q1", QuestionType: "text", Value: ResponseValue{Kind: KindStr, Str: "yes"}}})
	assert.True(t, TriplesEqual(a, b))
}

func TestTriplesEqual_DifferentLengthsNotEqual(t *testing.T) {
	a := NormalizedTriples([]AnsweredQuestion{{QuestionID: "q1", Value: ResponseValue{Kind: KindStr, Str: "a"}}})
	b := NormalizedTriples(nil)
	assert.False(t, TriplesEqual(a, b))
}
