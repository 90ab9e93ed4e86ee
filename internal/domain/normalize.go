package domain

import (
	"sort"
	"strconv"
	"strings"
)

// NormalizedTriple is one {questionId, questionType, normalizedValue} entry
// used by the Duplicate Detector for byte-equal comparison.
type NormalizedTriple struct {
	QuestionID   string
	QuestionType string
	Value        ResponseValue
}

// Normalize applies the Duplicate Detector's total normalization function
// over a ResponseValue: strings trimmed and lowercased, numbers/booleans
// compared as-is, lists normalized-then-sorted, maps key-sorted and
// recursively normalized.
func Normalize(v ResponseValue) ResponseValue {
	switch v.Kind {
	case KindStr:
		return ResponseValue{Kind: KindStr, Str: strings.ToLower(strings.TrimSpace(v.Str))}
	case KindList:
		out := make([]ResponseValue, len(v.List))
		for i, e := range v.List {
			out[i] = Normalize(e)
		}
		sort.Slice(out, func(i, j int) bool { return valueKey(out[i]) < valueKey(out[j]) })
		return ResponseValue{Kind: KindList, List: out}
	case KindMap:
		out := make(map[string]ResponseValue, len(v.Map))
		for k, e := range v.Map {
			out[k] = Normalize(e)
		}
		return ResponseValue{Kind: KindMap, Map: out}
	default:
		return v
	}
}

// valueKey produces a stable sort key for normalized list elements.
func valueKey(v ResponseValue) string {
	switch v.Kind {
	case KindStr:
		return "s:" + v.Str
	case KindNum:
		return "n:" + strconv.FormatFloat(v.Num, 'f', -1, 64)
	case KindBool:
		if v.Bool {
			return "b:1"
		}
		return "b:0"
	case KindList:
		keys := make([]string, len(v.List))
		for i, e := range v.List {
			keys[i] = valueKey(e)
		}
		return "l:" + strings.Join(keys, ",")
	case KindMap:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + "=" + valueKey(v.Map[k])
		}
		return "m:" + strings.Join(parts, ",")
	default:
		return "z"
	}
}

// NormalizedTriples builds the sorted comparison list for a Response's
// answers: the final comparison is on the sorted list of
// {questionId, questionType, normalizedValue} triples.
func NormalizedTriples(answers []AnsweredQuestion) []NormalizedTriple {
	out := make([]NormalizedTriple, len(answers))
	for i, a := range answers {
		out[i] = NormalizedTriple{QuestionID: a.QuestionID, QuestionType: a.QuestionType, Value: Normalize(a.Value)}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out
}

// TriplesEqual reports whether two normalized triple lists are identical.
func TriplesEqual(a, b []NormalizedTriple) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].QuestionID != b[i].QuestionID || a[i].QuestionType != b[i].QuestionType {
			return false
		}
		if valueKey(a[i].Value) != valueKey(b[i].Value) {
			return false
		}
	}
	return true
}
