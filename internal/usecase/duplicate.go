package usecase

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"go.opentelemetry.io/otel"
)

// DuplicateTolerances configures the comparator thresholds.
type DuplicateTolerances struct {
	GPSTolerance          float64
	TimeTolerance         time.Duration
	AudioDurationTol      time.Duration
	AudioBitrateTolKbps   int
	AudioSizeTolBytes     int64
}

// DefaultDuplicateTolerances returns the spec's defaults.
func DefaultDuplicateTolerances() DuplicateTolerances {
	return DuplicateTolerances{
		GPSTolerance:        0.0001,
		TimeTolerance:       time.Second,
		AudioDurationTol:    time.Second,
		AudioBitrateTolKbps: 1,
		AudioSizeTolBytes:   1024,
	}
}

// DuplicateGroup is one equivalence class found by the detector.
type DuplicateGroup struct {
	Kept    string
	Removed []string
}

// DuplicateDetectorService finds and abandons duplicate submissions.
type DuplicateDetectorService struct {
	Responses  domain.ResponseRepository
	Tolerances DuplicateTolerances
	// UpdateBatchSize controls how many abandon writes are issued per
	// round-trip.
	UpdateBatchSize int
}

// NewDuplicateDetectorService constructs a DuplicateDetectorService.
func NewDuplicateDetectorService(responses domain.ResponseRepository, tol DuplicateTolerances) DuplicateDetectorService {
	return DuplicateDetectorService{Responses: responses, Tolerances: tol, UpdateBatchSize: 100}
}

// Run scans a date window, groups candidates to avoid O(N^2) comparison,
// marks duplicates within each equivalence class abandoned (keeping the
// earliest), and returns a report of kept/removed per class.
func (s DuplicateDetectorService) Run(ctx domain.Context, mode domain.SurveyMode, from, to time.Time) ([]DuplicateGroup, error) {
	tr := otel.Tracer("usecase.duplicate")
	ctx, span := tr.Start(ctx, "DuplicateDetectorService.Run")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	candidates, err := s.Responses.ListForDuplicateScan(ctx, mode, from, to)
	if err != nil {
		return nil, fmt.Errorf("op=Run list candidates: %w", err)
	}

	groups := groupCandidates(candidates, mode)

	var report []DuplicateGroup
	var toAbandon []string
	for _, group := range groups {
		classes := partitionByEquivalence(group, mode, s.Tolerances)
		for _, class := range classes {
			if len(class) < 2 {
				continue
			}
			sort.Slice(class, func(i, j int) bool { return class[i].CreatedAt.Before(class[j].CreatedAt) })
			kept := class[0]
			removed := make([]string, 0, len(class)-1)
			for _, r := range class[1:] {
				removed = append(removed, r.ID)
				toAbandon = append(toAbandon, r.ID)
			}
			report = append(report, DuplicateGroup{Kept: kept.ID, Removed: removed})
		}
	}

	for i := 0; i < len(toAbandon); i += s.UpdateBatchSize {
		end := i + s.UpdateBatchSize
		if end > len(toAbandon) {
			end = len(toAbandon)
		}
		for _, id := range toAbandon[i:end] {
			// One failed update does not abort the run; failures are isolated per class.
			if err := s.Responses.SetStatus(ctx, id, domain.StatusAbandoned, "Duplicate response"); err != nil {
				lg.Error("failed to mark duplicate abandoned", slog.String("response_id", id), slog.Any("error", err))
			}
		}
	}

	observability.DuplicatesFoundTotal.WithLabelValues(string(mode)).Add(float64(len(toAbandon)))
	lg.Info("duplicate detector run complete", slog.Int("groups", len(report)), slog.Int("abandoned", len(toAbandon)))
	return report, nil
}

type groupKey struct {
	interviewer string
	key         string // surveyID for CAPI, callID for CATI
}

func groupCandidates(candidates []domain.Response, mode domain.SurveyMode) map[groupKey][]domain.Response {
	groups := map[groupKey][]domain.Response{}
	for _, r := range candidates {
		var key groupKey
		if mode == domain.ModeCATI {
			key = groupKey{interviewer: r.InterviewerID, key: r.CallID}
		} else {
			key = groupKey{interviewer: r.InterviewerID, key: r.SurveyID}
		}
		groups[key] = append(groups[key], r)
	}
	return groups
}

// partitionByEquivalence performs pairwise comparison within a group and
// returns connected components under the mode-specific comparator.
func partitionByEquivalence(group []domain.Response, mode domain.SurveyMode, tol DuplicateTolerances) [][]domain.Response {
	n := len(group)
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b int) {
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var dup bool
			if mode == domain.ModeCATI {
				dup = isDuplicateCATI(group[i], group[j], tol)
			} else {
				dup = isDuplicateCAPI(group[i], group[j], tol)
			}
			if dup {
				union(i, j)
			}
		}
	}

	classes := map[int][]domain.Response{}
	for i, r := range group {
		root := find(i)
		classes[root] = append(classes[root], r)
	}
	out := make([][]domain.Response, 0, len(classes))
	for _, c := range classes {
		out = append(out, c)
	}
	return out
}

// isDuplicateCAPI implements the CAPI comparator: byte-equal normalized
// responses, same audio signature, same interviewer, startTime within 1s,
// and GPS within tolerance.
func isDuplicateCAPI(a, b domain.Response, tol DuplicateTolerances) bool {
	if a.InterviewerID != b.InterviewerID {
		return false
	}
	if !domain.TriplesEqual(domain.NormalizedTriples(a.Answers), domain.NormalizedTriples(b.Answers)) {
		return false
	}
	if absDuration(a.StartTime.Sub(b.StartTime)) > tol.TimeTolerance {
		return false
	}
	if !audioSignatureEqual(a.Audio, b.Audio, tol) {
		return false
	}
	if !gpsEqual(a.Location, b.Location, tol.GPSTolerance) {
		return false
	}
	return true
}

// isDuplicateCATI implements the CATI comparator: same interviewer,
// byte-equal normalized responses, startTime within 1s, and the same
// non-empty call identifier.
func isDuplicateCATI(a, b domain.Response, tol DuplicateTolerances) bool {
	if a.InterviewerID != b.InterviewerID {
		return false
	}
	if a.CallID == "" || a.CallID != b.CallID {
		return false
	}
	if !domain.TriplesEqual(domain.NormalizedTriples(a.Answers), domain.NormalizedTriples(b.Answers)) {
		return false
	}
	if absDuration(a.StartTime.Sub(b.StartTime)) > tol.TimeTolerance {
		return false
	}
	return true
}

func audioSignatureEqual(a, b *domain.AudioRecording, tol DuplicateTolerances) bool {
	if a == nil && b == nil {
		return true // both-missing audio treated as equal
	}
	if a == nil || b == nil {
		return false
	}
	if a.Format != b.Format || a.Codec != b.Codec {
		return false
	}
	if math.Abs(a.Duration-b.Duration) > tol.AudioDurationTol.Seconds() {
		return false
	}
	sizeDiff := a.FileSize - b.FileSize
	if sizeDiff < 0 {
		sizeDiff = -sizeDiff
	}
	if sizeDiff > tol.AudioSizeTolBytes {
		return false
	}
	bitrateDiff := a.Bitrate - b.Bitrate
	if bitrateDiff < 0 {
		bitrateDiff = -bitrateDiff
	}
	if bitrateDiff > tol.AudioBitrateTolKbps {
		return false
	}
	return true
}

func gpsEqual(a, b *domain.GeoPoint, tol float64) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return math.Abs(a.Lat-b.Lat) <= tol && math.Abs(a.Lng-b.Lng) <= tol
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
