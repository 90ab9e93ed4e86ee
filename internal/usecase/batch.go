package usecase

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/fieldops/surveypipe/internal/adapter/observability"
	"github.com/fieldops/surveypipe/internal/domain"
	obsctx "github.com/fieldops/surveypipe/internal/observability"
	"go.opentelemetry.io/otel"
)

// BatchService implements the Batch Manager.
type BatchService struct {
	Batches   domain.BatchRepository
	Responses domain.ResponseRepository
	Events    domain.EventPublisher
}

// NewBatchService constructs a BatchService.
func NewBatchService(batches domain.BatchRepository, responses domain.ResponseRepository, events domain.EventPublisher) BatchService {
	return BatchService{Batches: batches, Responses: responses, Events: events}
}

// Enroll appends a completed response to its (survey, interviewer) batch,
// creating one if needed, and closes/samples the batch once it reaches the
// configured size.
func (s BatchService) Enroll(ctx domain.Context, cfg domain.BatchConfig, response *domain.Response) error {
	tr := otel.Tracer("usecase.batch")
	ctx, span := tr.Start(ctx, "BatchService.Enroll")
	defer span.End()
	lg := obsctx.LoggerFromContext(ctx)

	batch, err := s.Batches.FindCollecting(ctx, response.SurveyID, response.InterviewerID)
	if err != nil {
		return fmt.Errorf("op=Enroll find collecting batch: %w", err)
	}
	if batch == nil {
		batch = &domain.QCBatch{
			ID:            uuid.NewString(),
			SurveyID:      response.SurveyID,
			InterviewerID: response.InterviewerID,
			Config:        cfg,
			State:         domain.BatchCollecting,
			CreatedAt:     time.Now().UTC(),
		}
		if err := s.Batches.Create(ctx, batch); err != nil {
			return fmt.Errorf("op=Enroll create batch: %w", err)
		}
	}

	if err := s.Responses.SetQCBatch(ctx, response.ID, batch.ID); err != nil {
		return fmt.Errorf("op=Enroll set qc batch: %w", err)
	}
	size, err := s.Batches.AppendResponse(ctx, batch.ID, response.ID)
	if err != nil {
		return fmt.Errorf("op=Enroll append: %w", err)
	}
	response.QCBatchID = batch.ID
	lg.Info("response enrolled in batch", slog.String("response_id", response.ID), slog.String("batch_id", batch.ID), slog.Int("size", size))

	if size < batch.Config.BatchSize {
		return nil
	}

	// Compare-and-set serializes sampling: only the enroll call that
	// observes the configured size wins the transition.
	won, err := s.Batches.TransitionToProcessing(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("op=Enroll transition: %w", err)
	}
	if !won {
		return nil
	}

	closedBatch, err := s.Batches.Get(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("op=Enroll reload batch: %w", err)
	}
	if err := s.closeBatch(ctx, closedBatch); err != nil {
		return err
	}
	return nil
}

// closeBatch draws the sample exactly once at closure and applies the
// remainder policy to the un-sampled responses.
func (s BatchService) closeBatch(ctx domain.Context, batch *domain.QCBatch) error {
	lg := obsctx.LoggerFromContext(ctx)

	sampleSize := batch.Config.SampleSize()
	sampled, err := sampleIndices(len(batch.ResponseIDs), sampleSize)
	if err != nil {
		return fmt.Errorf("op=closeBatch sample: %w", err)
	}
	sampledSet := map[int]struct{}{}
	for _, i := range sampled {
		sampledSet[i] = struct{}{}
	}

	for i, rid := range batch.ResponseIDs {
		if _, isSample := sampledSet[i]; isSample {
			if err := s.Responses.SetSampleFlag(ctx, rid, true, batch.ID); err != nil {
				return fmt.Errorf("op=closeBatch mark sample: %w", err)
			}
			continue
		}
		switch batch.Config.RemainderPolicy {
		case domain.RemainderAutoApprove:
			if err := s.Responses.SetStatus(ctx, rid, domain.StatusApproved, ""); err != nil {
				return fmt.Errorf("op=closeBatch auto approve: %w", err)
			}
		case domain.RemainderAutoReject:
			if err := s.Responses.SetStatus(ctx, rid, domain.StatusRejected, ""); err != nil {
				return fmt.Errorf("op=closeBatch auto reject: %w", err)
			}
		default:
			// queued_for_qc: response stays Pending_Approval.
		}
	}

	if err := s.Batches.SetRemainingDecision(ctx, batch.ID, batch.Config.RemainderPolicy); err != nil {
		return fmt.Errorf("op=closeBatch set remaining decision: %w", err)
	}

	if err := s.Batches.Close(ctx, batch.ID); err != nil {
		return fmt.Errorf("op=closeBatch close: %w", err)
	}

	observability.BatchesClosedTotal.WithLabelValues(batch.SurveyID).Inc()
	observability.ResponsesSampledTotal.WithLabelValues(batch.SurveyID).Add(float64(len(sampled)))

	lg.Info("batch closed and sampled", slog.String("batch_id", batch.ID), slog.Int("sample_size", sampleSize), slog.String("remainder_policy", string(batch.Config.RemainderPolicy)))
	if s.Events != nil {
		if err := s.Events.PublishBatchClosed(ctx, batch.ID, batch.SurveyID); err != nil {
			lg.Error("failed to publish batch closed event", slog.Any("error", err))
		}
	}
	return nil
}

// sampleIndices uniformly draws n distinct indices from [0, total) using
// crypto/rand (the sample determines which respondents get reviewed, so
// math/rand's predictability is undesirable here).
func sampleIndices(total, n int) ([]int, error) {
	if n >= total {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out, nil
	}
	pool := make([]int, total)
	for i := range pool {
		pool[i] = i
	}
	for i := 0; i < n; i++ {
		j, err := randInt(len(pool) - i)
		if err != nil {
			return nil, err
		}
		j += i
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:n], nil
}

func randInt(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
