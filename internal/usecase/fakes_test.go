package usecase

import (
	"sync"
	"time"

	"github.com/fieldops/surveypipe/internal/domain"
)

// In-memory fakes implementing internal/domain's repository ports, used to
// exercise usecase logic without a real Postgres/Redis backend.

type memSessionRepo struct {
	mu   sync.Mutex
	byID map[string]*domain.InterviewSession
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{byID: map[string]*domain.InterviewSession{}}
}

func (r *memSessionRepo) Create(ctx domain.Context, s *domain.InterviewSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.byID[s.ID] = &cp
	return nil
}

func (r *memSessionRepo) Get(ctx domain.Context, id string) (*domain.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *memSessionRepo) FindActiveByOwner(ctx domain.Context, surveyID, interviewerID string) (*domain.InterviewSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.byID {
		if s.SurveyID == surveyID && s.InterviewerID == interviewerID &&
			(s.State == domain.SessionActive || s.State == domain.SessionPaused) {
			cp := *s
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memSessionRepo) UpdateTentative(ctx domain.Context, sessionID, questionID string, v domain.ResponseValue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	if s.Tentative == nil {
		s.Tentative = map[string]domain.ResponseValue{}
	}
	s.Tentative[questionID] = v
	return nil
}

func (r *memSessionRepo) UpdatePosition(ctx domain.Context, sessionID string, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.Current = pos
	return nil
}

func (r *memSessionRepo) MarkReached(ctx domain.Context, sessionID string, pos domain.Position) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.MarkReached(pos)
	return nil
}

func (r *memSessionRepo) SetState(ctx domain.Context, sessionID string, state domain.SessionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	s.State = state
	return nil
}

type memSurveyRepo struct {
	byID map[string]*domain.Survey
}

func newMemSurveyRepo(surveys ...*domain.Survey) *memSurveyRepo {
	m := &memSurveyRepo{byID: map[string]*domain.Survey{}}
	for _, s := range surveys {
		m.byID[s.ID] = s
	}
	return m
}

func (r *memSurveyRepo) Get(ctx domain.Context, id string) (*domain.Survey, error) {
	s, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s, nil
}

type memResponseRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.Response
	bySession map[string]string // sessionID -> responseID
}

func newMemResponseRepo() *memResponseRepo {
	return &memResponseRepo{byID: map[string]*domain.Response{}, bySession: map[string]string{}}
}

func (r *memResponseRepo) Create(ctx domain.Context, resp *domain.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if resp.SessionID != "" {
		if _, exists := r.bySession[resp.SessionID]; exists {
			return domain.ErrConflict
		}
	}
	cp := *resp
	r.byID[resp.ID] = &cp
	if resp.SessionID != "" {
		r.bySession[resp.SessionID] = resp.ID
	}
	return nil
}

func (r *memResponseRepo) Get(ctx domain.Context, id string) (*domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *resp
	return &cp, nil
}

func (r *memResponseRepo) FindBySessionID(ctx domain.Context, sessionID string) (*domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memResponseRepo) SetStatus(ctx domain.Context, id string, status domain.ResponseStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	resp.Status = status
	if reason != "" {
		resp.AbandonedReason = reason
	}
	return nil
}

func (r *memResponseRepo) SetSampleFlag(ctx domain.Context, id string, sample bool, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	resp.IsSampleResponse = sample
	resp.QCBatchID = batchID
	return nil
}

func (r *memResponseRepo) SetQCBatch(ctx domain.Context, id string, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	resp.QCBatchID = batchID
	return nil
}

func (r *memResponseRepo) AcquireLease(ctx domain.Context, id, reviewer string, now, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if resp.ReviewAssignment != nil && !resp.ReviewAssignment.Expired(now) && resp.ReviewAssignment.AssignedTo != reviewer {
		return false, nil
	}
	resp.ReviewAssignment = &domain.ReviewAssignment{AssignedTo: reviewer, AssignedAt: now, ExpiresAt: expiresAt}
	return true, nil
}

func (r *memResponseRepo) ReleaseLease(ctx domain.Context, id, reviewer string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if resp.ReviewAssignment == nil {
		return nil
	}
	if resp.ReviewAssignment.AssignedTo != reviewer {
		return domain.ErrForbidden
	}
	resp.ReviewAssignment = nil
	return nil
}

func (r *memResponseRepo) SubmitVerification(ctx domain.Context, id, reviewerID string, status domain.ResponseStatus, v domain.VerificationData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	resp, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	if resp.Status != domain.StatusPendingApproval {
		return domain.ErrConflict
	}
	if resp.ReviewAssignment != nil && resp.ReviewAssignment.AssignedTo != reviewerID {
		return domain.ErrForbidden
	}
	resp.Status = status
	vc := v
	resp.Verification = &vc
	resp.ReviewAssignment = nil
	return nil
}

func (r *memResponseRepo) NextForReview(ctx domain.Context, scope domain.ReviewScope, filters domain.ReviewFilters, now time.Time) (*domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var candidates []*domain.Response
	for _, resp := range r.byID {
		if resp.Status != domain.StatusPendingApproval {
			continue
		}
		if resp.ReviewAssignment != nil && !resp.ReviewAssignment.Expired(now) {
			continue
		}
		candidates = append(candidates, resp)
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortByCreatedAt(candidates)
	cp := *candidates[0]
	return &cp, nil
}

func sortByCreatedAt(rs []*domain.Response) {
	for i := 1; i < len(rs); i++ {
		for j := i; j > 0 && rs[j-1].CreatedAt.After(rs[j].CreatedAt); j-- {
			rs[j-1], rs[j] = rs[j], rs[j-1]
		}
	}
}

func (r *memResponseRepo) FindActiveLease(ctx domain.Context, reviewer string, now time.Time) (*domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, resp := range r.byID {
		if resp.ReviewAssignment != nil && resp.ReviewAssignment.AssignedTo == reviewer && !resp.ReviewAssignment.Expired(now) {
			cp := *resp
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memResponseRepo) ListForDuplicateScan(ctx domain.Context, surveyMode domain.SurveyMode, from, to time.Time) ([]domain.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Response
	for _, resp := range r.byID {
		if resp.Mode == surveyMode {
			out = append(out, *resp)
		}
	}
	return out, nil
}

type memBatchRepo struct {
	mu        sync.Mutex
	byID      map[string]*domain.QCBatch
	collecting map[string]string // "survey/interviewer" -> batchID
}

func newMemBatchRepo() *memBatchRepo {
	return &memBatchRepo{byID: map[string]*domain.QCBatch{}, collecting: map[string]string{}}
}

func (r *memBatchRepo) FindCollecting(ctx domain.Context, surveyID, interviewerID string) (*domain.QCBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.collecting[surveyID+"/"+interviewerID]
	if !ok {
		return nil, nil
	}
	cp := *r.byID[id]
	return &cp, nil
}

func (r *memBatchRepo) Create(ctx domain.Context, b *domain.QCBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *b
	r.byID[b.ID] = &cp
	r.collecting[b.SurveyID+"/"+b.InterviewerID] = b.ID
	return nil
}

func (r *memBatchRepo) AppendResponse(ctx domain.Context, batchID, responseID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[batchID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	b.ResponseIDs = append(b.ResponseIDs, responseID)
	return len(b.ResponseIDs), nil
}

func (r *memBatchRepo) TransitionToProcessing(ctx domain.Context, batchID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[batchID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.State != domain.BatchCollecting {
		return false, nil
	}
	b.State = domain.BatchProcessing
	delete(r.collecting, b.SurveyID+"/"+b.InterviewerID)
	return true, nil
}

func (r *memBatchRepo) SetRemainingDecision(ctx domain.Context, batchID string, policy domain.RemainderPolicy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	b.RemainingDecision = policy
	return nil
}

func (r *memBatchRepo) Close(ctx domain.Context, batchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[batchID]
	if !ok {
		return domain.ErrNotFound
	}
	b.State = domain.BatchClosed
	return nil
}

func (r *memBatchRepo) Get(ctx domain.Context, id string) (*domain.QCBatch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *b
	cp.ResponseIDs = append([]string(nil), b.ResponseIDs...)
	return &cp, nil
}

type memSetDataRepo struct {
	mu      sync.Mutex
	entries []*domain.SetData
}

func newMemSetDataRepo() *memSetDataRepo { return &memSetDataRepo{} }

func (r *memSetDataRepo) LastSetNumber(ctx domain.Context, surveyID string, mode domain.SurveyMode) (int, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *domain.SetData
	for _, d := range r.entries {
		if d.SurveyID != surveyID || d.Mode != mode {
			continue
		}
		if last == nil || d.CreatedAt.After(last.CreatedAt) {
			last = d
		}
	}
	if last == nil {
		return 0, false, nil
	}
	return last.SetNumber, true, nil
}

func (r *memSetDataRepo) Append(ctx domain.Context, d *domain.SetData) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, d)
	return nil
}

type memTenantRepo struct {
	byID map[string]*domain.TenantConfig
}

func newMemTenantRepo(cfgs ...*domain.TenantConfig) *memTenantRepo {
	m := &memTenantRepo{byID: map[string]*domain.TenantConfig{}}
	for _, c := range cfgs {
		m.byID[c.CompanyID] = c
	}
	return m
}

func (r *memTenantRepo) Get(ctx domain.Context, companyID string) (*domain.TenantConfig, error) {
	c, ok := r.byID[companyID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

type memLeaseStore struct {
	mu    sync.Mutex
	held  map[string]string
}

func newMemLeaseStore() *memLeaseStore { return &memLeaseStore{held: map[string]string{}} }

func (l *memLeaseStore) TryAcquire(ctx domain.Context, key, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur != holder {
		return false, nil
	}
	l.held[key] = holder
	return true, nil
}

func (l *memLeaseStore) Release(ctx domain.Context, key, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[key]; ok && cur == holder {
		delete(l.held, key)
	}
	return nil
}

type fakeEventPublisher struct {
	mu           sync.Mutex
	batchClosed  []string
}

func (f *fakeEventPublisher) PublishBatchClosed(ctx domain.Context, batchID, surveyID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchClosed = append(f.batchClosed, batchID)
	return nil
}

func (f *fakeEventPublisher) PublishReconcileTrigger(ctx domain.Context, mode domain.SurveyMode, from, to time.Time) error {
	return nil
}

func (f *fakeEventPublisher) PublishCATIWebhookRaw(ctx domain.Context, companyID string, raw []byte, contentType string) error {
	return nil
}
