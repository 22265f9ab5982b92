package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"interview-pipeline/internal/models"
)

// Memory implements Store on in-process maps. It backs tests and
// dependency-free local runs; the locking mirrors the per-row write semantics
// the Postgres implementation gets from the database.
type Memory struct {
	mu        sync.Mutex
	jobs      map[string]*models.Job
	jobsByKey map[string]string
	sessions  map[string]*models.Session
	responses map[string]*models.Response
	reports   map[string]*models.FeedbackReport // keyed by session id
	now       func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:      make(map[string]*models.Job),
		jobsByKey: make(map[string]string),
		sessions:  make(map[string]*models.Session),
		responses: make(map[string]*models.Response),
		reports:   make(map[string]*models.FeedbackReport),
		now:       time.Now,
	}
}

// SetClock overrides the time source, for tests.
func (s *Memory) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Memory) FindOrCreateJob(_ context.Context, p CreateJobParams) (models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := models.JobIdempotencyKey(p.Kind, p.SubjectID)
	if id, ok := s.jobsByKey[key]; ok {
		return *s.jobs[id], false, nil
	}

	if p.MaxAttempts == 0 {
		p.MaxAttempts = models.DefaultMaxAttempts
	}
	metadata := p.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	now := s.now()
	job := &models.Job{
		ID:             uuid.New().String(),
		Kind:           p.Kind,
		UserID:         p.UserID,
		SubjectID:      p.SubjectID,
		Status:         models.StatusQueued,
		MaxAttempts:    p.MaxAttempts,
		IdempotencyKey: key,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.jobs[job.ID] = job
	s.jobsByKey[key] = job.ID
	return *job, true, nil
}

func (s *Memory) GetJob(_ context.Context, id string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return *job, nil
}

func (s *Memory) GetJobBySubject(_ context.Context, kind, subjectID string) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.jobsByKey[models.JobIdempotencyKey(kind, subjectID)]
	if !ok {
		return models.Job{}, ErrNotFound
	}
	return *s.jobs[id], nil
}

func (s *Memory) QueuedJobs(_ context.Context, kind string, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Job
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == models.StatusQueued {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) StaleProcessingJobs(_ context.Context, kind string, olderThan time.Time) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Job
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == models.StatusProcessing &&
			job.StartedAt != nil && job.StartedAt.Before(olderThan) {
			out = append(out, *job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(*out[j].StartedAt) })
	return out, nil
}

func (s *Memory) QueueDepth(_ context.Context, kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, job := range s.jobs {
		if job.Kind == kind && job.Status == models.StatusQueued {
			n++
		}
	}
	return n, nil
}

func (s *Memory) MarkProcessing(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != models.StatusQueued {
		return false, nil
	}
	now := s.now()
	job.Status = models.StatusProcessing
	job.StartedAt = &now
	job.Attempts++
	job.UpdatedAt = now
	return true, nil
}

func (s *Memory) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	now := s.now()
	job.Status = models.StatusCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now
	return nil
}

func (s *Memory) MarkFailed(_ context.Context, id string, jobErr models.JobError) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	now := s.now()
	jobErr.At = now
	job.LastError = &jobErr
	job.UpdatedAt = now
	if job.Attempts < job.MaxAttempts {
		job.Status = models.StatusQueued
		job.CompletedAt = nil
		return true, nil
	}
	job.Status = models.StatusFailed
	job.CompletedAt = &now
	return false, nil
}

func (s *Memory) CreateSession(_ context.Context, sess models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess.Status == "" {
		sess.Status = models.SessionInProgress
	}
	now := s.now()
	if sess.StartedAt.IsZero() {
		sess.StartedAt = now
	}
	if sess.UpdatedAt.IsZero() {
		sess.UpdatedAt = now
	}
	s.sessions[sess.ID] = &sess
	return nil
}

func (s *Memory) GetSession(_ context.Context, id string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return *sess, nil
}

func (s *Memory) CompleteSession(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(id, models.SessionCompleted)
}

func (s *Memory) AbandonSession(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(id, models.SessionAbandoned)
}

func (s *Memory) transitionSession(id, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false, ErrNotFound
	}
	if sess.Status != models.SessionInProgress {
		return false, nil
	}
	now := s.now()
	sess.Status = to
	sess.CompletedAt = &now
	sess.UpdatedAt = now
	return true, nil
}

func (s *Memory) StaleInProgressSessions(_ context.Context, olderThan time.Time, limit int) ([]models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Session
	for _, sess := range s.sessions {
		if sess.Status == models.SessionInProgress && sess.UpdatedAt.Before(olderThan) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Memory) CreateResponse(_ context.Context, r models.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.responses[r.ID] = &r
	return nil
}

func (s *Memory) GetResponse(_ context.Context, id string) (models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return models.Response{}, ErrNotFound
	}
	return *r, nil
}

func (s *Memory) ResponsesBySession(_ context.Context, sessionID string) ([]models.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Response
	for _, r := range s.responses {
		if r.SessionID == sessionID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) SetResponseAudio(_ context.Context, id, audioURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[id]
	if !ok {
		return ErrNotFound
	}
	r.AudioURL = audioURL
	r.TranscriptStatus = models.TranscriptUploaded
	return nil
}

func (s *Memory) SetTranscriptStatus(_ context.Context, responseID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[responseID]
	if !ok {
		return ErrNotFound
	}
	r.TranscriptStatus = status
	return nil
}

func (s *Memory) SetTranscript(_ context.Context, responseID string, t models.Transcript, needsReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.responses[responseID]
	if !ok {
		return ErrNotFound
	}
	r.TranscriptStatus = models.TranscriptReady
	r.TranscriptText = t.Text
	r.TranscriptConfidence = t.Confidence
	r.TranscriptSegments = t.Segments
	r.TranscriptProvider = t.Provider
	r.NeedsReview = needsReview
	return nil
}

func (s *Memory) CreateFeedbackReport(_ context.Context, r models.FeedbackReport) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.SessionID]; ok {
		return false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	s.reports[r.SessionID] = &r
	return true, nil
}

func (s *Memory) GetFeedbackReport(_ context.Context, sessionID string) (models.FeedbackReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[sessionID]
	if !ok {
		return models.FeedbackReport{}, ErrNotFound
	}
	return *r, nil
}
