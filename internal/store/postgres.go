package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"interview-pipeline/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema creates the tables and indexes if missing.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

const jobColumns = `id, kind, user_id, subject_id, status, attempts, max_attempts,
	last_error, last_error_code, last_error_at, started_at, completed_at,
	idempotency_key, metadata, created_at, updated_at`

// FindOrCreateJob inserts a job keyed by its idempotency key. A concurrent or
// repeated trigger for the same subject loses the insert race and gets the
// existing row back instead.
func (s *Postgres) FindOrCreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error) {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = models.DefaultMaxAttempts
	}
	if p.Metadata == nil {
		p.Metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(p.Metadata)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("marshal metadata: %w", err)
	}

	key := models.JobIdempotencyKey(p.Kind, p.SubjectID)
	id := uuid.New().String()

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO jobs (id, kind, user_id, subject_id, status, attempts, max_attempts, idempotency_key, metadata)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, id, p.Kind, p.UserID, p.SubjectID, models.StatusQueued, p.MaxAttempts, key, metadataJSON)
	if err != nil {
		return models.Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	created := tag.RowsAffected() == 1
	job, err := s.jobByKey(ctx, key)
	if err != nil {
		return models.Job{}, false, err
	}
	return job, created, nil
}

func (s *Postgres) jobByKey(ctx context.Context, key string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE idempotency_key = $1`, key)
	return scanJob(row)
}

// GetJob fetches a job by id.
func (s *Postgres) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	return scanJob(row)
}

// GetJobBySubject fetches the job for a kind/subject pair.
func (s *Postgres) GetJobBySubject(ctx context.Context, kind, subjectID string) (models.Job, error) {
	return s.jobByKey(ctx, models.JobIdempotencyKey(kind, subjectID))
}

// QueuedJobs returns up to limit queued jobs oldest first.
func (s *Postgres) QueuedJobs(ctx context.Context, kind string, limit int) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = $1 AND status = $2
		ORDER BY created_at ASC
		LIMIT $3
	`, kind, models.StatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("query queued jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// StaleProcessingJobs returns processing jobs whose attempt started before
// the cutoff, presumed abandoned by a crashed worker.
func (s *Postgres) StaleProcessingJobs(ctx context.Context, kind string, olderThan time.Time) ([]models.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = $1 AND status = $2 AND started_at < $3
		ORDER BY started_at ASC
	`, kind, models.StatusProcessing, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query stale jobs: %w", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// QueueDepth counts queued jobs for a pipeline.
func (s *Postgres) QueueDepth(ctx context.Context, kind string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM jobs WHERE kind = $1 AND status = $2
	`, kind, models.StatusQueued).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count queued jobs: %w", err)
	}
	return n, nil
}

// MarkProcessing claims a queued job in one conditional round-trip. The
// status guard makes the claim atomic: two concurrent claims cannot both win.
func (s *Postgres) MarkProcessing(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, started_at = NOW(), attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusQueued)
	if err != nil {
		return false, fmt.Errorf("mark processing: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted transitions a job to completed. Idempotent; a second call
// re-stamps completion time.
func (s *Postgres) MarkCompleted(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, completed_at = NOW(), updated_at = NOW() WHERE id = $1
	`, id, models.StatusCompleted)
	return err
}

// MarkFailed records the error and either requeues the job (attempts remain)
// or fails it terminally. Returns true when a retry is pending.
func (s *Postgres) MarkFailed(ctx context.Context, id string, jobErr models.JobError) (bool, error) {
	var status string
	err := s.pool.QueryRow(ctx, `
		UPDATE jobs SET
			status = CASE WHEN attempts < max_attempts THEN $2 ELSE $3 END,
			completed_at = CASE WHEN attempts < max_attempts THEN NULL ELSE NOW() END,
			last_error = $4, last_error_code = $5, last_error_at = NOW(),
			updated_at = NOW()
		WHERE id = $1
		RETURNING status
	`, id, models.StatusQueued, models.StatusFailed, jobErr.Message, jobErr.Code).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return status == models.StatusQueued, nil
}

// CreateSession inserts a session row.
func (s *Postgres) CreateSession(ctx context.Context, sess models.Session) error {
	if sess.Status == "" {
		sess.Status = models.SessionInProgress
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sessions (id, user_id, status) VALUES ($1, $2, $3)
	`, sess.ID, sess.UserID, sess.Status)
	return err
}

// GetSession fetches a session by id.
func (s *Postgres) GetSession(ctx context.Context, id string) (models.Session, error) {
	var sess models.Session
	var completed pgtype.Timestamptz
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, status, started_at, completed_at, updated_at FROM sessions WHERE id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.StartedAt, &completed, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CompletedAt = timePtr(completed)
	return sess, nil
}

// CompleteSession moves an in-progress session to completed.
func (s *Postgres) CompleteSession(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(ctx, id, models.SessionInProgress, models.SessionCompleted)
}

// AbandonSession moves an in-progress session to abandoned. A session that
// already left in_progress is skipped, which keeps the sweep idempotent.
func (s *Postgres) AbandonSession(ctx context.Context, id string) (bool, error) {
	return s.transitionSession(ctx, id, models.SessionInProgress, models.SessionAbandoned)
}

func (s *Postgres) transitionSession(ctx context.Context, id, from, to string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE sessions SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, to, from)
	if err != nil {
		return false, fmt.Errorf("transition session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// StaleInProgressSessions returns sessions idle past the cutoff, oldest first.
func (s *Postgres) StaleInProgressSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, status, started_at, completed_at, updated_at FROM sessions
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`, models.SessionInProgress, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("query stale sessions: %w", err)
	}
	defer rows.Close()

	var out []models.Session
	for rows.Next() {
		var sess models.Session
		var completed pgtype.Timestamptz
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Status, &sess.StartedAt, &completed, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.CompletedAt = timePtr(completed)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// CreateResponse inserts a response row.
func (s *Postgres) CreateResponse(ctx context.Context, r models.Response) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO responses (id, session_id, user_id, question, answer_text, audio_url, transcript_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.SessionID, r.UserID, r.Question, r.AnswerText, r.AudioURL, r.TranscriptStatus)
	return err
}

const responseColumns = `id, session_id, user_id, question, answer_text, audio_url,
	transcript_status, transcript_text, transcript_confidence, transcript_segments,
	transcript_provider, needs_review, created_at`

// GetResponse fetches a response by id.
func (s *Postgres) GetResponse(ctx context.Context, id string) (models.Response, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+responseColumns+` FROM responses WHERE id = $1`, id)
	r, err := scanResponse(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Response{}, ErrNotFound
	}
	return r, err
}

// ResponsesBySession lists a session's responses in creation order.
func (s *Postgres) ResponsesBySession(ctx context.Context, sessionID string) ([]models.Response, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+responseColumns+` FROM responses WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query responses: %w", err)
	}
	defer rows.Close()

	var out []models.Response
	for rows.Next() {
		r, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetResponseAudio records the uploaded audio location and marks the
// transcript as awaiting transcription.
func (s *Postgres) SetResponseAudio(ctx context.Context, id, audioURL string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE responses SET audio_url = $2, transcript_status = $3 WHERE id = $1
	`, id, audioURL, models.TranscriptUploaded)
	if err != nil {
		return fmt.Errorf("set response audio: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTranscriptStatus updates the user-facing transcript label.
func (s *Postgres) SetTranscriptStatus(ctx context.Context, responseID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE responses SET transcript_status = $2 WHERE id = $1
	`, responseID, status)
	return err
}

// SetTranscript writes the transcript fields and marks the response ready.
func (s *Postgres) SetTranscript(ctx context.Context, responseID string, t models.Transcript, needsReview bool) error {
	segments, err := json.Marshal(t.Segments)
	if err != nil {
		return fmt.Errorf("marshal segments: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE responses SET
			transcript_status = $2, transcript_text = $3, transcript_confidence = $4,
			transcript_segments = $5, transcript_provider = $6, needs_review = $7
		WHERE id = $1
	`, responseID, models.TranscriptReady, t.Text, t.Confidence, segments, t.Provider, needsReview)
	return err
}

// CreateFeedbackReport inserts the report unless the session already has one.
func (s *Postgres) CreateFeedbackReport(ctx context.Context, r models.FeedbackReport) (bool, error) {
	evaluation, err := json.Marshal(r.Evaluation)
	if err != nil {
		return false, fmt.Errorf("marshal evaluation: %w", err)
	}
	attemptErrors, err := json.Marshal(r.AttemptErrors)
	if err != nil {
		return false, fmt.Errorf("marshal attempt errors: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO feedback_reports
			(id, session_id, user_id, evaluation, provider, fallback, fallback_from,
			 attempt_errors, latency_ms, prompt_tokens, completion_tokens)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (session_id) DO NOTHING
	`, r.ID, r.SessionID, r.UserID, evaluation, r.Provider, r.Fallback, r.FallbackFrom,
		attemptErrors, r.LatencyMS, r.PromptTokens, r.CompletionTokens)
	if err != nil {
		return false, fmt.Errorf("insert feedback report: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetFeedbackReport fetches the report for a session.
func (s *Postgres) GetFeedbackReport(ctx context.Context, sessionID string) (models.FeedbackReport, error) {
	var r models.FeedbackReport
	var evaluation, attemptErrors []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, session_id, user_id, evaluation, provider, fallback, fallback_from,
		       attempt_errors, latency_ms, prompt_tokens, completion_tokens, created_at
		FROM feedback_reports WHERE session_id = $1
	`, sessionID).Scan(&r.ID, &r.SessionID, &r.UserID, &evaluation, &r.Provider, &r.Fallback,
		&r.FallbackFrom, &attemptErrors, &r.LatencyMS, &r.PromptTokens, &r.CompletionTokens, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.FeedbackReport{}, ErrNotFound
	}
	if err != nil {
		return models.FeedbackReport{}, fmt.Errorf("get feedback report: %w", err)
	}
	if err := json.Unmarshal(evaluation, &r.Evaluation); err != nil {
		return models.FeedbackReport{}, fmt.Errorf("unmarshal evaluation: %w", err)
	}
	if err := json.Unmarshal(attemptErrors, &r.AttemptErrors); err != nil {
		return models.FeedbackReport{}, fmt.Errorf("unmarshal attempt errors: %w", err)
	}
	return r, nil
}

func scanJob(row pgx.Row) (models.Job, error) {
	var job models.Job
	var lastErr, lastCode pgtype.Text
	var lastAt, started, completed pgtype.Timestamptz
	var metadata []byte

	err := row.Scan(&job.ID, &job.Kind, &job.UserID, &job.SubjectID, &job.Status,
		&job.Attempts, &job.MaxAttempts, &lastErr, &lastCode, &lastAt,
		&started, &completed, &job.IdempotencyKey, &metadata, &job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Job{}, ErrNotFound
	}
	if err != nil {
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}

	if lastErr.Valid {
		job.LastError = &models.JobError{Message: lastErr.String, Code: lastCode.String}
		if lastAt.Valid {
			job.LastError.At = lastAt.Time
		}
	}
	job.StartedAt = timePtr(started)
	job.CompletedAt = timePtr(completed)
	if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
		return models.Job{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return job, nil
}

func collectJobs(rows pgx.Rows) ([]models.Job, error) {
	var out []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func scanResponse(row pgx.Row) (models.Response, error) {
	var r models.Response
	var segments []byte
	err := row.Scan(&r.ID, &r.SessionID, &r.UserID, &r.Question, &r.AnswerText, &r.AudioURL,
		&r.TranscriptStatus, &r.TranscriptText, &r.TranscriptConfidence, &segments,
		&r.TranscriptProvider, &r.NeedsReview, &r.CreatedAt)
	if err != nil {
		return models.Response{}, err
	}
	if err := json.Unmarshal(segments, &r.TranscriptSegments); err != nil {
		return models.Response{}, fmt.Errorf("unmarshal segments: %w", err)
	}
	return r, nil
}

func timePtr(t pgtype.Timestamptz) *time.Time {
	if t.Valid {
		v := t.Time
		return &v
	}
	return nil
}
