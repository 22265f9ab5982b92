package store

import (
	"context"
	"errors"
	"time"

	"interview-pipeline/internal/models"
)

// ErrNotFound is returned when a referenced record does not exist.
var ErrNotFound = errors.New("record not found")

// CreateJobParams collects inputs required to create a job idempotently.
type CreateJobParams struct {
	Kind        string
	SubjectID   string
	UserID      string
	MaxAttempts int
	Metadata    map[string]any
}

// Store is the persistence surface shared by the API and the workers.
// Postgres backs production; Memory backs tests and dependency-free local
// runs.
type Store interface {
	// Job store and lifecycle. FindOrCreateJob reports whether a new job was
	// created; a second trigger for the same subject returns the existing
	// row with created=false. MarkProcessing is an atomic claim: it succeeds
	// only while the job is queued. MarkFailed requeues while attempts
	// remain, else fails terminally, and reports whether a retry is pending.
	FindOrCreateJob(ctx context.Context, p CreateJobParams) (models.Job, bool, error)
	GetJob(ctx context.Context, id string) (models.Job, error)
	GetJobBySubject(ctx context.Context, kind, subjectID string) (models.Job, error)
	QueuedJobs(ctx context.Context, kind string, limit int) ([]models.Job, error)
	StaleProcessingJobs(ctx context.Context, kind string, olderThan time.Time) ([]models.Job, error)
	QueueDepth(ctx context.Context, kind string) (int64, error)
	MarkProcessing(ctx context.Context, id string) (bool, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, jobErr models.JobError) (bool, error)

	// Sessions and responses.
	CreateSession(ctx context.Context, s models.Session) error
	GetSession(ctx context.Context, id string) (models.Session, error)
	CompleteSession(ctx context.Context, id string) (bool, error)
	AbandonSession(ctx context.Context, id string) (bool, error)
	StaleInProgressSessions(ctx context.Context, olderThan time.Time, limit int) ([]models.Session, error)
	CreateResponse(ctx context.Context, r models.Response) error
	GetResponse(ctx context.Context, id string) (models.Response, error)
	ResponsesBySession(ctx context.Context, sessionID string) ([]models.Response, error)
	SetResponseAudio(ctx context.Context, id, audioURL string) error
	SetTranscriptStatus(ctx context.Context, responseID, status string) error
	SetTranscript(ctx context.Context, responseID string, t models.Transcript, needsReview bool) error

	// Feedback reports. CreateFeedbackReport reports whether the row was
	// written; a report already present for the session leaves it untouched.
	CreateFeedbackReport(ctx context.Context, r models.FeedbackReport) (bool, error)
	GetFeedbackReport(ctx context.Context, sessionID string) (models.FeedbackReport, error)
}
