package models

import (
	"fmt"
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Job kinds, one per pipeline.
const (
	KindFeedback      = "feedback"
	KindTranscription = "transcription"
)

// DefaultMaxAttempts bounds processing attempts unless overridden at creation.
const DefaultMaxAttempts = 3

// JobError captures the most recent failure of a processing attempt.
type JobError struct {
	Message string    `json:"message"`
	Code    string    `json:"code"`
	At      time.Time `json:"at"`
}

// Job is one durable unit of deferred work. The subject is a session id for
// feedback jobs and a response id for transcription jobs. Jobs are never
// deleted; terminal rows remain as an audit trail.
type Job struct {
	ID             string         `json:"id"`
	Kind           string         `json:"kind"`
	UserID         string         `json:"user_id"`
	SubjectID      string         `json:"subject_id"`
	Status         string         `json:"status"`
	Attempts       int            `json:"attempts"`
	MaxAttempts    int            `json:"max_attempts"`
	LastError      *JobError      `json:"last_error,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// CanRetry reports whether another processing attempt is allowed.
func (j Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts && j.Status != StatusCompleted
}

// Terminal reports whether the job reached a final state.
func (j Job) Terminal() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// JobIdempotencyKey derives the unique per-subject key guaranteeing at most
// one job per subject and kind.
func JobIdempotencyKey(kind, subjectID string) string {
	return fmt.Sprintf("%s:%s", kind, subjectID)
}

// JobSnapshot is the polling view exposed to clients.
type JobSnapshot struct {
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *JobError  `json:"last_error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Snapshot projects the job onto its external polling shape.
func (j Job) Snapshot() JobSnapshot {
	return JobSnapshot{
		Status:      j.Status,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		LastError:   j.LastError,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
