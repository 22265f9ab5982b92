package models

import "time"

// Session statuses.
const (
	SessionInProgress = "in_progress"
	SessionCompleted  = "completed"
	SessionAbandoned  = "abandoned"
)

// Transcript statuses mirrored onto the response row. These are the
// user-facing labels for the transcription job's progress.
const (
	TranscriptNone         = ""
	TranscriptUploaded     = "uploaded"
	TranscriptTranscribing = "transcribing"
	TranscriptReady        = "ready"
	TranscriptFailed       = "failed"
)

// Session is one mock-interview run owned by a user.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Response is one answered question within a session. The transcript fields
// are written once by the transcription pipeline; the explicit user-edit path
// lives outside this service.
type Response struct {
	ID                   string    `json:"id"`
	SessionID            string    `json:"session_id"`
	UserID               string    `json:"user_id"`
	Question             string    `json:"question"`
	AnswerText           string    `json:"answer_text"`
	AudioURL             string    `json:"audio_url,omitempty"`
	TranscriptStatus     string    `json:"transcript_status,omitempty"`
	TranscriptText       string    `json:"transcript_text,omitempty"`
	TranscriptConfidence float64   `json:"transcript_confidence,omitempty"`
	TranscriptSegments   []Segment `json:"transcript_segments,omitempty"`
	TranscriptProvider   string    `json:"transcript_provider,omitempty"`
	NeedsReview          bool      `json:"needs_review"`
	CreatedAt            time.Time `json:"created_at"`
}

// BestText returns the transcript when present, else the typed answer.
func (r Response) BestText() string {
	if r.TranscriptText != "" {
		return r.TranscriptText
	}
	return r.AnswerText
}
