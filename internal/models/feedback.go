package models

import "time"

// Ratings accepted on a feedback evaluation.
const (
	RatingExcellent        = "excellent"
	RatingGood             = "good"
	RatingFair             = "fair"
	RatingNeedsImprovement = "needs_improvement"
)

// MaxListItems caps strengths and suggestions on a normalized evaluation.
const MaxListItems = 6

// Scores holds the normalized STAR-dimension scores, each in [0,100].
type Scores struct {
	Situation int `json:"situation"`
	Task      int `json:"task"`
	Action    int `json:"action"`
	Result    int `json:"result"`
	Detail    int `json:"detail"`
	Overall   int `json:"overall"`
}

// Evaluation is a validated, normalized feedback payload safe to persist.
type Evaluation struct {
	Scores      Scores   `json:"scores"`
	Rating      string   `json:"rating"`
	Strengths   []string `json:"strengths"`
	Suggestions []string `json:"suggestions"`
	Summary     string   `json:"summary,omitempty"`
}

// RawEvaluation is provider output before validation. Scores and list items
// are loosely typed on purpose: external providers return parsed JSON and may
// hand back anything.
type RawEvaluation struct {
	Scores      map[string]any `json:"scores"`
	Rating      string         `json:"rating"`
	Strengths   []any          `json:"strengths"`
	Suggestions []any          `json:"suggestions"`
	Summary     string         `json:"summary"`

	// Token accounting reported by LLM-backed providers, not part of the
	// evaluation payload itself.
	PromptTokens     int `json:"-"`
	CompletionTokens int `json:"-"`
}

// FeedbackReport is the durable result of a completed feedback job. Created
// at most once per session and never mutated by the pipeline afterwards.
type FeedbackReport struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	UserID           string     `json:"user_id"`
	Evaluation       Evaluation `json:"evaluation"`
	Provider         string     `json:"provider"`
	Fallback         bool       `json:"fallback"`
	FallbackFrom     string     `json:"fallback_from,omitempty"`
	AttemptErrors    []string   `json:"attempt_errors,omitempty"`
	LatencyMS        int64      `json:"latency_ms"`
	PromptTokens     int        `json:"prompt_tokens,omitempty"`
	CompletionTokens int        `json:"completion_tokens,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
