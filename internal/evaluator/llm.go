package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"interview-pipeline/internal/models"
)

const llmSystemPrompt = `You are an interview coach scoring a mock behavioral interview.
Score each answer against the STAR method. Respond with a single JSON object:
{"scores":{"situation":0-100,"task":0-100,"action":0-100,"result":0-100,"detail":0-100,"overall":0-100},
"rating":"excellent|good|fair|needs_improvement","strengths":[...],"suggestions":[...],"summary":"..."}`

// LLMConfig configures the chat-completions backed evaluator.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPClient overrides the default client, for tests.
	HTTPClient *http.Client
}

// LLM scores sessions through an OpenAI-style chat completions endpoint. The
// per-attempt timeout is enforced by the Registry through the context.
type LLM struct {
	cfg    LLMConfig
	client *http.Client
}

var _ Provider = (*LLM)(nil)

// NewLLM builds the provider. The base URL must point at a server exposing
// /v1/chat/completions.
func NewLLM(cfg LLMConfig) *LLM {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &LLM{cfg: cfg, client: client}
}

func (l *LLM) ID() string { return "llm" }

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *formatSpec   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type formatSpec struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Evaluate sends the session transcript for scoring and parses the JSON reply.
func (l *LLM) Evaluate(ctx context.Context, in Input) (models.RawEvaluation, error) {
	body, err := json.Marshal(chatRequest{
		Model: l.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: llmSystemPrompt},
			{Role: "user", Content: buildPrompt(in)},
		},
		ResponseFormat: &formatSpec{Type: "json_object"},
	})
	if err != nil {
		return models.RawEvaluation{}, fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(l.cfg.BaseURL, "/") + "/v1/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return models.RawEvaluation{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if l.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return models.RawEvaluation{}, fmt.Errorf("call llm: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.RawEvaluation{}, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, payload)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return models.RawEvaluation{}, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return models.RawEvaluation{}, fmt.Errorf("llm returned no choices")
	}

	var raw models.RawEvaluation
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &raw); err != nil {
		return models.RawEvaluation{}, fmt.Errorf("parse evaluation json: %w", err)
	}
	raw.PromptTokens = chat.Usage.PromptTokens
	raw.CompletionTokens = chat.Usage.CompletionTokens
	return raw, nil
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Session %s with %d answered questions.\n\n", in.Session.ID, len(in.Responses))
	for i, resp := range in.Responses {
		fmt.Fprintf(&b, "Q%d: %s\nA%d: %s\n\n", i+1, resp.Question, i+1, resp.BestText())
	}
	return b.String()
}
