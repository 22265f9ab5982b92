package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"interview-pipeline/internal/models"
)

// Whisper transcribes audio through a whisper-server style HTTP endpoint.
type Whisper struct {
	baseURL string
	client  *http.Client
}

var _ Provider = (*Whisper)(nil)

// NewWhisper builds the provider for the given server URL.
func NewWhisper(baseURL string, client *http.Client) *Whisper {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Whisper{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (w *Whisper) ID() string { return "whisper" }

type whisperResponse struct {
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence"`
	Segments   []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio as multipart form data and parses the JSON
// reply.
func (w *Whisper) Transcribe(ctx context.Context, in Input) (models.Transcript, error) {
	body := &bytes.Buffer{}
	form := multipart.NewWriter(body)

	part, err := form.CreateFormFile("file", in.ResponseID+".wav")
	if err != nil {
		return models.Transcript{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(in.Audio); err != nil {
		return models.Transcript{}, fmt.Errorf("write audio: %w", err)
	}
	_ = form.WriteField("response_format", "json")
	if in.Language != "" {
		_ = form.WriteField("language", in.Language)
	}
	if err := form.Close(); err != nil {
		return models.Transcript{}, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/inference", body)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("call whisper: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return models.Transcript{}, fmt.Errorf("whisper returned status %d: %s", resp.StatusCode, payload)
	}

	var wr whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return models.Transcript{}, fmt.Errorf("decode response: %w", err)
	}
	if strings.TrimSpace(wr.Text) == "" {
		return models.Transcript{}, fmt.Errorf("whisper returned empty transcript")
	}

	t := models.Transcript{Text: strings.TrimSpace(wr.Text), Confidence: 1}
	if wr.Confidence != nil {
		t.Confidence = *wr.Confidence
	}
	for _, seg := range wr.Segments {
		t.Segments = append(t.Segments, models.Segment{Start: seg.Start, End: seg.End, Text: seg.Text})
	}
	return t, nil
}
