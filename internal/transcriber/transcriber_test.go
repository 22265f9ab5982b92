package transcriber

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"interview-pipeline/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	id       string
	failures int
	calls    int
	result   models.Transcript
}

func (f *fakeProvider) ID() string { return f.id }

func (f *fakeProvider) Transcribe(_ context.Context, _ Input) (models.Transcript, error) {
	f.calls++
	if f.calls <= f.failures {
		return models.Transcript{}, errors.New("decoder crashed")
	}
	return f.result, nil
}

func TestTranscribeRetriesThenSucceeds(t *testing.T) {
	prv := &fakeProvider{id: "whisper", failures: 1, result: models.Transcript{Text: "hello", Confidence: 0.9}}
	r := NewRegistry(prv, time.Second, 2, testLogger())

	got, attemptErrs, err := r.Transcribe(context.Background(), "whisper", Input{ResponseID: "r1"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Text != "hello" || got.Provider != "whisper" {
		t.Fatalf("unexpected transcript: %+v", got)
	}
	if len(attemptErrs) != 1 {
		t.Fatalf("expected 1 recorded failure, got %v", attemptErrs)
	}
}

func TestTranscribeExhaustionReturnsError(t *testing.T) {
	prv := &fakeProvider{id: "whisper", failures: 99}
	r := NewRegistry(prv, time.Second, 1, testLogger())

	_, attemptErrs, err := r.Transcribe(context.Background(), "whisper", Input{ResponseID: "r1"})
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if len(attemptErrs) != 2 {
		t.Fatalf("expected 2 attempt errors, got %v", attemptErrs)
	}
	if prv.calls != 2 {
		t.Fatalf("provider called %d times, want 2", prv.calls)
	}
}

func TestTranscribeUnknownProviderUsesDefault(t *testing.T) {
	prv := &fakeProvider{id: "whisper", result: models.Transcript{Text: "ok", Confidence: 1}}
	r := NewRegistry(prv, time.Second, 0, testLogger())

	got, _, err := r.Transcribe(context.Background(), "nope", Input{ResponseID: "r1"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Provider != "whisper" {
		t.Fatalf("unknown id should use the default provider, got %s", got.Provider)
	}
}

func TestWhisperParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("file part missing: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":" hi there ","confidence":0.42,"segments":[{"start":0,"end":1.5,"text":"hi there"}]}`))
	}))
	defer srv.Close()

	got, err := NewWhisper(srv.URL, srv.Client()).Transcribe(context.Background(), Input{
		ResponseID: "r1", Audio: []byte("RIFF"), Language: "en",
	})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Text != "hi there" {
		t.Fatalf("text = %q", got.Text)
	}
	if got.Confidence != 0.42 {
		t.Fatalf("confidence = %v", got.Confidence)
	}
	if len(got.Segments) != 1 || got.Segments[0].End != 1.5 {
		t.Fatalf("segments = %+v", got.Segments)
	}
}

func TestWhisperDefaultsConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"plain"}`))
	}))
	defer srv.Close()

	got, err := NewWhisper(srv.URL, srv.Client()).Transcribe(context.Background(), Input{ResponseID: "r1"})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if got.Confidence != 1 {
		t.Fatalf("missing confidence should default to 1, got %v", got.Confidence)
	}
}

func TestWhisperRejectsEmptyTranscript(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"   "}`))
	}))
	defer srv.Close()

	if _, err := NewWhisper(srv.URL, srv.Client()).Transcribe(context.Background(), Input{ResponseID: "r1"}); err == nil {
		t.Fatalf("expected error for empty transcript")
	}
}
