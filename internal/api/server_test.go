package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"interview-pipeline/internal/config"
	"interview-pipeline/internal/models"
	"interview-pipeline/internal/ratelimit"
	"interview-pipeline/internal/store"
)

func testServer(mem *store.Memory, limiter *ratelimit.TriggerLimiter) *Server {
	cfg := config.Config{
		JobMaxAttempts:        3,
		FeedbackProvider:      "baseline",
		TranscriptionProvider: "whisper",
	}
	return New(cfg, mem, limiter, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestCompleteSessionCreatesJobOnce(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()

	rec := doJSON(t, router, http.MethodPost, "/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session: status %d", rec.Code)
	}
	session := decode[models.Session](t, rec)

	rec = doJSON(t, router, http.MethodPost, "/sessions/"+session.ID+"/complete", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("complete: status %d body %s", rec.Code, rec.Body)
	}
	first := decode[triggerResponse](t, rec)
	if !first.Created {
		t.Fatalf("first trigger should create the job")
	}
	if first.Job.Status != models.StatusQueued {
		t.Fatalf("job status = %s, want queued", first.Job.Status)
	}

	// Duplicate trigger returns the same job without creating another.
	rec = doJSON(t, router, http.MethodPost, "/sessions/"+session.ID+"/complete", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("repeat complete: status %d", rec.Code)
	}
	second := decode[triggerResponse](t, rec)
	if second.Created {
		t.Fatalf("repeat trigger must not create a new job")
	}

	job, err := mem.GetJobBySubject(context.Background(), models.KindFeedback, session.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.MaxAttempts != 3 {
		t.Fatalf("max attempts = %d", job.MaxAttempts)
	}
}

func TestCompleteAbandonedSessionConflicts(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()

	if err := mem.CreateSession(context.Background(), models.Session{
		ID: "s1", UserID: "u1", Status: models.SessionAbandoned,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/sessions/s1/complete", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestUploadAudioCreatesTranscriptionJob(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()
	ctx := context.Background()

	if err := mem.CreateSession(ctx, models.Session{ID: "s1", UserID: "u1", Status: models.SessionInProgress}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := mem.CreateResponse(ctx, models.Response{ID: "r1", SessionID: "s1", UserID: "u1", Question: "q"}); err != nil {
		t.Fatalf("create response: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/responses/r1/audio", uploadAudioRequest{
		AudioURL: "s3://uploads/r1.wav", Language: "en",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("upload: status %d body %s", rec.Code, rec.Body)
	}
	out := decode[triggerResponse](t, rec)
	if !out.Created {
		t.Fatalf("first upload should create the job")
	}

	resp, _ := mem.GetResponse(ctx, "r1")
	if resp.AudioURL != "s3://uploads/r1.wav" {
		t.Fatalf("audio url not recorded: %q", resp.AudioURL)
	}
	if resp.TranscriptStatus != models.TranscriptUploaded {
		t.Fatalf("transcript status = %s, want uploaded", resp.TranscriptStatus)
	}

	job, err := mem.GetJobBySubject(ctx, models.KindTranscription, "r1")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.Metadata["language"] != "en" {
		t.Fatalf("language metadata missing: %+v", job.Metadata)
	}
}

func TestUploadAudioRequiresURL(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()

	rec := doJSON(t, router, http.MethodPost, "/responses/r1/audio", uploadAudioRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestPollingEndpoints(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()
	ctx := context.Background()

	rec := doJSON(t, router, http.MethodGet, "/sessions/s1/feedback-job", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing job: status %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/sessions/s1/feedback", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing report: status %d", rec.Code)
	}

	if err := mem.CreateSession(ctx, models.Session{ID: "s1", UserID: "u1", Status: models.SessionCompleted}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, _, err := mem.FindOrCreateJob(ctx, store.CreateJobParams{
		Kind: models.KindFeedback, SubjectID: "s1", UserID: "u1",
	}); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := mem.CreateFeedbackReport(ctx, models.FeedbackReport{
		ID: "rep1", SessionID: "s1", UserID: "u1", Provider: "baseline",
		Evaluation: models.Evaluation{Rating: models.RatingGood},
	}); err != nil {
		t.Fatalf("create report: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/sessions/s1/feedback-job", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("job snapshot: status %d", rec.Code)
	}
	snapshot := decode[models.JobSnapshot](t, rec)
	if snapshot.Status != models.StatusQueued {
		t.Fatalf("snapshot status = %s", snapshot.Status)
	}

	rec = doJSON(t, router, http.MethodGet, "/sessions/s1/feedback", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("report: status %d", rec.Code)
	}
	report := decode[models.FeedbackReport](t, rec)
	if report.Evaluation.Rating != models.RatingGood {
		t.Fatalf("rating = %s", report.Evaluation.Rating)
	}
}

func TestCreateResponseRejectsFinishedSession(t *testing.T) {
	mem := store.NewMemory()
	router := testServer(mem, nil).Router()

	if err := mem.CreateSession(context.Background(), models.Session{
		ID: "s1", UserID: "u1", Status: models.SessionCompleted,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	rec := doJSON(t, router, http.MethodPost, "/sessions/s1/responses", createResponseRequest{Question: "q"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestTriggerRateLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	limiter := ratelimit.NewTriggerLimiter(client, 1, 0.1, time.Minute)

	mem := store.NewMemory()
	if err := mem.CreateSession(context.Background(), models.Session{
		ID: "s1", UserID: "u1", Status: models.SessionInProgress,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	router := testServer(mem, limiter).Router()

	rec := doJSON(t, router, http.MethodPost, "/sessions/s1/complete", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first trigger: status %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/sessions/s1/complete", nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second trigger: status %d, want 429", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	router := testServer(store.NewMemory(), nil).Router()
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}
