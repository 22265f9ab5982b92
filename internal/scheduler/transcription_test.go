package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"interview-pipeline/internal/models"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/transcriber"
)

type fakeSpeech struct {
	failures int
	calls    int
	result   models.Transcript
}

func (f *fakeSpeech) ID() string { return "whisper" }

func (f *fakeSpeech) Transcribe(_ context.Context, _ transcriber.Input) (models.Transcript, error) {
	f.calls++
	if f.calls <= f.failures {
		return models.Transcript{}, errors.New("decoder crashed")
	}
	return f.result, nil
}

type fakeFetcher struct {
	audio []byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string) ([]byte, string, error) {
	return f.audio, "audio/wav", f.err
}

func newTestTranscriptionPipeline(mem *store.Memory, prv transcriber.Provider, f AudioFetcher) *TranscriptionPipeline {
	return &TranscriptionPipeline{
		store:            mem,
		registry:         transcriber.NewRegistry(prv, time.Second, 0, testLogger()),
		fetcher:          f,
		provider:         "whisper",
		batchSize:        5,
		staleAfter:       10 * time.Minute,
		reviewConfidence: 0.6,
		log:              testLogger(),
		now:              time.Now,
	}
}

func seedResponseWithAudio(t *testing.T, mem *store.Memory, responseID string) models.Job {
	t.Helper()
	ctx := context.Background()
	if err := mem.CreateSession(ctx, models.Session{ID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := mem.CreateResponse(ctx, models.Response{ID: responseID, SessionID: "s1", UserID: "u1"}); err != nil {
		t.Fatalf("create response: %v", err)
	}
	if err := mem.SetResponseAudio(ctx, responseID, "s3://uploads/"+responseID+".wav"); err != nil {
		t.Fatalf("set audio: %v", err)
	}
	job, _, err := mem.FindOrCreateJob(ctx, store.CreateJobParams{
		Kind: models.KindTranscription, SubjectID: responseID, UserID: "u1", MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	return job
}

func TestTranscriptionCycleWritesTranscript(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	job := seedResponseWithAudio(t, mem, "r1")

	prv := &fakeSpeech{result: models.Transcript{Text: "my answer", Confidence: 0.92}}
	p := newTestTranscriptionPipeline(mem, prv, &fakeFetcher{audio: []byte("RIFF")})
	p.RunCycle(ctx)

	got, _ := mem.GetJob(ctx, job.ID)
	if got.Status != models.StatusCompleted {
		t.Fatalf("job status = %s, want completed", got.Status)
	}
	resp, _ := mem.GetResponse(ctx, "r1")
	if resp.TranscriptStatus != models.TranscriptReady {
		t.Fatalf("transcript status = %s, want ready", resp.TranscriptStatus)
	}
	if resp.TranscriptText != "my answer" {
		t.Fatalf("transcript text = %q", resp.TranscriptText)
	}
	if resp.NeedsReview {
		t.Fatalf("confidence 0.92 should not need review")
	}
}

func TestTranscriptionLowConfidenceFlagsReview(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	seedResponseWithAudio(t, mem, "r1")

	prv := &fakeSpeech{result: models.Transcript{Text: "mumbled", Confidence: 0.4}}
	p := newTestTranscriptionPipeline(mem, prv, &fakeFetcher{audio: []byte("RIFF")})
	p.RunCycle(ctx)

	resp, _ := mem.GetResponse(ctx, "r1")
	if resp.TranscriptStatus != models.TranscriptReady {
		t.Fatalf("transcript status = %s, want ready", resp.TranscriptStatus)
	}
	if !resp.NeedsReview {
		t.Fatalf("confidence 0.4 must flag review at threshold 0.6")
	}
}

func TestTranscriptionFailureMirrorsResponseStatus(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	job := seedResponseWithAudio(t, mem, "r1")

	prv := &fakeSpeech{failures: 99}
	p := newTestTranscriptionPipeline(mem, prv, &fakeFetcher{audio: []byte("RIFF")})

	// First attempt fails, a retry remains.
	p.RunCycle(ctx)
	got, _ := mem.GetJob(ctx, job.ID)
	if got.Status != models.StatusQueued {
		t.Fatalf("job status = %s, want queued", got.Status)
	}
	resp, _ := mem.GetResponse(ctx, "r1")
	if resp.TranscriptStatus != models.TranscriptUploaded {
		t.Fatalf("retrying job should mirror uploaded, got %s", resp.TranscriptStatus)
	}

	// Second attempt exhausts the job.
	p.RunCycle(ctx)
	got, _ = mem.GetJob(ctx, job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	resp, _ = mem.GetResponse(ctx, "r1")
	if resp.TranscriptStatus != models.TranscriptFailed {
		t.Fatalf("terminal job should mirror failed, got %s", resp.TranscriptStatus)
	}
}

func TestTranscriptionAudioFetchErrorFailsAttempt(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	job := seedResponseWithAudio(t, mem, "r1")

	prv := &fakeSpeech{result: models.Transcript{Text: "unused", Confidence: 1}}
	p := newTestTranscriptionPipeline(mem, prv, &fakeFetcher{err: errors.New("bucket unreachable")})
	p.RunCycle(ctx)

	got, _ := mem.GetJob(ctx, job.ID)
	if got.Status != models.StatusQueued {
		t.Fatalf("job status = %s, want queued", got.Status)
	}
	if got.LastError == nil || got.LastError.Code != "audio_fetch" {
		t.Fatalf("last error = %+v", got.LastError)
	}
	if prv.calls != 0 {
		t.Fatalf("provider called despite fetch failure")
	}
}

func TestTranscriptionMissingResponseFails(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	job, _, err := mem.FindOrCreateJob(ctx, store.CreateJobParams{
		Kind: models.KindTranscription, SubjectID: "ghost", UserID: "u1", MaxAttempts: 1,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	prv := &fakeSpeech{}
	p := newTestTranscriptionPipeline(mem, prv, &fakeFetcher{})
	p.RunCycle(ctx)

	got, _ := mem.GetJob(ctx, job.ID)
	if got.Status != models.StatusFailed {
		t.Fatalf("job status = %s, want failed", got.Status)
	}
	if got.LastError == nil || got.LastError.Code != "missing_subject" {
		t.Fatalf("last error = %+v", got.LastError)
	}
}
