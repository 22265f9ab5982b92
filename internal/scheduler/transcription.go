package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"interview-pipeline/internal/config"
	"interview-pipeline/internal/models"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/telemetry"
	"interview-pipeline/internal/transcriber"
)

// AudioFetcher resolves a stored audio URL into bytes and a content type.
type AudioFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// TranscriptionPipeline converts uploaded response audio into transcripts.
// The response row mirrors job progress with user-facing labels (uploaded,
// transcribing, ready, failed) while the job itself carries the canonical
// lifecycle.
type TranscriptionPipeline struct {
	store            store.Store
	registry         *transcriber.Registry
	fetcher          AudioFetcher
	provider         string
	batchSize        int
	staleAfter       time.Duration
	reviewConfidence float64
	log              *slog.Logger
	now              func() time.Time
}

// NewTranscriptionPipeline wires the pipeline from config.
func NewTranscriptionPipeline(st store.Store, reg *transcriber.Registry, f AudioFetcher, cfg config.Config, log *slog.Logger) *TranscriptionPipeline {
	return &TranscriptionPipeline{
		store:            st,
		registry:         reg,
		fetcher:          f,
		provider:         cfg.TranscriptionProvider,
		batchSize:        cfg.TranscriptionBatchSize,
		staleAfter:       cfg.TranscriptionStaleAfter,
		reviewConfidence: cfg.ReviewConfidence,
		log:              log,
		now:              time.Now,
	}
}

// RunCycle is one scheduler pass.
func (p *TranscriptionPipeline) RunCycle(ctx context.Context) {
	p.recoverStale(ctx)
	p.drainQueue(ctx)
}

func (p *TranscriptionPipeline) recoverStale(ctx context.Context) {
	cutoff := p.now().Add(-p.staleAfter)
	jobs, err := p.store.StaleProcessingJobs(ctx, models.KindTranscription, cutoff)
	if err != nil {
		p.log.Error("list stale transcription jobs", "error", err)
		return
	}
	for _, job := range jobs {
		retrying, err := p.store.MarkFailed(ctx, job.ID, models.JobError{
			Message: "processing timed out",
			Code:    "stale_timeout",
			At:      p.now(),
		})
		if err != nil {
			p.log.Error("recover stale transcription job", "job", job.ID, "error", err)
			continue
		}
		telemetry.StaleRecovered.WithLabelValues(models.KindTranscription).Inc()
		p.mirrorStatus(ctx, job.SubjectID, retrying)
		p.log.Warn("reclaimed stale transcription job",
			"job", job.ID, "response", job.SubjectID, "retrying", retrying)
	}
}

func (p *TranscriptionPipeline) drainQueue(ctx context.Context) {
	if depth, err := p.store.QueueDepth(ctx, models.KindTranscription); err == nil {
		telemetry.QueueDepth.WithLabelValues(models.KindTranscription).Set(float64(depth))
	}

	jobs, err := p.store.QueuedJobs(ctx, models.KindTranscription, p.batchSize)
	if err != nil {
		p.log.Error("list queued transcription jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, job)
	}
}

func (p *TranscriptionPipeline) process(ctx context.Context, job models.Job) {
	claimed, err := p.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		p.log.Error("claim transcription job", "job", job.ID, "error", err)
		return
	}
	if !claimed {
		return
	}

	resp, err := p.store.GetResponse(ctx, job.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.fail(ctx, job, "response not found", "missing_subject")
			return
		}
		p.fail(ctx, job, err.Error(), "store_error")
		return
	}
	if resp.AudioURL == "" {
		p.fail(ctx, job, "response has no audio", "no_audio")
		return
	}

	if err := p.store.SetTranscriptStatus(ctx, resp.ID, models.TranscriptTranscribing); err != nil {
		p.log.Error("mark response transcribing", "response", resp.ID, "error", err)
	}

	audio, mimeType, err := p.fetcher.Fetch(ctx, resp.AudioURL)
	if err != nil {
		p.fail(ctx, job, err.Error(), "audio_fetch")
		return
	}

	transcript, attemptErrs, err := p.registry.Transcribe(ctx, p.providerFor(job), transcriber.Input{
		ResponseID: resp.ID,
		Audio:      audio,
		MimeType:   mimeType,
		Language:   p.languageFor(job),
	})
	if err != nil {
		p.fail(ctx, job, err.Error(), "provider_exhausted")
		return
	}
	if len(attemptErrs) > 0 {
		p.log.Warn("transcription succeeded after retries",
			"response", resp.ID, "attempt_errors", len(attemptErrs))
	}

	needsReview := transcript.Confidence < p.reviewConfidence
	if err := p.store.SetTranscript(ctx, resp.ID, transcript, needsReview); err != nil {
		p.fail(ctx, job, err.Error(), "store_error")
		return
	}
	if err := p.store.MarkCompleted(ctx, job.ID); err != nil {
		p.log.Error("complete transcription job", "job", job.ID, "error", err)
		return
	}
	telemetry.JobsProcessed.WithLabelValues(models.KindTranscription, "completed").Inc()
	p.log.Info("transcription job completed",
		"job", job.ID, "response", resp.ID, "provider", transcript.Provider,
		"confidence", transcript.Confidence, "needs_review", needsReview,
		"latency_ms", transcript.LatencyMS)
}

func (p *TranscriptionPipeline) providerFor(job models.Job) string {
	if v, ok := job.Metadata["provider"].(string); ok && v != "" {
		return v
	}
	return p.provider
}

func (p *TranscriptionPipeline) languageFor(job models.Job) string {
	if v, ok := job.Metadata["language"].(string); ok {
		return v
	}
	return ""
}

func (p *TranscriptionPipeline) fail(ctx context.Context, job models.Job, msg, code string) {
	retrying, err := p.store.MarkFailed(ctx, job.ID, models.JobError{
		Message: msg,
		Code:    code,
		At:      p.now(),
	})
	if err != nil {
		p.log.Error("fail transcription job", "job", job.ID, "error", err)
		return
	}
	p.mirrorStatus(ctx, job.SubjectID, retrying)

	outcome := "failed"
	if retrying {
		outcome = "retried"
	}
	telemetry.JobsProcessed.WithLabelValues(models.KindTranscription, outcome).Inc()
	p.log.Warn("transcription job attempt failed",
		"job", job.ID, "response", job.SubjectID, "code", code, "retrying", retrying, "error", msg)
}

// mirrorStatus reflects a failed attempt on the response row: back to
// uploaded while a retry is pending, failed once the job is terminal.
func (p *TranscriptionPipeline) mirrorStatus(ctx context.Context, responseID string, retrying bool) {
	status := models.TranscriptFailed
	if retrying {
		status = models.TranscriptUploaded
	}
	if err := p.store.SetTranscriptStatus(ctx, responseID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		p.log.Error("mirror transcript status", "response", responseID, "error", err)
	}
}
