package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"interview-pipeline/internal/config"
	"interview-pipeline/internal/evaluator"
	"interview-pipeline/internal/models"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/telemetry"
)

// FeedbackPipeline turns completed sessions into feedback reports. Each cycle
// reclaims stale processing jobs, then drains a bounded batch of queued jobs
// oldest first.
type FeedbackPipeline struct {
	store      store.Store
	registry   *evaluator.Registry
	provider   string
	batchSize  int
	staleAfter time.Duration
	log        *slog.Logger
	now        func() time.Time
}

// NewFeedbackPipeline wires the pipeline from config.
func NewFeedbackPipeline(st store.Store, reg *evaluator.Registry, cfg config.Config, log *slog.Logger) *FeedbackPipeline {
	return &FeedbackPipeline{
		store:      st,
		registry:   reg,
		provider:   cfg.FeedbackProvider,
		batchSize:  cfg.FeedbackBatchSize,
		staleAfter: cfg.FeedbackStaleAfter,
		log:        log,
		now:        time.Now,
	}
}

// RunCycle is one scheduler pass.
func (p *FeedbackPipeline) RunCycle(ctx context.Context) {
	p.recoverStale(ctx)
	p.drainQueue(ctx)
}

// recoverStale requeues or terminally fails jobs stuck in processing longer
// than the stale threshold, so a crashed worker never wedges a session.
func (p *FeedbackPipeline) recoverStale(ctx context.Context) {
	cutoff := p.now().Add(-p.staleAfter)
	jobs, err := p.store.StaleProcessingJobs(ctx, models.KindFeedback, cutoff)
	if err != nil {
		p.log.Error("list stale feedback jobs", "error", err)
		return
	}
	for _, job := range jobs {
		retrying, err := p.store.MarkFailed(ctx, job.ID, models.JobError{
			Message: "processing timed out",
			Code:    "stale_timeout",
			At:      p.now(),
		})
		if err != nil {
			p.log.Error("recover stale feedback job", "job", job.ID, "error", err)
			continue
		}
		telemetry.StaleRecovered.WithLabelValues(models.KindFeedback).Inc()
		p.log.Warn("reclaimed stale feedback job",
			"job", job.ID, "session", job.SubjectID, "retrying", retrying)
	}
}

func (p *FeedbackPipeline) drainQueue(ctx context.Context) {
	if depth, err := p.store.QueueDepth(ctx, models.KindFeedback); err == nil {
		telemetry.QueueDepth.WithLabelValues(models.KindFeedback).Set(float64(depth))
	}

	jobs, err := p.store.QueuedJobs(ctx, models.KindFeedback, p.batchSize)
	if err != nil {
		p.log.Error("list queued feedback jobs", "error", err)
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.process(ctx, job)
	}
}

func (p *FeedbackPipeline) process(ctx context.Context, job models.Job) {
	claimed, err := p.store.MarkProcessing(ctx, job.ID)
	if err != nil {
		p.log.Error("claim feedback job", "job", job.ID, "error", err)
		return
	}
	if !claimed {
		// Another worker got there first.
		return
	}

	session, err := p.store.GetSession(ctx, job.SubjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			p.fail(ctx, job, "session not found", "missing_subject")
			return
		}
		p.fail(ctx, job, err.Error(), "store_error")
		return
	}
	responses, err := p.store.ResponsesBySession(ctx, session.ID)
	if err != nil {
		p.fail(ctx, job, err.Error(), "store_error")
		return
	}

	out, err := p.registry.Evaluate(ctx, p.providerFor(job), evaluator.Input{
		Session:   session,
		Responses: responses,
	})
	if err != nil {
		p.fail(ctx, job, err.Error(), "provider_exhausted")
		return
	}

	report := models.FeedbackReport{
		ID:               uuid.NewString(),
		SessionID:        session.ID,
		UserID:           job.UserID,
		Evaluation:       out.Evaluation,
		Provider:         out.Provider,
		Fallback:         out.Fallback,
		FallbackFrom:     out.FallbackFrom,
		AttemptErrors:    out.AttemptErrors,
		LatencyMS:        out.Latency.Milliseconds(),
		PromptTokens:     out.PromptTokens,
		CompletionTokens: out.CompletionTokens,
		CreatedAt:        p.now(),
	}
	created, err := p.store.CreateFeedbackReport(ctx, report)
	if err != nil {
		p.fail(ctx, job, err.Error(), "store_error")
		return
	}
	if !created {
		p.log.Warn("feedback report already exists, completing job", "session", session.ID)
	}

	if err := p.store.MarkCompleted(ctx, job.ID); err != nil {
		p.log.Error("complete feedback job", "job", job.ID, "error", err)
		return
	}
	telemetry.JobsProcessed.WithLabelValues(models.KindFeedback, "completed").Inc()
	p.log.Info("feedback job completed",
		"job", job.ID, "session", session.ID, "provider", out.Provider,
		"fallback", out.Fallback, "overall", out.Evaluation.Scores.Overall,
		"latency_ms", out.Latency.Milliseconds())
}

// providerFor honors a per-job provider override stored at creation time.
func (p *FeedbackPipeline) providerFor(job models.Job) string {
	if v, ok := job.Metadata["provider"].(string); ok && v != "" {
		return v
	}
	return p.provider
}

func (p *FeedbackPipeline) fail(ctx context.Context, job models.Job, msg, code string) {
	retrying, err := p.store.MarkFailed(ctx, job.ID, models.JobError{
		Message: msg,
		Code:    code,
		At:      p.now(),
	})
	if err != nil {
		p.log.Error("fail feedback job", "job", job.ID, "error", err)
		return
	}
	outcome := "failed"
	if retrying {
		outcome = "retried"
	}
	telemetry.JobsProcessed.WithLabelValues(models.KindFeedback, outcome).Inc()
	p.log.Warn("feedback job attempt failed",
		"job", job.ID, "session", job.SubjectID, "code", code, "retrying", retrying, "error", msg)
}
