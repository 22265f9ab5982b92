package scheduler

import (
	"context"
	"log/slog"
	"time"

	"interview-pipeline/internal/config"
	"interview-pipeline/internal/store"
	"interview-pipeline/internal/telemetry"
)

// AbandonPipeline expires sessions left in progress past the idle threshold.
// Abandoned sessions never receive feedback jobs; the transition is a
// conditional update, so a session completed between listing and sweeping is
// left alone.
type AbandonPipeline struct {
	store     store.Store
	batchSize int
	idleAfter time.Duration
	log       *slog.Logger
	now       func() time.Time
}

// NewAbandonPipeline wires the sweep from config.
func NewAbandonPipeline(st store.Store, cfg config.Config, log *slog.Logger) *AbandonPipeline {
	return &AbandonPipeline{
		store:     st,
		batchSize: cfg.AbandonBatchSize,
		idleAfter: cfg.AbandonIdleAfter,
		log:       log,
		now:       time.Now,
	}
}

// RunCycle sweeps one bounded batch of idle sessions.
func (p *AbandonPipeline) RunCycle(ctx context.Context) {
	cutoff := p.now().Add(-p.idleAfter)
	sessions, err := p.store.StaleInProgressSessions(ctx, cutoff, p.batchSize)
	if err != nil {
		p.log.Error("list idle sessions", "error", err)
		return
	}

	swept := 0
	for _, s := range sessions {
		if ctx.Err() != nil {
			return
		}
		abandoned, err := p.store.AbandonSession(ctx, s.ID)
		if err != nil {
			p.log.Error("abandon session", "session", s.ID, "error", err)
			continue
		}
		if abandoned {
			swept++
			telemetry.SessionsAbandoned.Inc()
		}
	}
	if swept > 0 {
		p.log.Info("abandoned idle sessions", "count", swept, "idle_after", p.idleAfter)
	}
}
