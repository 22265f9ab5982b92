// Package scheduler runs the periodic background pipelines: feedback
// generation, audio transcription, and session abandonment. Each pipeline is
// driven by a Worker that ticks at a fixed interval and never overlaps
// cycles.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"interview-pipeline/internal/telemetry"
)

// CycleFunc is one pass of a pipeline: recover, drain, return.
type CycleFunc func(ctx context.Context)

// Worker ticks a pipeline at a fixed interval. Cycles are single-flight: a
// tick that lands while the previous cycle is still running is dropped, not
// queued.
type Worker struct {
	name     string
	interval time.Duration
	cycle    CycleFunc
	log      *slog.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewWorker builds a worker for one pipeline.
func NewWorker(name string, interval time.Duration, cycle CycleFunc, log *slog.Logger) *Worker {
	return &Worker{name: name, interval: interval, cycle: cycle, log: log}
}

// Start launches the tick loop. The first cycle runs immediately; the loop
// exits when ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.log.Info("worker started", "worker", w.name, "interval", w.interval)

		w.RunCycle(ctx)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				w.log.Info("worker stopping", "worker", w.name)
				return
			case <-ticker.C:
				w.RunCycle(ctx)
			}
		}
	}()
}

// RunCycle runs one cycle unless one is already in flight.
func (w *Worker) RunCycle(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		telemetry.CyclesSkipped.WithLabelValues(w.name).Inc()
		w.log.Debug("previous cycle still running, skipping", "worker", w.name)
		return
	}
	defer w.running.Store(false)

	telemetry.Cycles.WithLabelValues(w.name).Inc()
	w.cycle(ctx)
}

// Wait blocks until the tick loop has exited.
func (w *Worker) Wait() {
	w.wg.Wait()
}
