package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunCycleIsSingleFlight(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})

	w := NewWorker("test", time.Hour, func(_ context.Context) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-release
	}, testLogger())

	done := make(chan struct{})
	go func() {
		w.RunCycle(context.Background())
		close(done)
	}()
	<-started

	// Overlapping trigger must return immediately without running the cycle.
	w.RunCycle(context.Background())
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("overlapping cycle ran: calls = %d", got)
	}

	close(release)
	<-done

	// Once the first cycle finishes, the next trigger runs normally.
	go func() {
		<-started
	}()
	w.RunCycle(context.Background())
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("calls after second trigger = %d, want 2", got)
	}
}

func TestWorkerRunsFirstCycleImmediately(t *testing.T) {
	var calls int32
	ran := make(chan struct{}, 1)

	w := NewWorker("test", time.Hour, func(_ context.Context) {
		if atomic.AddInt32(&calls, 1) == 1 {
			ran <- struct{}{}
		}
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatalf("first cycle did not run immediately")
	}

	cancel()
	w.Wait()
}

func TestWorkerStopsOnCancel(t *testing.T) {
	w := NewWorker("test", 5*time.Millisecond, func(_ context.Context) {}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()

	stopped := make(chan struct{})
	go func() {
		w.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop after cancel")
	}
}
