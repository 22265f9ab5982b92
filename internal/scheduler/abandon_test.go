package scheduler

import (
	"context"
	"testing"
	"time"

	"interview-pipeline/internal/models"
	"interview-pipeline/internal/store"
)

func TestAbandonSweepExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return base })

	for _, s := range []models.Session{
		{ID: "idle", UserID: "u1", Status: models.SessionInProgress, StartedAt: base, UpdatedAt: base},
		{ID: "done", UserID: "u1", Status: models.SessionCompleted, StartedAt: base, UpdatedAt: base},
	} {
		if err := mem.CreateSession(ctx, s); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}

	p := &AbandonPipeline{
		store:     mem,
		batchSize: 50,
		idleAfter: 30 * time.Minute,
		log:       testLogger(),
		now:       func() time.Time { return base.Add(time.Hour) },
	}
	p.RunCycle(ctx)

	idle, _ := mem.GetSession(ctx, "idle")
	if idle.Status != models.SessionAbandoned {
		t.Fatalf("idle session status = %s, want abandoned", idle.Status)
	}
	done, _ := mem.GetSession(ctx, "done")
	if done.Status != models.SessionCompleted {
		t.Fatalf("completed session was touched: %s", done.Status)
	}
}

func TestAbandonSweepLeavesFreshSessions(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return base })

	if err := mem.CreateSession(ctx, models.Session{
		ID: "fresh", UserID: "u1", Status: models.SessionInProgress, StartedAt: base, UpdatedAt: base,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	p := &AbandonPipeline{
		store:     mem,
		batchSize: 50,
		idleAfter: 30 * time.Minute,
		log:       testLogger(),
		now:       func() time.Time { return base.Add(10 * time.Minute) },
	}
	p.RunCycle(ctx)

	fresh, _ := mem.GetSession(ctx, "fresh")
	if fresh.Status != models.SessionInProgress {
		t.Fatalf("fresh session was abandoned")
	}
}

func TestAbandonSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	mem.SetClock(func() time.Time { return base })

	if err := mem.CreateSession(ctx, models.Session{
		ID: "idle", UserID: "u1", Status: models.SessionInProgress, StartedAt: base, UpdatedAt: base,
	}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	p := &AbandonPipeline{
		store:     mem,
		batchSize: 50,
		idleAfter: 30 * time.Minute,
		log:       testLogger(),
		now:       func() time.Time { return base.Add(time.Hour) },
	}
	p.RunCycle(ctx)
	first, _ := mem.GetSession(ctx, "idle")

	p.RunCycle(ctx)
	second, _ := mem.GetSession(ctx, "idle")

	if first.Status != models.SessionAbandoned || second.Status != models.SessionAbandoned {
		t.Fatalf("statuses: %s then %s", first.Status, second.Status)
	}
	if !first.CompletedAt.Equal(*second.CompletedAt) {
		t.Fatalf("second sweep rewrote the transition timestamp")
	}
}
